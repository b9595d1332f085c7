package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"nereus/pkg/api"
	"nereus/pkg/executor"
	"nereus/pkg/store"
	"nereus/pkg/util/context"
	"nereus/pkg/util/template"
)

// execute runs one attempt of an instance: open a namespace, stage file
// inputs, substitute the command, run it and commit the namespace on success.
func (sc *scheduler) execute(ctx context.Context, inst *instance, params map[string]interface{}) result {
	inst.attempts++
	spec := inst.task.Spec

	ns, err := sc.ws.Begin(inst.fp)
	if err != nil {
		return result{status: api.StatusFailed, exitCode: -1, err: err}
	}

	inVals := copyValues(inst.inputs)
	for _, p := range spec.Inputs {
		if !p.File {
			continue
		}
		v, bound := inst.inputs[p.Name]
		if !bound {
			continue
		}
		staged, err := sc.stageInto(ctx, ns, v)
		if err != nil {
			ns.Discard()
			return result{status: api.StatusFailed, exitCode: -1, err: errors.Wrapf(err, "cannot stage input %s", p.Name)}
		}
		inVals[p.Name] = staged
	}

	outRel, err := outputPaths(spec, inVals, params)
	if err != nil {
		ns.Discard()
		return result{status: api.StatusFailed, exitCode: -1, err: err}
	}
	line, err := template.Resolve(spec.Command, template.ResolveWithMap(scope(inVals, outRel, params)))
	if err != nil {
		ns.Discard()
		return result{status: api.StatusFailed, exitCode: -1, err: err}
	}

	env := []string{
		"NEREUS_RUN_ID=" + ctx.RunID(),
		"NEREUS_TASK=" + ctx.TaskName(),
		"NEREUS_INSTANCE=" + ctx.InstanceID(),
	}
	exe := sc.local
	if spec.Container == "" {
		env = append(env, "PATH="+os.Getenv("PATH"))
	} else {
		exe = sc.docker
	}

	runCtx := ctx
	var timedOut int32
	if m := spec.Resources.TimeMinutes; m > 0 {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		timer := time.AfterFunc(time.Duration(m)*time.Minute, func() {
			atomic.StoreInt32(&timedOut, 1)
			cancel()
		})
		defer timer.Stop()
		runCtx = cctx
	}

	ctx.Logger().Infof("running %q", line)
	r, err := exe.Run(runCtx, executor.Command{Line: line, Dir: ns.Dir(), Env: env, Image: spec.Container})
	if err != nil {
		if atomic.LoadInt32(&timedOut) == 1 {
			return result{
				status:   api.StatusFailed,
				exitCode: -1,
				workdir:  ns.Dir(),
				err:      sc.taskFailure(ctx, -1, fmt.Sprintf("wall time of %d minutes exceeded", spec.Resources.TimeMinutes)),
			}
		}
		if ctx.Err() != nil {
			ns.Discard()
			return result{status: api.StatusCancelled}
		}
		return result{status: api.StatusFailed, exitCode: -1, workdir: ns.Dir(), err: err}
	}
	if r.ExitCode != 0 {
		return result{
			status:   api.StatusFailed,
			exitCode: r.ExitCode,
			workdir:  ns.Dir(),
			err:      sc.taskFailure(ctx, r.ExitCode, fmt.Sprintf("command exited with code %d", r.ExitCode)),
		}
	}

	rels := make([]string, 0, len(outRel))
	for _, rel := range outRel {
		rels = append(rels, rel.(string))
	}
	if err := ns.VerifyOutputs(rels); err != nil {
		return result{status: api.StatusFailed, workdir: ns.Dir(), err: sc.taskFailure(ctx, 0, err.Error())}
	}
	final, err := ns.Commit()
	if err != nil {
		return result{status: api.StatusFailed, exitCode: -1, workdir: ns.Dir(), err: err}
	}

	outputs := make(map[string]string, len(outRel))
	for port, rel := range outRel {
		outputs[port] = ns.Artifact(rel.(string))
	}
	return result{status: api.StatusCompleted, outputs: outputs, workdir: final}
}

func (sc *scheduler) taskFailure(ctx context.Context, exitCode int, reason string) error {
	return api.TaskFailure{
		Task:     ctx.TaskName(),
		Instance: ctx.InstanceID(),
		ExitCode: exitCode,
		Reason:   reason,
	}
}

// stageInto materializes one input value (or each element of a collected
// sequence) into the namespace and returns the name the command sees.
func (sc *scheduler) stageInto(ctx context.Context, ns *store.Namespace, v interface{}) (interface{}, error) {
	one := func(e interface{}) (interface{}, error) {
		abs, err := sc.stager.Stage(ctx, fmt.Sprintf("%v", e))
		if err != nil {
			return nil, err
		}
		return ns.Link(abs)
	}
	if list, isList := v.([]interface{}); isList {
		out := make([]interface{}, len(list))
		for i, e := range list {
			staged, err := one(e)
			if err != nil {
				return nil, err
			}
			out[i] = staged
		}
		return out, nil
	}
	return one(v)
}

// fromCache resolves a committed namespace for the instance's fingerprint.
// Every declared output must exist there, otherwise the cache entry is
// ignored and the instance executes normally.
func (rl *runLoop) fromCache(inst *instance) (map[string]string, bool) {
	dir, hit := rl.sc.ws.Lookup(inst.fp)
	if !hit {
		return nil, false
	}
	spec := inst.task.Spec
	inVals := copyValues(inst.inputs)
	for _, p := range spec.Inputs {
		if !p.File {
			continue
		}
		v, bound := inst.inputs[p.Name]
		if !bound {
			continue
		}
		named, err := rl.sc.stagedNames(rl.ctx, v)
		if err != nil {
			return nil, false
		}
		inVals[p.Name] = named
	}
	outRel, err := outputPaths(spec, inVals, rl.params)
	if err != nil {
		return nil, false
	}
	outputs := make(map[string]string, len(outRel))
	for port, rel := range outRel {
		p := filepath.Join(dir, rel.(string))
		if _, err := os.Stat(p); err != nil {
			return nil, false
		}
		outputs[port] = p
	}
	return outputs, true
}

// stagedNames resolves the workdir-relative names file inputs get, without
// linking them anywhere. Used for cache lookups only.
func (sc *scheduler) stagedNames(ctx context.Context, v interface{}) (interface{}, error) {
	one := func(e interface{}) (interface{}, error) {
		abs, err := sc.stager.Stage(ctx, fmt.Sprintf("%v", e))
		if err != nil {
			return nil, err
		}
		return filepath.Base(abs), nil
	}
	if list, isList := v.([]interface{}); isList {
		out := make([]interface{}, len(list))
		for i, e := range list {
			named, err := one(e)
			if err != nil {
				return nil, err
			}
			out[i] = named
		}
		return out, nil
	}
	return one(v)
}

// outputPaths resolves the declared output path templates against the staged
// input names and the run parameters.
func outputPaths(spec api.TaskSpec, in map[string]interface{}, params map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(spec.Outputs))
	resolver := template.ResolveWithMap(map[string]interface{}{
		"in":     in,
		"params": nonNil(params),
	})
	for _, p := range spec.Outputs {
		rel, err := template.Resolve(p.Path, resolver)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve path of output %s", p.Name)
		}
		out[p.Name] = rel
	}
	return out, nil
}

func scope(in, out map[string]interface{}, params map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"in":     in,
		"out":    out,
		"params": nonNil(params),
	}
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
