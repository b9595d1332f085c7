package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nereus/pkg/api"
	"nereus/pkg/channel"
	"nereus/pkg/graph"
	"nereus/pkg/store"
	"nereus/pkg/util/context"
)

// retryInterval seeds the exponential backoff of the retry policy.
const retryInterval = 250 * time.Millisecond

// request asks the loop to materialize one instance of a task from one
// resolved input combination.
type request struct {
	task   *graph.Task
	inputs map[string]interface{}
}

type eventKind int

const (
	evFinished eventKind = iota
	evRetryReady
	evFeederDone
)

type event struct {
	kind eventKind
	task *graph.Task
	inst *instance
	res  result
}

// instance is one materialized invocation of a task.
type instance struct {
	id       string
	task     *graph.Task
	inputs   map[string]interface{}
	fp       string
	attempts int
	bo       backoff.BackOff
}

// result is the outcome of one instance attempt.
type result struct {
	status   api.Status // COMPLETED, FAILED or CANCELLED
	exitCode int
	outputs  map[string]string // port -> committed artifact path
	workdir  string
	err      error
}

// runLoop is the single bookkeeping goroutine of one run. All graph state
// mutation happens here; feeders and instance goroutines only send events.
type runLoop struct {
	sc     *scheduler
	g      *graph.Graph
	params map[string]interface{}
	ctx    context.Context
	cancel func()

	reqc chan request
	evc  chan event

	pending  []*instance
	cpuUsed  int
	memUsed  int
	feeding  int             // feeders not yet exhausted
	fed      map[string]bool // per-task feeder exhaustion
	open     map[string]int  // instances queued or running, per task
	created  map[string]int
	halted   map[string]int // instances cancelled before completion
	failed   map[string]bool
	done     map[string]bool // task finalized, output pipes closed
	seenFP   map[string]int
	openAll  int
	aborting bool
	runErr   error
}

// feed pulls input tuples for one task and turns them into instance requests.
// Value ports resolve once; queue ports are zipped in declaration order until
// any of them is exhausted. Each ports expand every combination.
func (rl *runLoop) feed(t *graph.Task) {
	defer func() {
		rl.evc <- event{kind: evFeederDone, task: t}
	}()

	base := make(map[string]interface{})
	var queuePorts []string
	for _, p := range t.Spec.Inputs {
		if p.Each {
			continue
		}
		c := t.Inputs()[p.Name]
		if c.Kind() == channel.Value {
			tp, ok := c.Value()
			if !ok {
				return
			}
			base[p.Name] = portValue(tp)
		} else {
			queuePorts = append(queuePorts, p.Name)
		}
	}

	if len(queuePorts) == 0 {
		rl.request(t, base)
		return
	}
	for {
		inputs := copyValues(base)
		for _, name := range queuePorts {
			tp, ok := t.Inputs()[name].Receive()
			if !ok {
				return
			}
			inputs[name] = portValue(tp)
		}
		rl.request(t, inputs)
	}
}

// request expands the each ports of a combination and submits the resulting
// instances to the loop.
func (rl *runLoop) request(t *graph.Task, inputs map[string]interface{}) {
	combos := []map[string]interface{}{inputs}
	for _, p := range t.Spec.Inputs {
		if !p.Each {
			continue
		}
		var next []map[string]interface{}
		for _, c := range combos {
			for _, v := range t.EachValues()[p.Name] {
				m := copyValues(c)
				m[p.Name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	for _, c := range combos {
		rl.reqc <- request{task: t, inputs: c}
	}
}

func portValue(t channel.Tuple) interface{} {
	if len(t) == 1 {
		return t[0]
	}
	return []interface{}(t)
}

func copyValues(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// loop is the run's event loop. It exits once every feeder is exhausted and
// no instance is left queued or running.
func (rl *runLoop) loop() error {
	cancelled := rl.ctx.Done()
	for {
		select {
		case req := <-rl.reqc:
			rl.onRequest(req)
		case ev := <-rl.evc:
			switch ev.kind {
			case evFeederDone:
				rl.feeding--
				rl.fed[ev.task.Spec.Name] = true
				rl.checkTask(ev.task)
			case evRetryReady:
				rl.onRetryReady(ev.inst)
			case evFinished:
				rl.onFinished(ev.inst, ev.res)
			}
		case err := <-rl.g.Set().Failures():
			rl.abort(err)
		case <-cancelled:
			rl.abort(rl.ctx.Err())
			cancelled = nil
		}
		if rl.feeding == 0 && rl.openAll == 0 {
			// A late channel contract violation loses the race against the
			// last feeder event; pick it up before declaring success.
			select {
			case err := <-rl.g.Set().Failures():
				if rl.runErr == nil {
					rl.runErr = err
				}
			default:
			}
			return rl.runErr
		}
	}
}

func (rl *runLoop) onRequest(req request) {
	name := req.task.Spec.Name
	inst := &instance{
		id:     uuid.New().String()[:8],
		task:   req.task,
		inputs: req.inputs,
		fp:     rl.fingerprint(req.task.Spec, req.inputs),
	}
	if rl.created[name] == 0 {
		rl.sc.s.SetTaskStatus(rl.runID(), name, api.StatusRunning, store.TimeOption{StartTime: time.Now()})
	}
	rl.created[name]++
	rl.sc.s.CreateInstance(rl.runID(), name, inst.id, inst.fp)

	if rl.aborting {
		rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusCancelled, store.TimeOption{EndTime: time.Now()})
		rl.halted[name]++
		return
	}

	if rl.sc.cfg.Resume {
		if outputs, hit := rl.fromCache(inst); hit {
			rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusCached, store.TimeOption{EndTime: time.Now()})
			rl.emit(inst.task, outputs)
			rl.instanceLogger(inst).Infof("reusing cached namespace %s", inst.fp[:12])
			return
		}
	}

	rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusQueued, store.TimeOption{})
	rl.open[name]++
	rl.openAll++
	rl.pending = append(rl.pending, inst)
	rl.admit()
}

// fingerprint computes the instance cache key, salting duplicates within the
// run so two identical input combinations never share a namespace.
func (rl *runLoop) fingerprint(spec api.TaskSpec, inputs map[string]interface{}) string {
	fp := store.Fingerprint(spec, inputs)
	n := rl.seenFP[fp]
	rl.seenFP[fp] = n + 1
	if n == 0 {
		return fp
	}
	salted := copyValues(inputs)
	salted["\x1fordinal"] = n
	return store.Fingerprint(spec, salted)
}

// admit moves pending instances to running while their hint fits the budget.
func (rl *runLoop) admit() {
	for len(rl.pending) > 0 {
		inst := rl.pending[0]
		cpus := instanceCPUs(inst.task.Spec.Resources)
		mem := inst.task.Spec.Resources.MemoryMB
		if rl.cpuUsed+cpus > rl.sc.cfg.MaxCPUs {
			return
		}
		if rl.sc.cfg.MaxMemoryMB > 0 && rl.memUsed+mem > rl.sc.cfg.MaxMemoryMB {
			return
		}
		rl.pending = rl.pending[1:]
		rl.cpuUsed += cpus
		rl.memUsed += mem
		rl.sc.s.SetInstanceStatus(rl.runID(), inst.task.Spec.Name, inst.id, api.StatusRunning, store.TimeOption{StartTime: time.Now()})
		ictx := context.WithInstanceID(context.WithTaskName(rl.ctx, inst.task.Spec.Name), inst.id)
		go func(inst *instance) {
			res := rl.sc.execute(ictx, inst, rl.params)
			rl.evc <- event{kind: evFinished, inst: inst, res: res}
		}(inst)
	}
}

func (rl *runLoop) onFinished(inst *instance, res result) {
	name := inst.task.Spec.Name
	rl.cpuUsed -= instanceCPUs(inst.task.Spec.Resources)
	rl.memUsed -= inst.task.Spec.Resources.MemoryMB

	switch res.status {
	case api.StatusCompleted:
		rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusCompleted, store.TimeOption{EndTime: time.Now()})
		rl.sc.s.SetInstanceResult(rl.runID(), name, inst.id, res.exitCode, inst.attempts, res.workdir, "")
		rl.emit(inst.task, res.outputs)
		rl.settle(inst)

	case api.StatusCancelled:
		rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusCancelled, store.TimeOption{EndTime: time.Now()})
		rl.halted[name]++
		rl.settle(inst)

	default: // failed
		rl.sc.s.SetInstanceResult(rl.runID(), name, inst.id, res.exitCode, inst.attempts, res.workdir, res.err.Error())
		if !rl.aborting && inst.task.Spec.Policy() == api.PolicyRetry && inst.attempts <= inst.task.Spec.MaxRetries {
			rl.instanceLogger(inst).Warnf("attempt %d failed, retrying: %v", inst.attempts, res.err)
			rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusQueued, store.TimeOption{})
			if inst.bo == nil {
				bo := backoff.NewExponentialBackOff()
				bo.InitialInterval = retryInterval
				bo.MaxElapsedTime = 0
				inst.bo = bo
			}
			time.AfterFunc(inst.bo.NextBackOff(), func() {
				rl.evc <- event{kind: evRetryReady, inst: inst}
			})
			rl.admit()
			return
		}

		rl.instanceLogger(inst).Errorf("instance failed: %v", res.err)
		rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusFailed, store.TimeOption{EndTime: time.Now()})
		rl.failed[name] = true
		if inst.task.Spec.Policy() == api.PolicyTerminate {
			rl.abort(res.err)
		}
		rl.settle(inst)
	}
}

// settle closes out one finished instance and re-evaluates admission, task
// completion and loop exit conditions.
func (rl *runLoop) settle(inst *instance) {
	name := inst.task.Spec.Name
	rl.open[name]--
	rl.openAll--
	rl.admit()
	rl.checkTask(inst.task)
}

func (rl *runLoop) onRetryReady(inst *instance) {
	if rl.aborting {
		rl.sc.s.SetInstanceStatus(rl.runID(), inst.task.Spec.Name, inst.id, api.StatusCancelled, store.TimeOption{EndTime: time.Now()})
		rl.halted[inst.task.Spec.Name]++
		rl.settle(inst)
		return
	}
	rl.pending = append(rl.pending, inst)
	rl.admit()
}

// abort cancels the run: queued instances are cancelled, running ones get the
// context cancellation, channels close so feeders unwind.
func (rl *runLoop) abort(err error) {
	if rl.aborting {
		return
	}
	rl.aborting = true
	if rl.runErr == nil {
		rl.runErr = err
	}
	rl.ctx.Logger().Warnf("aborting run: %v", err)
	rl.cancel()
	for _, inst := range rl.pending {
		name := inst.task.Spec.Name
		rl.sc.s.SetInstanceStatus(rl.runID(), name, inst.id, api.StatusCancelled, store.TimeOption{EndTime: time.Now()})
		rl.halted[name]++
		rl.open[name]--
		rl.openAll--
	}
	rl.pending = nil
}

// checkTask finalizes a task once its feeder is exhausted and no instance is
// left open: the output pipes close and the task status is decided.
func (rl *runLoop) checkTask(t *graph.Task) {
	name := t.Spec.Name
	if rl.done[name] || rl.feederAlive(t) || rl.open[name] > 0 {
		return
	}
	rl.done[name] = true
	for _, c := range t.Outputs() {
		c.Close()
	}
	var status api.Status
	switch {
	case rl.failed[name]:
		status = api.StatusFailed
	case rl.created[name] == 0 && rl.failedAncestor(name):
		// Propagated failure: the instances never materialized because an
		// ancestor failed, and must not be reported as completed.
		status = api.StatusFailed
	case rl.halted[name] > 0 || (rl.aborting && rl.created[name] == 0):
		status = api.StatusCancelled
	default:
		status = api.StatusCompleted
	}
	rl.sc.s.SetTaskStatus(rl.runID(), name, status, store.TimeOption{EndTime: time.Now()})
	rl.ctx.Logger().Infof("task %s finished with status %s", name, status)
}

func (rl *runLoop) feederAlive(t *graph.Task) bool {
	return !rl.fed[t.Spec.Name]
}

func (rl *runLoop) failedAncestor(name string) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), rl.g.Dependencies(name)...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if rl.failed[n] {
			return true
		}
		stack = append(stack, rl.g.Dependencies(n)...)
	}
	return false
}

// emit publishes the artifacts of a succeeded instance on the task's output
// pipes, one single-value tuple per port.
func (rl *runLoop) emit(t *graph.Task, outputs map[string]string) {
	for port, path := range outputs {
		if c, ok := t.Out(port); ok {
			c.Emit(channel.T(path))
		}
	}
}

func (rl *runLoop) runID() string {
	return rl.ctx.RunID()
}

func (rl *runLoop) instanceLogger(inst *instance) *logrus.Entry {
	return context.WithInstanceID(context.WithTaskName(rl.ctx, inst.task.Spec.Name), inst.id).Logger()
}
