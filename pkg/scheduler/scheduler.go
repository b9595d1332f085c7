// Package scheduler runs execution graphs: it pulls tuples from the bound
// input channels, materializes task instances, admits them against the
// resource budget and applies the per-task failure policies. Bookkeeping is
// single-threaded, one event loop per run; only instance commands run
// concurrently.
package scheduler

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"nereus/pkg/api"
	"nereus/pkg/executor"
	"nereus/pkg/graph"
	"nereus/pkg/stage"
	"nereus/pkg/store"
	"nereus/pkg/util/context"
)

// CompletionFunc is called exactly once per run, after the graph reached
// quiescence, with the final state of every task and instance.
type CompletionFunc func(ctx context.Context, state api.RunState) error

// Scheduler executes graphs.
type Scheduler interface {
	// Run executes the graph to quiescence and returns the final run state.
	// The returned error is nil unless the run was aborted: a terminate
	// policy failure, an empty required channel or an external cancellation.
	// Failures contained by the ignore policy surface in the state only.
	Run(ctx context.Context, g *graph.Graph, name string, params map[string]interface{}) (api.RunState, error)

	// Store exposes the run state store, read by live progress rendering.
	Store() *store.RunStore

	// SetCompletionFunc sets the hook called at quiescence.
	SetCompletionFunc(CompletionFunc)
}

// New returns a scheduler writing artifacts under cfg.WorkDir.
func New(cfg Config) (Scheduler, error) {
	if cfg.MaxCPUs <= 0 {
		return nil, api.Configurationf("cpu budget must be positive, got %d", cfg.MaxCPUs)
	}
	ws, err := store.NewWorkspace(cfg.WorkDir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open workspace")
	}
	stager, err := stage.New(filepath.Join(cfg.WorkDir, ".stage"))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open staging area")
	}
	return &scheduler{
		cfg:    cfg,
		s:      store.NewRunStore(),
		ws:     ws,
		stager: stager,
		local:  executor.NewLocal(),
	}, nil
}

type scheduler struct {
	cfg        Config
	s          *store.RunStore
	ws         *store.Workspace
	stager     *stage.Stager
	local      executor.Executor
	docker     executor.Executor
	completion CompletionFunc
}

func (sc *scheduler) Store() *store.RunStore {
	return sc.s
}

func (sc *scheduler) SetCompletionFunc(f CompletionFunc) {
	sc.completion = f
}

func (sc *scheduler) Run(ctx context.Context, g *graph.Graph, name string, params map[string]interface{}) (api.RunState, error) {
	if ctx.RunID() == "" {
		ctx = context.WithRunID(ctx, uuid.New().String())
	}
	runID := ctx.RunID()
	ctx.Logger().Infof("starting run %s", name)

	if err := sc.precheck(g); err != nil {
		return api.RunState{}, err
	}

	specs := make([]api.TaskSpec, len(g.Tasks()))
	for i, t := range g.Tasks() {
		specs[i] = t.Spec
	}
	if err := sc.s.CreateRun(runID, name, specs); err != nil {
		return api.RunState{}, errors.Wrapf(err, "cannot create run %s", runID)
	}
	sc.s.SetRunStatus(runID, api.StatusRunning, store.TimeOption{StartTime: time.Now()})

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rl := &runLoop{
		sc:      sc,
		g:       g,
		params:  params,
		ctx:     rctx,
		cancel:  cancel,
		reqc:    make(chan request),
		evc:     make(chan event),
		feeding: len(g.Tasks()),
		fed:     make(map[string]bool),
		open:    make(map[string]int),
		created: make(map[string]int),
		halted:  make(map[string]int),
		failed:  make(map[string]bool),
		done:    make(map[string]bool),
		seenFP:  make(map[string]int),
	}

	g.Set().Start(rctx)
	for _, t := range g.Tasks() {
		go rl.feed(t)
	}
	runErr := rl.loop()

	status := api.StatusCompleted
	if runErr != nil {
		status = api.StatusFailed
	}
	sc.s.SetRunStatus(runID, status, store.TimeOption{EndTime: time.Now()})
	ctx.Logger().Infof("run finished with status %s", status)

	state, err := sc.s.RunState(runID)
	if err != nil {
		return api.RunState{}, errors.Wrapf(err, "cannot read state of run %s", runID)
	}
	if sc.completion != nil {
		if err := sc.completion(ctx, state); err != nil {
			ctx.Logger().Error(errors.Wrap(err, "completion hook failed"))
		}
	}
	return state, runErr
}

// precheck rejects hints that can never be admitted and prepares the
// container backend when some task needs it.
func (sc *scheduler) precheck(g *graph.Graph) error {
	for _, t := range g.Tasks() {
		r := t.Spec.Resources
		if cpus := instanceCPUs(r); cpus > sc.cfg.MaxCPUs {
			return api.Configurationf("task %s needs %d cpus, budget is %d", t.Spec.Name, cpus, sc.cfg.MaxCPUs)
		}
		if sc.cfg.MaxMemoryMB > 0 && r.MemoryMB > sc.cfg.MaxMemoryMB {
			return api.Configurationf("task %s needs %d MB, budget is %d", t.Spec.Name, r.MemoryMB, sc.cfg.MaxMemoryMB)
		}
		if sc.cfg.MaxTimeMinutes > 0 && r.TimeMinutes > sc.cfg.MaxTimeMinutes {
			return api.Configurationf("task %s declares %d minutes, ceiling is %d", t.Spec.Name, r.TimeMinutes, sc.cfg.MaxTimeMinutes)
		}
		if t.Spec.Container != "" && sc.docker == nil {
			d, err := executor.NewDocker()
			if err != nil {
				return errors.Wrapf(err, "task %s needs a container backend", t.Spec.Name)
			}
			sc.docker = d
		}
	}
	return nil
}

// instanceCPUs is the slot cost of one instance; an undeclared hint costs one.
func instanceCPUs(r api.ResourceHint) int {
	if r.CPUs <= 0 {
		return 1
	}
	return r.CPUs
}
