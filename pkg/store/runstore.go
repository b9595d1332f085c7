package store

import (
	"fmt"
	"sync"
	"time"

	"nereus/pkg/api"
)

// TimeOption is used when setting a status also records a timestamp.
type TimeOption struct {
	CreateTime time.Time
	StartTime  time.Time
	EndTime    time.Time
}

type run struct {
	name       string
	runID      string
	status     api.Status
	tasks      map[string]*task
	order      []string
	createTime *time.Time
	startTime  *time.Time
	endTime    *time.Time
}

type task struct {
	name      string
	tag       string
	status    api.Status
	instances map[string]*instance
	order     []string
	startTime *time.Time
	endTime   *time.Time
}

type instance struct {
	id          string
	fingerprint string
	status      api.Status
	exitCode    int
	attempts    int
	workdir     string
	errmsg      string
	startTime   *time.Time
	endTime     *time.Time
}

// RunStore keeps the state of runs, tasks and instances in memory. It is the
// single source the live progress renderer and the completion report read from.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*run
}

// NewRunStore returns a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*run),
	}
}

// CreateRun creates a run and one task entry per spec.
func (s *RunStore) CreateRun(runID, name string, specs []api.TaskSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r := &run{
		name:       name,
		runID:      runID,
		status:     api.StatusCreated,
		tasks:      make(map[string]*task),
		createTime: &now,
	}
	for _, spec := range specs {
		r.tasks[spec.Name] = &task{
			name:      spec.Name,
			tag:       spec.Tag,
			status:    api.StatusCreated,
			instances: make(map[string]*instance),
		}
		r.order = append(r.order, spec.Name)
	}
	s.runs[runID] = r
	return nil
}

// SetRunStatus sets the run status with time options.
func (s *RunStore) SetRunStatus(runID string, status api.Status, opt TimeOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.runs[runID]
	if !exists {
		return NotFoundError(fmt.Sprintf("run %s", runID))
	}
	r.status = status
	if !opt.StartTime.IsZero() {
		t := opt.StartTime
		r.startTime = &t
	}
	if !opt.EndTime.IsZero() {
		t := opt.EndTime
		r.endTime = &t
	}
	return nil
}

// SetTaskStatus sets a task status with time options.
func (s *RunStore) SetTaskStatus(runID, taskName string, status api.Status, opt TimeOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.task(runID, taskName)
	if err != nil {
		return err
	}
	t.status = status
	if !opt.StartTime.IsZero() {
		ts := opt.StartTime
		t.startTime = &ts
	}
	if !opt.EndTime.IsZero() {
		ts := opt.EndTime
		t.endTime = &ts
	}
	return nil
}

// GetTaskStatuses returns the status of every task of the run.
func (s *RunStore) GetTaskStatuses(runID string) (map[string]api.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.runs[runID]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("run %s", runID))
	}
	res := make(map[string]api.Status, len(r.tasks))
	for _, t := range r.tasks {
		res[t.name] = t.status
	}
	return res, nil
}

// CreateInstance registers a new task instance with status CREATED.
func (s *RunStore) CreateInstance(runID, taskName, id, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.task(runID, taskName)
	if err != nil {
		return err
	}
	t.instances[id] = &instance{
		id:          id,
		fingerprint: fingerprint,
		status:      api.StatusCreated,
	}
	t.order = append(t.order, id)
	return nil
}

// SetInstanceStatus sets an instance status with time options.
func (s *RunStore) SetInstanceStatus(runID, taskName, id string, status api.Status, opt TimeOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.instance(runID, taskName, id)
	if err != nil {
		return err
	}
	i.status = status
	if !opt.StartTime.IsZero() {
		t := opt.StartTime
		i.startTime = &t
	}
	if !opt.EndTime.IsZero() {
		t := opt.EndTime
		i.endTime = &t
	}
	return nil
}

// SetInstanceResult records the outcome details of an instance attempt.
func (s *RunStore) SetInstanceResult(runID, taskName, id string, exitCode, attempts int, workdir, errmsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.instance(runID, taskName, id)
	if err != nil {
		return err
	}
	i.exitCode = exitCode
	i.attempts = attempts
	i.workdir = workdir
	i.errmsg = errmsg
	return nil
}

// RunState returns a snapshot of the run with its tasks and instances.
func (s *RunStore) RunState(runID string) (api.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.runs[runID]
	if !exists {
		return api.RunState{}, NotFoundError(fmt.Sprintf("run %s", runID))
	}
	state := api.RunState{
		Name:       r.name,
		RunID:      r.runID,
		Status:     r.status,
		CreateTime: r.createTime,
		StartTime:  r.startTime,
		EndTime:    r.endTime,
	}
	for _, name := range r.order {
		t := r.tasks[name]
		ts := api.TaskState{
			Name:      t.name,
			Tag:       t.tag,
			Status:    t.status,
			StartTime: t.startTime,
			EndTime:   t.endTime,
		}
		for _, id := range t.order {
			i := t.instances[id]
			ts.Instances = append(ts.Instances, api.InstanceState{
				ID:          i.id,
				Fingerprint: i.fingerprint,
				Status:      i.status,
				ExitCode:    i.exitCode,
				Attempts:    i.attempts,
				Workdir:     i.workdir,
				Error:       i.errmsg,
				StartTime:   i.startTime,
				EndTime:     i.endTime,
			})
		}
		state.Tasks = append(state.Tasks, ts)
	}
	return state, nil
}

func (s *RunStore) task(runID, taskName string) (*task, error) {
	r, exists := s.runs[runID]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("run %s", runID))
	}
	t, exists := r.tasks[taskName]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("task %s", taskName))
	}
	return t, nil
}

func (s *RunStore) instance(runID, taskName, id string) (*instance, error) {
	t, err := s.task(runID, taskName)
	if err != nil {
		return nil, err
	}
	i, exists := t.instances[id]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("instance %s of task %s", id, taskName))
	}
	return i, nil
}
