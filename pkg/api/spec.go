package api

// FailurePolicy decides what happens to the run when a task instance fails.
type FailurePolicy string

const (
	// PolicyTerminate aborts the whole run once any instance of the task fails.
	PolicyTerminate FailurePolicy = "terminate"

	// PolicyIgnore marks the instance failed and keeps scheduling independent branches.
	PolicyIgnore FailurePolicy = "ignore"

	// PolicyRetry re-queues the failed instance up to MaxRetries attempts with backoff.
	PolicyRetry FailurePolicy = "retry"
)

// ResourceHint declares what a single instance of a task needs to run.
// The scheduler admits an instance only when the hint fits the remaining budget.
type ResourceHint struct {
	CPUs        int `json:"cpus,omitempty"`
	MemoryMB    int `json:"memoryMB,omitempty"`
	TimeMinutes int `json:"timeMinutes,omitempty"`
}

// InputPort is one declared input of a task.
// Ports are bound to channels by the graph builder, never here.
type InputPort struct {
	// Name is the port identifier referenced by command templates as @{in.<name>}.
	Name string `json:"name"`

	// File marks the port as carrying file paths. File inputs are staged
	// (symlinked) into the instance working directory before execution.
	File bool `json:"file,omitempty"`

	// Each marks the port as a fan-out modifier: for every tuple pulled from
	// the regular ports, one instance is created per element of this port's
	// finite value set.
	Each bool `json:"each,omitempty"`
}

// OutputPort is one declared output of a task.
type OutputPort struct {
	// Name is the port identifier referenced by command templates as @{out.<name>}.
	Name string `json:"name"`

	// Path is a template resolved against the instance's inputs and params,
	// relative to the instance working directory.
	Path string `json:"path"`
}

// TaskSpec is the declarative template for one unit of external work.
// It is immutable once declared; the graph builder binds its ports to
// channels and the scheduler instantiates it once per input tuple.
type TaskSpec struct {
	Name    string `json:"name"`
	Command string `json:"command"`

	Inputs  []InputPort  `json:"inputs,omitempty"`
	Outputs []OutputPort `json:"outputs,omitempty"`

	Resources ResourceHint `json:"resources,omitempty"`

	// Tag is a label used for grouping and display only.
	Tag string `json:"tag,omitempty"`

	// Container is the image the command runs in. Empty means the local backend.
	Container string `json:"container,omitempty"`

	OnFailure  FailurePolicy `json:"onFailure,omitempty"`
	MaxRetries int           `json:"maxRetries,omitempty"`
}

// Policy returns the task failure policy, defaulting to terminate.
func (s TaskSpec) Policy() FailurePolicy {
	if s.OnFailure == "" {
		return PolicyTerminate
	}
	return s.OnFailure
}

// Input returns the declared input port with the given name.
func (s TaskSpec) Input(name string) (InputPort, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return InputPort{}, false
}

// Output returns the declared output port with the given name.
func (s TaskSpec) Output(name string) (OutputPort, bool) {
	for _, p := range s.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return OutputPort{}, false
}
