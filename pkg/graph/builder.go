// Package graph translates task specifications plus channel wiring into an
// execution graph. Edges exist only because producer and consumer reference
// the same channel; no task ever refers to another by name.
package graph

import (
	"nereus/pkg/api"
	"nereus/pkg/channel"
)

// Task is one node of the execution graph: a task specification with its
// input ports bound to channels and one output pipe per declared output port.
type Task struct {
	Spec api.TaskSpec

	inputs  map[string]*channel.Channel
	each    map[string][]interface{}
	outputs map[string]*channel.Channel
}

// In binds an input port to a channel.
func (t *Task) In(port string, c *channel.Channel) *Task {
	t.inputs[port] = c
	return t
}

// Each binds a fan-out port to a finite value set: for every tuple pulled
// from the regular ports, one instance is created per element.
func (t *Task) Each(port string, values []interface{}) *Task {
	t.each[port] = values
	return t
}

// Out returns the channel fed by the given output port. Every succeeded
// instance emits one tuple holding the artifact path produced by that port.
func (t *Task) Out(port string) (*channel.Channel, bool) {
	c, ok := t.outputs[port]
	return c, ok
}

// Inputs returns the port to channel bindings.
func (t *Task) Inputs() map[string]*channel.Channel {
	return t.inputs
}

// EachValues returns the fan-out port value sets.
func (t *Task) EachValues() map[string][]interface{} {
	return t.each
}

// Outputs returns the port to pipe bindings.
func (t *Task) Outputs() map[string]*channel.Channel {
	return t.outputs
}

// Builder assembles the execution graph. Conditional subgraphs are handled
// before building: a task excluded by its activation predicate is simply
// never added and contributes no nodes.
type Builder struct {
	set   *channel.Set
	tasks []*Task
	byPipe map[*channel.Channel]*Task // output pipe -> producing task
}

// NewBuilder returns a builder wiring tasks over the given channel set.
func NewBuilder(set *channel.Set) *Builder {
	return &Builder{
		set:    set,
		byPipe: make(map[*channel.Channel]*Task),
	}
}

// Set returns the channel set the graph is wired over.
func (b *Builder) Set() *channel.Set {
	return b.set
}

// AddTask declares a task and creates one output pipe per declared output
// port. Port bindings are added on the returned Task.
func (b *Builder) AddTask(spec api.TaskSpec) (*Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	for _, t := range b.tasks {
		if t.Spec.Name == spec.Name {
			return nil, api.Graphf("duplicate task name %s", spec.Name)
		}
	}
	t := &Task{
		Spec:    spec,
		inputs:  make(map[string]*channel.Channel),
		each:    make(map[string][]interface{}),
		outputs: make(map[string]*channel.Channel),
	}
	for _, out := range spec.Outputs {
		pipe := b.set.Pipe(spec.Name + "." + out.Name)
		t.outputs[out.Name] = pipe
		b.byPipe[pipe] = t
	}
	b.tasks = append(b.tasks, t)
	return t, nil
}
