package graph

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"nereus/pkg/api"
	"nereus/pkg/channel"
)

// Graph is a validated execution graph, immutable once built.
type Graph struct {
	set   *channel.Set
	tasks []*Task
	deps  map[string][]string // task name -> upstream task names
}

// Build verifies the wiring and returns the graph.
// Rules are:
// - at least one task
// - every declared input port is bound to a channel or an each set
// - no binding for an undeclared port
// - each ports carry a non-empty finite value set
// - no cycle through task outputs (defensive: declaration order already
//   prevents it in the normal case, but self-wiring must still be rejected)
func (b *Builder) Build() (*Graph, error) {
	if len(b.tasks) == 0 {
		return nil, api.Graphf("graph has no tasks")
	}

	for _, t := range b.tasks {
		for _, p := range t.Spec.Inputs {
			_, bound := t.inputs[p.Name]
			_, eachBound := t.each[p.Name]
			if p.Each {
				if !eachBound {
					return nil, api.Graphf("task %s: each port %s is not bound", t.Spec.Name, p.Name)
				}
				if len(t.each[p.Name]) == 0 {
					return nil, api.Graphf("task %s: each port %s has an empty value set", t.Spec.Name, p.Name)
				}
				continue
			}
			if !bound {
				return nil, api.Graphf("task %s: input port %s is not bound to a channel", t.Spec.Name, p.Name)
			}
		}
		for port := range t.inputs {
			if _, declared := t.Spec.Input(port); !declared {
				return nil, api.Graphf("task %s: binding for undeclared port %s", t.Spec.Name, port)
			}
		}
		for port := range t.each {
			p, declared := t.Spec.Input(port)
			if !declared || !p.Each {
				return nil, api.Graphf("task %s: each binding for non-each port %s", t.Spec.Name, port)
			}
		}
	}

	deps := make(map[string][]string, len(b.tasks))
	for _, t := range b.tasks {
		seen := make(map[string]bool)
		for _, c := range t.inputs {
			for _, up := range b.producersOf(c) {
				if !seen[up.Spec.Name] {
					seen[up.Spec.Name] = true
					deps[t.Spec.Name] = append(deps[t.Spec.Name], up.Spec.Name)
				}
			}
		}
		sort.Strings(deps[t.Spec.Name])
	}

	if err := verifyAcyclic(b.tasks, deps); err != nil {
		return nil, err
	}

	return &Graph{
		set:   b.set,
		tasks: b.tasks,
		deps:  deps,
	}, nil
}

// producersOf walks a channel's operator chain back to its roots and returns
// the tasks whose output pipes feed it.
func (b *Builder) producersOf(c *channel.Channel) []*Task {
	var producers []*Task
	visited := make(map[*channel.Channel]bool)
	var walk func(*channel.Channel)
	walk = func(ch *channel.Channel) {
		if visited[ch] {
			return
		}
		visited[ch] = true
		if t, isPipe := b.byPipe[ch]; isPipe {
			producers = append(producers, t)
			return
		}
		for _, up := range ch.Upstreams() {
			walk(up)
		}
	}
	walk(c)
	return producers
}

func verifyAcyclic(tasks []*Task, deps map[string][]string) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(tasks))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		for _, dep := range deps[name] {
			switch color[dep] {
			case grey:
				return api.Graphf("cycle detected through task %s", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for _, t := range tasks {
		if color[t.Spec.Name] == white {
			if err := visit(t.Spec.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Set returns the channel set the graph runs over.
func (g *Graph) Set() *channel.Set {
	return g.set
}

// Tasks returns the graph's tasks in declaration order.
func (g *Graph) Tasks() []*Task {
	return g.tasks
}

// Task returns the task with the given name.
func (g *Graph) Task(name string) (*Task, bool) {
	for _, t := range g.tasks {
		if t.Spec.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Dependencies returns the names of tasks whose outputs feed the given task,
// directly or through channel operators.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// Downstream returns the names of every task depending on the given task,
// directly or transitively.
func (g *Graph) Downstream(name string) []string {
	reached := make(map[string]bool)
	changed := true
	for changed {
		changed = false
		for _, t := range g.tasks {
			if reached[t.Spec.Name] {
				continue
			}
			for _, dep := range g.deps[t.Spec.Name] {
				if dep == name || reached[dep] {
					reached[t.Spec.Name] = true
					changed = true
					break
				}
			}
		}
	}
	var out []string
	for _, t := range g.tasks {
		if reached[t.Spec.Name] {
			out = append(out, t.Spec.Name)
		}
	}
	return out
}

// Describe writes a human-readable view of the wiring: each task, its port
// bindings and the tasks it depends on.
func (g *Graph) Describe(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPORT\tCHANNEL\tDEPENDS ON")
	for _, t := range g.tasks {
		first := true
		prefix := func() string {
			if first {
				first = false
				return t.Spec.Name
			}
			return ""
		}
		depscol := func() string {
			if len(g.deps[t.Spec.Name]) == 0 {
				return "-"
			}
			return fmt.Sprintf("%v", g.deps[t.Spec.Name])
		}
		ports := make([]string, 0, len(t.inputs))
		for port := range t.inputs {
			ports = append(ports, port)
		}
		sort.Strings(ports)
		if len(ports) == 0 {
			fmt.Fprintf(tw, "%s\t-\t-\t%s\n", prefix(), depscol())
		}
		for i, port := range ports {
			deps := "-"
			if i == 0 {
				deps = depscol()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", prefix(), port, t.inputs[port].Name(), deps)
		}
		for port, values := range t.each {
			fmt.Fprintf(tw, "%s\t%s (each)\t%d values\t-\n", prefix(), port, len(values))
		}
	}
	tw.Flush()
}
