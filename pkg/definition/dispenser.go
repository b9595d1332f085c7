package definition

import (
	"nereus/pkg/api"
	"nereus/pkg/channel"
)

// consumerCounts counts how many consumers each channel reference has across
// the derived declarations and the active task bindings.
func consumerCounts(doc *Document, active []TaskDef) map[string]int {
	counts := make(map[string]int)
	for _, d := range doc.Derived {
		switch {
		case len(d.Combine) == 2:
			counts[d.Combine[0]]++
			counts[d.Combine[1]]++
		case d.GroupTuple != nil:
			counts[d.GroupTuple.Of]++
		case d.Collect != "":
			counts[d.Collect]++
		}
	}
	for _, t := range active {
		for _, in := range t.Inputs {
			if len(in.Each) == 0 && in.From != "" {
				counts[in.From]++
			}
		}
	}
	return counts
}

// dispenser hands out channels for references. A queue channel consumed by
// more than one reference is split with into, so every consumer sees the
// full stream instead of competing for tuples.
type dispenser struct {
	byName   map[string]*channel.Channel
	counts   map[string]int
	branches map[string][]*channel.Channel
}

func newDispenser(byName map[string]*channel.Channel, counts map[string]int) *dispenser {
	return &dispenser{
		byName:   byName,
		counts:   counts,
		branches: make(map[string][]*channel.Channel),
	}
}

func (d *dispenser) take(ref string) (*channel.Channel, error) {
	if ref == "" {
		return nil, api.Graphf("missing channel reference")
	}
	c, known := d.byName[ref]
	if !known {
		return nil, api.Graphf("reference to undeclared channel %s", ref)
	}
	if d.counts[ref] <= 1 || c.Kind() == channel.Value {
		return c, nil
	}
	b, split := d.branches[ref]
	if !split {
		b = c.Into(d.counts[ref])
	}
	if len(b) == 0 {
		return nil, api.Graphf("channel %s consumed more often than declared", ref)
	}
	d.branches[ref] = b[1:]
	return b[0], nil
}
