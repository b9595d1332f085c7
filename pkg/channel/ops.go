package channel

import (
	"fmt"

	"github.com/pkg/errors"
)

// MapFunc transforms one tuple into another.
type MapFunc func(Tuple) (Tuple, error)

// PredFunc decides whether a tuple passes a filter.
type PredFunc func(Tuple) bool

type opKind int

const (
	opMap opKind = iota
	opFilter
	opSplit
	opCombine
	opGroupTuple
	opCollect
	opIfEmpty
)

// opNode is one tagged operator variant in the pipeline. The closed set of
// variants is interpreted by Set.Start, which runs each node as a goroutine.
type opNode struct {
	kind     opKind
	src      *Channel
	other    *Channel // combine right side
	mapFn    MapFunc
	pred     PredFunc
	keys     []int // groupTuple key field indices
	outs     []*Channel
	emptyErr error
}

func (s *Set) derive(kind opKind, src *Channel, out *Channel, configure func(*opNode)) *Channel {
	n := &opNode{
		kind: kind,
		src:  src,
		outs: []*Channel{out},
	}
	if configure != nil {
		configure(n)
	}
	out.op = n
	s.registerOp(n)
	return out
}

// Map applies fn to each tuple, emitting one output tuple per input tuple and
// preserving order.
func (c *Channel) Map(fn MapFunc) *Channel {
	out := newChannel(c.set, c.name+":map", c.kind)
	return c.set.derive(opMap, c, out, func(n *opNode) {
		n.mapFn = fn
	})
}

// Filter emits only tuples satisfying pred, preserving order.
func (c *Channel) Filter(pred PredFunc) *Channel {
	out := newChannel(c.set, c.name+":filter", c.kind)
	return c.set.derive(opFilter, c, out, func(n *opNode) {
		n.pred = pred
	})
}

// Into duplicates a queue channel into n independent queue channels, each
// replaying the full source sequence in source order. No branch can affect
// another branch's view.
func (c *Channel) Into(n int) []*Channel {
	if n < 1 {
		panic(fmt.Sprintf("channel %s: Into requires at least one branch", c.name))
	}
	node := &opNode{
		kind: opSplit,
		src:  c,
	}
	outs := make([]*Channel, n)
	for i := range outs {
		outs[i] = newChannel(c.set, fmt.Sprintf("%s:into.%d", c.name, i), Queue)
		outs[i].op = node
	}
	node.outs = outs
	c.set.registerOp(node)
	return outs
}

// Combine emits the cross-product of c with other: each tuple of c is paired
// with every tuple of other, the pair concatenated into one tuple.
//
// When other is a value channel its single tuple is replayed for every left
// tuple. When other is a queue channel it is drained to completion first and
// pairs are emitted in left-major order; the result is deterministic for
// deterministic inputs but not a FIFO interleaving of the two sides.
func (c *Channel) Combine(other *Channel) *Channel {
	out := newChannel(c.set, c.name+"*"+other.name, Queue)
	return c.set.derive(opCombine, c, out, func(n *opNode) {
		n.other = other
	})
}

// GroupTuple buffers tuples until the source completes, then emits one tuple
// per distinct key (projection of the given field indices), in first-seen key
// order. Key fields keep their value, every other field is collected into an
// ordered sequence.
func (c *Channel) GroupTuple(keys ...int) *Channel {
	if len(keys) == 0 {
		keys = []int{0}
	}
	out := newChannel(c.set, c.name+":group", Queue)
	return c.set.derive(opGroupTuple, c, out, func(n *opNode) {
		n.keys = keys
	})
}

// Collect gathers every tuple of the source into a single sequence, available
// as a value channel once the source completes. Arity-1 tuples are flattened
// to their bare values.
func (c *Channel) Collect() *Channel {
	out := newChannel(c.set, c.name+":collect", Value)
	return c.set.derive(opCollect, c, out, nil)
}

// IfEmpty passes the source through unchanged, but if the source completes
// without a single tuple, the given error aborts the run instead of silently
// scheduling zero work.
func (c *Channel) IfEmpty(err error) *Channel {
	out := newChannel(c.set, c.name+":ifEmpty", c.kind)
	return c.set.derive(opIfEmpty, c, out, func(n *opNode) {
		n.emptyErr = err
	})
}

// run interprets one operator node. Each node owns its output channels and
// closes them on completion.
func (n *opNode) run(s *Set) {
	switch n.kind {
	case opMap:
		n.runMap(s)
	case opFilter:
		n.runFilter()
	case opSplit:
		n.runSplit()
	case opCombine:
		n.runCombine()
	case opGroupTuple:
		n.runGroupTuple()
	case opCollect:
		n.runCollect()
	case opIfEmpty:
		n.runIfEmpty(s)
	}
}

// each drains the source, invoking fn per tuple, handling both channel kinds.
func (n *opNode) each(fn func(Tuple)) {
	if n.src.kind == Value {
		if t, ok := n.src.Value(); ok {
			fn(t)
		}
		return
	}
	for {
		t, ok := n.src.Receive()
		if !ok {
			return
		}
		fn(t)
	}
}

func (n *opNode) runMap(s *Set) {
	out := n.outs[0]
	defer out.Close()
	n.each(func(t Tuple) {
		mapped, err := n.mapFn(t)
		if err != nil {
			s.fail(errors.Wrapf(err, "map on channel %s", n.src.name))
			return
		}
		out.Emit(mapped)
	})
}

func (n *opNode) runFilter() {
	out := n.outs[0]
	defer out.Close()
	n.each(func(t Tuple) {
		if n.pred(t) {
			out.Emit(t)
		}
	})
}

func (n *opNode) runSplit() {
	defer func() {
		for _, out := range n.outs {
			out.Close()
		}
	}()
	n.each(func(t Tuple) {
		for _, out := range n.outs {
			out.Emit(t)
		}
	})
}

func (n *opNode) runCombine() {
	out := n.outs[0]
	defer out.Close()

	// Right side first: a value channel replays its single tuple, a queue
	// channel is buffered to completion so emission order is deterministic.
	var rights []Tuple
	if n.other.kind == Value {
		if t, ok := n.other.Value(); ok {
			rights = []Tuple{t}
		}
	} else {
		for {
			t, ok := n.other.Receive()
			if !ok {
				break
			}
			rights = append(rights, t)
		}
	}

	n.each(func(l Tuple) {
		for _, r := range rights {
			pair := make(Tuple, 0, len(l)+len(r))
			pair = append(pair, l...)
			pair = append(pair, r...)
			out.Emit(pair)
		}
	})
}

func (n *opNode) runGroupTuple() {
	out := n.outs[0]
	defer out.Close()

	isKey := make(map[int]bool, len(n.keys))
	for _, k := range n.keys {
		isKey[k] = true
	}

	var order []string
	groups := make(map[string][]Tuple)
	n.each(func(t Tuple) {
		key := groupKey(t, n.keys)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	})

	for _, key := range order {
		members := groups[key]
		arity := len(members[0])
		grouped := make(Tuple, arity)
		for i := 0; i < arity; i++ {
			if isKey[i] {
				grouped[i] = members[0][i]
				continue
			}
			seq := make([]interface{}, 0, len(members))
			for _, m := range members {
				if i < len(m) {
					seq = append(seq, m[i])
				}
			}
			grouped[i] = seq
		}
		out.Emit(grouped)
	}
}

func (n *opNode) runCollect() {
	out := n.outs[0]
	defer out.Close()

	var seq []interface{}
	n.each(func(t Tuple) {
		if len(t) == 1 {
			seq = append(seq, t[0])
		} else {
			seq = append(seq, t)
		}
	})
	if seq != nil {
		out.Emit(T(seq))
	}
}

func (n *opNode) runIfEmpty(s *Set) {
	out := n.outs[0]
	defer out.Close()

	count := 0
	n.each(func(t Tuple) {
		count++
		out.Emit(t)
	})
	if count == 0 {
		s.fail(n.emptyErr)
	}
}

// groupKey projects the key fields of a tuple into a comparable string.
func groupKey(t Tuple, keys []int) string {
	key := ""
	for _, k := range keys {
		var v interface{}
		if k < len(t) {
			v = t[k]
		}
		key += fmt.Sprintf("%v\x1f", v)
	}
	return key
}
