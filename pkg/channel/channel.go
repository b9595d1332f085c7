package channel

import (
	"fmt"
	"sync"

	"nereus/pkg/util/context"
)

// Kind distinguishes queue channels from value channels.
type Kind int

const (
	// Queue channels are ordered streams where each tuple is consumed once
	// across all consumers combined, unless duplicated with Into.
	Queue Kind = iota

	// Value channels hold a single tuple, replayable by every consumer.
	Value
)

// Tuple is a fixed-arity ordered sequence of values flowing through a channel.
type Tuple []interface{}

// T builds a tuple from the given values.
func T(vals ...interface{}) Tuple {
	return Tuple(vals)
}

// Channel is an ordered stream of tuples connecting producer and consumer
// tasks. Channels are declared during graph build and only carry data once
// the owning Set has been started.
type Channel struct {
	name string
	kind Kind
	set  *Set
	op   *opNode // nil for sources and pipes

	mu     sync.Mutex
	cond   *sync.Cond
	items  []Tuple
	count  int // tuples ever emitted
	closed bool

	val    Tuple // value channels only
	hasVal bool
}

func newChannel(s *Set, name string, kind Kind) *Channel {
	c := &Channel{
		name: name,
		kind: kind,
		set:  s,
	}
	c.cond = sync.NewCond(&c.mu)
	s.register(c)
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Kind returns whether this is a queue or a value channel.
func (c *Channel) Kind() Kind {
	return c.kind
}

// Emit appends a tuple to the channel. For value channels the first emitted
// tuple becomes the channel's value, later emissions are rejected.
// Emitting on a closed channel is a no-op so producers can drain quietly
// during run cancellation.
func (c *Channel) Emit(t Tuple) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.kind == Value {
		if c.hasVal {
			return
		}
		c.val = t
		c.hasVal = true
		c.count++
		c.cond.Broadcast()
		return
	}
	c.items = append(c.items, t)
	c.count++
	c.cond.Broadcast()
}

// Close marks the channel complete. Consumers drain the remaining buffered
// tuples, then observe exhaustion.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cond.Broadcast()
}

// Receive pops the next tuple from a queue channel, blocking until one is
// available. The second return is false once the channel is closed and empty.
func (c *Channel) Receive() (Tuple, bool) {
	if c.kind != Queue {
		panic(fmt.Sprintf("channel %s: Receive on a value channel", c.name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.items) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.items) == 0 {
		return nil, false
	}
	t := c.items[0]
	c.items = c.items[1:]
	return t, true
}

// Value returns the tuple held by a value channel, blocking until it is
// resolved. The second return is false when the channel was closed empty.
func (c *Channel) Value() (Tuple, bool) {
	if c.kind != Value {
		panic(fmt.Sprintf("channel %s: Value on a queue channel", c.name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.hasVal && !c.closed {
		c.cond.Wait()
	}
	if !c.hasVal {
		return nil, false
	}
	return c.val, true
}

// Upstreams returns the channels this channel is derived from.
// Sources and task-output pipes have none.
func (c *Channel) Upstreams() []*Channel {
	if c.op == nil {
		return nil
	}
	ups := []*Channel{c.op.src}
	if c.op.other != nil {
		ups = append(ups, c.op.other)
	}
	return ups
}

// emitted reports how many tuples ever went through the channel.
func (c *Channel) emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Set owns the channels and operator nodes of one run. Operators declared on
// its channels are interpreted when Start is called; no data moves before.
type Set struct {
	mu       sync.Mutex
	channels []*Channel
	ops      []*opNode
	preloads []preload
	started  bool
	failc    chan error
}

// preload holds a source channel and its initial tuples until Start.
type preload struct {
	ch     *Channel
	tuples []Tuple
}

// NewSet returns an empty channel set.
func NewSet() *Set {
	return &Set{
		failc: make(chan error, 1),
	}
}

// QueueOf declares a queue source pre-loaded with the given tuples.
// The channel is complete as soon as the set starts.
func (s *Set) QueueOf(name string, tuples ...Tuple) *Channel {
	c := newChannel(s, name, Queue)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preloads = append(s.preloads, preload{ch: c, tuples: tuples})
	return c
}

// ValueOf declares a value channel holding the given tuple.
func (s *Set) ValueOf(name string, t Tuple) *Channel {
	c := newChannel(s, name, Value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preloads = append(s.preloads, preload{ch: c, tuples: []Tuple{t}})
	return c
}

// Pipe declares an open queue channel fed externally, typically by a task's
// output port. The producer must Close it when done.
func (s *Set) Pipe(name string) *Channel {
	return newChannel(s, name, Queue)
}

// Channels returns every channel declared on the set.
func (s *Set) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Failures delivers at most one fatal channel error (ifEmpty contract
// violations, operator errors). The run must abort when it fires.
func (s *Set) Failures() <-chan error {
	return s.failc
}

// Start loads the sources and launches one goroutine per operator node.
// When ctx is cancelled every channel is closed so blocked consumers unwind.
func (s *Set) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	preloads := s.preloads
	ops := s.ops
	channels := s.channels
	s.mu.Unlock()

	for _, op := range ops {
		go op.run(s)
	}
	for _, p := range preloads {
		for _, t := range p.tuples {
			p.ch.Emit(t)
		}
		p.ch.Close()
	}

	go func() {
		<-ctx.Done()
		for _, c := range channels {
			c.Close()
		}
	}()
}

func (s *Set) register(c *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, c)
}

func (s *Set) registerOp(op *opNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("channel: operator declared after set start")
	}
	s.ops = append(s.ops, op)
}

// fail records a fatal channel error. Only the first one is kept.
func (s *Set) fail(err error) {
	select {
	case s.failc <- err:
	default:
	}
}
