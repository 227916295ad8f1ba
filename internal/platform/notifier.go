package platform

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"grimm.is/linkd/internal/clock"
)

// ErrDuplicateDelivery is recorded by an Expectation that matched a second
// event before the first was accepted.
var ErrDuplicateDelivery = stderrors.New("event received a second time")

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = stderrors.New("subscription closed")

// Notifier publishes cache changes to subscribers and expectations.
// Delivery is synchronous and in publish order; nothing is ever dropped.
type Notifier struct {
	mu           sync.Mutex
	clock        clock.Clock
	subs         []*Subscription
	expectations []*Expectation
	hooks        []func(Event)

	seq       uint64
	published uint64
}

// NewNotifier creates a notifier stamping events with clk.
func NewNotifier(clk clock.Clock) *Notifier {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Notifier{clock: clk}
}

// Publish turns changes into events and delivers them.
func (n *Notifier) Publish(changes []Change) []Event {
	if len(changes) == 0 {
		return nil
	}

	n.mu.Lock()
	events := make([]Event, 0, len(changes))
	for _, c := range changes {
		n.seq++
		events = append(events, Event{
			Seq:    n.seq,
			Time:   n.clock.Now(),
			Kind:   c.Kind,
			Handle: c.Link.Handle,
			Link:   c.Link,
		})
	}
	n.published += uint64(len(events))

	subs := append([]*Subscription(nil), n.subs...)
	exps := append([]*Expectation(nil), n.expectations...)
	hooks := make([]func(Event), len(n.hooks))
	copy(hooks, n.hooks)
	n.mu.Unlock()

	for _, e := range events {
		for _, x := range exps {
			x.deliver(e)
		}
		for _, s := range subs {
			s.deliver(e)
		}
		for _, h := range hooks {
			h(e)
		}
	}
	return events
}

// OnPublish registers a hook called synchronously for every event.
func (n *Notifier) OnPublish(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hooks = append(n.hooks, fn)
}

// Stats returns the number of events published so far.
func (n *Notifier) Stats() (published uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.published
}

// Subscribe returns a queue receiving events for handle (0 for all handles)
// of the given kinds (all kinds when none are given).
func (n *Notifier) Subscribe(handle int, kinds ...EventKind) *Subscription {
	s := &Subscription{
		n:      n,
		handle: handle,
		kinds:  kindSet(kinds),
		ready:  make(chan struct{}, 1),
	}
	n.mu.Lock()
	n.subs = append(n.subs, s)
	n.mu.Unlock()
	return s
}

// Expect registers an Expectation for one event of kind on handle (0 for
// any handle). It must be registered before the triggering operation.
func (n *Notifier) Expect(kind EventKind, handle int) *Expectation {
	x := &Expectation{n: n, kind: kind, handle: handle}
	n.mu.Lock()
	n.expectations = append(n.expectations, x)
	n.mu.Unlock()
	return x
}

func (n *Notifier) unsubscribe(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, x := range n.subs {
		if x == s {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *Notifier) unexpect(e *Expectation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, x := range n.expectations {
		if x == e {
			n.expectations = append(n.expectations[:i], n.expectations[i+1:]...)
			return
		}
	}
}

func kindSet(kinds []EventKind) map[EventKind]bool {
	if len(kinds) == 0 {
		return nil
	}
	m := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// Subscription is an unbounded FIFO of events.
type Subscription struct {
	n      *Notifier
	handle int
	kinds  map[EventKind]bool

	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	closed bool
}

func (s *Subscription) deliver(e Event) {
	if s.handle != 0 && s.handle != e.Handle {
		return
	}
	if s.kinds != nil && !s.kinds[e.Kind] {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest queued event without blocking.
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, true
}

// Next blocks until an event is queued, the context ends or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := s.TryNext(); ok {
			return e, nil
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrSubscriptionClosed
		}

		select {
		case <-s.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription and wakes any blocked Next.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.n.unsubscribe(s)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Processor drains pending notifications. Platform implements it.
type Processor interface {
	Process(ctx context.Context, wait time.Duration) (int, error)
}

// Expectation records whether a matching event arrived. A second match
// before Accept is a duplicate delivery and is reported by Err and Close.
type Expectation struct {
	n    *Notifier
	kind EventKind

	mu       sync.Mutex
	handle   int
	received bool
	event    Event
	err      error
}

func (x *Expectation) deliver(e Event) {
	if e.Kind != x.kind {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.handle != 0 && x.handle != e.Handle {
		return
	}
	if x.received {
		if x.err == nil {
			x.err = fmt.Errorf("%w: %s for link %d", ErrDuplicateDelivery, e.Kind, e.Handle)
		}
		return
	}
	x.received = true
	x.event = e
}

// SetHandle narrows the expectation to one handle (0 matches any).
func (x *Expectation) SetHandle(handle int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handle = handle
}

// Received reports whether a matching event is waiting to be accepted.
func (x *Expectation) Received() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.received
}

// Event returns the matched event.
func (x *Expectation) Event() Event {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.event
}

// Err returns the first duplicate delivery, if any.
func (x *Expectation) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Accept consumes the received event and re-arms the expectation.
func (x *Expectation) Accept() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return x.err
	}
	if !x.received {
		return fmt.Errorf("expected %s event was not received", x.kind)
	}
	x.received = false
	return nil
}

// Wait processes notifications until a matching event is received.
func (x *Expectation) Wait(ctx context.Context, p Processor) error {
	for !x.Received() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for %s event: %w", x.kind, err)
		}
		if _, err := p.Process(ctx, 50*time.Millisecond); err != nil {
			return err
		}
	}
	return x.Err()
}

// Close unregisters the expectation. It fails if an event is still pending
// or a duplicate was seen.
func (x *Expectation) Close() error {
	x.n.unexpect(x)
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return x.err
	}
	if x.received {
		return fmt.Errorf("unaccepted %s event for link %d", x.kind, x.event.Handle)
	}
	return nil
}
