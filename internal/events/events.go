// Package events carries diagnostic events about backend health from the DFS
// frontend to interested subscribers without ever blocking the frontend.
package events

import (
	"fmt"
	"sync"
)

// DefaultCapacity is the number of events buffered before the oldest are dropped.
const DefaultCapacity = 100

// Cause says what went wrong.
type Cause string

const (
	CauseUnresponsiveBackend     Cause = "UnresponsiveBackend"
	CauseAllBackendsUnresponsive Cause = "AllBackendsUnresponsive"
	CauseUnsupportedBackendType  Cause = "UnsupportedBackendType"
)

// Operation names the frontend operation an event was raised for.
type Operation string

const (
	OpReadDir        Operation = "ReadDir"
	OpMetadata       Operation = "Metadata"
	OpOpen           Operation = "Open"
	OpCreateDir      Operation = "CreateDir"
	OpCreateFile     Operation = "CreateFile"
	OpRemoveDir      Operation = "RemoveDir"
	OpRemoveFile     Operation = "RemoveFile"
	OpRename         Operation = "Rename"
	OpSetPermissions Operation = "SetPermissions"
	OpPathExists     Operation = "PathExists"
	OpStatFs         Operation = "StatFs"
)

// Event is one diagnostic record. BackendType is empty for events that concern
// a whole replica set.
type Event struct {
	Cause         Cause     `json:"cause"`
	Operation     Operation `json:"operation,omitempty"`
	OperationPath string    `json:"operation_path,omitempty"`
	BackendType   string    `json:"backend_type,omitempty"`
}

// String returns a compact representation for logs.
func (e Event) String() string {
	s := fmt.Sprintf("%s op=%s path=%s", e.Cause, e.Operation, e.OperationPath)
	if e.BackendType != "" {
		s += " backend=" + e.BackendType
	}
	return s
}

// Sink accepts events.
type Sink interface {
	Send(Event)
}

// System is a bounded ring of events. Send never blocks: when the ring is full
// the oldest event is discarded.
type System struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped uint64
	onSend  func(Event)
}

// Option configures a System.
type Option func(*System)

// WithObserver registers fn to be called synchronously for every event sent.
func WithObserver(fn func(Event)) Option {
	return func(s *System) { s.onSend = fn }
}

// NewSystem creates a ring of the given capacity. A non-positive capacity uses DefaultCapacity.
func NewSystem(capacity int, opts ...Option) *System {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &System{ch: make(chan Event, capacity)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send enqueues e, evicting the oldest event if the ring is full. Sending on a
// closed system is a no-op.
func (s *System) Send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.onSend != nil {
		s.onSend(e)
	}
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Dropped returns how many events were evicted.
func (s *System) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the system. Subscribers drain what is buffered and then see the end of the stream.
func (s *System) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscriber returns a receiver. All subscribers share one ring, so each event is
// delivered to exactly one of them.
func (s *System) Subscriber() *Subscriber {
	return &Subscriber{ch: s.ch}
}

// Subscriber reads events from a System.
type Subscriber struct {
	ch <-chan Event
}

// Recv blocks until an event is available. It returns false once the system is
// closed and drained.
func (r *Subscriber) Recv() (Event, bool) {
	e, ok := <-r.ch
	return e, ok
}

// TryRecv returns an event if one is buffered.
func (r *Subscriber) TryRecv() (Event, bool) {
	select {
	case e, ok := <-r.ch:
		return e, ok
	default:
		return Event{}, false
	}
}

// Drain returns every buffered event without blocking.
func (r *Subscriber) Drain() []Event {
	var out []Event
	for {
		e, ok := r.TryRecv()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

// C exposes the underlying channel for use in select statements.
func (r *Subscriber) C() <-chan Event {
	return r.ch
}

// Discard is a Sink that drops everything.
type Discard struct{}

// Send implements Sink.
func (Discard) Send(Event) {}

var (
	_ Sink = (*System)(nil)
	_ Sink = Discard{}
)
