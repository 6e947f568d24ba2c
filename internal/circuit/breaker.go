// Package circuit keeps one circuit breaker per storage replica so that a replica
// which keeps failing is skipped without being called.
package circuit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected until Timeout elapses
	StateOpen
	// StateHalfOpen - a limited number of probe requests pass through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Consecutive failures that open a closed breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Period of the open state after which the breaker lets probes through
	Timeout time.Duration `yaml:"timeout"`

	// Probe requests allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Called when a breaker changes state
	OnStateChange func(id uuid.UUID, from, to State) `yaml:"-"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker guards a single storage replica.
type Breaker struct {
	id     uuid.UUID
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight uint32
}

func newBreaker(id uuid.UUID, config Config, now func() time.Time) *Breaker {
	return &Breaker{id: id, config: config, now: now}
}

// Allow reports whether a request may proceed. When it may, the caller must report
// the result through Done exactly once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh()
	switch b.state {
	case StateOpen:
		return errors.NewError(errors.ErrCodeCircuitOpen, "circuit breaker is open").
			WithContext("storage_id", b.id.String())
	case StateHalfOpen:
		if b.inFlight >= b.config.MaxRequests {
			return errors.NewError(errors.ErrCodeCircuitOpen, "too many requests in half-open state").
				WithContext("storage_id", b.id.String())
		}
		b.inFlight++
	}

	b.counts.Requests++
	b.counts.LastActivity = b.now()
	return nil
}

// Done records the result of a request admitted by Allow.
func (b *Breaker) Done(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}

	if success {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// refresh moves an expired open breaker to half-open. Callers hold b.mu.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}
	b.inFlight = 0
	if state == StateOpen {
		b.openedAt = b.now()
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.id, prev, state)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh()
	return b.state
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.counts = Counts{}
}

// Set holds the breakers of all storages, created on first use.
type Set struct {
	config Config
	now    func() time.Time

	mu       sync.RWMutex
	breakers map[uuid.UUID]*Breaker
}

// NewSet creates an empty set. Zero config fields take DefaultConfig values.
func NewSet(config Config) *Set {
	def := DefaultConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = def.MaxRequests
	}
	return &Set{
		config:   config,
		now:      time.Now,
		breakers: make(map[uuid.UUID]*Breaker),
	}
}

// For returns the breaker of the given storage.
func (s *Set) For(id uuid.UUID) *Breaker {
	s.mu.RLock()
	if b, ok := s.breakers[id]; ok {
		s.mu.RUnlock()
		return b
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[id]; ok {
		return b
	}
	b := newBreaker(id, s.config, s.now)
	s.breakers[id] = b
	return b
}

// Stats describes one breaker.
type Stats struct {
	StorageID uuid.UUID `json:"storage_id"`
	State     string    `json:"state"`
	Counts    Counts    `json:"counts"`
}

// Stats returns the state of every breaker created so far.
func (s *Set) Stats() []Stats {
	s.mu.RLock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.RUnlock()

	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, Stats{StorageID: b.id, State: b.State().String(), Counts: b.Counts()})
	}
	return out
}

// ResetAll closes every breaker.
func (s *Set) ResetAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.breakers {
		b.Reset()
	}
}
