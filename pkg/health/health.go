// Package health tracks the health of storage replicas from the results the
// dispatcher observes and from periodic probes.
package health

import (
	"context"
	stderr "errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

// HealthState represents the health state of a replica or of the whole system
type HealthState int

const (
	// StateHealthy indicates the replica answers normally
	StateHealthy HealthState = iota

	// StateDegraded indicates repeated failures; the dispatcher falls back to other replicas
	StateDegraded

	// StateReadOnly indicates the replica rejects writes but still serves reads
	StateReadOnly

	// StateUnavailable indicates the replica has not answered for a long run of attempts
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ReplicaHealth is the tracked state of one storage.
type ReplicaHealth struct {
	StorageID         uuid.UUID   `json:"storage_id"`
	BackendType       string      `json:"backend_type"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastSeen          time.Time   `json:"last_seen"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`

	storage types.Storage
}

// Tracker tracks replica health and derives the overall system health
type Tracker struct {
	mu              sync.RWMutex
	replicas        map[uuid.UUID]*ReplicaHealth
	config          TrackerConfig
	stateCallbacks  map[HealthState][]StateChangeCallback
	healthListeners []HealthListener
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a replica degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// CheckInterval is the interval of StartHealthChecks probes
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
}

// StateChangeCallback is called when a replica's health state changes
type StateChangeCallback func(storage uuid.UUID, oldState, newState HealthState, err error)

// HealthListener is notified of all health events
type HealthListener interface {
	OnStateChange(storage uuid.UUID, oldState, newState HealthState, err error)
	OnObservation(storage uuid.UUID, healthy bool, err error)
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		CheckInterval:        30 * time.Second,
	}
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	def := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	return &Tracker{
		replicas:       make(map[uuid.UUID]*ReplicaHealth),
		config:         config,
		stateCallbacks: make(map[HealthState][]StateChangeCallback),
	}
}

// Register starts tracking a storage as healthy. Registering twice is a no-op.
func (t *Tracker) Register(storage types.Storage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.register(storage)
}

func (t *Tracker) register(storage types.Storage) *ReplicaHealth {
	h, exists := t.replicas[storage.ID]
	if !exists {
		now := time.Now()
		h = &ReplicaHealth{
			StorageID:       storage.ID,
			BackendType:     storage.BackendType,
			State:           StateHealthy,
			LastStateChange: now,
			LastSeen:        now,
			storage:         storage,
		}
		t.replicas[storage.ID] = h
	}
	return h
}

// Forget stops tracking a storage.
func (t *Tracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.replicas, id)
}

// ObserveStorage records the result of one attempt, registering the storage on
// first sight. It satisfies dispatch.StorageObserver.
func (t *Tracker) ObserveStorage(storage types.Storage, err error) {
	t.mu.Lock()
	h := t.register(storage)
	oldState := h.State
	h.LastSeen = time.Now()

	if err == nil {
		// One success restores a replica to healthy.
		if h.State != StateHealthy {
			t.transitionState(h, StateHealthy)
		}
		h.ConsecutiveErrors = 0
	} else {
		h.ConsecutiveErrors++
		h.LastErrorMessage = err.Error()

		newState := h.State
		switch {
		case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
			newState = StateUnavailable
		case h.ConsecutiveErrors >= t.config.ErrorThreshold:
			if isWriteError(err) {
				newState = StateReadOnly
			} else {
				newState = StateDegraded
			}
		}
		if newState != oldState {
			t.transitionState(h, newState)
		}
	}

	newState := h.State
	listeners := append([]HealthListener(nil), t.healthListeners...)
	callbacks := append([]StateChangeCallback(nil), t.stateCallbacks[newState]...)
	t.mu.Unlock()

	for _, listener := range listeners {
		listener.OnObservation(storage.ID, err == nil, err)
	}
	if oldState != newState {
		for _, callback := range callbacks {
			callback(storage.ID, oldState, newState, err)
		}
		for _, listener := range listeners {
			listener.OnStateChange(storage.ID, oldState, newState, err)
		}
	}
}

// GetState returns the current health state of a storage. Unknown storages are unavailable.
func (t *Tracker) GetState(id uuid.UUID) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, exists := t.replicas[id]; exists {
		return h.State
	}
	return StateUnavailable
}

// Get returns a copy of the health of one storage.
func (t *Tracker) Get(id uuid.UUID) (ReplicaHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.replicas[id]
	if !exists {
		return ReplicaHealth{}, fmt.Errorf("storage %s not tracked", id)
	}
	return *h, nil
}

// All returns copies of every tracked replica, ordered by storage id.
func (t *Tracker) All() []ReplicaHealth {
	t.mu.RLock()
	out := make([]ReplicaHealth, 0, len(t.replicas))
	for _, h := range t.replicas {
		out = append(out, *h)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StorageID.String() < out[j].StorageID.String()
	})
	return out
}

// GetOverallHealth returns the worst state of any tracked replica.
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, h := range t.replicas {
		if h.State > overallState {
			overallState = h.State
		}
	}
	return overallState
}

// IsHealthy returns true if the storage is in a healthy state
func (t *Tracker) IsHealthy(id uuid.UUID) bool {
	return t.GetState(id) == StateHealthy
}

// CanRead returns true if the storage is expected to serve reads
func (t *Tracker) CanRead(id uuid.UUID) bool {
	return t.GetState(id) != StateUnavailable
}

// CanWrite returns true if the storage is expected to accept writes
func (t *Tracker) CanWrite(id uuid.UUID) bool {
	state := t.GetState(id)
	return state == StateHealthy || state == StateDegraded
}

// AddStateChangeCallback registers a callback for transitions into state.
// Callbacks run synchronously after the tracker lock is released.
func (t *Tracker) AddStateChangeCallback(state HealthState, callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stateCallbacks[state] = append(t.stateCallbacks[state], callback)
}

// AddHealthListener registers a health listener
func (t *Tracker) AddHealthListener(listener HealthListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.healthListeners = append(t.healthListeners, listener)
}

// transitionState must be called with the lock held.
func (t *Tracker) transitionState(h *ReplicaHealth, newState HealthState) {
	h.State = newState
	h.LastStateChange = time.Now()
	if newState == StateHealthy {
		h.LastErrorMessage = ""
	}
}

// isWriteError reports whether err says writes are refused while reads may work.
func isWriteError(err error) bool {
	if err == nil {
		return false
	}
	if errors.HasCode(err, errors.ErrCodeReadOnlyPath) {
		return true
	}
	return stderr.Is(err, fs.ErrPermission)
}

// StartHealthChecks probes every tracked storage each CheckInterval until ctx
// is done. probe returns nil for a healthy storage.
func (t *Tracker) StartHealthChecks(ctx context.Context, probe func(ctx context.Context, storage types.Storage) error) {
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.performHealthChecks(ctx, probe)
		}
	}
}

func (t *Tracker) performHealthChecks(ctx context.Context, probe func(ctx context.Context, storage types.Storage) error) {
	t.mu.RLock()
	storages := make([]types.Storage, 0, len(t.replicas))
	for _, h := range t.replicas {
		storages = append(storages, h.storage)
	}
	t.mu.RUnlock()

	for _, s := range storages {
		t.ObserveStorage(s, probe(ctx, s))
	}
}
