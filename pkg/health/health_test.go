package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

func replica() types.Storage {
	return types.Storage{ID: uuid.New(), BackendType: "InMemory"}
}

func TestTracker_Register(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	s := replica()

	if state := tracker.GetState(s.ID); state != StateUnavailable {
		t.Errorf("Expected unknown storage to be unavailable, got %s", state)
	}

	tracker.Register(s)
	if state := tracker.GetState(s.ID); state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}

	h, err := tracker.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if h.BackendType != "InMemory" {
		t.Errorf("Expected backend type InMemory, got %s", h.BackendType)
	}
}

func TestTracker_ObserveStorage_Degradation(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	tracker := NewTracker(config)
	s := replica()

	for i := 0; i < 2; i++ {
		tracker.ObserveStorage(s, fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState(s.ID); state != StateHealthy {
		t.Errorf("Expected StateHealthy before threshold, got %s", state)
	}

	tracker.ObserveStorage(s, fmt.Errorf("error 3"))
	if state := tracker.GetState(s.ID); state != StateDegraded {
		t.Errorf("Expected StateDegraded at threshold, got %s", state)
	}

	h, _ := tracker.Get(s.ID)
	if h.LastErrorMessage != "error 3" {
		t.Errorf("Expected last error message, got %q", h.LastErrorMessage)
	}
}

func TestTracker_ObserveStorage_Unavailable(t *testing.T) {
	config := DefaultConfig()
	config.UnavailableThreshold = 5
	tracker := NewTracker(config)
	s := replica()

	for i := 0; i < 5; i++ {
		tracker.ObserveStorage(s, fmt.Errorf("timeout"))
	}
	if state := tracker.GetState(s.ID); state != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", state)
	}
	if tracker.CanRead(s.ID) {
		t.Error("Unavailable storage should not be readable")
	}
}

func TestTracker_ObserveStorage_ReadOnly(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"read-only path", errors.ReadOnlyPath("/archive")},
		{"permission denied", fmt.Errorf("put object: %w", fs.ErrPermission)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(DefaultConfig())
			s := replica()
			for i := 0; i < 3; i++ {
				tracker.ObserveStorage(s, tt.err)
			}
			if state := tracker.GetState(s.ID); state != StateReadOnly {
				t.Errorf("Expected StateReadOnly, got %s", state)
			}
			if !tracker.CanRead(s.ID) || tracker.CanWrite(s.ID) {
				t.Error("Read-only storage should allow reads only")
			}
		})
	}
}

func TestTracker_RecoveryOnSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	s := replica()

	for i := 0; i < 4; i++ {
		tracker.ObserveStorage(s, fmt.Errorf("down"))
	}
	tracker.ObserveStorage(s, nil)

	h, _ := tracker.Get(s.ID)
	if h.State != StateHealthy {
		t.Errorf("Expected StateHealthy after success, got %s", h.State)
	}
	if h.ConsecutiveErrors != 0 || h.LastErrorMessage != "" {
		t.Errorf("Expected error state cleared, got %d %q", h.ConsecutiveErrors, h.LastErrorMessage)
	}
}

func TestTracker_GetOverallHealth(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if overall := tracker.GetOverallHealth(); overall != StateHealthy {
		t.Errorf("Expected empty tracker to be healthy, got %s", overall)
	}

	a, b := replica(), replica()
	tracker.Register(a)
	tracker.Register(b)
	for i := 0; i < 3; i++ {
		tracker.ObserveStorage(b, fmt.Errorf("error"))
	}
	if overall := tracker.GetOverallHealth(); overall != StateDegraded {
		t.Errorf("Expected overall state degraded, got %s", overall)
	}

	tracker.Forget(b.ID)
	if overall := tracker.GetOverallHealth(); overall != StateHealthy {
		t.Errorf("Expected healthy after forgetting degraded storage, got %s", overall)
	}
}

type recordingListener struct {
	mu           sync.Mutex
	observations int
	changes      []HealthState
}

func (l *recordingListener) OnStateChange(_ uuid.UUID, _, newState HealthState, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, newState)
}

func (l *recordingListener) OnObservation(uuid.UUID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observations++
}

func TestTracker_CallbacksAndListeners(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	s := replica()

	var degradedCalls int
	tracker.AddStateChangeCallback(StateDegraded, func(id uuid.UUID, oldState, newState HealthState, err error) {
		if id != s.ID || oldState != StateHealthy || err == nil {
			t.Errorf("unexpected callback arguments: %s %s %v", id, oldState, err)
		}
		degradedCalls++
	})
	listener := &recordingListener{}
	tracker.AddHealthListener(listener)

	for i := 0; i < 3; i++ {
		tracker.ObserveStorage(s, fmt.Errorf("error"))
	}
	tracker.ObserveStorage(s, nil)

	if degradedCalls != 1 {
		t.Errorf("Expected 1 degraded callback, got %d", degradedCalls)
	}
	if listener.observations != 4 {
		t.Errorf("Expected 4 observations, got %d", listener.observations)
	}
	want := []HealthState{StateDegraded, StateHealthy}
	if fmt.Sprint(listener.changes) != fmt.Sprint(want) {
		t.Errorf("Expected changes %v, got %v", want, listener.changes)
	}
}

func TestTracker_All(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	for i := 0; i < 3; i++ {
		tracker.Register(replica())
	}

	all := tracker.All()
	if len(all) != 3 {
		t.Fatalf("Expected 3 replicas, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].StorageID.String() > all[i].StorageID.String() {
			t.Error("All() not ordered by storage id")
		}
	}

	data, err := json.Marshal(all[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["state"] != "healthy" {
		t.Errorf("Expected state to marshal by name, got %v", decoded["state"])
	}
}

func TestTracker_StartHealthChecks(t *testing.T) {
	config := DefaultConfig()
	config.CheckInterval = 10 * time.Millisecond
	config.ErrorThreshold = 1
	tracker := NewTracker(config)

	good, bad := replica(), replica()
	tracker.Register(good)
	tracker.Register(bad)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tracker.StartHealthChecks(ctx, func(_ context.Context, s types.Storage) error {
		if s.ID == bad.ID {
			return fmt.Errorf("probe failed")
		}
		return nil
	})

	if !tracker.IsHealthy(good.ID) {
		t.Error("Expected probed storage to stay healthy")
	}
	if tracker.GetState(bad.ID) == StateHealthy {
		t.Error("Expected failing storage to leave the healthy state")
	}
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateReadOnly, "read-only"},
		{StateUnavailable, "unavailable"},
		{HealthState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}

func TestTracker_GetNotTracked(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if _, err := tracker.Get(uuid.New()); err == nil {
		t.Error("Expected error for untracked storage")
	}
}
