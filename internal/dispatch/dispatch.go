// Package dispatch runs a backend operation against a node's replicas in order
// and returns the first success.
package dispatch

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/wildfs/wildfs/internal/circuit"
	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Attempt results recorded per replica.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultRejected    = "rejected"
	ResultUnsupported = "unsupported"
	ResultUnavailable = "unavailable"
)

// BackendSource hands out the backend of a storage.
type BackendSource interface {
	Backend(ctx context.Context, storage types.Storage) (types.Backend, error)
}

// AttemptRecorder receives one call per replica attempt.
type AttemptRecorder interface {
	RecordBackendAttempt(backendType, result string)
}

// StorageObserver is told the result of every attempt on a replica. err is nil
// on success.
type StorageObserver interface {
	ObserveStorage(storage types.Storage, err error)
}

// Dispatcher implements the sequential first-success policy. It performs no
// fan-out and gives no consistency guarantee across replicas: a write lands on the
// first replica that accepts it.
type Dispatcher struct {
	backends BackendSource
	events   events.Sink
	breakers *circuit.Set
	recorder AttemptRecorder
	observer StorageObserver
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBreakers skips replicas whose breaker is open.
func WithBreakers(set *circuit.Set) Option {
	return func(d *Dispatcher) { d.breakers = set }
}

// WithRecorder records every attempt.
func WithRecorder(r AttemptRecorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithStorageObserver reports per-replica results to o.
func WithStorageObserver(o StorageObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher. A nil sink discards events.
func New(backends BackendSource, sink events.Sink, opts ...Option) *Dispatcher {
	if sink == nil {
		sink = events.Discard{}
	}
	d := &Dispatcher{backends: backends, events: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Call identifies the operation being dispatched, for events and logs.
type Call struct {
	Operation events.Operation
	Path      string
}

// Execute runs fn on each replica in order until one returns a nil error.
// Outcomes carried in T count as success. Replicas whose backend is unknown,
// cannot be built, or whose breaker is open count as failed attempts. When every
// replica fails the result is STORAGE_NOT_RESPONSIVE.
func Execute[T any](ctx context.Context, d *Dispatcher, call Call, storages []types.Storage,
	fn func(types.Backend) (T, error)) (T, error) {
	var zero T
	base := utils.LoggerFrom(ctx, d.logger)

	for _, storage := range storages {
		logger := base.With(
			"operation", string(call.Operation),
			"path", call.Path,
			"storage_id", storage.ID,
			"backend_type", storage.BackendType)

		backend, err := d.backends.Backend(ctx, storage)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeUnsupportedBackend) {
				logger.Error("Unsupported backend type", "error", err)
				d.emit(call, events.CauseUnsupportedBackendType, storage.BackendType)
				d.record(storage.BackendType, ResultUnsupported)
			} else {
				logger.Error("Backend unavailable", "error", err)
				d.emit(call, events.CauseUnresponsiveBackend, storage.BackendType)
				d.record(storage.BackendType, ResultUnavailable)
				d.observe(storage, err)
			}
			continue
		}

		var breaker *circuit.Breaker
		if d.breakers != nil {
			breaker = d.breakers.For(storage.ID)
			if err := breaker.Allow(); err != nil {
				logger.Warn("Replica skipped", "error", err)
				d.emit(call, events.CauseUnresponsiveBackend, storage.BackendType)
				d.record(storage.BackendType, ResultRejected)
				continue
			}
		}

		v, err := fn(backend)
		if breaker != nil {
			breaker.Done(err == nil)
		}
		d.observe(storage, err)
		if err == nil {
			d.record(storage.BackendType, ResultSuccess)
			return v, nil
		}

		logger.Error("Backend operation failed", "error", err)
		d.emit(call, events.CauseUnresponsiveBackend, storage.BackendType)
		d.record(storage.BackendType, ResultFailure)
	}

	base.Error("All backends unresponsive",
		"operation", string(call.Operation),
		"path", call.Path,
		"replicas", len(storages))
	d.emit(call, events.CauseAllBackendsUnresponsive, "")
	return zero, errors.StorageNotResponsive(call.Path).WithOperation(string(call.Operation))
}

// IsNotResponsive reports whether err is the exhaustion error produced by Execute.
func IsNotResponsive(err error) bool {
	return stderrors.Is(err, errors.ErrStorageNotResponsive)
}

func (d *Dispatcher) emit(call Call, cause events.Cause, backendType string) {
	d.events.Send(events.Event{
		Cause:         cause,
		Operation:     call.Operation,
		OperationPath: call.Path,
		BackendType:   backendType,
	})
}

func (d *Dispatcher) record(backendType, result string) {
	if d.recorder != nil {
		d.recorder.RecordBackendAttempt(backendType, result)
	}
}

func (d *Dispatcher) observe(storage types.Storage, err error) {
	if d.observer != nil {
		d.observer.ObserveStorage(storage, err)
	}
}
