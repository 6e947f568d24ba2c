// Package dfs is the frontend of the distributed filesystem: it resolves
// namespace paths through the mount table, disambiguates colliding nodes and
// executes every operation against the replicas of the owning container.
//
// A DFS is meant for one caller at a time. It does not lock its open-file table;
// hosts that share an instance between goroutines serialize access themselves.
package dfs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/circuit"
	"github.com/wildfs/wildfs/internal/dispatch"
	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/internal/node"
	"github.com/wildfs/wildfs/internal/resolver"
	"github.com/wildfs/wildfs/internal/translator"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Recorder receives operation measurements. internal/metrics.Collector implements it.
type Recorder interface {
	dispatch.AttemptRecorder
	RecordOperation(operation, status string, duration time.Duration)
	RecordBytes(direction string, n int)
	RecordEvent(cause string)
	SetOpenHandles(n int)
}

// FileHandle identifies an open file. Handles are never reused.
type FileHandle uuid.UUID

// String returns the handle id.
func (h FileHandle) String() string {
	return uuid.UUID(h).String()
}

// DFS is the frontend. Create it with New.
type DFS struct {
	resolver   resolver.PathResolver
	translator translator.PathTranslator
	dispatcher *dispatch.Dispatcher
	events     *events.System
	handles    map[FileHandle]types.Descriptor
	metrics    Recorder
	logger     *slog.Logger

	breakers      *circuit.Set
	observer      dispatch.StorageObserver
	eventCapacity int
}

// Option configures a DFS.
type Option func(*DFS)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *DFS) { d.logger = l }
}

// WithMetrics records operations, attempts, events and the open handle count.
func WithMetrics(r Recorder) Option {
	return func(d *DFS) { d.metrics = r }
}

// WithBreakers guards every storage with a circuit breaker from set.
func WithBreakers(set *circuit.Set) Option {
	return func(d *DFS) { d.breakers = set }
}

// WithStorageObserver reports the result of every replica attempt to o.
func WithStorageObserver(o dispatch.StorageObserver) Option {
	return func(d *DFS) { d.observer = o }
}

// WithEventCapacity sets the size of the diagnostic event ring.
func WithEventCapacity(n int) Option {
	return func(d *DFS) { d.eventCapacity = n }
}

// WithTranslator replaces the default UUID-in-dir translator.
func WithTranslator(t translator.PathTranslator) Option {
	return func(d *DFS) { d.translator = t }
}

// New creates a frontend over the given mount table and backend source.
func New(res resolver.PathResolver, backends dispatch.BackendSource, opts ...Option) *DFS {
	d := &DFS{
		resolver: res,
		handles:  make(map[FileHandle]types.Descriptor),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dfs")
	if d.translator == nil {
		d.translator = translator.NewUUIDInDir(res)
	}

	var eventOpts []events.Option
	if d.metrics != nil {
		eventOpts = append(eventOpts, events.WithObserver(func(e events.Event) {
			d.metrics.RecordEvent(string(e.Cause))
		}))
	}
	d.events = events.NewSystem(d.eventCapacity, eventOpts...)

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(d.logger)}
	if d.breakers != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithBreakers(d.breakers))
	}
	if d.metrics != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(d.metrics))
	}
	if d.observer != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithStorageObserver(d.observer))
	}
	d.dispatcher = dispatch.New(backends, d.events, dispatchOpts...)
	return d
}

// Subscriber returns a receiver of diagnostic events.
func (d *DFS) Subscriber() *events.Subscriber {
	return d.events.Subscriber()
}

// Events exposes the event system, e.g. for its drop counter.
func (d *DFS) Events() *events.System {
	return d.events
}

// OpenHandles returns the number of open files.
func (d *DFS) OpenHandles() int {
	return len(d.handles)
}

// Shutdown closes every open handle and the event system. Close errors are
// logged; the handles are released regardless.
func (d *DFS) Shutdown(ctx context.Context) {
	for h, desc := range d.handles {
		if err := desc.Close(ctx); err != nil {
			d.logger.Warn("Failed to close handle on shutdown", "handle", h.String(), "error", err)
		}
		delete(d.handles, h)
	}
	d.updateHandleGauge()
	d.events.Close()
	d.logger.Info("DFS frontend shut down")
}

// observe records the duration and status of one public operation.
func (d *DFS) observe(op events.Operation, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(errors.CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	d.metrics.RecordOperation(string(op), status, time.Since(start))
}

func (d *DFS) updateHandleGauge() {
	if d.metrics != nil {
		d.metrics.SetOpenHandles(len(d.handles))
	}
}

// validate rejects malformed caller paths before they reach the resolver.
func validate(path string) error {
	if err := utils.ValidatePath(path); err != nil {
		return errors.Generic(err.Error()).WithCause(err)
	}
	return nil
}

// relatedNodes resolves the absolute path behind an exposed path and anchors
// every occurrence at it.
func (d *DFS) relatedNodes(exposed string) (string, []node.Descriptor, error) {
	if err := validate(exposed); err != nil {
		return "", nil, err
	}
	abs := d.translator.ExposedToAbsolutePath(exposed)
	nodes, err := d.nodesAt(abs)
	return abs, nodes, err
}

func (d *DFS) nodesAt(abs string) ([]node.Descriptor, error) {
	resolved, err := d.resolver.Resolve(abs)
	if err != nil {
		return nil, asGeneric(err)
	}
	nodes := make([]node.Descriptor, 0, len(resolved))
	for _, r := range resolved {
		nodes = append(nodes, node.FromResolved(abs, r))
	}
	return nodes, nil
}

// asGeneric wraps resolver-layer failures into GENERIC.
func asGeneric(err error) error {
	if errors.CodeOf(err) == errors.ErrCodeGeneric {
		return err
	}
	return errors.Generic(err.Error()).WithCause(err)
}

// run dispatches fn to the replicas of a physical node.
func run[T any](ctx context.Context, d *DFS, op events.Operation, n node.Descriptor,
	fn func(types.Backend, string) (T, error)) (T, error) {
	within := n.Storages.PathWithinStorage
	return dispatch.Execute(ctx, d.dispatcher, dispatch.Call{Operation: op, Path: n.AbsolutePath},
		n.Storages.Storages, func(b types.Backend) (T, error) {
			return fn(b, within)
		})
}

// pathExists probes a physical node. Virtual nodes always exist.
func (d *DFS) pathExists(ctx context.Context, n node.Descriptor) (bool, error) {
	if n.IsVirtual() {
		return true, nil
	}
	return run(ctx, d, events.OpPathExists, n, func(b types.Backend, within string) (bool, error) {
		return b.PathExists(ctx, within)
	})
}

// existing keeps the nodes that exist.
func (d *DFS) existing(ctx context.Context, nodes []node.Descriptor) ([]node.Descriptor, error) {
	var out []node.Descriptor
	for _, n := range nodes {
		ok, err := d.pathExists(ctx, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// singleExisting picks the one node an operation may act on. When the request
// names a disambiguated entry the matching node is chosen directly. Otherwise
// nodes that do not exist are dropped and any remaining ambiguity is handed to
// ambiguous, which defaults to refusing with READ_ONLY_PATH.
func (d *DFS) singleExisting(ctx context.Context, requested string, nodes []node.Descriptor,
	ambiguous func([]node.Descriptor) (node.Descriptor, error)) (node.Descriptor, error) {
	if n, ok := d.disambiguated(requested, nodes); ok {
		return n, nil
	}

	switch len(nodes) {
	case 0:
		return node.Descriptor{}, errors.NoSuchPath(requested)
	case 1:
		return nodes[0], nil
	}

	present, err := d.existing(ctx, nodes)
	if err != nil {
		return node.Descriptor{}, err
	}
	switch len(present) {
	case 0:
		return node.Descriptor{}, errors.NoSuchPath(requested)
	case 1:
		return present[0], nil
	}
	if ambiguous != nil {
		return ambiguous(present)
	}
	return node.Descriptor{}, errors.ReadOnlyPath(requested)
}

// disambiguated returns the physical node a request names through its
// container uuid suffix.
func (d *DFS) disambiguated(requested string, nodes []node.Descriptor) (node.Descriptor, bool) {
	if len(nodes) < 2 {
		return node.Descriptor{}, false
	}
	e, ok := translator.Find(d.translator.AssignExposedPaths(nodes), requested)
	if !ok || !e.Node.IsPhysical() || utils.CleanPath(requested) == e.Node.AbsolutePath {
		return node.Descriptor{}, false
	}
	return e.Node, true
}

// unexpected reports a backend outcome the operation has no mapping for.
func unexpected(path string, outcome types.Outcome) error {
	return errors.Genericf("unexpected backend outcome %s", outcome).WithContext("path", path)
}
