package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/catalog"
	"github.com/wildfs/wildfs/internal/circuit"
	"github.com/wildfs/wildfs/internal/config"
	"github.com/wildfs/wildfs/internal/dfs"
	"github.com/wildfs/wildfs/internal/metrics"
	"github.com/wildfs/wildfs/internal/resolver"
	"github.com/wildfs/wildfs/internal/storage"
	"github.com/wildfs/wildfs/internal/storage/local"
	"github.com/wildfs/wildfs/internal/storage/s3"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/health"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Adapter owns every long-lived component of a wildfs process and wires them
// together: catalog, mount table, backend registry, frontend and metrics.
type Adapter struct {
	config *config.Configuration
	logger *slog.Logger
	closer io.Closer

	store    *catalog.Store
	arena    *catalog.Arena
	table    *resolver.MountTable
	volumes  *local.Volumes
	registry *storage.Registry
	cache    *storage.Cache
	breakers *circuit.Set
	metrics  *metrics.Collector
	health   *health.Tracker
	dfs      *dfs.DFS

	stopChecks context.CancelFunc
}

// Option configures an Adapter.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	volumes *local.Volumes
	s3API   func(context.Context, s3.Config) (s3.API, error)
}

// WithLogger uses l instead of a logger built from the global config section.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVolumes shares in-memory volumes with the caller.
func WithVolumes(vs *local.Volumes) Option {
	return func(o *options) { o.volumes = vs }
}

// WithS3API replaces the AWS SDK client used by S3 storages.
func WithS3API(fn func(context.Context, s3.Config) (s3.API, error)) Option {
	return func(o *options) { o.s3API = fn }
}

// New validates the configuration and builds the component graph. Containers
// from the catalog and from the configuration file are mounted; a container
// that fails to mount is logged and skipped.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &Adapter{config: cfg, closer: nopCloser{}}
	if o.logger != nil {
		a.logger = o.logger
	} else {
		logger, closer, err := utils.NewLogger(utils.LogOptions{
			Level:  cfg.Global.LogLevel,
			Format: cfg.Global.LogFormat,
			File:   cfg.Global.LogFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		a.logger, a.closer = logger, closer
	}
	a.logger = a.logger.With("component", "adapter")

	store, err := openStore(cfg.Catalog.Path, a.logger)
	if err != nil {
		_ = a.closer.Close()
		return nil, err
	}
	a.store = store

	a.volumes = o.volumes
	if a.volumes == nil {
		a.volumes = local.NewVolumes()
	}
	constructors := local.Constructors(a.volumes, a.logger)
	constructors[s3.TypeS3] = s3.Constructor(a.logger, o.s3API)
	a.registry = storage.NewRegistry(constructors)
	a.cache = storage.NewCache(a.registry, a.logger)

	a.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Monitoring.Metrics.Port,
		Path:      cfg.Monitoring.Metrics.Path,
		Namespace: cfg.Monitoring.Metrics.Namespace,
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
	}, a.logger)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	a.health = health.NewTracker(health.DefaultConfig())
	a.health.AddStateChangeCallback(health.StateUnavailable, func(id uuid.UUID, from, to health.HealthState, err error) {
		a.logger.Error("Storage unavailable", "storage_id", id, "error", err)
	})

	dfsOpts := []dfs.Option{
		dfs.WithLogger(a.logger),
		dfs.WithMetrics(a.metrics),
		dfs.WithStorageObserver(a.health),
		dfs.WithEventCapacity(cfg.Dispatch.EventBuffer),
	}
	if cfg.Dispatch.CircuitBreaker.Enabled {
		bc := cfg.BreakerConfig()
		bc.OnStateChange = func(id uuid.UUID, from, to circuit.State) {
			a.logger.Warn("Circuit breaker state changed",
				"storage_id", id, "from", from.String(), "to", to.String())
		}
		a.breakers = circuit.NewSet(bc)
		dfsOpts = append(dfsOpts, dfs.WithBreakers(a.breakers))
	}

	a.table = resolver.NewMountTable(a.logger)
	a.dfs = dfs.New(a.table, a.cache, dfsOpts...)

	a.arena = catalog.NewArena()
	if err := a.loadContainers(ctx); err != nil {
		a.dfs.Shutdown(ctx)
		a.closeStore()
		return nil, err
	}
	for _, c := range a.arena.List() {
		if err := a.mount(c); err != nil {
			a.logger.Warn("Skipping container", "container_id", c.ID, "name", c.Name, "error", err)
		}
	}

	return a, nil
}

func openStore(path string, logger *slog.Logger) (*catalog.Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	store, err := catalog.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return store, nil
}

// loadContainers fills the arena from the catalog, then from the config file.
// A configured container replaces a catalog one with the same id.
func (a *Adapter) loadContainers(ctx context.Context) error {
	if err := a.arena.Load(ctx, a.store); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	configured, err := a.config.ContainerList()
	if err != nil {
		return err
	}
	for _, c := range configured {
		if err := a.arena.Put(c); err != nil {
			return fmt.Errorf("container %s: %w", c.Name, err)
		}
	}
	return nil
}

func (a *Adapter) mount(c types.Container) error {
	if err := a.table.Mount(c); err != nil {
		return err
	}
	for _, st := range c.Storages {
		a.health.Register(st)
	}
	return nil
}

func (a *Adapter) forget(c types.Container) {
	for _, st := range c.Storages {
		a.cache.Evict(st.ID)
		a.health.Forget(st.ID)
	}
}

// Start starts the metrics endpoint and the periodic replica probes.
func (a *Adapter) Start(ctx context.Context) error {
	a.logger.Info("Starting wildfs",
		"containers", a.arena.Len(),
		"backend_types", a.registry.Types(),
		"catalog", a.config.Catalog.Path)

	if err := a.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}

	checkCtx, cancel := context.WithCancel(ctx)
	a.stopChecks = cancel
	go a.health.StartHealthChecks(checkCtx, a.Probe)
	return nil
}

// Probe checks that a storage's backend can be built and answers for its root.
func (a *Adapter) Probe(ctx context.Context, st types.Storage) error {
	backend, err := a.cache.Backend(ctx, st)
	if err != nil {
		return err
	}
	if _, err := backend.PathExists(ctx, utils.Separator); err != nil {
		return err
	}
	return nil
}

// Stop closes open files, the metrics endpoint and the catalog.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("Stopping wildfs")

	if a.stopChecks != nil {
		a.stopChecks()
	}
	a.dfs.Shutdown(ctx)
	var errs []error
	if err := a.metrics.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("catalog: %w", err))
	}
	if err := a.closer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("log file: %w", err))
	}
	return stderrors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (a *Adapter) closeStore() {
	_ = a.store.Close()
	_ = a.closer.Close()
}

// DFS returns the frontend. Callers serialize access to it.
func (a *Adapter) DFS() *dfs.DFS { return a.dfs }

// Metrics returns the collector.
func (a *Adapter) Metrics() *metrics.Collector { return a.metrics }

// Breakers returns the breaker set, or nil when breakers are disabled.
func (a *Adapter) Breakers() *circuit.Set { return a.breakers }

// Health returns the replica health tracker.
func (a *Adapter) Health() *health.Tracker { return a.health }

// Logger returns the adapter's logger.
func (a *Adapter) Logger() *slog.Logger { return a.logger }

// Containers lists the known containers, mounted or not.
func (a *Adapter) Containers() []types.Container { return a.arena.List() }

// Mounted reports whether the container with id takes part in resolution.
func (a *Adapter) Mounted(id uuid.UUID) bool {
	for _, m := range a.table.Mounted() {
		if m == id {
			return true
		}
	}
	return false
}

// AddContainer persists a container in the catalog and mounts it. Unknown
// backend types are rejected before anything is stored.
func (a *Adapter) AddContainer(ctx context.Context, c types.Container) error {
	for _, st := range c.Storages {
		if !a.registry.Supports(st.BackendType) {
			return fmt.Errorf("storage %s: unsupported backend type %q", st.ID, st.BackendType)
		}
	}
	if _, exists := a.arena.Get(c.ID); exists {
		return errors.NewError(errors.ErrCodeAlreadyMounted, "container already exists").
			WithContext("container_id", c.ID.String())
	}
	if err := a.store.Save(ctx, c); err != nil {
		return err
	}
	if err := a.arena.Put(c); err != nil {
		return err
	}
	return a.mount(c)
}

// RemoveContainer unmounts a container and deletes it from the catalog.
// Containers that only come from the configuration file cannot be removed.
func (a *Adapter) RemoveContainer(ctx context.Context, id uuid.UUID) error {
	c, ok := a.arena.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	if err := a.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := a.table.Unmount(id); err != nil && !errors.HasCode(err, errors.ErrCodeContainerNotMounted) {
		return err
	}
	a.arena.Remove(id)
	a.forget(c)
	a.logger.Info("Container removed", "container_id", id, "name", c.Name)
	return nil
}

// RemoveContainersByPath removes every stored container claiming path, and
// with recursive set those claiming a path below it.
func (a *Adapter) RemoveContainersByPath(ctx context.Context, path string, recursive bool) ([]uuid.UUID, error) {
	if err := utils.ValidatePath(path); err != nil {
		return nil, err
	}
	ids, err := a.store.DeleteByPath(ctx, path, recursive)
	for _, id := range ids {
		c, _ := a.arena.Get(id)
		if uerr := a.table.Unmount(id); uerr != nil && !errors.HasCode(uerr, errors.ErrCodeContainerNotMounted) {
			a.logger.Warn("Failed to unmount removed container", "container_id", id, "error", uerr)
		}
		a.arena.Remove(id)
		a.forget(c)
	}
	return ids, err
}
