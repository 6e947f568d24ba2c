package adapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/catalog"
	"github.com/wildfs/wildfs/internal/config"
	"github.com/wildfs/wildfs/internal/storage/local"
	"github.com/wildfs/wildfs/internal/storage/s3"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
)

func TestParseStorageURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		uri         string
		wantType    string
		wantConfig  map[string]interface{}
		wantErr     bool
		errContains string
	}{
		{
			name:       "s3 bucket",
			uri:        "s3://my-bucket",
			wantType:   s3.TypeS3,
			wantConfig: map[string]interface{}{"bucket": "my-bucket", "prefix": ""},
		},
		{
			name:       "s3 bucket with prefix and options",
			uri:        "s3://my.bucket.with.dots/path/to?region=eu-west-1&path_style=true",
			wantType:   s3.TypeS3,
			wantConfig: map[string]interface{}{"bucket": "my.bucket.with.dots", "prefix": "path/to/", "region": "eu-west-1", "force_path_style": true},
		},
		{
			name:        "s3 URI without bucket",
			uri:         "s3://",
			wantErr:     true,
			errContains: "bucket name",
		},
		{
			name:        "s3 invalid path_style",
			uri:         "s3://b?path_style=maybe",
			wantErr:     true,
			errContains: "path_style",
		},
		{
			name:       "memory volume",
			uri:        "mem://scratch/base",
			wantType:   local.TypeInMemory,
			wantConfig: map[string]interface{}{"volume": "scratch", "base_dir": "/base"},
		},
		{
			name:        "memory without volume",
			uri:         "mem:///base",
			wantErr:     true,
			errContains: "volume name",
		},
		{
			name:       "local directory",
			uri:        "file:///srv/data",
			wantType:   local.TypeLocalFilesystem,
			wantConfig: map[string]interface{}{"root": "/srv/data"},
		},
		{
			name:        "unsupported scheme",
			uri:         "gcs://my-bucket",
			wantErr:     true,
			errContains: "unsupported storage scheme",
		},
		{
			name:        "invalid URI",
			uri:         "://invalid",
			wantErr:     true,
			errContains: "failed to parse URI",
		},
		{
			name:        "empty URI",
			uri:         "",
			wantErr:     true,
			errContains: "unsupported storage scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := ParseStorageURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStorageURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("ParseStorageURI() error = %v, should contain %q", err, tt.errContains)
				}
				return
			}
			if st.BackendType != tt.wantType {
				t.Errorf("BackendType = %q, want %q", st.BackendType, tt.wantType)
			}
			if st.ID == uuid.Nil {
				t.Error("storage id not assigned")
			}
			var got map[string]interface{}
			if err := json.Unmarshal(st.Config, &got); err != nil {
				t.Fatalf("config is not JSON: %v", err)
			}
			for k, want := range tt.wantConfig {
				if got[k] != want {
					t.Errorf("config[%q] = %v, want %v", k, got[k], want)
				}
			}
		})
	}
}

func newTestAdapter(t *testing.T, cfg *config.Configuration) *Adapter {
	t.Helper()
	a, err := New(context.Background(), cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func testConfig(t *testing.T) *config.Configuration {
	cfg := config.NewDefault()
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "catalog.db")
	cfg.Monitoring.Metrics.Enabled = false
	return cfg
}

func memContainer(t *testing.T, name, claim string) types.Container {
	t.Helper()
	st, err := ParseStorageURI("mem://" + name)
	if err != nil {
		t.Fatal(err)
	}
	return types.Container{ID: uuid.New(), Name: name, Paths: []string{claim}, Storages: []types.Storage{st}}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("invalid configuration", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Global.LogLevel = "LOUD"
		_, err := New(context.Background(), cfg)
		if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
			t.Errorf("error should contain 'invalid configuration', got %v", err)
		}
	})

	t.Run("mounts configured containers", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Containers = []config.ContainerConfig{{
			Name:     "docs",
			Paths:    []string{"/docs"},
			Storages: []config.StorageConfig{{BackendType: local.TypeInMemory}},
		}}
		a := newTestAdapter(t, cfg)

		containers := a.Containers()
		if len(containers) != 1 {
			t.Fatalf("Containers() = %d entries, want 1", len(containers))
		}
		if !a.Mounted(containers[0].ID) {
			t.Error("configured container not mounted")
		}
		if a.Breakers() == nil {
			t.Error("breakers should be enabled by default")
		}
	})

	t.Run("breakers disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Dispatch.CircuitBreaker.Enabled = false
		a := newTestAdapter(t, cfg)
		if a.Breakers() != nil {
			t.Error("Breakers() should be nil when disabled")
		}
	})
}

func TestAddContainerServesFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestAdapter(t, testConfig(t))

	c := memContainer(t, "home", "/home")
	if err := a.AddContainer(ctx, c); err != nil {
		t.Fatalf("AddContainer() error = %v", err)
	}

	fs := a.DFS()
	if err := fs.CreateDir(ctx, "/home/user"); err != nil {
		t.Fatalf("CreateDir() error = %v", err)
	}
	entries, err := fs.ReadDir(ctx, "/home")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0] != "/home/user" {
		t.Errorf("ReadDir() = %v, want [/home/user]", entries)
	}

	if err := a.AddContainer(ctx, c); !errors.HasCode(err, errors.ErrCodeAlreadyMounted) {
		t.Errorf("second AddContainer() error = %v, want ALREADY_MOUNTED", err)
	}
}

func TestAddContainerRejectsUnknownBackend(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, testConfig(t))

	c := memContainer(t, "odd", "/odd")
	c.Storages[0].BackendType = "Floppy"
	err := a.AddContainer(context.Background(), c)
	if err == nil || !strings.Contains(err.Error(), "unsupported backend type") {
		t.Errorf("AddContainer() error = %v, want unsupported backend type", err)
	}
	if len(a.Containers()) != 0 {
		t.Error("rejected container was stored")
	}
}

func TestContainersSurviveRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	c := memContainer(t, "persist", "/persist")
	if err := first.AddContainer(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := first.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	second := newTestAdapter(t, cfg)
	if !second.Mounted(c.ID) {
		t.Error("stored container not mounted after restart")
	}
}

func TestRemoveContainer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestAdapter(t, testConfig(t))

	c := memContainer(t, "tmp", "/tmp")
	if err := a.AddContainer(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := a.RemoveContainer(ctx, c.ID); err != nil {
		t.Fatalf("RemoveContainer() error = %v", err)
	}
	if a.Mounted(c.ID) {
		t.Error("removed container still mounted")
	}
	if _, err := a.DFS().ReadDir(ctx, "/tmp"); !errors.HasCode(err, errors.ErrCodeNoSuchPath) {
		t.Errorf("ReadDir() after removal error = %v, want NO_SUCH_PATH", err)
	}

	err := a.RemoveContainer(ctx, c.ID)
	if err == nil || !strings.Contains(err.Error(), catalog.ErrNotFound.Error()) {
		t.Errorf("second RemoveContainer() error = %v, want not found", err)
	}
}

func TestRemoveContainersByPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestAdapter(t, testConfig(t))

	outer := memContainer(t, "outer", "/projects")
	inner := memContainer(t, "inner", "/projects/app")
	other := memContainer(t, "other", "/other")
	for _, c := range []types.Container{outer, inner, other} {
		if err := a.AddContainer(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := a.RemoveContainersByPath(ctx, "/projects", true)
	if err != nil {
		t.Fatalf("RemoveContainersByPath() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %d containers, want 2", len(removed))
	}
	if a.Mounted(outer.ID) || a.Mounted(inner.ID) {
		t.Error("removed containers still mounted")
	}
	if !a.Mounted(other.ID) {
		t.Error("unrelated container was unmounted")
	}

	if _, err := a.RemoveContainersByPath(ctx, "relative", false); err == nil {
		t.Error("relative path should be rejected")
	}
}

func TestHealthTracksMountedReplicas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestAdapter(t, testConfig(t))

	c := memContainer(t, "tracked", "/tracked")
	if err := a.AddContainer(ctx, c); err != nil {
		t.Fatal(err)
	}
	if got := len(a.Health().All()); got != 1 {
		t.Fatalf("tracked replicas = %d, want 1", got)
	}
	if err := a.Probe(ctx, c.Storages[0]); err != nil {
		t.Errorf("Probe() error = %v", err)
	}

	a.volumes.Memory("tracked").SetOffline(true)
	if _, err := a.DFS().ReadDir(ctx, "/tracked"); err == nil {
		t.Fatal("ReadDir() on offline replica should fail")
	}
	h, err := a.Health().Get(c.Storages[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if h.ConsecutiveErrors == 0 {
		t.Error("failed attempt not observed")
	}

	if err := a.RemoveContainer(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if got := len(a.Health().All()); got != 0 {
		t.Errorf("tracked replicas after removal = %d, want 0", got)
	}
}
