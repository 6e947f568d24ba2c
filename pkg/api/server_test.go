package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/dfs"
	"github.com/wildfs/wildfs/internal/resolver"
	"github.com/wildfs/wildfs/internal/storage"
	"github.com/wildfs/wildfs/internal/storage/local"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/health"
	"github.com/wildfs/wildfs/pkg/types"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	table   *resolver.MountTable
	volumes *local.Volumes
	health  *health.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		table:   resolver.NewMountTable(nil),
		volumes: local.NewVolumes(),
		health:  health.NewTracker(health.DefaultConfig()),
	}
	cache := storage.NewCache(storage.NewRegistry(local.Constructors(env.volumes, nil)), nil)
	fs := dfs.New(env.table, cache, dfs.WithStorageObserver(env.health))
	t.Cleanup(func() { fs.Shutdown(context.Background()) })

	env.server = NewServer(DefaultServerConfig(), fs, env.health, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) mount(t *testing.T, claim, volume string) types.Storage {
	t.Helper()
	st := types.Storage{
		ID:          uuid.New(),
		BackendType: local.TypeInMemory,
		Config:      []byte(fmt.Sprintf(`{"volume":%q}`, volume)),
	}
	c := types.Container{ID: uuid.New(), Name: volume, Paths: []string{claim}, Storages: []types.Storage{st}}
	if err := e.table.Mount(c); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	e.health.Register(st)
	return st
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

func TestNewServer(t *testing.T) {
	env := newTestEnv(t)

	if env.server.httpServer == nil {
		t.Fatal("HTTP server not initialized")
	}
	if env.server.httpServer.Addr != DefaultServerConfig().Address {
		t.Errorf("Expected address %s, got %s", DefaultServerConfig().Address, env.server.httpServer.Addr)
	}
	if env.server.events == nil {
		t.Error("Event subscriber not set")
	}
}

func TestFileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/docs", "docs")

	w := env.do(t, http.MethodPut, "/v1/file?path=/docs/readme.txt", []byte("hello"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 on create, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPut, "/v1/file?path=/docs/readme.txt", []byte("hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on overwrite, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/file?path=/docs/readme.txt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "hi" {
		t.Errorf("Expected truncated content %q, got %q", "hi", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Expected octet-stream, got %s", ct)
	}

	w = env.do(t, http.MethodDelete, "/v1/file?path=/docs/readme.txt", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/file?path=/docs/readme.txt", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after removal, got %d", w.Code)
	}
}

func TestLargeFileSpansChunks(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/data", "data")

	payload := bytes.Repeat([]byte("0123456789abcdef"), dfs.ChunkSize/8+3)
	w := env.do(t, http.MethodPut, "/v1/file?path=/data/blob", payload)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if int(resp["bytes"].(float64)) != len(payload) {
		t.Errorf("Expected %d bytes written, got %v", len(payload), resp["bytes"])
	}

	w = env.do(t, http.MethodGet, "/v1/file?path=/data/blob", nil)
	if !bytes.Equal(w.Body.Bytes(), payload) {
		t.Errorf("Read back %d bytes, want %d", w.Body.Len(), len(payload))
	}
}

func TestDirectoryOperations(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/home", "home")

	w := env.do(t, http.MethodPost, "/v1/dir?path=/home/alice", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/readdir?path=/home", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var listing struct {
		Path    string   `json:"path"`
		Entries []string `json:"entries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0] != "/home/alice" {
		t.Errorf("Expected [/home/alice], got %v", listing.Entries)
	}

	w = env.do(t, http.MethodGet, "/v1/readdir?path=/", nil)
	if err := json.NewDecoder(w.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0] != "/home" {
		t.Errorf("Expected virtual root listing [/home], got %v", listing.Entries)
	}

	w = env.do(t, http.MethodDelete, "/v1/dir?path=/home/alice", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
}

func TestStat(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/docs", "docs")
	env.do(t, http.MethodPut, "/v1/file?path=/docs/a", []byte("abc"))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantType   types.NodeType
		wantSize   uint64
	}{
		{"file", "/docs/a", http.StatusOK, types.NodeTypeFile, 3},
		{"mount point", "/docs", http.StatusOK, types.NodeTypeDir, 0},
		{"absent", "/docs/missing", http.StatusNotFound, types.NodeTypeOther, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/v1/stat?path="+tt.path, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if resp := decodeError(t, w); resp.Code != errors.ErrCodeNoSuchPath {
					t.Errorf("Expected code %s, got %s", errors.ErrCodeNoSuchPath, resp.Code)
				}
				return
			}
			var st types.Stat
			if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
				t.Fatal(err)
			}
			if st.NodeType != tt.wantType || st.Size != tt.wantSize {
				t.Errorf("Expected %s of size %d, got %s of size %d", tt.wantType, tt.wantSize, st.NodeType, st.Size)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/docs", "docs")
	env.do(t, http.MethodPost, "/v1/dir?path=/docs/sub", nil)
	env.do(t, http.MethodPut, "/v1/file?path=/docs/sub/f", []byte("x"))

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{"missing parameter", http.MethodGet, "/v1/readdir", http.StatusBadRequest, errors.ErrCodeGeneric},
		{"no such path", http.MethodGet, "/v1/readdir?path=/nowhere", http.StatusNotFound, errors.ErrCodeNoSuchPath},
		{"not a directory", http.MethodGet, "/v1/readdir?path=/docs/sub/f", http.StatusBadRequest, errors.ErrCodeNotADirectory},
		{"directory not empty", http.MethodDelete, "/v1/dir?path=/docs/sub", http.StatusConflict, errors.ErrCodeDirNotEmpty},
		{"already exists", http.MethodPost, "/v1/dir?path=/docs/sub", http.StatusConflict, errors.ErrCodePathAlreadyExists},
		{"read a directory", http.MethodGet, "/v1/file?path=/docs/sub", http.StatusBadRequest, errors.ErrCodeNotAFile},
		{"invalid readonly", http.MethodPost, "/v1/chmod?path=/docs/sub/f&readonly=maybe", http.StatusBadRequest, errors.ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, resp.Code)
			}
			if resp.Message == "" {
				t.Error("Expected a message")
			}
		})
	}
}

func TestRename(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/docs", "docs")
	env.mount(t, "/other", "other")
	env.do(t, http.MethodPut, "/v1/file?path=/docs/old", []byte("x"))

	w := env.do(t, http.MethodPost, "/v1/rename?from=/docs/old&to=/docs/new", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodGet, "/v1/file?path=/docs/new", nil); w.Body.String() != "x" {
		t.Errorf("Renamed file content = %q, want %q", w.Body.String(), "x")
	}

	w = env.do(t, http.MethodPost, "/v1/rename?from=/docs/new&to=/other/new", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403 across containers, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != errors.ErrCodeMoveBetweenContainers {
		t.Errorf("Expected %s, got %s", errors.ErrCodeMoveBetweenContainers, resp.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/rename?from=/docs/new", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without target, got %d", w.Code)
	}
}

func TestChmod(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/docs", "docs")
	env.do(t, http.MethodPut, "/v1/file?path=/docs/a", []byte("x"))

	w := env.do(t, http.MethodPost, "/v1/chmod?path=/docs/a&readonly=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/stat?path=/docs/a", nil)
	var st types.Stat
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Permissions.Readonly {
		t.Error("Expected file to be read-only after chmod")
	}
}

func TestStatFS(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/mem", "mem")
	disk := types.Storage{
		ID:          uuid.New(),
		BackendType: local.TypeLocalFilesystem,
		Config:      []byte(fmt.Sprintf(`{"root":%q}`, t.TempDir())),
	}
	c := types.Container{ID: uuid.New(), Name: "disk", Paths: []string{"/disk"}, Storages: []types.Storage{disk}}
	if err := env.table.Mount(c); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/v1/statfs?path=/disk", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var st types.FsStat
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.BlockSize == 0 {
		t.Error("Expected a block size from the host filesystem")
	}

	w = env.do(t, http.MethodGet, "/v1/statfs?path=/mem", nil)
	if resp := decodeError(t, w); resp.Code != errors.ErrCodeGeneric {
		t.Errorf("Expected %s for in-memory volume, got %s", errors.ErrCodeGeneric, resp.Code)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/flaky", "flaky")
	env.volumes.Memory("flaky").SetOffline(true)

	if w := env.do(t, http.MethodGet, "/v1/readdir?path=/flaky", nil); w.Code == http.StatusOK {
		t.Fatal("Expected offline replica to fail")
	}

	w := env.do(t, http.MethodGet, "/v1/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Events []map[string]interface{} `json:"events"`
		Count  int                      `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count == 0 || resp.Count != len(resp.Events) {
		t.Fatalf("Expected drained events, got %d", resp.Count)
	}

	w = env.do(t, http.MethodGet, "/v1/events", nil)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 {
		t.Errorf("Expected empty buffer after drain, got %d", resp.Count)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	st := env.mount(t, "/docs", "docs")

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status=healthy, got %v", response["status"])
	}

	for i := 0; i < 3; i++ {
		env.health.ObserveStorage(st, fmt.Errorf("test error"))
	}
	w = env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusPartialContent {
		t.Errorf("Expected status 206 when degraded, got %d", w.Code)
	}

	for i := 0; i < 10; i++ {
		env.health.ObserveStorage(st, fmt.Errorf("test error"))
	}
	w = env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 when unavailable, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/health/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected readiness 503, got %d", w.Code)
	}
}

func TestHandleHealthReplicas(t *testing.T) {
	env := newTestEnv(t)
	env.mount(t, "/a", "a")
	env.mount(t, "/b", "b")

	w := env.do(t, http.MethodGet, "/health/replicas", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var replicas []health.ReplicaHealth
	if err := json.NewDecoder(w.Body).Decode(&replicas); err != nil {
		t.Fatalf("Failed to decode replicas: %v", err)
	}
	if len(replicas) != 2 {
		t.Errorf("Expected 2 replicas, got %d", len(replicas))
	}
}

func TestHandleHealthNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.server.healthTracker = nil

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/health/replicas", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/health/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestHandleLivenessAndInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health/live", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/info", nil)
	var info map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info["service"] != "wildfs" {
		t.Errorf("Expected service=wildfs, got %v", info["service"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/readdir?path=/", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/readdir", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected preflight status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PUT") {
		t.Error("Expected PUT among allowed methods")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/readdir", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected wrapped handler to run, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health/live", nil)
	if id := w.Header().Get(requestIDHeader); id == "" {
		t.Error("Expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(requestIDHeader, "client-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if id := rec.Header().Get(requestIDHeader); id != "client-42" {
		t.Errorf("Expected request id to be echoed, got %q", id)
	}
}
