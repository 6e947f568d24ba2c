// Package api serves a wildfs frontend over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wildfs/wildfs/internal/dfs"
	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/health"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// Server provides HTTP endpoints over one frontend. Every request that touches
// the frontend holds mu.
type Server struct {
	httpServer    *http.Server
	fs            *dfs.DFS
	events        *events.Subscriber
	healthTracker *health.Tracker
	logger        *slog.Logger
	config        ServerConfig

	mu sync.Mutex
}

const requestIDHeader = "X-Request-ID"

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "127.0.0.1:8420")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8420",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// NewServer creates a new API server. healthTracker may be nil.
func NewServer(config ServerConfig, fs *dfs.DFS, healthTracker *health.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		fs:            fs,
		events:        fs.Subscriber(),
		healthTracker: healthTracker,
		logger:        logger.With("component", "api"),
		config:        config,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/readdir", s.handleReadDir)
	mux.HandleFunc("GET /v1/stat", s.handleStat)
	mux.HandleFunc("GET /v1/file", s.handleReadFile)
	mux.HandleFunc("PUT /v1/file", s.handleWriteFile)
	mux.HandleFunc("DELETE /v1/file", s.handleRemoveFile)
	mux.HandleFunc("POST /v1/dir", s.handleCreateDir)
	mux.HandleFunc("DELETE /v1/dir", s.handleRemoveDir)
	mux.HandleFunc("POST /v1/rename", s.handleRename)
	mux.HandleFunc("POST /v1/chmod", s.handleChmod)
	mux.HandleFunc("GET /v1/statfs", s.handleStatFS)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/replicas", s.handleHealthReplicas)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	mux.HandleFunc("GET /info", s.handleInfo)

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Filesystem handlers

func (s *Server) handleReadDir(w http.ResponseWriter, r *http.Request) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}

	s.mu.Lock()
	entries, err := s.fs.ReadDir(r.Context(), path)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if entries == nil {
		entries = []string{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"entries": entries,
	})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}

	s.mu.Lock()
	st, err := s.fs.Getattr(r.Context(), path)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if st == nil {
		s.respondError(w, errors.NoSuchPath(path))
		return
	}

	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}

	s.mu.Lock()
	data, err := s.fs.ReadFile(r.Context(), path)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Failed to write file body", "path", path, "error", err)
	}
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}

	s.mu.Lock()
	created, written, err := s.fs.WriteFile(r.Context(), path, r.Body)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}

	statusCode := http.StatusOK
	if created {
		statusCode = http.StatusCreated
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"path":    path,
		"bytes":   written,
		"created": created,
	})
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	s.pathOperation(w, r, http.StatusNoContent, s.fs.RemoveFile)
}

func (s *Server) handleCreateDir(w http.ResponseWriter, r *http.Request) {
	s.pathOperation(w, r, http.StatusCreated, s.fs.CreateDir)
}

func (s *Server) handleRemoveDir(w http.ResponseWriter, r *http.Request) {
	s.pathOperation(w, r, http.StatusNoContent, s.fs.RemoveDir)
}

// pathOperation runs a frontend call that takes one path and returns only an error.
func (s *Server) pathOperation(w http.ResponseWriter, r *http.Request, success int, op func(context.Context, string) error) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}

	s.mu.Lock()
	err := op(r.Context(), path)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}

	if success == http.StatusNoContent {
		w.WriteHeader(success)
		return
	}
	s.respondJSON(w, success, map[string]string{"path": path})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	from, ok := s.requireParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := s.requireParam(w, r, "to")
	if !ok {
		return
	}

	s.mu.Lock()
	err := s.fs.Rename(r.Context(), from, to)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"from": from, "to": to})
}

func (s *Server) handleChmod(w http.ResponseWriter, r *http.Request) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}
	readonly, err := strconv.ParseBool(r.URL.Query().Get("readonly"))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    errors.ErrCodeGeneric,
			Message: "invalid readonly value: " + strconv.Quote(r.URL.Query().Get("readonly")),
		})
		return
	}
	perms := types.Permissions{Readonly: readonly}

	s.mu.Lock()
	err = s.fs.SetPermissions(r.Context(), path, perms)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": path, "permissions": perms})
}

func (s *Server) handleStatFS(w http.ResponseWriter, r *http.Request) {
	path, ok := s.requireParam(w, r, "path")
	if !ok {
		return
	}

	s.mu.Lock()
	st, err := s.fs.StatFS(r.Context(), path)
	s.mu.Unlock()
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	drained := s.events.Drain()
	if drained == nil {
		drained = []events.Event{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events":  drained,
		"count":   len(drained),
		"dropped": s.fs.Events().Dropped(),
	})
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": health.StateHealthy.String(),
			"note":   "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	replicas := s.healthTracker.All()

	response := map[string]interface{}{
		"status":       overallHealth.String(),
		"timestamp":    time.Now(),
		"replicas":     len(replicas),
		"open_handles": s.openHandles(),
	}

	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) openHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.OpenHandles()
}

func (s *Server) handleHealthReplicas(w http.ResponseWriter, r *http.Request) {
	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Code:    errors.ErrCodeGeneric,
			Message: "Health tracking not configured",
		})
		return
	}

	s.respondJSON(w, http.StatusOK, s.healthTracker.All())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	ready := overallHealth != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overallHealth.String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "wildfs",
		"timestamp": time.Now(),
		"endpoints": []string{
			"GET /v1/readdir?path=",
			"GET /v1/stat?path=",
			"GET /v1/file?path=",
			"PUT /v1/file?path=",
			"DELETE /v1/file?path=",
			"POST /v1/dir?path=",
			"DELETE /v1/dir?path=",
			"POST /v1/rename?from=&to=",
			"POST /v1/chmod?path=&readonly=",
			"GET /v1/statfs?path=",
			"GET /v1/events",
			"GET /health",
			"GET /health/replicas",
			"GET /health/live",
			"GET /health/ready",
		},
	})
}

// Middleware

// loggingMiddleware tags each request with an id, taken from X-Request-ID when
// the client sends one, and hands a logger carrying it to the frontend.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With("request_id", requestID)
		next.ServeHTTP(w, r.WithContext(utils.WithLogger(r.Context(), logger)))
		logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    errors.ErrCodeGeneric,
			Message: "missing query parameter: " + name,
		})
		return "", false
	}
	return value, true
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCodeGeneric
	}
	statusCode := errors.HTTPStatusOf(err)
	if statusCode >= http.StatusInternalServerError {
		s.logger.Warn("Request failed", "code", code, "error", err)
	}

	message := err.Error()
	var dfsErr *errors.DFSError
	if stderrors.As(err, &dfsErr) {
		message = dfsErr.Message
	}
	s.respondJSON(w, statusCode, ErrorResponse{Code: code, Message: message})
}
