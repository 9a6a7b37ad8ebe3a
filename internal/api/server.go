// Package api serves the Loresmith HTTP surface: health and workspace
// endpoints plus a WebSocket that drives one agent orchestrator per
// connected UI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/loresmith/internal/buildinfo"
	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/prompts"
	"github.com/nugget/loresmith/internal/tools"
)

// Store loads the workspace and persists what tools and runs produce.
type Store interface {
	tools.Effects
	Load(ctx context.Context) (card.Workspace, error)
	SaveTranscript(ctx context.Context, name string, v any) error
}

// Config holds the per-run defaults the server applies.
type Config struct {
	Address string
	Port    int

	Settings     llm.Settings
	ResearchURL  string
	SearchLimit  int
	MaxChars     int
	Mode         prompts.Mode
	MaxSteps     int
	Instructions string
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	client   llm.Client
	registry *tools.Registry
	store    Store
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a server. store may be nil, in which case every run
// starts from an empty workspace and tool changes are not saved.
func NewServer(cfg Config, client llm.Client, registry *tools.Registry, store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		client:   client,
		registry: registry,
		store:    store,
		logger:   logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The UI is served from anywhere the user likes, including
			// file:// pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/workspace", s.handleWorkspace)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "code": code},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Current(), s.logger)
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.loadWorkspace(r.Context())
	if err != nil {
		s.logger.Error("failed to load workspace", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load workspace")
		return
	}
	writeJSON(w, ws, s.logger)
}

func (s *Server) loadWorkspace(ctx context.Context) (card.Workspace, error) {
	var ws card.Workspace
	if s.store != nil {
		var err error
		if ws, err = s.store.Load(ctx); err != nil {
			return ws, err
		}
	}
	ws.ResearchURL = s.cfg.ResearchURL
	return ws, nil
}
