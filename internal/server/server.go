// Package server exposes the engine, tool lifecycle, OAuth callbacks and
// test suites over HTTP. Handlers are thin: they resolve the caller and
// the addressed resources, call the core and translate its error
// vocabulary into status codes. Answers and suite runs stream as
// server-sent events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/auth"
	"github.com/vijoin/tero/internal/oauth"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/testsuite"
	"github.com/vijoin/tero/internal/tools"
)

// Config wires a Server.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	Stores  storage.StoreSet
	Engine  *agent.Engine
	Tools   *tools.ConfigService
	OAuth   *oauth.Coordinator
	Runner  *testsuite.Runner
	Cancels *agent.CancelRegistry
	Auth    *auth.Authenticator

	// Metrics is optional. MetricsPath defaults to /metrics.
	Metrics     *observability.Metrics
	MetricsPath string

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	stores  storage.StoreSet
	engine  *agent.Engine
	tools   *tools.ConfigService
	oauth   *oauth.Coordinator
	runner  *testsuite.Runner
	cancels *agent.CancelRegistry
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("tero")
	}
	cancels := cfg.Cancels
	if cancels == nil {
		cancels = agent.NewCancelRegistry()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.ObserveActiveAnswers(cancels.Active); err != nil {
			logger.Warn("register active answers gauge", "error", err)
		}
	}
	return &Server{
		cfg:     cfg,
		stores:  cfg.Stores,
		engine:  cfg.Engine,
		tools:   cfg.Tools,
		oauth:   cfg.OAuth,
		runner:  cfg.Runner,
		cancels: cancels,
		metrics: cfg.Metrics,
		tracer:  tracer,
		logger:  logger.With("component", "http"),
	}
}

// Handler returns the routed API with request logging and metrics applied.
// Every /api route requires a bearer token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.metrics.Handler())
	}

	mux.Handle("GET /api/tools", s.protect(s.handleListTools))
	mux.Handle("GET /api/agents/{agentID}/tools", s.protect(s.handleListAgentTools))
	mux.Handle("POST /api/agents/{agentID}/tools", s.protect(s.handleConfigureTool))
	mux.Handle("DELETE /api/agents/{agentID}/tools/{toolID}", s.protect(s.handleDeleteTool))
	mux.Handle("GET /api/agents/{agentID}/tools/{toolID}/files", s.protect(s.handleListToolFiles))
	mux.Handle("POST /api/agents/{agentID}/tools/{toolID}/files", s.protect(s.handleUploadToolFile))
	mux.Handle("PUT /api/agents/{agentID}/tools/{toolID}/files/{fileID}", s.protect(s.handleUpdateToolFile))
	mux.Handle("DELETE /api/agents/{agentID}/tools/{toolID}/files/{fileID}", s.protect(s.handleDeleteToolFile))
	mux.Handle("POST /api/agents/{agentID}/clone", s.protect(s.handleCloneAgent))
	mux.Handle("GET /api/tools/{toolID}/oauth-callback", s.protect(s.handleOAuthCallback))
	mux.Handle("POST /api/tools/{toolID}/oauth-callback", s.protect(s.handleOAuthCallback))
	mux.Handle("POST /api/threads", s.protect(s.handleCreateThread))
	mux.Handle("GET /api/threads/{threadID}/messages", s.protect(s.handleListMessages))
	mux.Handle("POST /api/threads/{threadID}/messages", s.protect(s.handleAddMessage))
	mux.Handle("POST /api/threads/{threadID}/stop", s.protect(s.handleStop))
	mux.Handle("GET /api/threads/{threadID}/files/{fileID}", s.protect(s.handleGetThreadFile))
	mux.Handle("GET /api/threads/{threadID}/files/{fileID}/content", s.protect(s.handleDownloadThreadFile))
	mux.Handle("POST /api/agents/{agentID}/test-suite/runs", s.protect(s.handleRunSuite))

	return requestMiddleware(s.logger, s.metrics)(mux)
}

// protect authenticates requests to h. It is registered per route so the
// mux still records the matched pattern on the outer request.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.cfg.Auth == nil {
		return h
	}
	return auth.Middleware(s.cfg.Auth)(h)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.mu.Lock()
	s.httpServer = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until the
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if server == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
