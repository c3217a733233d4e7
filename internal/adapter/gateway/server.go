package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"switchboard/internal/infra/middleware"
	"switchboard/internal/usecase"
	"switchboard/internal/usecase/orchestrator"
)

// Config tunes the ops HTTP server.
type Config struct {
	Addr           string
	RequestsPerMin int
	BurstSize      int
}

// Server is the ops HTTP surface: health, the agent directory, and message
// and workflow submission. It is an operational endpoint, not a product UI,
// and binds to loopback by default.
type Server struct {
	cfg      Config
	router   *usecase.Router
	dispatch *usecase.Dispatcher
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
	httpSrv  *http.Server

	mu        sync.Mutex
	boundAddr string // guarded by mu; Addr is polled while Start runs
}

// NewServer creates a gateway server.
func NewServer(cfg Config, router *usecase.Router, dispatch *usecase.Dispatcher, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		router:   router,
		dispatch: dispatch,
		orch:     orch,
		logger:   logger,
	}
}

// Start begins serving. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/agents", s.handleAgents)
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/workflows", s.handleWorkflow)

	var handler http.Handler = mux
	handler = middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.BurstSize)(handler)
	handler = middleware.SecurityHeaders(handler)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()
	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", s.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Addr returns the bound address, or "" before Start has bound the listener.
// Safe to poll from another goroutine.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
