// ABOUTME: HTTP server that exposes the orchestration engine as JSON and SSE
// ABOUTME: Owns the listener, route table and request dedupe cache

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

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/engine"
	"github.com/2389/parley/internal/ledger"
	"github.com/2389/parley/internal/transcript"
)

// TurnLedger is the read side of the turn ledger.
type TurnLedger interface {
	ListTurns(ctx context.Context, filter ledger.Filter) ([]*conversation.TurnRecord, error)
	Stats(ctx context.Context) ([]ledger.ModelStats, error)
}

// Options configures a Server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	Engine          *engine.Engine

	// Ledger enables /api/turns and /api/stats when set.
	Ledger TurnLedger

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	// RequestTTL bounds how long a request_id is remembered.
	RequestTTL time.Duration
	Logger     *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	engine     *engine.Engine
	ledger     TurnLedger
	transcript *transcript.Renderer
	dedupe     *dedupe.Cache
	logger     *slog.Logger

	shutdownTimeout time.Duration
	httpServer      *http.Server

	// done closes on Shutdown so long-lived event streams return.
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a server and its route table. It does not listen until Run.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &Server{
		engine:          opts.Engine,
		ledger:          opts.Ledger,
		transcript:      transcript.New(),
		dedupe:          dedupe.New(opts.RequestTTL, dedupe.DefaultMaxSize),
		logger:          logger.With("component", "server"),
		shutdownTimeout: timeout,
		done:            make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	s.registerAPIRoutes(mux)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, opts.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address and blocks until ctx is canceled or
// the listener fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// ctx is already done, so shutdown gets a fresh deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown ends event streams, stops accepting requests and waits for
// in-flight handlers. The engine is left to its owner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.closeOnce.Do(func() {
		close(s.done)
		s.dedupe.Close()
	})
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
