package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server runs a handler until its context ends, then drains in-flight
// requests.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address (default ":8080").
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.srv.Addr = addr }
}

// WithTimeouts sets the read and write timeouts. A zero write timeout
// leaves approvals and step streams unbounded; executions carry their own
// deadline.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.srv.ReadTimeout = read
		s.srv.WriteTimeout = write
	}
}

// WithShutdownTimeout bounds the drain on shutdown (default 15s).
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.shutdownTimeout = d }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer wraps handler, usually the result of NewHandler.
func NewServer(handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              ":8080",
			Handler:           handler,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 15 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv.ErrorLog = slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn)
	return s
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on ln until ctx is done or serving fails. After ctx ends
// it waits up to the shutdown timeout for running requests.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("draining connections", "timeout", s.shutdownTimeout)
		if err := s.srv.Shutdown(drainCtx); err != nil {
			s.logger.Error("shutdown incomplete", "error", err)
			return err
		}
		s.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}
