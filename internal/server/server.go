// Package server assembles the request pipeline and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	applog "github.com/shenshouer/ai-api/internal/platform/logging"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
)

// ShutdownTimeout bounds draining connections and flushing spans.
const ShutdownTimeout = 10 * time.Second

// Server is the HTTP listener plus the telemetry it must flush on exit.
type Server struct {
	srv *http.Server
	tel *telemetry.Telemetry
}

// New returns a Server for addr. The write timeout leaves room for the
// pipeline timeout to answer first.
func New(addr string, handler http.Handler, tel *telemetry.Telemetry, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = DefaultTimeout
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       5 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      requestTimeout + 5*time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    64 << 10, // 64 KB
		},
		tel: tel,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Run listens on the configured address and serves until ctx is done.
// Bind failures are returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		applog.LogInfo(ctx, "server listening", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		applog.LogInfo(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown drains in-flight requests, then flushes and stops telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server: shutdown: %w", err))
	}
	if s.tel != nil {
		if err := s.tel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: telemetry shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		applog.LogError(ctx, "server shutdown error", err)
		return err
	}
	applog.LogInfo(ctx, "server exited")
	return nil
}
