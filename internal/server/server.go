// Package server runs the HTTP listener and stops it, together with any
// registered components, when the process is asked to terminate.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// maxReadHeaderTimeout caps how long a client may take to send headers.
const maxReadHeaderTimeout = 10 * time.Second

// ShutdownFunc stops a component. It must return once ctx is done.
type ShutdownFunc func(ctx context.Context) error

type component struct {
	name string
	stop ShutdownFunc
}

// Options configures a Server.
type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TLSCertFile and TLSKeyFile switch the listener to HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Server wraps http.Server with signal-driven graceful shutdown.
type Server struct {
	srv    *http.Server
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	components []component
}

// New creates a Server serving handler.
func New(handler http.Handler, opts Options, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: readHeaderTimeout(opts.ReadTimeout),
			WriteTimeout:      opts.WriteTimeout,
		},
		opts:   opts,
		logger: logger,
	}
}

// TLSEnabled reports whether Run serves HTTPS.
func (s *Server) TLSEnabled() bool {
	return s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != ""
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

func readHeaderTimeout(readTimeout time.Duration) time.Duration {
	if readTimeout <= 0 || readTimeout > maxReadHeaderTimeout {
		return maxReadHeaderTimeout
	}
	return readTimeout
}

// OnShutdown registers a component to stop after the listener has drained.
// Components stop in reverse registration order.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, component{name: name, stop: fn})
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully. A listener failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.srv.Addr, "tls", s.TLSEnabled())
		listenErr <- s.listen()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
		return s.gracefulShutdown()
	}
}

func (s *Server) listen() error {
	if s.TLSEnabled() {
		return s.srv.ListenAndServeTLS(s.opts.TLSCertFile, s.opts.TLSKeyFile)
	}
	return s.srv.ListenAndServe()
}

// gracefulShutdown drains in-flight requests, then stops components. Every
// component is given the chance to stop even if an earlier one fails.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.srv.SetKeepAlivesEnabled(false)
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
	}

	s.mu.Lock()
	components := append([]component(nil), s.components...)
	s.mu.Unlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.stop(ctx); err != nil {
			s.logger.Error("component shutdown failed", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		s.logger.Debug("component stopped", "name", c.name)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
