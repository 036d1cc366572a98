// Package api serves the HTTP control surface: typed composition
// commands, raw passthrough, status and journal reads, and a
// server-sent event stream of bus traffic.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/journal"
	"github.com/showctl/exabridge/internal/session"
	"github.com/showctl/exabridge/internal/wire"
)

// Submitter is the slice of the session manager the handlers need.
type Submitter interface {
	Submit(ctx context.Context, cmd wire.Command) (wire.Reply, error)
	Stats() session.Stats
}

// Deps carries the collaborators the API exposes.
type Deps struct {
	Device  Submitter
	Hub     *bus.Bus
	Journal *journal.Store
	// Ready reports whether the gateway as a whole can serve traffic.
	// A nil Ready means always ready.
	Ready func() bool
	// Streaming reports whether any status source feeds the bus.
	// Without one the event stream would never emit, so the stream
	// route refuses connections instead of hanging silently.
	Streaming bool
}

// Service owns the HTTP listener and its handler tree.
type Service struct {
	cfg  config.HTTPConfig
	deps Deps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

func NewService(parent context.Context, cfg config.HTTPConfig, deps Deps, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		deps:   deps,
		log:    logger.With("component", "api"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the listener and begins serving. The bound address is
// available through Addr once Start returns.
func (s *Service) Start() error {
	bind := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bind, err)
	}

	// WriteTimeout stays unset: the event stream holds its response
	// open for the life of the client.
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", slogError(err))
		}
	}()

	s.ready.Store(true)
	s.log.Info("http api listening",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("auth", s.cfg.APIToken != ""))
	if s.cfg.APIToken == "" {
		s.log.Warn("api token not configured, requests are unauthenticated")
	}
	return nil
}

// Addr is the bound listener address, nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) Healthy() bool {
	return s.ready.Load()
}

// Close drains in-flight requests, forcing the listener shut if the
// grace period runs out. Event streams end when the service context is
// cancelled, so graceful shutdown does not wait on them.
func (s *Service) Close() error {
	s.ready.Store(false)
	s.cancel()

	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("graceful shutdown incomplete", slogError(err))
			srv.Close()
		}
	}
	s.wg.Wait()
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
