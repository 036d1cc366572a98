package natsbridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/natsserver"
)

// Service forwards every bus event to NATS. It drains its own
// subscription, so a slow broker drops this bridge's queue and nothing
// else.
type Service struct {
	cfg config.NATSConfig
	hub *bus.Bus
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool

	embedded *natsserver.EmbeddedServer
	client   *Client
	sub      *bus.Subscription

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewService(parent context.Context, cfg config.NATSConfig, hub *bus.Bus, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		hub:    hub,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start brings up the embedded server when configured, connects, and
// begins forwarding.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Info("nats bridge disabled")
		return nil
	}

	cfg := s.cfg
	if cfg.Embedded {
		embedded, err := natsserver.Start(cfg, s.log)
		if err != nil {
			return err
		}
		s.embedded = embedded
		cfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := Connect(cfg, s.log)
	if err != nil {
		s.embedded.Shutdown()
		return err
	}
	s.client = client

	s.sub = s.hub.Subscribe()
	s.wg.Add(1)
	go s.forward()
	s.ready.Store(true)
	return nil
}

func (s *Service) forward() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}
			s.publish(ev)
		}
	}
}

func (s *Service) publish(ev bus.Event) {
	payload, err := json.Marshal(ev.Status)
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("failed to encode status", slogError(err))
		return
	}
	subject := StatusSubject(s.cfg.SubjectPrefix, ev.Status.Composition)
	if err := s.client.Publish(subject, payload); err != nil {
		s.failed.Add(1)
		s.log.Warn("failed to publish status",
			slog.String("subject", subject), slogError(err))
		return
	}
	s.published.Add(1)
}

// Published reports how many events reached the broker.
func (s *Service) Published() uint64 {
	return s.published.Load()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	return s.ready.Load() && s.client.Healthy()
}

// Close stops forwarding, drains the connection and shuts down the
// embedded server last.
func (s *Service) Close() error {
	s.cancel()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.wg.Wait()
	s.client.Close()
	s.embedded.Shutdown()
	s.ready.Store(false)
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
