// Package poller drives periodic get:status polls for a configured set
// of compositions and feeds the replies onto the status bus. It covers
// installations where ExaPlay's OSC output is switched off.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/status"
	"github.com/showctl/exabridge/internal/wire"
)

// Submitter is the slice of the session manager the poller needs.
type Submitter interface {
	Submit(ctx context.Context, cmd wire.Command) (wire.Reply, error)
}

// Stats reports poll counters since startup.
type Stats struct {
	Polled    uint64 `json:"polled"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

type Service struct {
	cfg       config.PollerConfig
	submitter Submitter
	bus       *bus.Bus
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool

	polled    atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
}

func NewService(parent context.Context, cfg config.PollerConfig, submitter Submitter, hub *bus.Bus, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		submitter: submitter,
		bus:       hub,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.initMetrics()
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Info("status poller disabled")
		return nil
	}
	s.wg.Add(1)
	go s.loop()
	s.ready.Store(true)
	s.log.Info("status poller started",
		slog.Int("interval_ms", s.cfg.Interval),
		slog.Int("compositions", len(s.cfg.Compositions)))
	return nil
}

// loop polls synchronously. A cycle that outlasts the interval, for
// example while the device is unreachable, coalesces the missed ticks
// instead of stacking polls behind each other.
func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.Interval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollAll()
		}
	}
}

func (s *Service) pollAll() {
	for _, composition := range s.cfg.Compositions {
		if s.ctx.Err() != nil {
			return
		}
		s.poll(composition)
	}
}

func (s *Service) poll(composition string) {
	s.polled.Add(1)
	reply, err := s.submitter.Submit(s.ctx, wire.GetStatus(composition))
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("status poll failed",
			slog.String("composition", composition), slogError(err))
		return
	}
	st, err := status.MapCSV(composition, reply.Line)
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("unparseable status reply",
			slog.String("composition", composition),
			slog.String("reply", reply.Line), slogError(err))
		return
	}
	s.bus.Publish(st)
	s.published.Add(1)
}

func (s *Service) Stats() Stats {
	return Stats{
		Polled:    s.polled.Load(),
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()
	s.ready.Store(false)
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
