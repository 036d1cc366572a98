// Package ingress receives status pushes from ExaPlay's OSC output and
// republishes them on the status bus. ExaPlay emits one message per
// composition under /{prefix}/status/{composition} carrying the same
// five fields as the TCP get:status reply.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/status"
)

// Stats reports ingress counters since startup.
type Stats struct {
	Received  uint64 `json:"received"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Service owns the UDP socket and the receive loop.
type Service struct {
	cfg  config.OSCConfig
	bus  *bus.Bus
	log  *slog.Logger
	root string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool

	mu sync.Mutex
	pc net.PacketConn

	received  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewService(parent context.Context, cfg config.OSCConfig, hub *bus.Bus, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    hub,
		log:    logger,
		root:   "/" + strings.Trim(cfg.Prefix, "/") + "/",
		ctx:    ctx,
		cancel: cancel,
	}
	s.initMetrics()
	return s
}

// Start binds the UDP listener and spawns the receive loop. A disabled
// service starts successfully and does nothing.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Info("osc ingress disabled")
		return nil
	}

	pc, err := net.ListenPacket("udp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("bind osc listener: %w", err)
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	s.wg.Add(1)
	go s.receive(pc)
	s.ready.Store(true)
	s.log.Info("osc ingress listening",
		slog.String("addr", pc.LocalAddr().String()),
		slog.String("prefix", s.root))
	return nil
}

// Addr reports the bound listener address, nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

func (s *Service) receive(pc net.PacketConn) {
	defer s.wg.Done()
	server := &osc.Server{}
	for {
		packet, err := server.ReceivePacket(pc)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.dropped.Add(1)
			s.log.Warn("failed to read osc packet", slogError(err))
			continue
		}
		if packet == nil {
			continue
		}
		s.handlePacket(packet)
	}
}

func (s *Service) handlePacket(packet osc.Packet) {
	switch pkt := packet.(type) {
	case *osc.Message:
		s.handleMessage(pkt)
	case *osc.Bundle:
		for _, msg := range pkt.Messages {
			s.handleMessage(msg)
		}
		for _, nested := range pkt.Bundles {
			s.handlePacket(nested)
		}
	}
}

func (s *Service) handleMessage(msg *osc.Message) {
	s.received.Add(1)
	if !strings.HasPrefix(msg.Address, s.root) {
		s.log.Debug("ignoring message outside prefix", slog.String("address", msg.Address))
		return
	}
	st, err := status.MapOSC(msg.Address, msg.Arguments)
	if err != nil {
		if errors.Is(err, status.ErrUnmappedAddress) {
			s.log.Debug("ignoring unmapped address", slog.String("address", msg.Address))
			return
		}
		s.dropped.Add(1)
		s.log.Warn("dropping malformed status message",
			slog.String("address", msg.Address), slogError(err))
		return
	}
	s.bus.Publish(st)
	s.published.Add(1)
}

func (s *Service) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

// Close stops the receive loop and releases the socket.
func (s *Service) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.pc != nil {
		s.pc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.ready.Store(false)
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
