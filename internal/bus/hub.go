// Package bus fans playback status out to in-process subscribers.
// Publishing never blocks and never fails: every subscriber has a
// bounded queue, and when a queue is full the overflow policy decides
// which event to lose. Losses are always counted, never silent.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/status"
)

// Event is one published status observation. Seq increases by one per
// publish, so a subscriber comparing sequence numbers can tell how much
// it lost to overflow.
type Event struct {
	Seq    uint64
	At     time.Time
	Status status.Status
}

// Stats is a point-in-time snapshot of hub activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Bus is the in-process status hub. A single slow consumer only ever
// loses its own events; it cannot delay the publishers or its peers.
type Bus struct {
	buffer     int
	dropOldest bool
	log        *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func New(cfg config.BusConfig, logger *slog.Logger) *Bus {
	buffer := cfg.SubscriberBuffer
	if buffer < 1 {
		buffer = 1
	}
	b := &Bus{
		buffer:     buffer,
		dropOldest: cfg.OverflowPolicy != config.OverflowDropNewest,
		log:        logger.With(slog.String("component", "bus")),
		subs:       make(map[*Subscription]struct{}),
	}
	b.initMetrics()
	return b
}

// Publish offers the status to every subscriber and returns without
// waiting for any of them. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(st status.Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	ev := Event{Seq: b.seq.Add(1), At: time.Now(), Status: st}
	b.published.Add(1)
	for sub := range b.subs {
		if sub.offer(ev, b.dropOldest) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new bounded subscription. On a closed bus the
// returned subscription's channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close unsubscribes everyone and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: subscribers,
	}
}

// Subscription is one subscriber's bounded queue onto the hub.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
}

// Events is the subscriber's receive channel. It is closed by
// Unsubscribe and by Bus.Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped counts events this subscription lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe removes the subscription and closes its channel. It is
// safe to call more than once and after the bus itself closed.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// offer enqueues without blocking. Channel sends only happen under the
// bus read lock, and channel closes only under the write lock, so an
// offer can never hit a closed channel.
func (s *Subscription) offer(ev Event, dropOldest bool) bool {
	select {
	case s.ch <- ev:
		return false
	default:
	}

	if dropOldest {
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	s.dropped.Add(1)
	return true
}
