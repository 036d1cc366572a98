package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/showctl/exabridge/internal/bus"
)

// Recorder drains a bus subscription into the store. It holds its own
// subscription so a stalled database write can only drop journal
// events, never block other consumers.
type Recorder struct {
	store *Store
	hub   *bus.Bus
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool
	sub    *bus.Subscription

	appended atomic.Uint64
	failed   atomic.Uint64
}

func NewRecorder(parent context.Context, store *Store, hub *bus.Bus, logger *slog.Logger) *Recorder {
	ctx, cancel := context.WithCancel(parent)
	return &Recorder{
		store:  store,
		hub:    hub,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Recorder) Start() error {
	if !r.store.Persistent() {
		r.log.Info("status journal ephemeral, recorder idle")
		return nil
	}
	r.sub = r.hub.Subscribe()
	r.wg.Add(1)
	go r.drain()
	r.ready.Store(true)
	r.log.Info("status journal recording", slog.String("path", r.store.cfg.Path))
	return nil
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.sub.Events():
			if !ok {
				return
			}
			if err := r.store.Append(r.ctx, ev.Seq, ev.Status); err != nil {
				r.failed.Add(1)
				r.log.Warn("failed to journal status",
					slog.String("composition", ev.Status.Composition),
					slog.String("error", err.Error()))
				continue
			}
			r.appended.Add(1)
		}
	}
}

// Appended reports how many events reached the journal.
func (r *Recorder) Appended() uint64 {
	return r.appended.Load()
}

func (r *Recorder) Healthy() bool {
	return !r.store.Persistent() || r.ready.Load()
}

func (r *Recorder) Close() error {
	r.cancel()
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.wg.Wait()
	r.ready.Store(false)
	return nil
}
