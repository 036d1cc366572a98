// Package runtime assembles the service graph from configuration and
// supervises its lifecycle: telemetry, the event bus, the status
// journal, the device session, status sources, egress bridges and the
// HTTP API start in dependency order and shut down in reverse.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/showctl/exabridge/internal/api"
	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/ingress"
	"github.com/showctl/exabridge/internal/journal"
	"github.com/showctl/exabridge/internal/mqttbridge"
	"github.com/showctl/exabridge/internal/natsbridge"
	"github.com/showctl/exabridge/internal/poller"
	"github.com/showctl/exabridge/internal/session"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the gateway up and blocks until ctx is cancelled, then
// tears the graph down in reverse start order so every bus subscriber
// is gone before the bus itself closes.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryClose, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if srv := r.serveMetrics(metricsHandler); srv != nil {
		closers = append(closers, func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
			}
		})
	}

	hub := bus.New(r.cfg.Bus, r.logger)
	closers = append(closers, hub.Close)

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		closeAll()
		return fmt.Errorf("open status journal: %w", err)
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			r.logger.Error("journal close error", slog.String("error", err.Error()))
		}
	})

	recorder := journal.NewRecorder(ctx, store, hub, r.logger)
	if err := recorder.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start status recorder: %w", err)
	}
	closers = append(closers, func() { _ = recorder.Close() })

	device := session.New(ctx, r.cfg.Device, r.logger)
	if err := device.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start device session: %w", err)
	}
	closers = append(closers, device.Close)

	oscIngress := ingress.NewService(ctx, r.cfg.OSC, hub, r.logger)
	if err := oscIngress.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start osc ingress: %w", err)
	}
	closers = append(closers, func() { _ = oscIngress.Close() })

	statusPoller := poller.NewService(ctx, r.cfg.Poller, device, hub, r.logger)
	if err := statusPoller.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start status poller: %w", err)
	}
	closers = append(closers, func() { _ = statusPoller.Close() })
	if r.cfg.OSC.Enabled && r.cfg.Poller.Enabled {
		r.logger.Warn("both osc ingress and poller enabled; compositions covered by both will publish duplicate status events")
	}

	natsBridge := natsbridge.NewService(ctx, r.cfg.NATS, hub, r.logger)
	if err := natsBridge.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start nats bridge: %w", err)
	}
	closers = append(closers, func() { _ = natsBridge.Close() })

	mqttBridge := mqttbridge.NewService(ctx, r.cfg.MQTT, hub, r.logger)
	if err := mqttBridge.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start mqtt bridge: %w", err)
	}
	closers = append(closers, func() { _ = mqttBridge.Close() })

	health := []func() bool{
		device.Healthy,
		recorder.Healthy,
		oscIngress.Healthy,
		statusPoller.Healthy,
		natsBridge.Healthy,
		mqttBridge.Healthy,
	}
	apiService := api.NewService(ctx, r.cfg.HTTP, api.Deps{
		Device:  device,
		Hub:     hub,
		Journal: store,
		Ready: func() bool {
			return r.ready.Load() && allHealthy(health)
		},
		Streaming: r.cfg.OSC.Enabled || r.cfg.Poller.Enabled,
	}, r.logger)
	if err := apiService.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start http api: %w", err)
	}
	closers = append(closers, func() { _ = apiService.Close() })

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("runtime", r.cfg.RuntimeName),
		slog.String("environment", r.cfg.Environment),
		slog.String("api", apiService.Addr().String()),
		slog.String("device", fmt.Sprintf("%s:%d", r.cfg.Device.Host, r.cfg.Device.Port)))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	closeAll()
	r.wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := telemetryClose(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

// serveMetrics exposes the Prometheus scrape endpoint on its own
// listener, separate from the API so operators can firewall it.
func (r *Runtime) serveMetrics(handler http.Handler) *http.Server {
	bind := strings.TrimSpace(r.cfg.Telemetry.PrometheusBind)
	if handler == nil || bind == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics listening", slog.String("addr", bind))
	return srv
}

func allHealthy(checks []func() bool) bool {
	for _, check := range checks {
		if !check() {
			return false
		}
	}
	return true
}
