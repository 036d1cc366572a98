package ingress

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/showctl/exabridge/internal/ingress")

	received, err := meter.Int64ObservableCounter("exabridge.osc.received",
		metric.WithDescription("OSC messages received"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	published, err := meter.Int64ObservableCounter("exabridge.osc.published",
		metric.WithDescription("OSC messages mapped onto the status bus"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	dropped, err := meter.Int64ObservableCounter("exabridge.osc.dropped",
		metric.WithDescription("OSC messages dropped as unreadable or malformed"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		stats := s.Stats()
		obs.ObserveInt64(received, int64(stats.Received))
		obs.ObserveInt64(published, int64(stats.Published))
		obs.ObserveInt64(dropped, int64(stats.Dropped))
		return nil
	}, received, published, dropped)
	if err != nil {
		s.log.Warn("failed to register metric callback", slog.String("error", err.Error()))
	}
}
