package poller

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/showctl/exabridge/internal/poller")

	polled, err := meter.Int64ObservableCounter("exabridge.poller.polls",
		metric.WithDescription("Status polls attempted"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	published, err := meter.Int64ObservableCounter("exabridge.poller.published",
		metric.WithDescription("Polled statuses published to the bus"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	failed, err := meter.Int64ObservableCounter("exabridge.poller.failed",
		metric.WithDescription("Polls that failed or returned unparseable replies"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		stats := s.Stats()
		obs.ObserveInt64(polled, int64(stats.Polled))
		obs.ObserveInt64(published, int64(stats.Published))
		obs.ObserveInt64(failed, int64(stats.Failed))
		return nil
	}, polled, published, failed)
	if err != nil {
		s.log.Warn("failed to register metric callback", slog.String("error", err.Error()))
	}
}
