package bus

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func (b *Bus) initMetrics() {
	meter := otel.Meter("github.com/showctl/exabridge/internal/bus")

	published, err := meter.Int64ObservableCounter("exabridge.bus.published",
		metric.WithDescription("Status events published to the hub"))
	if err != nil {
		b.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	dropped, err := meter.Int64ObservableCounter("exabridge.bus.dropped",
		metric.WithDescription("Status events lost to subscriber overflow"))
	if err != nil {
		b.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	subscribers, err := meter.Int64ObservableGauge("exabridge.bus.subscribers",
		metric.WithDescription("Active subscriptions"))
	if err != nil {
		b.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		stats := b.Stats()
		obs.ObserveInt64(published, int64(stats.Published))
		obs.ObserveInt64(dropped, int64(stats.Dropped))
		obs.ObserveInt64(subscribers, int64(stats.Subscribers))
		return nil
	}, published, dropped, subscribers)
	if err != nil {
		b.log.Warn("failed to register metric callback", slog.String("error", err.Error()))
	}
}
