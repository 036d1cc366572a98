package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func (m *Manager) initMetrics() {
	meter := otel.Meter("github.com/showctl/exabridge/internal/session")

	stateGauge, err := meter.Int64ObservableGauge("exabridge.session.state",
		metric.WithDescription("Connection state (0 disconnected, 1 connecting, 2 connected, 3 backing off)"))
	if err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}
	commandsOK, err := meter.Int64ObservableCounter("exabridge.session.commands_ok",
		metric.WithDescription("Commands acknowledged by the device"))
	if err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}
	commandsFailed, err := meter.Int64ObservableCounter("exabridge.session.commands_failed",
		metric.WithDescription("Commands failed after retries or rejected by the device"))
	if err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}
	transportFailures, err := meter.Int64ObservableCounter("exabridge.session.transport_failures",
		metric.WithDescription("Dial, write and read failures across all attempts"))
	if err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(stateGauge, int64(m.state.Load()))
		obs.ObserveInt64(commandsOK, int64(m.commandsOK.Load()))
		obs.ObserveInt64(commandsFailed, int64(m.commandsFailed.Load()))
		obs.ObserveInt64(transportFailures, int64(m.transportFailures.Load()))
		return nil
	}, stateGauge, commandsOK, commandsFailed, transportFailures)
	if err != nil {
		m.log.Warn("failed to register metric callback", slogError(err))
	}
}
