// Package mqttbridge republishes status events to an MQTT broker.
// Status topics are retained by default so dashboards joining late see
// the last known state of every composition immediately.
package mqttbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"

	"github.com/showctl/exabridge/internal/bus"
	"github.com/showctl/exabridge/internal/config"
)

const (
	publishTimeout    = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

// Service forwards every bus event to MQTT from its own subscription.
type Service struct {
	cfg config.MQTTConfig
	hub *bus.Bus
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool

	client pahomqtt.Client
	sub    *bus.Subscription

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewService(parent context.Context, cfg config.MQTTConfig, hub *bus.Bus, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		hub:    hub,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(time.Duration(s.cfg.ConnectTimeout) * time.Millisecond)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.log.Warn("mqtt connection lost", slogError(err))
	})
	return opts
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Info("mqtt bridge disabled")
		return nil
	}

	client := pahomqtt.NewClient(s.clientOptions())
	token := client.Connect()
	if !token.WaitTimeout(time.Duration(s.cfg.ConnectTimeout) * time.Millisecond) {
		return fmt.Errorf("connect to mqtt broker %s: timeout", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", s.cfg.Broker, err)
	}
	s.client = client
	s.log.Info("connected to mqtt broker", slog.String("broker", s.cfg.Broker))

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
	topic := StatusTopic(s.cfg.TopicPrefix, ev.Status.Composition)
	token := s.client.Publish(topic, byte(s.cfg.QoS), s.cfg.Retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.failed.Add(1)
		s.log.Warn("mqtt publish timed out", slog.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		s.failed.Add(1)
		s.log.Warn("failed to publish status", slog.String("topic", topic), slogError(err))
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
	return s.ready.Load() && s.client != nil && s.client.IsConnected()
}

func (s *Service) Close() error {
	s.cancel()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.wg.Wait()
	if s.client != nil {
		s.client.Disconnect(disconnectQuiesce)
	}
	s.ready.Store(false)
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
