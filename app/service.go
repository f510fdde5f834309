// Package app wires the ingestion pipeline together from the loaded
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/enermesh/telemetrix/config"
	"github.com/enermesh/telemetrix/core/aggregate"
	"github.com/enermesh/telemetrix/core/delta"
	"github.com/enermesh/telemetrix/core/device"
	"github.com/enermesh/telemetrix/core/device/shelly"
	"github.com/enermesh/telemetrix/core/dispatch"
	"github.com/enermesh/telemetrix/core/logger"
	coremetrics "github.com/enermesh/telemetrix/core/metrics"
	"github.com/enermesh/telemetrix/core/storage"
	infralogger "github.com/enermesh/telemetrix/infra/logger"
	"github.com/enermesh/telemetrix/infra/metrics"
	"github.com/enermesh/telemetrix/infra/mqtt"
	infrastorage "github.com/enermesh/telemetrix/infra/storage"
	"github.com/enermesh/telemetrix/internal/eventbus"
)

// Service orchestrates the broker session, the dispatch pipeline and
// the rollup engine.
type Service struct {
	cfg      *config.Config
	manager  *mqtt.Manager
	pool     *dispatch.Pool
	index    *dispatch.DeviceIndex
	registry *device.Registry
	engine   *aggregate.Engine
	gateway  storage.Gateway
	bus      *eventbus.Bus[eventbus.DeviceConfigChanged]
	log      logger.Logger

	promEnabled bool
	promPort    string
}

// NewRegistry returns a parser registry with all built-in vendor
// parsers registered.
func NewRegistry() (*device.Registry, error) {
	reg := device.NewRegistry()
	for _, p := range []device.Parser{
		shelly.Pro3EM{},
		shelly.ProEM{},
		shelly.EM{},
		shelly.EM3{},
		shelly.PlusPlugS{},
	} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := infralogger.New("service")

	registry, err := NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("parser registry: %w", err)
	}

	gateway, err := infrastorage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage gateway: %w", err)
	}

	var sink coremetrics.Sink = coremetrics.NopSink{}
	if cfg.Metrics.PrometheusEnabled {
		promSink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sink = promSink
	}

	engine := aggregate.New(gateway, cfg.Aggregation, sink, infralogger.New("aggregate"))
	calc := delta.New(gateway, engine, sink, infralogger.New("delta"))

	index := dispatch.NewDeviceIndex()
	index.Replace(cfg.Descriptors())

	dispatcher := dispatch.New(cfg.Dispatch, index, registry, gateway, calc, sink, infralogger.New("dispatch"))
	pool := dispatch.NewPool(ctx, cfg.Dispatch, dispatcher, sink, infralogger.New("dispatch-pool"))

	svc := &Service{
		cfg:         cfg,
		pool:        pool,
		index:       index,
		registry:    registry,
		engine:      engine,
		gateway:     gateway,
		bus:         eventbus.New[eventbus.DeviceConfigChanged](),
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}
	svc.manager = mqtt.NewManager(cfg.MQTT, svc.subscriptionTopics, func(topic string, payload []byte) {
		pool.Enqueue(topic, payload)
	}, sink)
	return svc, nil
}

// subscriptionTopics expands every active device's base topic through
// its vendor parser.
func (s *Service) subscriptionTopics() []string {
	var topics []string
	for _, d := range s.index.List() {
		parser, ok := s.registry.Resolve(d.Vendor, d.Model)
		if !ok {
			s.log.Warnf("device %s: no parser for %s, skipping subscription", d.DeviceID, d.DeviceType())
			continue
		}
		topics = append(topics, parser.Topics(d.BaseTopic())...)
	}
	return topics
}

// Bus exposes the device-change bus for embedding callers.
func (s *Service) Bus() *eventbus.Bus[eventbus.DeviceConfigChanged] { return s.bus }

// OnDeviceConfigChanged notifies the service that a device definition
// changed. An empty deviceID signals a bulk change; it refreshes the
// index and subscriptions without invalidating any rollup cache.
func (s *Service) OnDeviceConfigChanged(deviceID string) {
	s.bus.Publish(eventbus.DeviceConfigChanged{DeviceID: deviceID})
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	events := s.bus.Subscribe()
	go func() {
		for ev := range events {
			s.log.Infof("device configuration changed (%s), refreshing", ev.DeviceID)
			s.index.Replace(s.cfg.Descriptors())
			s.manager.RefreshSubscriptions()
			if ev.DeviceID != "" {
				s.engine.InvalidateDevice(ev.DeviceID)
			}
		}
	}()

	err := s.manager.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.pool.Close()
	s.bus.Close()
	return s.gateway.Close()
}
