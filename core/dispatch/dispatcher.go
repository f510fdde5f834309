// Package dispatch routes inbound broker messages to the owning device,
// suppresses duplicates and runs the parse-validate-persist-aggregate
// pipeline on a bounded worker pool.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enermesh/telemetrix/core/delta"
	"github.com/enermesh/telemetrix/core/device"
	"github.com/enermesh/telemetrix/core/logger"
	"github.com/enermesh/telemetrix/core/metrics"
	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
)

// Config tunes the dispatcher and its worker pool.
type Config struct {
	Workers     int `json:"workers"`
	QueueSize   int `json:"queue_size"`
	DedupTTLS   int `json:"dedup_ttl_s"`
	DrainGraceS int `json:"drain_grace_s"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.DedupTTLS <= 0 {
		c.DedupTTLS = 5
	}
	if c.DrainGraceS <= 0 {
		c.DrainGraceS = 5
	}
}

// Dispatcher converts raw broker messages into persisted measurements
// and energy intervals.
type Dispatcher struct {
	index    *DeviceIndex
	registry *device.Registry
	gateway  storage.Gateway
	calc     *delta.Calculator
	dedup    *dedupCache
	metrics  metrics.Sink
	log      logger.Logger

	lockMu   sync.Mutex
	devLocks map[string]*sync.Mutex
}

// New builds a Dispatcher. metrics may be nil.
func New(cfg Config, index *DeviceIndex, registry *device.Registry, gateway storage.Gateway, calc *delta.Calculator, m metrics.Sink, log logger.Logger) *Dispatcher {
	cfg.SetDefaults()
	if m == nil {
		m = metrics.NopSink{}
	}
	return &Dispatcher{
		index:    index,
		registry: registry,
		gateway:  gateway,
		calc:     calc,
		dedup:    newDedupCache(time.Duration(cfg.DedupTTLS) * time.Second),
		metrics:  m,
		log:      log,
		devLocks: map[string]*sync.Mutex{},
	}
}

// Dispatch processes one inbound message. handled is false when the
// message was dropped (malformed payload, unknown device or topic,
// failed validation). A non-nil error means persistence failed and the
// message should be considered unprocessed; the dedup key is only
// recorded on success so QoS redelivery can retry it.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) (bool, error) {
	started := time.Now()
	d.metrics.RecordMessage(topic)

	if !json.Valid(payload) {
		d.metrics.RecordParseError(topic)
		d.log.Warnf("dropping malformed payload on %s", topic)
		return false, nil
	}

	desc, ok := d.index.Match(topic)
	if !ok {
		d.log.Debugf("no device owns topic %s", topic)
		return false, nil
	}

	key := dedupKey(topic, desc.DeviceID, payload)
	if d.dedup.isDuplicate(key) {
		d.metrics.RecordDuplicate(desc.DeviceID)
		return true, nil
	}

	parser, ok := d.registry.Resolve(desc.Vendor, desc.Model)
	if !ok {
		d.log.Warnf("device %s has unsupported type %s", desc.DeviceID, desc.DeviceType())
		return false, nil
	}

	m, ok := parser.ParseMessage(topic, payload)
	if !ok {
		d.metrics.RecordParseError(topic)
		return false, nil
	}
	if !parser.ValidateMeasurement(m) {
		d.metrics.RecordValidationError(desc.DeviceID)
		d.log.Warnf("dropping out-of-range measurement from %s (power=%.1fW voltage=%.1fV current=%.2fA)",
			desc.DeviceID, m.PowerW, m.VoltageV, m.CurrentA)
		return false, nil
	}

	m.ID = measurementID(desc.DeviceID, m.Type, m.Timestamp, payload)
	m.DeviceID = desc.DeviceID

	// Rollups for one device must not race with each other; different
	// devices proceed in parallel.
	lock := d.deviceLock(desc.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := d.gateway.SaveMeasurement(ctx, m); err != nil {
		return false, fmt.Errorf("save measurement for %s: %w", desc.DeviceID, err)
	}
	if err := d.gateway.UpdateLastSeen(ctx, desc.DeviceID, m.Timestamp); err != nil {
		d.log.Warnf("last-seen update for %s failed: %v", desc.DeviceID, err)
	}

	if m.Type == model.MeasurementEnergy {
		if _, err := d.calc.ProcessReading(ctx, desc.DeviceID, m.Timestamp, m.EnergyKWh); err != nil {
			return false, fmt.Errorf("process energy reading for %s: %w", desc.DeviceID, err)
		}
	}

	d.dedup.mark(key)
	d.metrics.ObserveDispatch(time.Since(started).Seconds())
	return true, nil
}

// measurementID derives a stable id from the device, type, timestamp
// and payload. A redelivered message maps to the same row, so the save
// becomes an upsert instead of a duplicate insert; distinct payloads
// stay distinct even when parsed in the same instant.
func measurementID(deviceID string, typ model.MeasurementType, ts time.Time, payload []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	key := fmt.Sprintf("%s|%s|%d|%x", deviceID, typ, ts.UnixNano(), h.Sum64())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (d *Dispatcher) deviceLock(deviceID string) *sync.Mutex {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	l, ok := d.devLocks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		d.devLocks[deviceID] = l
	}
	return l
}
