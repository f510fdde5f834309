// Package delta converts monotonically increasing lifetime energy
// counters into fifteen-minute interval values.
package delta

import (
	"context"
	"errors"
	"time"

	"github.com/enermesh/telemetrix/core/logger"
	"github.com/enermesh/telemetrix/core/metrics"
	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
)

const (
	// MaxElapsed bounds the gap between two counter readings. Anything
	// longer spans more than one interval and cannot be attributed.
	MaxElapsed = 20 * time.Minute
	// MaxEnergyPerInterval bounds a plausible quarter-hour delta in kWh.
	MaxEnergyPerInterval = 100.0
)

// IntervalSink receives accepted quarter-hour intervals. The
// aggregation engine implements this and cascades the rollups.
type IntervalSink interface {
	UpsertInterval(ctx context.Context, iv model.EnergyInterval) error
}

// Calculator turns cumulative counter readings into interval deltas.
type Calculator struct {
	store   *ReadingStore
	gateway storage.Gateway
	sink    IntervalSink
	metrics metrics.Sink
	log     logger.Logger
}

// New builds a Calculator. gateway may be nil in tests that do not
// exercise cold-start recovery; metrics may be nil.
func New(gateway storage.Gateway, sink IntervalSink, m metrics.Sink, log logger.Logger) *Calculator {
	if m == nil {
		m = metrics.NopSink{}
	}
	return &Calculator{
		store:   NewReadingStore(),
		gateway: gateway,
		sink:    sink,
		metrics: m,
		log:     log,
	}
}

// ProcessReading ingests one cumulative energy reading. The first
// reading for a device only establishes the baseline. Subsequent
// readings emit a quarter-hour interval when both the elapsed time and
// the energy delta are within bounds. A discarded reading still
// advances the baseline, so one bad sample cannot poison every later
// delta: after a counter reset the next reading simply re-baselines.
// A failed interval write does NOT advance it; the reading stays
// unconsumed so broker redelivery computes the same delta again.
func (c *Calculator) ProcessReading(ctx context.Context, deviceID string, ts time.Time, cumulativeKWh float64) (*model.EnergyInterval, error) {
	last, ok := c.store.Get(deviceID)
	if !ok {
		if prev, found := c.lastPersisted(ctx, deviceID); found {
			last, ok = prev, true
		}
	}

	reading := Reading{EnergyKWh: cumulativeKWh, Timestamp: ts}

	if !ok {
		c.store.Set(deviceID, reading)
		c.log.Infof("first reading for %s: %.3f kWh", deviceID, cumulativeKWh)
		return nil, nil
	}

	elapsed := ts.Sub(last.Timestamp)
	deltaKWh := cumulativeKWh - last.EnergyKWh

	if elapsed < 0 || elapsed > MaxElapsed {
		c.store.Set(deviceID, reading)
		c.metrics.RecordOutOfBoundsDelta(deviceID, "elapsed")
		c.log.Warnf("discarding reading for %s: elapsed %s outside [0, %s]", deviceID, elapsed, MaxElapsed)
		return nil, nil
	}
	if deltaKWh < 0 || deltaKWh > MaxEnergyPerInterval {
		c.store.Set(deviceID, reading)
		c.metrics.RecordOutOfBoundsDelta(deviceID, "energy")
		c.log.Warnf("discarding reading for %s: delta %.3f kWh outside [0, %.0f] (counter reset?)", deviceID, deltaKWh, MaxEnergyPerInterval)
		return nil, nil
	}

	start := model.IntervalQuarterHour.BucketStart(last.Timestamp)
	iv := model.EnergyInterval{
		DeviceID:  deviceID,
		Type:      model.IntervalQuarterHour,
		Start:     start,
		End:       start.Add(15 * time.Minute),
		EnergyKWh: deltaKWh,
	}
	if err := c.sink.UpsertInterval(ctx, iv); err != nil {
		return nil, err
	}
	c.store.Set(deviceID, reading)
	c.log.Debugw("energy delta accepted", map[string]any{
		"device_id": deviceID,
		"delta_kwh": deltaKWh,
		"elapsed_s": elapsed.Seconds(),
		"start":     start,
	})
	return &iv, nil
}

// lastPersisted rebuilds the baseline from storage after a restart.
// Power rows interleave with energy rows on the EM family, so only the
// newest energy measurement counts.
func (c *Calculator) lastPersisted(ctx context.Context, deviceID string) (Reading, bool) {
	if c.gateway == nil {
		return Reading{}, false
	}
	m, err := c.gateway.LatestMeasurementOfType(ctx, deviceID, model.MeasurementEnergy)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warnf("baseline lookup for %s failed: %v", deviceID, err)
		}
		return Reading{}, false
	}
	return Reading{EnergyKWh: m.EnergyKWh, Timestamp: m.Timestamp}, true
}
