// Package aggregate maintains the multi-resolution energy rollups:
// quarter hours sum into hours, hours into days, days into months and
// months into years.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/enermesh/telemetrix/core/logger"
	"github.com/enermesh/telemetrix/core/metrics"
	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
)

// Engine owns the rollup computation and its cache.
type Engine struct {
	gateway storage.Gateway
	cache   *Cache
	metrics metrics.Sink
	log     logger.Logger
}

// New builds an Engine. metrics may be nil.
func New(gateway storage.Gateway, cfg Config, m metrics.Sink, log logger.Logger) *Engine {
	cfg.SetDefaults()
	if m == nil {
		m = metrics.NopSink{}
	}
	return &Engine{
		gateway: gateway,
		cache:   NewCache(cfg.TTLs()),
		metrics: m,
		log:     log,
	}
}

// UpsertInterval writes the interval and, for quarter-hour writes,
// synchronously recomputes every enclosing bucket. Coarser cache
// entries are invalidated before recomputation so a concurrent read
// can never observe a stale aggregate.
func (e *Engine) UpsertInterval(ctx context.Context, iv model.EnergyInterval) error {
	if !iv.DurationValid() {
		e.metrics.RecordDurationViolation(iv.DeviceID)
		e.log.Warnf("quarter-hour interval for %s spans %s instead of 15m", iv.DeviceID, iv.End.Sub(iv.Start))
	}
	if err := e.gateway.UpsertInterval(ctx, iv); err != nil {
		return fmt.Errorf("upsert %s interval: %w", iv.Type, err)
	}
	e.cache.Set(iv.DeviceID, iv.Type, iv.Start, iv.EnergyKWh)
	e.cache.InvalidateCoarser(iv.DeviceID, iv.Type, iv.Start)

	if iv.Type != model.IntervalQuarterHour {
		return nil
	}
	return e.cascade(ctx, iv.DeviceID, iv.Type, iv.Start)
}

// Recalculate recomputes the bucket enclosing fromStart at every level
// coarser than fromType.
func (e *Engine) Recalculate(ctx context.Context, deviceID string, fromType model.IntervalType, fromStart time.Time) error {
	e.cache.InvalidateCoarser(deviceID, fromType, fromStart)
	return e.cascade(ctx, deviceID, fromType, fromStart)
}

// cascade recomputes parents bottom-up starting above typ.
func (e *Engine) cascade(ctx context.Context, deviceID string, typ model.IntervalType, ts time.Time) error {
	for {
		parent, ok := typ.Parent()
		if !ok {
			return nil
		}
		if _, err := e.recompute(ctx, deviceID, parent, parent.BucketStart(ts)); err != nil {
			return err
		}
		typ = parent
	}
}

// recompute sums the child buckets, upserts the parent row and caches
// the result. Missing children produce a warning but still yield a
// partial sum.
func (e *Engine) recompute(ctx context.Context, deviceID string, typ model.IntervalType, start time.Time) (float64, error) {
	child, ok := typ.Child()
	if !ok {
		return 0, fmt.Errorf("interval type %s has no children", typ)
	}
	end := typ.Next(start)
	children, err := e.gateway.IntervalsInRange(ctx, deviceID, child, start, end)
	if err != nil {
		return 0, fmt.Errorf("load %s children of %s: %w", child, typ, err)
	}
	var total float64
	for _, c := range children {
		total += c.EnergyKWh
	}
	if expected := typ.ExpectedChildren(start); len(children) < expected {
		e.metrics.RecordIncompleteBucket(deviceID, typ.String())
		e.log.Warnf("incomplete %s bucket for %s at %s: %d/%d children, partial sum %.3f kWh",
			typ, deviceID, start.Format("2006-01-02 15:04"), len(children), expected, total)
	}
	iv := model.EnergyInterval{
		DeviceID:  deviceID,
		Type:      typ,
		Start:     start,
		End:       end,
		EnergyKWh: total,
	}
	if err := e.gateway.UpsertInterval(ctx, iv); err != nil {
		return 0, fmt.Errorf("upsert %s rollup: %w", typ, err)
	}
	e.cache.Set(deviceID, typ, start, total)
	return total, nil
}

// GetEnergy returns the bucket's energy, serving from cache when fresh
// and recomputing from the store on a miss.
func (e *Engine) GetEnergy(ctx context.Context, deviceID string, typ model.IntervalType, start time.Time) (float64, error) {
	start = typ.BucketStart(start)
	if v, ok := e.cache.Get(deviceID, typ, start); ok {
		return v, nil
	}
	if typ == model.IntervalQuarterHour {
		rows, err := e.gateway.IntervalsInRange(ctx, deviceID, typ, start, typ.Next(start))
		if err != nil {
			return 0, err
		}
		var v float64
		if len(rows) > 0 {
			v = rows[0].EnergyKWh
		}
		e.cache.Set(deviceID, typ, start, v)
		return v, nil
	}
	return e.recompute(ctx, deviceID, typ, start)
}

// InvalidateDevice drops every cached value for the device, e.g. after
// its configuration changed.
func (e *Engine) InvalidateDevice(deviceID string) {
	e.cache.Purge(deviceID)
}
