package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
	"github.com/enermesh/telemetrix/infra/logger"
)

func newEngine(g storage.Gateway) *Engine {
	return New(g, Config{}, nil, logger.NopLogger{})
}

func quarter(device string, start time.Time, kwh float64) model.EnergyInterval {
	return model.EnergyInterval{
		DeviceID:  device,
		Type:      model.IntervalQuarterHour,
		Start:     start,
		End:       start.Add(15 * time.Minute),
		EnergyKWh: kwh,
	}
}

func TestEngine_HourlyRollup(t *testing.T) {
	g := storage.NewMemoryGateway()
	e := newEngine(g)
	ctx := context.Background()
	hour := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		iv := quarter("d1", hour.Add(time.Duration(i)*15*time.Minute), 2.0)
		if err := e.UpsertInterval(ctx, iv); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := e.GetEnergy(ctx, "d1", model.IntervalHour, hour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 8.0 {
		t.Fatalf("hourly = %v, want 8.0", got)
	}

	// The hour row was written through to the store.
	rows, err := g.IntervalsInRange(ctx, "d1", model.IntervalHour, hour, hour.Add(time.Hour))
	if err != nil || len(rows) != 1 {
		t.Fatalf("hour row: %v %v", rows, err)
	}
	if rows[0].EnergyKWh != 8.0 {
		t.Fatalf("stored hourly = %v", rows[0].EnergyKWh)
	}
}

func TestEngine_CascadeReachesYear(t *testing.T) {
	g := storage.NewMemoryGateway()
	e := newEngine(g)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := e.UpsertInterval(ctx, quarter("d1", start, 3.5)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, typ := range []model.IntervalType{model.IntervalHour, model.IntervalDay, model.IntervalMonth, model.IntervalYear} {
		v, err := e.GetEnergy(ctx, "d1", typ, start)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if v != 3.5 {
			t.Fatalf("%s = %v, want 3.5", typ, v)
		}
	}
}

func TestEngine_CacheCoherenceAfterUpsert(t *testing.T) {
	g := storage.NewMemoryGateway()
	e := newEngine(g)
	ctx := context.Background()
	hour := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_ = e.UpsertInterval(ctx, quarter("d1", hour, 2.0))
	if v, _ := e.GetEnergy(ctx, "d1", model.IntervalHour, hour); v != 2.0 {
		t.Fatalf("hourly = %v", v)
	}

	// A second quarter must be reflected immediately, not served stale.
	_ = e.UpsertInterval(ctx, quarter("d1", hour.Add(15*time.Minute), 2.0))
	if v, _ := e.GetEnergy(ctx, "d1", model.IntervalHour, hour); v != 4.0 {
		t.Fatalf("hourly after second quarter = %v, want 4.0", v)
	}
}

func TestEngine_UpsertReplacesChild(t *testing.T) {
	g := storage.NewMemoryGateway()
	e := newEngine(g)
	ctx := context.Background()
	hour := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_ = e.UpsertInterval(ctx, quarter("d1", hour, 2.0))
	_ = e.UpsertInterval(ctx, quarter("d1", hour, 3.0)) // corrected value
	if v, _ := e.GetEnergy(ctx, "d1", model.IntervalHour, hour); v != 3.0 {
		t.Fatalf("hourly = %v, want 3.0 after correction", v)
	}
}

func TestEngine_PartialSumsReported(t *testing.T) {
	g := storage.NewMemoryGateway()
	e := newEngine(g)
	ctx := context.Background()
	hour := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_ = e.UpsertInterval(ctx, quarter("d1", hour, 1.5))
	v, err := e.GetEnergy(ctx, "d1", model.IntervalHour, hour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 1.5 {
		t.Fatalf("partial hourly = %v, want 1.5", v)
	}
}

func TestEngine_IsolatesDevices(t *testing.T) {
	g := storage.NewMemoryGateway()
	e := newEngine(g)
	ctx := context.Background()
	hour := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_ = e.UpsertInterval(ctx, quarter("d1", hour, 2.0))
	_ = e.UpsertInterval(ctx, quarter("d2", hour, 5.0))
	if v, _ := e.GetEnergy(ctx, "d1", model.IntervalHour, hour); v != 2.0 {
		t.Fatalf("d1 hourly = %v", v)
	}
	if v, _ := e.GetEnergy(ctx, "d2", model.IntervalHour, hour); v != 5.0 {
		t.Fatalf("d2 hourly = %v", v)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(map[model.IntervalType]time.Duration{model.IntervalHour: time.Hour})
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c.Set("d1", model.IntervalHour, start, 7.5)
	if v, ok := c.Get("d1", model.IntervalHour, start); !ok || v != 7.5 {
		t.Fatalf("fresh entry missing: %v %v", v, ok)
	}
	now = now.Add(2 * time.Hour)
	if _, ok := c.Get("d1", model.IntervalHour, start); ok {
		t.Fatal("expired entry served")
	}
}

func TestCache_InvalidateCoarser(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	c := NewCache(cfg.TTLs())
	ts := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	for _, typ := range []model.IntervalType{model.IntervalHour, model.IntervalDay, model.IntervalMonth, model.IntervalYear} {
		c.Set("d1", typ, typ.BucketStart(ts), 1.0)
	}
	c.InvalidateCoarser("d1", model.IntervalQuarterHour, ts)
	for _, typ := range []model.IntervalType{model.IntervalHour, model.IntervalDay, model.IntervalMonth, model.IntervalYear} {
		if _, ok := c.Get("d1", typ, typ.BucketStart(ts)); ok {
			t.Fatalf("%s entry survived invalidation", typ)
		}
	}
}
