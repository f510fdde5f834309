package delta

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
	"github.com/enermesh/telemetrix/infra/logger"
)

type captureSink struct {
	intervals []model.EnergyInterval
}

func (s *captureSink) UpsertInterval(_ context.Context, iv model.EnergyInterval) error {
	s.intervals = append(s.intervals, iv)
	return nil
}

func newCalc(sink IntervalSink) *Calculator {
	return New(nil, sink, nil, logger.NopLogger{})
}

// failingSink refuses writes while fail is set.
type failingSink struct {
	fail      bool
	intervals []model.EnergyInterval
}

func (s *failingSink) UpsertInterval(_ context.Context, iv model.EnergyInterval) error {
	if s.fail {
		return errors.New("storage unavailable")
	}
	s.intervals = append(s.intervals, iv)
	return nil
}

func TestCalculator_FirstReadingIsBaseline(t *testing.T) {
	sink := &captureSink{}
	c := newCalc(sink)
	t0 := time.Date(2025, 6, 1, 10, 2, 0, 0, time.UTC)

	iv, err := c.ProcessReading(context.Background(), "d1", t0, 100.0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if iv != nil || len(sink.intervals) != 0 {
		t.Fatal("first reading must not emit an interval")
	}
	r, ok := c.store.Get("d1")
	if !ok || r.EnergyKWh != 100.0 {
		t.Fatalf("baseline not stored: %#v ok=%v", r, ok)
	}
}

func TestCalculator_EmitsDelta(t *testing.T) {
	sink := &captureSink{}
	c := newCalc(sink)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 2, 0, 0, time.UTC)

	_, _ = c.ProcessReading(ctx, "d1", t0, 100.0)
	iv, err := c.ProcessReading(ctx, "d1", t0.Add(15*time.Minute), 105.0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if iv == nil {
		t.Fatal("no interval emitted")
	}
	if iv.EnergyKWh != 5.0 {
		t.Fatalf("delta = %v, want 5.0", iv.EnergyKWh)
	}
	wantStart := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !iv.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", iv.Start, wantStart)
	}
	if iv.End.Sub(iv.Start) != 15*time.Minute {
		t.Fatalf("duration = %v", iv.End.Sub(iv.Start))
	}
}

func TestCalculator_RejectsLongGap(t *testing.T) {
	sink := &captureSink{}
	c := newCalc(sink)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_, _ = c.ProcessReading(ctx, "d1", t0, 100.0)
	iv, err := c.ProcessReading(ctx, "d1", t0.Add(25*time.Minute), 101.0)
	if err != nil || iv != nil {
		t.Fatalf("25 min gap must be rejected: iv=%v err=%v", iv, err)
	}
	if len(sink.intervals) != 0 {
		t.Fatal("interval written for out-of-bounds elapsed")
	}
	// Baseline advanced to the rejected reading.
	r, _ := c.store.Get("d1")
	if r.EnergyKWh != 101.0 {
		t.Fatalf("baseline = %v, want 101.0", r.EnergyKWh)
	}
}

func TestCalculator_RejectsCounterReset(t *testing.T) {
	sink := &captureSink{}
	c := newCalc(sink)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_, _ = c.ProcessReading(ctx, "d1", t0, 500.0)
	// Device rebooted, counter restarted near zero.
	iv, _ := c.ProcessReading(ctx, "d1", t0.Add(10*time.Minute), 0.2)
	if iv != nil {
		t.Fatal("negative delta accepted")
	}
	// Next reading computes against the reset counter and recovers.
	iv, err := c.ProcessReading(ctx, "d1", t0.Add(25*time.Minute), 1.4)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if iv == nil || math.Abs(iv.EnergyKWh-1.2) > 1e-9 {
		t.Fatalf("recovery interval = %#v", iv)
	}
}

func TestCalculator_RejectsOversizedDelta(t *testing.T) {
	sink := &captureSink{}
	c := newCalc(sink)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_, _ = c.ProcessReading(ctx, "d1", t0, 100.0)
	iv, _ := c.ProcessReading(ctx, "d1", t0.Add(15*time.Minute), 250.0)
	if iv != nil {
		t.Fatal("150 kWh quarter-hour delta accepted")
	}
}

func TestCalculator_FailedWriteKeepsBaseline(t *testing.T) {
	sink := &failingSink{}
	c := newCalc(sink)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := c.ProcessReading(ctx, "d1", t0, 100.0); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	sink.fail = true
	if _, err := c.ProcessReading(ctx, "d1", t0.Add(15*time.Minute), 105.0); err == nil {
		t.Fatal("expected error from failed interval write")
	}
	// The reading was not consumed; the baseline still points at t0.
	r, _ := c.store.Get("d1")
	if r.EnergyKWh != 100.0 {
		t.Fatalf("baseline = %v after failed write, want 100.0", r.EnergyKWh)
	}

	// Broker redelivery after recovery writes the real interval, not a
	// zero delta against the failed reading.
	sink.fail = false
	iv, err := c.ProcessReading(ctx, "d1", t0.Add(15*time.Minute), 105.0)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if iv == nil || iv.EnergyKWh != 5.0 {
		t.Fatalf("redelivered interval = %#v, want 5.0 kWh", iv)
	}
	if !iv.Start.Equal(t0) {
		t.Fatalf("interval start = %v, want %v", iv.Start, t0)
	}
}

func TestCalculator_ColdStartFromStorage(t *testing.T) {
	g := storage.NewMemoryGateway()
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	_ = g.SaveMeasurement(ctx, model.Measurement{
		DeviceID: "d1", Type: model.MeasurementEnergy,
		Timestamp: t0, EnergyKWh: 100.0,
	})

	sink := &captureSink{}
	c := New(g, sink, nil, logger.NopLogger{})
	iv, err := c.ProcessReading(ctx, "d1", t0.Add(15*time.Minute), 103.0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if iv == nil || iv.EnergyKWh != 3.0 {
		t.Fatalf("cold-start delta = %#v, want 3.0", iv)
	}
}

func TestCalculator_ColdStartSkipsInterleavedPowerRow(t *testing.T) {
	g := storage.NewMemoryGateway()
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	// EM-family devices interleave instantaneous power rows with the
	// counter rows; the newest row after a restart is usually power.
	_ = g.SaveMeasurement(ctx, model.Measurement{
		ID: "e1", DeviceID: "d1", Type: model.MeasurementEnergy,
		Timestamp: t0, EnergyKWh: 100.0,
	})
	_ = g.SaveMeasurement(ctx, model.Measurement{
		ID: "p1", DeviceID: "d1", Type: model.MeasurementPower,
		Timestamp: t0.Add(time.Minute), PowerW: 2100.0,
	})

	sink := &captureSink{}
	c := New(g, sink, nil, logger.NopLogger{})
	iv, err := c.ProcessReading(ctx, "d1", t0.Add(15*time.Minute), 103.0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if iv == nil || iv.EnergyKWh != 3.0 {
		t.Fatalf("cold-start delta = %#v, want 3.0", iv)
	}
	if !iv.Start.Equal(t0) {
		t.Fatalf("interval start = %v, want %v", iv.Start, t0)
	}
}
