package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/enermesh/telemetrix/core/model"
)

type intervalKey struct {
	device string
	typ    model.IntervalType
	start  int64
}

// MemoryGateway keeps everything in maps. It backs unit tests and
// small single-process deployments.
type MemoryGateway struct {
	mu           sync.RWMutex
	measurements map[string][]model.Measurement
	intervals    map[intervalKey]model.EnergyInterval
	lastSeen     map[string]time.Time
}

// NewMemoryGateway returns an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		measurements: map[string][]model.Measurement{},
		intervals:    map[intervalKey]model.EnergyInterval{},
		lastSeen:     map[string]time.Time{},
	}
}

func (g *MemoryGateway) SaveMeasurement(_ context.Context, m model.Measurement) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	// Redelivered messages carry the same id; overwrite instead of
	// appending a second row.
	if m.ID != "" {
		for i, existing := range g.measurements[m.DeviceID] {
			if existing.ID == m.ID {
				g.measurements[m.DeviceID][i] = m
				return nil
			}
		}
	}
	g.measurements[m.DeviceID] = append(g.measurements[m.DeviceID], m)
	return nil
}

func (g *MemoryGateway) UpsertInterval(_ context.Context, iv model.EnergyInterval) error {
	g.mu.Lock()
	g.intervals[intervalKey{iv.DeviceID, iv.Type, iv.Start.UnixNano()}] = iv
	g.mu.Unlock()
	return nil
}

func (g *MemoryGateway) LatestInterval(_ context.Context, deviceID string, typ model.IntervalType) (*model.EnergyInterval, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var latest *model.EnergyInterval
	for k, iv := range g.intervals {
		if k.device != deviceID || k.typ != typ {
			continue
		}
		if latest == nil || iv.Start.After(latest.Start) {
			cp := iv
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (g *MemoryGateway) IntervalsInRange(_ context.Context, deviceID string, typ model.IntervalType, start, end time.Time) ([]model.EnergyInterval, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.EnergyInterval
	for k, iv := range g.intervals {
		if k.device != deviceID || k.typ != typ {
			continue
		}
		if iv.Start.Before(start) || !iv.Start.Before(end) {
			continue
		}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (g *MemoryGateway) LatestMeasurement(_ context.Context, deviceID string) (*model.Measurement, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ms := g.measurements[deviceID]
	if len(ms) == 0 {
		return nil, ErrNotFound
	}
	latest := ms[0]
	for _, m := range ms[1:] {
		if m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	return &latest, nil
}

func (g *MemoryGateway) LatestMeasurementOfType(_ context.Context, deviceID string, typ model.MeasurementType) (*model.Measurement, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var latest *model.Measurement
	for _, m := range g.measurements[deviceID] {
		if m.Type != typ {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			cp := m
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (g *MemoryGateway) UpdateLastSeen(_ context.Context, deviceID string, ts time.Time) error {
	g.mu.Lock()
	g.lastSeen[deviceID] = ts
	g.mu.Unlock()
	return nil
}

func (g *MemoryGateway) Close() error { return nil }

// MeasurementCount reports how many measurements are stored for the
// device. Test helper.
func (g *MemoryGateway) MeasurementCount(deviceID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.measurements[deviceID])
}

// LastSeen returns the recorded last-seen timestamp. Test helper.
func (g *MemoryGateway) LastSeen(deviceID string) (time.Time, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ts, ok := g.lastSeen[deviceID]
	return ts, ok
}
