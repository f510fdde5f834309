package storage

import (
	"context"
	"errors"
	"time"

	"github.com/enermesh/telemetrix/core/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Gateway is the durable store for raw measurements and energy
// intervals. The ingestion pipeline consumes this interface; adapters
// live under infra/storage.
type Gateway interface {
	// SaveMeasurement persists one canonical measurement.
	SaveMeasurement(ctx context.Context, m model.Measurement) error
	// UpsertInterval writes the interval, replacing any existing row
	// with the same (device, type, start) key.
	UpsertInterval(ctx context.Context, iv model.EnergyInterval) error
	// LatestInterval returns the most recent interval of the given type,
	// or ErrNotFound.
	LatestInterval(ctx context.Context, deviceID string, typ model.IntervalType) (*model.EnergyInterval, error)
	// IntervalsInRange returns intervals with start in [start, end),
	// ordered by start time.
	IntervalsInRange(ctx context.Context, deviceID string, typ model.IntervalType, start, end time.Time) ([]model.EnergyInterval, error)
	// LatestMeasurement returns the newest measurement for the device,
	// or ErrNotFound.
	LatestMeasurement(ctx context.Context, deviceID string) (*model.Measurement, error)
	// LatestMeasurementOfType returns the newest measurement of the
	// given type, or ErrNotFound. Rebuilds the last-reading cache on
	// cold start without being fooled by interleaved power rows.
	LatestMeasurementOfType(ctx context.Context, deviceID string, typ model.MeasurementType) (*model.Measurement, error)
	// UpdateLastSeen writes back the device's last-seen timestamp.
	UpdateLastSeen(ctx context.Context, deviceID string, ts time.Time) error
	Close() error
}
