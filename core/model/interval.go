package model

import "time"

// IntervalType identifies the resolution of an energy bucket.
type IntervalType int

const (
	IntervalQuarterHour IntervalType = iota
	IntervalHour
	IntervalDay
	IntervalMonth
	IntervalYear
)

// String returns the storage identifier of the interval type.
func (t IntervalType) String() string {
	switch t {
	case IntervalQuarterHour:
		return "15MIN"
	case IntervalHour:
		return "1H"
	case IntervalDay:
		return "1D"
	case IntervalMonth:
		return "1M"
	case IntervalYear:
		return "1Y"
	default:
		return "unknown"
	}
}

// ParseIntervalType converts a storage identifier back to an IntervalType.
func ParseIntervalType(s string) (IntervalType, bool) {
	switch s {
	case "15MIN":
		return IntervalQuarterHour, true
	case "1H":
		return IntervalHour, true
	case "1D":
		return IntervalDay, true
	case "1M":
		return IntervalMonth, true
	case "1Y":
		return IntervalYear, true
	default:
		return 0, false
	}
}

// Parent returns the next coarser interval type and false at the top level.
func (t IntervalType) Parent() (IntervalType, bool) {
	switch t {
	case IntervalQuarterHour:
		return IntervalHour, true
	case IntervalHour:
		return IntervalDay, true
	case IntervalDay:
		return IntervalMonth, true
	case IntervalMonth:
		return IntervalYear, true
	default:
		return 0, false
	}
}

// Child returns the next finer interval type and false at the bottom level.
func (t IntervalType) Child() (IntervalType, bool) {
	switch t {
	case IntervalHour:
		return IntervalQuarterHour, true
	case IntervalDay:
		return IntervalHour, true
	case IntervalMonth:
		return IntervalDay, true
	case IntervalYear:
		return IntervalMonth, true
	default:
		return 0, false
	}
}

// BucketStart floors ts to the start of the enclosing bucket of this type.
func (t IntervalType) BucketStart(ts time.Time) time.Time {
	switch t {
	case IntervalQuarterHour:
		return ts.Truncate(15 * time.Minute)
	case IntervalHour:
		return ts.Truncate(time.Hour)
	case IntervalDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	case IntervalMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location())
	case IntervalYear:
		return time.Date(ts.Year(), 1, 1, 0, 0, 0, 0, ts.Location())
	default:
		return ts
	}
}

// Next returns the start of the bucket following the one that begins at start.
func (t IntervalType) Next(start time.Time) time.Time {
	switch t {
	case IntervalQuarterHour:
		return start.Add(15 * time.Minute)
	case IntervalHour:
		return start.Add(time.Hour)
	case IntervalDay:
		return start.AddDate(0, 0, 1)
	case IntervalMonth:
		return start.AddDate(0, 1, 0)
	case IntervalYear:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}

// ExpectedChildren returns how many child buckets a complete bucket
// starting at start contains: 4 per hour, 24 per day, days-in-month per
// month and 12 per year. A quarter hour has no children.
func (t IntervalType) ExpectedChildren(start time.Time) int {
	switch t {
	case IntervalHour:
		return 4
	case IntervalDay:
		return 24
	case IntervalMonth:
		return int(t.Next(start).Sub(start).Hours() / 24)
	case IntervalYear:
		return 12
	default:
		return 0
	}
}

// EnergyInterval is one energy bucket for one device. Exactly one row
// exists per (device, type, start); writes are upserts.
type EnergyInterval struct {
	DeviceID  string       `json:"device_id"`
	Type      IntervalType `json:"interval_type"`
	Start     time.Time    `json:"start_time"`
	End       time.Time    `json:"end_time"`
	EnergyKWh float64      `json:"energy_value"`
}

// DurationValid reports whether a quarter-hour interval spans exactly
// fifteen minutes. Other types are always considered valid here.
func (i EnergyInterval) DurationValid() bool {
	if i.Type != IntervalQuarterHour {
		return true
	}
	return i.End.Sub(i.Start) == 15*time.Minute
}
