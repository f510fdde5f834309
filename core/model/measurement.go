package model

import (
	"fmt"
	"time"
)

// Quality indicates how trustworthy a measurement is.
type Quality int

const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
)

// String returns a human-readable representation of the quality flag.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityUncertain:
		return "UNCERTAIN"
	case QualityBad:
		return "BAD"
	default:
		return "unknown"
	}
}

// ParseQuality maps a storage identifier back to a Quality flag.
// Unknown identifiers map to QualityBad.
func ParseQuality(s string) Quality {
	switch s {
	case "GOOD":
		return QualityGood
	case "UNCERTAIN":
		return QualityUncertain
	default:
		return QualityBad
	}
}

// MeasurementType distinguishes instantaneous power readings from
// cumulative energy counter readings. Only energy readings feed the
// delta calculator.
type MeasurementType int

const (
	MeasurementPower MeasurementType = iota
	MeasurementEnergy
)

// String returns the storage identifier of the measurement type.
func (t MeasurementType) String() string {
	switch t {
	case MeasurementPower:
		return "POWER"
	case MeasurementEnergy:
		return "ENERGY"
	default:
		return "unknown"
	}
}

// ParseMeasurementType maps a storage identifier back to a
// MeasurementType.
func ParseMeasurementType(s string) (MeasurementType, error) {
	switch s {
	case "POWER":
		return MeasurementPower, nil
	case "ENERGY":
		return MeasurementEnergy, nil
	default:
		return MeasurementPower, fmt.Errorf("unknown measurement type %q", s)
	}
}

// PhaseReading holds per-phase electrical values. Phase is "a", "b" or "c".
type PhaseReading struct {
	Phase       string  `json:"phase"`
	VoltageV    float64 `json:"voltage"`
	CurrentA    float64 `json:"current"`
	PowerW      float64 `json:"power"`
	PowerFactor float64 `json:"power_factor"`
	FrequencyHz float64 `json:"frequency"`
}

// Measurement is the canonical reading produced from a vendor payload.
// It is built once per inbound message and never mutated afterwards.
type Measurement struct {
	ID          string             `json:"id"`
	DeviceID    string             `json:"device_id"`
	Type        MeasurementType    `json:"measurement_type"`
	Timestamp   time.Time          `json:"timestamp"`
	PowerW      float64            `json:"power"`   // signed, negative for export
	VoltageV    float64            `json:"voltage"` // volts
	CurrentA    float64            `json:"current"` // signed amperes
	EnergyKWh   float64            `json:"energy"`  // lifetime cumulative counter
	PowerFactor float64            `json:"power_factor"`
	FrequencyHz float64            `json:"frequency"`
	Quality     Quality            `json:"quality"`
	Phases      []PhaseReading     `json:"phases,omitempty"`
	Extra       map[string]float64 `json:"extra,omitempty"`
}

// Physical plausibility bounds enforced after parsing. Values outside
// these ranges come from broken firmware or corrupted payloads.
const (
	MinVoltageV = 0.0
	MaxVoltageV = 500.0
	MinCurrentA = -1000.0
	MaxCurrentA = 1000.0
	MinPowerW   = -1_000_000.0
	MaxPowerW   = 1_000_000.0
)

// InRange reports whether the measurement passes the physical range checks.
func (m Measurement) InRange() bool {
	if m.VoltageV < MinVoltageV || m.VoltageV > MaxVoltageV {
		return false
	}
	if m.CurrentA < MinCurrentA || m.CurrentA > MaxCurrentA {
		return false
	}
	if m.PowerW < MinPowerW || m.PowerW > MaxPowerW {
		return false
	}
	if m.PowerFactor < -1 || m.PowerFactor > 1 {
		return false
	}
	return true
}
