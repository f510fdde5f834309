package device

import (
	"github.com/enermesh/telemetrix/core/model"
)

// Parser converts vendor-specific payloads into canonical measurements.
// One implementation exists per supported (vendor, model) pair; all
// implementations are stateless value types registered at startup.
type Parser interface {
	// Vendor returns the manufacturer name, e.g. "SHELLY".
	Vendor() string
	// Model returns the device model, e.g. "PRO_3EM".
	Model() string
	// ParseMessage builds a measurement from a raw payload. ok is false
	// when the payload does not carry a usable reading for this topic;
	// that is not an error, status topics routinely carry other data.
	ParseMessage(topic string, payload []byte) (model.Measurement, bool)
	// Topics returns the subscription topics for a device rooted at
	// baseTopic.
	Topics(baseTopic string) []string
	// ValidateMeasurement applies vendor-specific plausibility checks on
	// top of the shared physical ranges.
	ValidateMeasurement(m model.Measurement) bool
}

// DeviceType returns the registry key of a parser.
func DeviceType(p Parser) string {
	return model.DeviceTypeKey(p.Vendor(), p.Model())
}
