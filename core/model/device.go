package model

import (
	"strings"
	"time"
)

// DeviceDescriptor is the configuration record of a metering device.
// It is owned by the external configuration collaborator; the pipeline
// only writes back LastSeen.
type DeviceDescriptor struct {
	DeviceID      string    `json:"device_id"`
	Vendor        string    `json:"vendor"`
	Model         string    `json:"model"`
	TopicTemplate string    `json:"topic_template"`
	Active        bool      `json:"active"`
	LastSeen      time.Time `json:"last_seen"`
}

// DeviceType returns the registry key for the vendor/model pair, e.g.
// SHELLY_PRO_3EM.
func (d DeviceDescriptor) DeviceType() string {
	return DeviceTypeKey(d.Vendor, d.Model)
}

// DeviceTypeKey normalizes a vendor/model pair into a registry key.
func DeviceTypeKey(vendor, model string) string {
	v := strings.ToUpper(strings.TrimSpace(vendor))
	m := strings.ToUpper(strings.TrimSpace(model))
	return v + "_" + strings.ReplaceAll(m, " ", "_")
}

// BaseTopic extracts the device base topic from the template: the first
// three segments of e.g. "enermesh/pod-0042/shellypro3em-a1b2/status/em:0".
func (d DeviceDescriptor) BaseTopic() string {
	parts := strings.Split(d.TopicTemplate, "/")
	if len(parts) < 3 {
		return d.TopicTemplate
	}
	return strings.Join(parts[:3], "/")
}
