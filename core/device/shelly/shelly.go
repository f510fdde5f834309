// Package shelly implements payload parsers for Shelly energy meters
// and smart plugs (second generation "Pro"/"Plus" RPC firmware and the
// first generation EM family).
package shelly

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/enermesh/telemetrix/core/model"
)

const (
	// Channels published under {base}/status/.
	channelPower  = "em:0"
	channelEnergy = "emdata:0"
	channelSwitch = "switch:0"

	defaultPowerFactor = 1.0
	defaultFrequencyHz = 50.0
)

// payload is a decoded JSON object with defensive numeric access.
type payload map[string]any

func decode(raw []byte) (payload, bool) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return p, true
}

// num returns the numeric value for key, or def when the key is
// missing or not a number. Vendor firmware occasionally emits null or
// string placeholders; those coerce to the default instead of failing
// the whole message.
func (p payload) num(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return f
}

// has reports whether key is present and numeric.
func (p payload) has(key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	_, ok = v.(float64)
	return ok
}

// object returns a nested JSON object, e.g. aenergy on Plus devices.
func (p payload) object(key string) (payload, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return payload(m), true
}

// timestamp returns the device-reported "ts" (unix seconds, RPC
// firmware includes it on status frames) or the arrival time when the
// payload carries none.
func (p payload) timestamp() time.Time {
	if !p.has("ts") {
		return time.Now().UTC()
	}
	ts := p.num("ts", 0)
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// channelOf extracts the channel segment after "/status/".
func channelOf(topic string) string {
	idx := strings.LastIndex(topic, "/status/")
	if idx < 0 {
		return ""
	}
	return topic[idx+len("/status/"):]
}

// quality is GOOD only when power, voltage and current were all
// present and numeric in the payload.
func quality(p payload, powerKey, voltageKey, currentKey string) model.Quality {
	if p.has(powerKey) && p.has(voltageKey) && p.has(currentKey) {
		return model.QualityGood
	}
	return model.QualityUncertain
}

// phase builds one phase record, but only when voltage, current and
// power for that phase are all present.
func phase(p payload, label, voltageKey, currentKey, powerKey, pfKey, freqKey string) (model.PhaseReading, bool) {
	if !p.has(voltageKey) || !p.has(currentKey) || !p.has(powerKey) {
		return model.PhaseReading{}, false
	}
	return model.PhaseReading{
		Phase:       label,
		VoltageV:    p.num(voltageKey, 0),
		CurrentA:    p.num(currentKey, 0),
		PowerW:      p.num(powerKey, 0),
		PowerFactor: p.num(pfKey, defaultPowerFactor),
		FrequencyHz: p.num(freqKey, defaultFrequencyHz),
	}, true
}

// rangeCheck is the shared post-parse validation used by every Shelly
// parser.
func rangeCheck(m model.Measurement) bool {
	return m.InRange()
}
