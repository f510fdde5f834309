package shelly

import "github.com/enermesh/telemetrix/core/model"

// PlusPlugS parses the Shelly Plus Plug S metering smart plug. The
// switch:0 channel carries both instantaneous power and the cumulative
// counter, so a single message produces an energy reading when the
// aenergy object is present.
type PlusPlugS struct{}

func (PlusPlugS) Vendor() string { return "SHELLY" }
func (PlusPlugS) Model() string  { return "PLUS_PLUG_S" }

func (PlusPlugS) Topics(baseTopic string) []string {
	return []string{baseTopic + "/status/" + channelSwitch}
}

func (d PlusPlugS) ParseMessage(topic string, raw []byte) (model.Measurement, bool) {
	if channelOf(topic) != channelSwitch {
		return model.Measurement{}, false
	}
	p, ok := decode(raw)
	if !ok {
		return model.Measurement{}, false
	}
	m := model.Measurement{
		Type:        model.MeasurementPower,
		Timestamp:   p.timestamp(),
		PowerW:      p.num("apower", 0),
		VoltageV:    p.num("voltage", 0),
		CurrentA:    p.num("current", 0),
		PowerFactor: p.num("pf", defaultPowerFactor),
		FrequencyHz: p.num("freq", defaultFrequencyHz),
		Quality:     quality(p, "apower", "voltage", "current"),
	}
	if ae, ok := p.object("aenergy"); ok && ae.has("total") {
		// aenergy.total is in Wh; the plug has no separate energy channel.
		m.Type = model.MeasurementEnergy
		m.EnergyKWh = ae.num("total", 0) / 1000.0
	}
	if temp, ok := p.object("temperature"); ok && temp.has("tC") {
		m.Extra = map[string]float64{"temperature_c": temp.num("tC", 0)}
	}
	return m, true
}

func (PlusPlugS) ValidateMeasurement(m model.Measurement) bool { return rangeCheck(m) }
