package shelly

import "github.com/enermesh/telemetrix/core/model"

// Pro3EM parses the Shelly Pro 3EM three-phase professional meter.
// The em:0 channel carries instantaneous per-phase power and the
// emdata:0 channel the lifetime active energy counter in Wh.
type Pro3EM struct{}

func (Pro3EM) Vendor() string { return "SHELLY" }
func (Pro3EM) Model() string  { return "PRO_3EM" }

func (Pro3EM) Topics(baseTopic string) []string {
	return []string{
		baseTopic + "/status/" + channelPower,
		baseTopic + "/status/" + channelEnergy,
	}
}

func (d Pro3EM) ParseMessage(topic string, raw []byte) (model.Measurement, bool) {
	p, ok := decode(raw)
	if !ok {
		return model.Measurement{}, false
	}
	switch channelOf(topic) {
	case channelPower:
		return d.parsePower(p), true
	case channelEnergy:
		return d.parseEnergy(p), true
	default:
		return model.Measurement{}, false
	}
}

func (Pro3EM) parsePower(p payload) model.Measurement {
	m := model.Measurement{
		Type:        model.MeasurementPower,
		Timestamp:   p.timestamp(),
		PowerW:      p.num("total_act_power", 0),
		VoltageV:    p.num("a_voltage", 0),
		CurrentA:    p.num("a_current", 0),
		PowerFactor: p.num("total_pf", defaultPowerFactor),
		FrequencyHz: p.num("a_freq", defaultFrequencyHz),
		Quality:     quality(p, "total_act_power", "a_voltage", "a_current"),
	}
	for _, label := range []string{"a", "b", "c"} {
		if ph, ok := phase(p, label,
			label+"_voltage", label+"_current", label+"_act_power",
			label+"_pf", label+"_freq"); ok {
			m.Phases = append(m.Phases, ph)
		}
	}
	if p.has("total_aprt_power") {
		m.Extra = map[string]float64{"apparent_power": p.num("total_aprt_power", 0)}
	}
	return m
}

func (Pro3EM) parseEnergy(p payload) model.Measurement {
	m := model.Measurement{
		Type:      model.MeasurementEnergy,
		Timestamp: p.timestamp(),
		// total_act is reported in Wh.
		EnergyKWh:   p.num("total_act", 0) / 1000.0,
		PowerFactor: defaultPowerFactor,
		FrequencyHz: defaultFrequencyHz,
		Quality:     model.QualityUncertain,
	}
	if p.has("total_act_ret") {
		m.Extra = map[string]float64{"returned_energy_kwh": p.num("total_act_ret", 0) / 1000.0}
	}
	return m
}

func (Pro3EM) ValidateMeasurement(m model.Measurement) bool { return rangeCheck(m) }
