package shelly

import "github.com/enermesh/telemetrix/core/model"

// ProEM parses the Shelly Pro EM single-phase professional meter.
type ProEM struct{}

func (ProEM) Vendor() string { return "SHELLY" }
func (ProEM) Model() string  { return "PRO_EM" }

func (ProEM) Topics(baseTopic string) []string {
	return []string{
		baseTopic + "/status/" + channelPower,
		baseTopic + "/status/" + channelEnergy,
	}
}

func (d ProEM) ParseMessage(topic string, raw []byte) (model.Measurement, bool) {
	p, ok := decode(raw)
	if !ok {
		return model.Measurement{}, false
	}
	switch channelOf(topic) {
	case channelPower:
		return d.parsePower(p)
	case channelEnergy:
		return d.parseEnergy(p), true
	default:
		return model.Measurement{}, false
	}
}

func (ProEM) parsePower(p payload) (model.Measurement, bool) {
	// A usable power reading needs at least these three fields.
	if !p.has("power") || !p.has("voltage") || !p.has("current") {
		return model.Measurement{}, false
	}
	m := model.Measurement{
		Type:        model.MeasurementPower,
		Timestamp:   p.timestamp(),
		PowerW:      p.num("power", 0),
		VoltageV:    p.num("voltage", 0),
		CurrentA:    p.num("current", 0),
		EnergyKWh:   p.num("energy_total", 0),
		PowerFactor: p.num("pf", defaultPowerFactor),
		FrequencyHz: p.num("freq", defaultFrequencyHz),
		Quality:     quality(p, "power", "voltage", "current"),
	}
	if ph, ok := phase(p, "a", "voltage", "current", "power", "pf", "freq"); ok {
		m.Phases = []model.PhaseReading{ph}
	}
	extra := map[string]float64{}
	for _, k := range []string{"reactive_power", "apparent_power", "returned_energy", "total_returned"} {
		if p.has(k) {
			extra[k] = p.num(k, 0)
		}
	}
	if len(extra) > 0 {
		m.Extra = extra
	}
	return m, true
}

func (ProEM) parseEnergy(p payload) model.Measurement {
	return model.Measurement{
		Type:        model.MeasurementEnergy,
		Timestamp:   p.timestamp(),
		EnergyKWh:   p.num("total_act", 0) / 1000.0,
		PowerFactor: defaultPowerFactor,
		FrequencyHz: defaultFrequencyHz,
		Quality:     model.QualityUncertain,
	}
}

func (ProEM) ValidateMeasurement(m model.Measurement) bool { return rangeCheck(m) }
