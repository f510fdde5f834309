package shelly

import "github.com/enermesh/telemetrix/core/model"

// EM parses the first generation Shelly EM single-phase meter. Gen1
// firmware publishes one JSON document per emeter with instantaneous
// values and the lifetime total in Wh.
type EM struct{}

func (EM) Vendor() string { return "SHELLY" }
func (EM) Model() string  { return "EM" }

func (EM) Topics(baseTopic string) []string {
	return []string{
		baseTopic + "/status/" + channelPower,
		baseTopic + "/status/" + channelEnergy,
	}
}

func (d EM) ParseMessage(topic string, raw []byte) (model.Measurement, bool) {
	p, ok := decode(raw)
	if !ok {
		return model.Measurement{}, false
	}
	switch channelOf(topic) {
	case channelPower:
		m := model.Measurement{
			Type:        model.MeasurementPower,
			Timestamp:   p.timestamp(),
			PowerW:      p.num("power", 0),
			VoltageV:    p.num("voltage", 0),
			CurrentA:    p.num("current", 0),
			PowerFactor: p.num("pf", defaultPowerFactor),
			FrequencyHz: defaultFrequencyHz, // gen1 does not report frequency
			Quality:     quality(p, "power", "voltage", "current"),
		}
		if ph, ok := phase(p, "a", "voltage", "current", "power", "pf", ""); ok {
			m.Phases = []model.PhaseReading{ph}
		}
		return m, true
	case channelEnergy:
		return model.Measurement{
			Type:        model.MeasurementEnergy,
			Timestamp:   p.timestamp(),
			EnergyKWh:   p.num("total", 0) / 1000.0,
			PowerFactor: defaultPowerFactor,
			FrequencyHz: defaultFrequencyHz,
			Quality:     model.QualityUncertain,
		}, true
	default:
		return model.Measurement{}, false
	}
}

func (EM) ValidateMeasurement(m model.Measurement) bool { return rangeCheck(m) }
