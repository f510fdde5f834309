package shelly

import "github.com/enermesh/telemetrix/core/model"

// EM3 parses the first generation Shelly 3EM three-phase meter.
type EM3 struct{}

func (EM3) Vendor() string { return "SHELLY" }
func (EM3) Model() string  { return "EM_3" }

func (EM3) Topics(baseTopic string) []string {
	return []string{
		baseTopic + "/status/" + channelPower,
		baseTopic + "/status/" + channelEnergy,
	}
}

func (d EM3) ParseMessage(topic string, raw []byte) (model.Measurement, bool) {
	p, ok := decode(raw)
	if !ok {
		return model.Measurement{}, false
	}
	switch channelOf(topic) {
	case channelPower:
		m := model.Measurement{
			Type:        model.MeasurementPower,
			Timestamp:   p.timestamp(),
			PowerW:      p.num("total_power", 0),
			VoltageV:    p.num("voltage_a", 0),
			CurrentA:    p.num("current_a", 0),
			PowerFactor: p.num("pf_a", defaultPowerFactor),
			FrequencyHz: defaultFrequencyHz,
			Quality:     quality(p, "total_power", "voltage_a", "current_a"),
		}
		for _, label := range []string{"a", "b", "c"} {
			if ph, ok := phase(p, label,
				"voltage_"+label, "current_"+label, "power_"+label,
				"pf_"+label, ""); ok {
				m.Phases = append(m.Phases, ph)
			}
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

func (EM3) ValidateMeasurement(m model.Measurement) bool { return rangeCheck(m) }
