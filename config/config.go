// Package config loads the service configuration from a YAML or JSON
// file with optional environment overrides (K_SECTION__KEY).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/enermesh/telemetrix/core/aggregate"
	"github.com/enermesh/telemetrix/core/dispatch"
	"github.com/enermesh/telemetrix/core/metrics"
	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/infra/mqtt"
	"github.com/enermesh/telemetrix/infra/storage"
)

// DeviceConfig declares one metering device to ingest.
type DeviceConfig struct {
	DeviceID      string `json:"device_id"`
	Vendor        string `json:"vendor"`
	Model         string `json:"model"`
	TopicTemplate string `json:"topic_template"`
	Active        *bool  `json:"active"`
}

// Descriptor converts the config entry to the domain descriptor.
// Devices are active unless explicitly disabled.
func (d DeviceConfig) Descriptor() model.DeviceDescriptor {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return model.DeviceDescriptor{
		DeviceID:      d.DeviceID,
		Vendor:        d.Vendor,
		Model:         d.Model,
		TopicTemplate: d.TopicTemplate,
		Active:        active,
	}
}

type Config struct {
	MQTT        mqtt.Config      `json:"mqtt"`
	Storage     storage.Config   `json:"storage"`
	Dispatch    dispatch.Config  `json:"dispatch"`
	Aggregation aggregate.Config `json:"aggregation"`
	Metrics     metrics.Config   `json:"metrics"`
	Devices     []DeviceConfig   `json:"devices"`
}

// Load reads the configuration file at path and applies environment
// overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Storage.SetDefaults()
	cfg.Dispatch.SetDefaults()
	cfg.Aggregation.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts the service cannot run without.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	seen := map[string]bool{}
	for i, d := range c.Devices {
		if d.DeviceID == "" {
			return fmt.Errorf("devices[%d]: device_id is required", i)
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("devices[%d]: duplicate device_id %s", i, d.DeviceID)
		}
		seen[d.DeviceID] = true
		if d.Vendor == "" || d.Model == "" {
			return fmt.Errorf("device %s: vendor and model are required", d.DeviceID)
		}
		if d.TopicTemplate == "" {
			return fmt.Errorf("device %s: topic_template is required", d.DeviceID)
		}
	}
	return nil
}

// Descriptors returns the configured devices as domain descriptors.
func (c *Config) Descriptors() []model.DeviceDescriptor {
	out := make([]model.DeviceDescriptor, 0, len(c.Devices))
	for _, d := range c.Devices {
		out = append(out, d.Descriptor())
	}
	return out
}
