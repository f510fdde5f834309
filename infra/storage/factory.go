package storage

import (
	"fmt"

	"github.com/enermesh/telemetrix/core/factory"
	"github.com/enermesh/telemetrix/core/storage"
)

// Config selects and configures the durable store.
type Config struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`

	Influx InfluxConfig `json:"influx"`
}

// InfluxConfig enables the optional InfluxDB measurement mirror.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = "sqlite"
	}
}

type sqliteConf struct {
	Path string `json:"path"`
}

// NewRegistry returns a factory registry with the built-in gateways
// registered: "sqlite" and "memory".
func NewRegistry() (*factory.Registry[storage.Gateway], error) {
	reg := factory.NewRegistry[storage.Gateway]()
	if err := reg.Register("sqlite", func(conf map[string]any) (storage.Gateway, error) {
		var c sqliteConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			c.Path = "telemetrix.db"
		}
		return NewSQLiteGateway(c.Path)
	}); err != nil {
		return nil, err
	}
	if err := reg.Register("memory", func(map[string]any) (storage.Gateway, error) {
		return storage.NewMemoryGateway(), nil
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

// New builds the configured gateway, wrapped in the InfluxDB mirror
// when enabled and reachable.
func New(cfg Config) (storage.Gateway, error) {
	cfg.SetDefaults()
	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	gw, err := reg.Create(factory.ModuleConfig{Type: cfg.Type, Conf: cfg.Conf})
	if err != nil {
		return nil, fmt.Errorf("build %s gateway: %w", cfg.Type, err)
	}
	if cfg.Influx.Enabled {
		gw = NewInfluxMirrorWithFallback(gw, cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
	}
	return gw, nil
}
