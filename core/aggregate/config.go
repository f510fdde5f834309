package aggregate

import (
	"time"

	"github.com/enermesh/telemetrix/core/model"
)

// Config holds cache TTLs per rollup period, in seconds. Finer periods
// change more often and expire sooner.
type Config struct {
	TTLQuarterHourS int `json:"ttl_15min_s"`
	TTLHourS        int `json:"ttl_1h_s"`
	TTLDayS         int `json:"ttl_1d_s"`
	TTLMonthS       int `json:"ttl_1m_s"`
	TTLYearS        int `json:"ttl_1y_s"`
}

// SetDefaults applies the standard TTL ladder.
func (c *Config) SetDefaults() {
	if c.TTLQuarterHourS == 0 {
		c.TTLQuarterHourS = 3600
	}
	if c.TTLHourS == 0 {
		c.TTLHourS = 7200
	}
	if c.TTLDayS == 0 {
		c.TTLDayS = 86400
	}
	if c.TTLMonthS == 0 {
		c.TTLMonthS = 604800
	}
	if c.TTLYearS == 0 {
		c.TTLYearS = 2592000
	}
}

// TTLs converts the config into the cache's TTL map.
func (c Config) TTLs() map[model.IntervalType]time.Duration {
	return map[model.IntervalType]time.Duration{
		model.IntervalQuarterHour: time.Duration(c.TTLQuarterHourS) * time.Second,
		model.IntervalHour:        time.Duration(c.TTLHourS) * time.Second,
		model.IntervalDay:         time.Duration(c.TTLDayS) * time.Second,
		model.IntervalMonth:       time.Duration(c.TTLMonthS) * time.Second,
		model.IntervalYear:        time.Duration(c.TTLYearS) * time.Second,
	}
}
