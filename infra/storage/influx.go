package storage

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/enermesh/telemetrix/core/logger"
	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
	infralogger "github.com/enermesh/telemetrix/infra/logger"
)

// InfluxMirror decorates a Gateway and mirrors measurements and
// intervals to an InfluxDB bucket for dashboarding. Mirror failures
// are logged, never propagated: the primary store stays authoritative.
type InfluxMirror struct {
	inner    storage.Gateway
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxMirror wraps inner with an InfluxDB mirror for the given
// endpoint.
func NewInfluxMirror(inner storage.Gateway, url, token, org, bucket string) *InfluxMirror {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxMirror{
		inner:    inner,
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      infralogger.New("influx-mirror"),
	}
}

// NewInfluxMirrorWithFallback pings the InfluxDB instance and returns
// the undecorated gateway when the health check fails.
func NewInfluxMirrorWithFallback(inner storage.Gateway, url, token, org, bucket string) storage.Gateway {
	m := NewInfluxMirror(inner, url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := m.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			m.log.Errorf("influx health check error: %v", err)
		} else {
			m.log.Errorf("influx health status: %s", health.Status)
		}
		m.client.Close()
		return inner
	}
	return m
}

func (m *InfluxMirror) SaveMeasurement(ctx context.Context, mm model.Measurement) error {
	if err := m.inner.SaveMeasurement(ctx, mm); err != nil {
		return err
	}
	p := write.NewPointWithMeasurement("meter_reading").
		AddTag("device_id", mm.DeviceID).
		AddTag("measurement_type", mm.Type.String()).
		AddTag("quality", mm.Quality.String()).
		AddField("power_w", mm.PowerW).
		AddField("voltage_v", mm.VoltageV).
		AddField("current_a", mm.CurrentA).
		AddField("energy_kwh", mm.EnergyKWh).
		AddField("power_factor", mm.PowerFactor).
		SetTime(mm.Timestamp)
	if err := m.writeAPI.WritePoint(ctx, p); err != nil {
		m.log.Warnf("influx mirror write failed for %s: %v", mm.DeviceID, err)
	}
	return nil
}

func (m *InfluxMirror) UpsertInterval(ctx context.Context, iv model.EnergyInterval) error {
	if err := m.inner.UpsertInterval(ctx, iv); err != nil {
		return err
	}
	p := write.NewPointWithMeasurement("energy_interval").
		AddTag("device_id", iv.DeviceID).
		AddTag("interval_type", iv.Type.String()).
		AddField("energy_kwh", iv.EnergyKWh).
		SetTime(iv.Start)
	if err := m.writeAPI.WritePoint(ctx, p); err != nil {
		m.log.Warnf("influx mirror write failed for %s: %v", iv.DeviceID, err)
	}
	return nil
}

func (m *InfluxMirror) LatestInterval(ctx context.Context, deviceID string, typ model.IntervalType) (*model.EnergyInterval, error) {
	return m.inner.LatestInterval(ctx, deviceID, typ)
}

func (m *InfluxMirror) IntervalsInRange(ctx context.Context, deviceID string, typ model.IntervalType, start, end time.Time) ([]model.EnergyInterval, error) {
	return m.inner.IntervalsInRange(ctx, deviceID, typ, start, end)
}

func (m *InfluxMirror) LatestMeasurement(ctx context.Context, deviceID string) (*model.Measurement, error) {
	return m.inner.LatestMeasurement(ctx, deviceID)
}

func (m *InfluxMirror) LatestMeasurementOfType(ctx context.Context, deviceID string, typ model.MeasurementType) (*model.Measurement, error) {
	return m.inner.LatestMeasurementOfType(ctx, deviceID, typ)
}

func (m *InfluxMirror) UpdateLastSeen(ctx context.Context, deviceID string, ts time.Time) error {
	return m.inner.UpdateLastSeen(ctx, deviceID, ts)
}

func (m *InfluxMirror) Close() error {
	m.client.Close()
	return m.inner.Close()
}
