package test

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/enermesh/telemetrix/app"
	"github.com/enermesh/telemetrix/core/aggregate"
	"github.com/enermesh/telemetrix/core/delta"
	"github.com/enermesh/telemetrix/core/dispatch"
	"github.com/enermesh/telemetrix/core/metrics"
	"github.com/enermesh/telemetrix/core/model"
	"github.com/enermesh/telemetrix/core/storage"
	"github.com/enermesh/telemetrix/infra/logger"
	"github.com/enermesh/telemetrix/infra/mqtt"
)

func waitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
log_type notice
log_type information
connection_messages true
log_timestamp true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0644,
			},
		},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container start: %v", err)
	}
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	addr := net.JoinHostPort(host, port.Port())
	if err := waitForMQTTReady(broker, 5*time.Second); err != nil {
		t.Logf("mosquitto not ready at %s: %v", addr, err)
		t.Skip("Mosquitto not ready after retries")
	}
	return cont, broker
}

func connectMeterSim(broker string, t *testing.T) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("meter-sim")
	cli := paho.NewClient(opts)
	var connErr error
	time.Sleep(250 * time.Millisecond)
	for i := 0; i < 5; i++ {
		token := cli.Connect()
		token.Wait()
		connErr = token.Error()
		if connErr == nil {
			break
		}
		t.Logf("meter-sim connect attempt %d to %s: %v", i+1, broker, connErr)
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	if connErr != nil {
		t.Logf("meter-sim connect failed to %s: %v", broker, connErr)
		t.Skip("Mosquitto not ready after retries")
	}
	return cli
}

func TestIngestWithMQTTContainer(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cont, broker := startMosquitto(ctx, t)
	defer func() { _ = cont.Terminate(ctx) }()

	meterSim := connectMeterSim(broker, t)
	defer meterSim.Disconnect(100)

	reg, err := app.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	gw := storage.NewMemoryGateway()
	engine := aggregate.New(gw, aggregate.Config{}, metrics.NopSink{}, logger.NopLogger{})
	calc := delta.New(gw, engine, metrics.NopSink{}, logger.NopLogger{})

	desc := model.DeviceDescriptor{
		DeviceID:      "meter-1",
		Vendor:        "Shelly",
		Model:         "Pro3EM",
		TopicTemplate: "enermesh/site-1/pro3em-meter1/status/#",
		Active:        true,
	}
	idx := dispatch.NewDeviceIndex()
	idx.Replace([]model.DeviceDescriptor{desc})

	d := dispatch.New(dispatch.Config{}, idx, reg, gw, calc, metrics.NopSink{}, logger.NopLogger{})
	pool := dispatch.NewPool(ctx, dispatch.Config{Workers: 2, QueueSize: 64}, d, metrics.NopSink{}, logger.NopLogger{})
	defer pool.Close()

	parser, ok := reg.Resolve(desc.Vendor, desc.Model)
	if !ok {
		t.Fatal("no parser for meter-1")
	}
	mgr := mqtt.NewManager(
		mqtt.Config{Broker: broker, ClientID: "telemetrix-e2e", MinBackoffMS: 100},
		func() []string { return parser.Topics(desc.BaseTopic()) },
		func(topic string, payload []byte) { pool.Enqueue(topic, payload) },
		metrics.NopSink{},
	)
	go func() { _ = mgr.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for mgr.State() != mqtt.StateConnected && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if mgr.State() != mqtt.StateConnected {
		t.Skip("manager could not connect to broker")
	}

	payload := `{"total_act_power": 1234.0, "a_voltage": 230.0, "a_current": 5.4, "total_pf": 0.99}`
	if token := meterSim.Publish("enermesh/site-1/pro3em-meter1/status/em:0", 1, false, payload); token.Wait() && token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}

	deadline = time.Now().Add(10 * time.Second)
	for gw.MeasurementCount("meter-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if gw.MeasurementCount("meter-1") != 1 {
		t.Fatalf("published reading never reached the store")
	}
	m, err := gw.LatestMeasurement(ctx, "meter-1")
	if err != nil {
		t.Fatalf("latest measurement: %v", err)
	}
	if m.PowerW != 1234.0 {
		t.Fatalf("power = %v, want 1234", m.PowerW)
	}
}
