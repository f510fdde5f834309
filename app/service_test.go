package app

import (
	"context"
	"testing"
	"time"

	"github.com/enermesh/telemetrix/config"
	"github.com/enermesh/telemetrix/infra/mqtt"
	infrastorage "github.com/enermesh/telemetrix/infra/storage"
)

func TestServicePublishesDeviceConfigChanges(t *testing.T) {
	cfg := &config.Config{
		MQTT:    mqtt.Config{Broker: "tcp://localhost:1883"},
		Storage: infrastorage.Config{Type: "memory"},
	}
	svc, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close() }()

	events := svc.Bus().Subscribe()
	svc.OnDeviceConfigChanged("meter-1")

	select {
	case ev := <-events:
		if ev.DeviceID != "meter-1" {
			t.Fatalf("device id = %q, want meter-1", ev.DeviceID)
		}
	case <-time.After(time.Second):
		t.Fatal("device change never published")
	}
}
