package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestZerologLoggerHonorsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("APP_ENV", "")

	var buf bytes.Buffer
	l := newZerologLogger(&buf, "dispatch")
	l.Debugf("hidden %d", 1)
	l.Infof("also hidden")
	l.Warnf("queue full")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("sub-warn output not suppressed: %s", out)
	}
	if !strings.Contains(out, "queue full") {
		t.Fatalf("warn line missing: %s", out)
	}
	if !strings.Contains(out, `"component":"dispatch"`) {
		t.Fatalf("component field missing: %s", out)
	}
}

func TestZerologLoggerStructuredFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("APP_ENV", "")

	var buf bytes.Buffer
	l := newZerologLogger(&buf, "delta")
	l.Debugw("energy delta accepted", map[string]any{"delta_kwh": 1.5, "device_id": "meter-1"})

	out := buf.String()
	if !strings.Contains(out, `"delta_kwh":1.5`) || !strings.Contains(out, `"device_id":"meter-1"`) {
		t.Fatalf("structured fields missing: %s", out)
	}
}

func TestZerologLoggerInvalidLevelFallsBack(t *testing.T) {
	t.Setenv("LOG_LEVEL", "shouting")
	t.Setenv("APP_ENV", "")

	var buf bytes.Buffer
	l := newZerologLogger(&buf, "mqtt_manager")
	l.Infof("connected")
	if !strings.Contains(buf.String(), "connected") {
		t.Fatalf("info line missing with fallback level: %s", buf.String())
	}
}
