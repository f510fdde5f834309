package model

import (
	"testing"
	"time"
)

func TestIntervalType_BucketStart(t *testing.T) {
	ts := time.Date(2025, 3, 14, 13, 47, 12, 0, time.UTC)
	cases := []struct {
		typ  IntervalType
		want time.Time
	}{
		{IntervalQuarterHour, time.Date(2025, 3, 14, 13, 45, 0, 0, time.UTC)},
		{IntervalHour, time.Date(2025, 3, 14, 13, 0, 0, 0, time.UTC)},
		{IntervalDay, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
		{IntervalMonth, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{IntervalYear, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := c.typ.BucketStart(ts); !got.Equal(c.want) {
			t.Fatalf("%s: got %v want %v", c.typ, got, c.want)
		}
	}
}

func TestIntervalType_ExpectedChildren(t *testing.T) {
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) // leap year
	if n := IntervalMonth.ExpectedChildren(feb); n != 29 {
		t.Fatalf("leap february: got %d", n)
	}
	apr := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if n := IntervalMonth.ExpectedChildren(apr); n != 30 {
		t.Fatalf("april: got %d", n)
	}
	if n := IntervalHour.ExpectedChildren(apr); n != 4 {
		t.Fatalf("hour: got %d", n)
	}
	if n := IntervalDay.ExpectedChildren(apr); n != 24 {
		t.Fatalf("day: got %d", n)
	}
	if n := IntervalYear.ExpectedChildren(apr); n != 12 {
		t.Fatalf("year: got %d", n)
	}
}

func TestIntervalType_ParentChain(t *testing.T) {
	chain := []IntervalType{IntervalQuarterHour, IntervalHour, IntervalDay, IntervalMonth, IntervalYear}
	for i := 0; i < len(chain)-1; i++ {
		p, ok := chain[i].Parent()
		if !ok || p != chain[i+1] {
			t.Fatalf("parent of %s: got %v ok=%v", chain[i], p, ok)
		}
	}
	if _, ok := IntervalYear.Parent(); ok {
		t.Fatal("year must have no parent")
	}
}

func TestParseIntervalType_RoundTrip(t *testing.T) {
	for _, typ := range []IntervalType{IntervalQuarterHour, IntervalHour, IntervalDay, IntervalMonth, IntervalYear} {
		got, ok := ParseIntervalType(typ.String())
		if !ok || got != typ {
			t.Fatalf("round trip %s failed", typ)
		}
	}
	if _, ok := ParseIntervalType("2H"); ok {
		t.Fatal("unknown type accepted")
	}
}

func TestEnergyInterval_DurationValid(t *testing.T) {
	start := time.Date(2025, 3, 14, 13, 45, 0, 0, time.UTC)
	iv := EnergyInterval{Type: IntervalQuarterHour, Start: start, End: start.Add(15 * time.Minute)}
	if !iv.DurationValid() {
		t.Fatal("exact 15 minutes flagged invalid")
	}
	iv.End = start.Add(20 * time.Minute)
	if iv.DurationValid() {
		t.Fatal("20 minute quarter accepted")
	}
}

func TestMeasurement_InRange(t *testing.T) {
	m := Measurement{VoltageV: 230, CurrentA: 5, PowerW: 1150, PowerFactor: 0.98}
	if !m.InRange() {
		t.Fatal("nominal reading rejected")
	}
	m.VoltageV = 600
	if m.InRange() {
		t.Fatal("over-voltage accepted")
	}
}
