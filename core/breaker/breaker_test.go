package breaker

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if !b.CanExecute() {
		t.Fatal("breaker opened before threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.CanExecute() {
		t.Fatal("open breaker allowed execution")
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b := New(1, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.CanExecute() {
		t.Fatal("open breaker allowed execution")
	}

	now = now.Add(time.Minute)
	if !b.CanExecute() {
		t.Fatal("half-open probe refused after reset timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	// Only one probe until the outcome is recorded.
	if b.CanExecute() {
		t.Fatal("second concurrent probe allowed")
	}

	b.RecordSuccess()
	if b.State() != Closed || !b.CanExecute() {
		t.Fatal("successful probe did not close breaker")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(2, time.Minute)
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	now = now.Add(time.Minute)
	if !b.CanExecute() {
		t.Fatal("probe refused")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
	if b.CanExecute() {
		t.Fatal("reopened breaker allowed execution")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := New(2, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatal("non-consecutive failures opened breaker")
	}
}
