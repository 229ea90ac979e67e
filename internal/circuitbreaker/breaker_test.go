package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

const endpoint = "http://sms.internal/send"

func TestAllowUnknownEndpoint(t *testing.T) {
	cb := New(3, time.Minute)
	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("unknown endpoint should be allowed, got %v", err)
	}
}

func TestTripsAfterThreshold(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("below threshold should be allowed, got %v", err)
	}

	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() after threshold = %v, want ErrCircuitOpen", err)
	}
}

func TestSuccessResetsCount(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)
	cb.RecordSuccess(endpoint)
	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("success should reset the failure run, got %v", err)
	}
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	cb := New(1, 2*time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("tripped endpoint should be blocked, got %v", err)
	}

	// Before cooldown expires, still blocked.
	now = now.Add(time.Minute)
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("cooldown not elapsed, got %v", err)
	}

	// After cooldown, exactly one probe gets through.
	now = now.Add(time.Minute)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("first probe after cooldown should pass, got %v", err)
	}
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller during probe should be blocked, got %v", err)
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure(endpoint)
	now = now.Add(2 * time.Minute)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("probe should pass, got %v", err)
	}
	cb.RecordSuccess(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("closed endpoint should be allowed, got %v", err)
	}
}

func TestProbeFailureReopens(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure(endpoint)
	now = now.Add(2 * time.Minute)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("probe should pass, got %v", err)
	}
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("failed probe should reopen the circuit, got %v", err)
	}
}

func TestEndpointsAreIndependent(t *testing.T) {
	cb := New(1, time.Minute)
	cb.RecordFailure(endpoint)

	if err := cb.Allow("http://email.internal/send"); err != nil {
		t.Errorf("unrelated endpoint should be unaffected, got %v", err)
	}
}
