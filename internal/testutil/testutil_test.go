package testutil

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}

	clock.Advance(90 * time.Minute)
	if want := start.Add(90 * time.Minute); !clock.Now().Equal(want) {
		t.Errorf("Now() after advance = %v, want %v", clock.Now(), want)
	}
}

func TestMustParseUUID(t *testing.T) {
	id := MustParseUUID("00000000-0000-0000-0000-000000000001")
	if id.String() != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("unexpected UUID %s", id)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustParseUUID should panic on garbage")
		}
	}()
	MustParseUUID("garbage")
}
