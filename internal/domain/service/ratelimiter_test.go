package service

import (
	"testing"
	"time"
)

func TestRateLimiterExhaustedAtCap(t *testing.T) {
	rl := NewRateLimiter(3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if rl.Exhausted(now) {
			t.Fatalf("exhausted after only %d records", i)
		}
		rl.Record(now)
	}
	if !rl.Exhausted(now) {
		t.Error("expected limiter to be exhausted at the cap")
	}
}

func TestRateLimiterPrunesOutsideWindow(t *testing.T) {
	rl := NewRateLimiter(1)
	t0 := time.Now()
	rl.Record(t0)

	if !rl.Exhausted(t0.Add(30 * time.Second)) {
		t.Error("expected limiter still exhausted within the 60s window")
	}
	if rl.Exhausted(t0.Add(61 * time.Second)) {
		t.Error("expected limiter to clear once the record ages out of the window")
	}
}

func TestRateLimiterCountReflectsWindow(t *testing.T) {
	rl := NewRateLimiter(10)
	t0 := time.Now()
	rl.Record(t0)
	rl.Record(t0.Add(10 * time.Second))

	if got := rl.Count(t0.Add(20 * time.Second)); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := rl.Count(t0.Add(65 * time.Second)); got != 1 {
		t.Errorf("Count after first record ages out = %d, want 1", got)
	}
}

func TestKillSwitchDefaultsUnset(t *testing.T) {
	var k KillSwitch
	if k.IsSet() {
		t.Error("expected new KillSwitch to default to unset")
	}
	k.Set(true)
	if !k.IsSet() {
		t.Error("expected KillSwitch to report set after Set(true)")
	}
}
