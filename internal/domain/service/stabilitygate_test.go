package service

import (
	"testing"
	"time"

	"hyperarb/internal/domain/model"
)

func gateCfg() GateConfig {
	return GateConfig{ThresholdBps: 5, DwellMs: 200, CoolDownMs: 500}
}

func TestStabilityGateArmsOnThresholdCross(t *testing.T) {
	g := NewStabilityGate(gateCfg(), NewRateLimiter(100))
	now := time.Now()

	req := g.Evaluate(model.Edge{PerpToSpotBps: 6, SpotToPerpBps: -1}, now)
	if req != nil {
		t.Fatalf("expected no dispatch on first threshold cross, got %+v", req)
	}
	if g.State() != Armed {
		t.Errorf("state = %v, want Armed", g.State())
	}
}

func TestStabilityGateFiresOnceAfterDwell(t *testing.T) {
	g := NewStabilityGate(gateCfg(), NewRateLimiter(100))
	now := time.Now()
	edge := model.Edge{PerpToSpotBps: 6, SpotToPerpBps: -1}

	if req := g.Evaluate(edge, now); req != nil {
		t.Fatalf("unexpected dispatch while arming: %+v", req)
	}

	// Still within the dwell window: must not fire yet.
	if req := g.Evaluate(edge, now.Add(100*time.Millisecond)); req != nil {
		t.Fatalf("fired before dwell elapsed: %+v", req)
	}

	req := g.Evaluate(edge, now.Add(250*time.Millisecond))
	if req == nil {
		t.Fatal("expected a dispatch once dwell elapses")
	}
	if req.Direction != model.PerpToSpot {
		t.Errorf("dispatch direction = %v, want PerpToSpot", req.Direction)
	}
	if g.State() != CoolDown {
		t.Errorf("state after firing = %v, want CoolDown", g.State())
	}

	// A second Evaluate call, even with the same qualifying edge, must not
	// produce a second dispatch for this episode.
	if req := g.Evaluate(edge, now.Add(260*time.Millisecond)); req != nil {
		t.Fatalf("fired a second dispatch within the same episode: %+v", req)
	}
}

func TestStabilityGateResetsOnDirectionFlip(t *testing.T) {
	g := NewStabilityGate(gateCfg(), NewRateLimiter(100))
	now := time.Now()

	g.Evaluate(model.Edge{PerpToSpotBps: 6, SpotToPerpBps: -1}, now)
	if g.State() != Armed {
		t.Fatalf("expected Armed after first cross, got %v", g.State())
	}

	// Dominant side flips before dwell elapses: must reset to Idle rather
	// than firing on the new direction immediately.
	g.Evaluate(model.Edge{PerpToSpotBps: -1, SpotToPerpBps: 6}, now.Add(50*time.Millisecond))
	if g.State() != Idle {
		t.Errorf("state after direction flip = %v, want Idle", g.State())
	}
}

func TestStabilityGateCoolsDownThenReturnsToIdle(t *testing.T) {
	cfg := GateConfig{ThresholdBps: 5, DwellMs: 10, CoolDownMs: 50}
	g := NewStabilityGate(cfg, NewRateLimiter(100))
	now := time.Now()
	edge := model.Edge{PerpToSpotBps: 6, SpotToPerpBps: -1}

	g.Evaluate(edge, now)
	if req := g.Evaluate(edge, now.Add(20*time.Millisecond)); req == nil {
		t.Fatal("expected a dispatch once dwell elapses")
	}
	if g.State() != CoolDown {
		t.Fatalf("state after firing = %v, want CoolDown", g.State())
	}

	g.Evaluate(edge, now.Add(30*time.Millisecond))
	if g.State() != CoolDown {
		t.Errorf("state mid cooldown = %v, want CoolDown", g.State())
	}

	g.Evaluate(edge, now.Add(200*time.Millisecond))
	if g.State() != Idle {
		t.Errorf("state after cooldown elapses = %v, want Idle", g.State())
	}
}

func TestStabilityGateOnDispatchTerminalCollapsesCoolDown(t *testing.T) {
	g := NewStabilityGate(gateCfg(), NewRateLimiter(100))
	now := time.Now()
	edge := model.Edge{PerpToSpotBps: 6, SpotToPerpBps: -1}

	g.Evaluate(edge, now)
	g.Evaluate(edge, now.Add(250*time.Millisecond))
	if g.State() != CoolDown {
		t.Fatalf("state after firing = %v, want CoolDown", g.State())
	}

	g.OnDispatchTerminal()
	if g.State() != Idle {
		t.Errorf("state after OnDispatchTerminal = %v, want Idle", g.State())
	}
}

func TestStabilityGateStaysIdleWhenPaused(t *testing.T) {
	g := NewStabilityGate(gateCfg(), NewRateLimiter(100))
	g.SetPaused(true)

	req := g.Evaluate(model.Edge{PerpToSpotBps: 100, SpotToPerpBps: -1}, time.Now())
	if req != nil {
		t.Fatalf("expected no dispatch while paused, got %+v", req)
	}
	if g.State() != Idle {
		t.Errorf("state while paused = %v, want Idle", g.State())
	}
}

func TestStabilityGateRespectsRateLimitWhenArming(t *testing.T) {
	limiter := NewRateLimiter(1)
	now := time.Now()
	limiter.Record(now)

	g := NewStabilityGate(gateCfg(), limiter)
	req := g.Evaluate(model.Edge{PerpToSpotBps: 6, SpotToPerpBps: -1}, now)
	if req != nil {
		t.Fatalf("expected no arm when the rate limiter is already exhausted, got %+v", req)
	}
	if g.State() != Idle {
		t.Errorf("state = %v, want Idle when rate-limited", g.State())
	}
}
