package service

import (
	"sync"
	"time"

	"hyperarb/internal/domain/model"
)

// GateState is one of the four states of the StabilityGate's state machine.
type GateState int

const (
	Idle GateState = iota
	Armed
	Firing
	CoolDown
)

func (s GateState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case Firing:
		return "FIRING"
	case CoolDown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

// GateConfig holds the StabilityGate's tunables. ThresholdBps is also a
// live-reconfigurable runtime setting; DwellMs and CoolDownMs are fixed at
// construction unless SetConfig replaces them.
type GateConfig struct {
	ThresholdBps float64
	DwellMs      int64
	CoolDownMs   int64
}

// StabilityGate filters the tick stream down to at most one dispatch
// request per qualifying episode: an edge must clear threshold and stay
// there for the full dwell window before it fires.
type StabilityGate struct {
	mu sync.Mutex

	cfg     GateConfig
	limiter *RateLimiter
	paused  bool

	state     GateState
	armedAt   time.Time
	armedDir  model.Direction
	coolUntil time.Time
}

func NewStabilityGate(cfg GateConfig, limiter *RateLimiter) *StabilityGate {
	return &StabilityGate{cfg: cfg, limiter: limiter, state: Idle}
}

func (g *StabilityGate) SetConfig(cfg GateConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

// SetThresholdBps live-updates the arm/dwell edge threshold without
// disturbing DwellMs/CoolDownMs, so the control surface's "threshold"
// command (and its Redis-persisted mirror) takes effect on the very next
// Evaluate call.
func (g *StabilityGate) SetThresholdBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.ThresholdBps = bps
}

// ThresholdBps reports the currently active arm/dwell threshold.
func (g *StabilityGate) ThresholdBps() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.ThresholdBps
}

func (g *StabilityGate) SetPaused(p bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = p
}

func (g *StabilityGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// DispatchRequest is emitted by Evaluate exactly once per Armed episode.
type DispatchRequest struct {
	Direction model.Direction
	EdgeBps   float64
}

// Evaluate advances the state machine for one edge observation and returns
// a non-nil DispatchRequest exactly when the gate transitions Armed→Firing.
// now is passed explicitly so the gate is deterministic to test.
func (g *StabilityGate) Evaluate(edge model.Edge, now time.Time) *DispatchRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	bps, dir := edge.Best()

	if g.paused {
		g.state = Idle
		return nil
	}

	switch g.state {
	case Idle:
		if bps >= g.cfg.ThresholdBps {
			if g.limiter != nil && g.limiter.Exhausted(now) {
				return nil
			}
			g.state = Armed
			g.armedAt = now
			g.armedDir = dir
		}
		return nil

	case Armed:
		// Direction must stay fixed and above threshold for the whole
		// dwell; any dip, or a flip of which side is dominant, resets.
		if dir != g.armedDir || edge.For(g.armedDir) < g.cfg.ThresholdBps {
			g.state = Idle
			return nil
		}
		if now.Sub(g.armedAt) >= time.Duration(g.cfg.DwellMs)*time.Millisecond {
			g.state = Firing
			req := &DispatchRequest{Direction: g.armedDir, EdgeBps: edge.For(g.armedDir)}
			g.enterCoolDown(now)
			return req
		}
		return nil

	case Firing, CoolDown:
		if now.After(g.coolUntil) {
			g.state = Idle
		}
		return nil
	}
	return nil
}

func (g *StabilityGate) enterCoolDown(now time.Time) {
	g.state = CoolDown
	g.coolUntil = now.Add(time.Duration(g.cfg.CoolDownMs) * time.Millisecond)
}

// OnDispatchTerminal lets the dispatcher collapse CoolDown early once a
// fill, rejection, or broken hedge is known, per spec's
// "CoolDown -> Idle after cool_down_ms OR after the dispatcher reports
// terminal status" rule.
func (g *StabilityGate) OnDispatchTerminal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == CoolDown || g.state == Firing {
		g.state = Idle
	}
}
