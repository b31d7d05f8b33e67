package service

import (
	"testing"

	"hyperarb/internal/domain/model"
)

func TestClassifyVolatilitySourceThresholds(t *testing.T) {
	cases := []struct {
		name               string
		perpMove, spotMove float64
		want               model.VolatilitySource
	}{
		{"both negligible", 0.001, 0.001, model.SourceBoth},
		{"perp dominant", 3, 1, model.SourcePerp},
		{"spot dominant", 1, 3, model.SourceSpot},
		{"balanced", 1, 1, model.SourceBoth},
	}
	for _, c := range cases {
		got, _ := classifyVolatilitySource(c.perpMove, c.spotMove)
		if got != c.want {
			t.Errorf("%s: classifyVolatilitySource(%v, %v) = %v, want %v", c.name, c.perpMove, c.spotMove, got, c.want)
		}
	}
}

type panickyWriter struct{}

func (panickyWriter) WriteOpportunity(model.Opportunity) {
	panic("boom")
}

// A tracker bug must never propagate to the caller — the engine's hot
// path calls OnTick unconditionally on every tick.
func TestOnTickRecoversFromWriterPanic(t *testing.T) {
	fees := model.FeeSchedule{PerpMakerBps: 1, PerpTakerBps: 2, SpotMakerBps: 1, SpotTakerBps: 2}
	tracker := NewOpportunityTracker(2, 0, fees, panickyWriter{})

	tick := model.Tick{PerpBid: 100, PerpAsk: 100.1, SpotBid: 99.9, SpotAsk: 100}
	edge := model.Edge{PerpToSpotBps: 10, SpotToPerpBps: -1}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("OnTick let a panic escape: %v", r)
		}
	}()

	// The second tick fills the two-tick baseline and triggers analysis
	// (and the writer's panic); the third triggers it again.
	tracker.OnTick(tick, edge)
	tracker.OnTick(tick, edge)
	tracker.OnTick(tick, edge)
}

func TestOnTickSkipsBelowObservationThreshold(t *testing.T) {
	fees := model.FeeSchedule{}
	written := false
	writer := writerFunc(func(model.Opportunity) { written = true })
	tracker := NewOpportunityTracker(2, 50, fees, writer)

	tick := model.Tick{PerpBid: 100, PerpAsk: 100.1, SpotBid: 99.9, SpotAsk: 100}
	edge := model.Edge{PerpToSpotBps: 1, SpotToPerpBps: -1}

	for i := 0; i < 5; i++ {
		tracker.OnTick(tick, edge)
	}
	if written {
		t.Error("expected no opportunity to be written below the observation threshold")
	}
}

type writerFunc func(model.Opportunity)

func (f writerFunc) WriteOpportunity(o model.Opportunity) { f(o) }
