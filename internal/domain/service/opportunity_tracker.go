package service

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/domain/model"
)

// OpportunityWriter persists a classified Opportunity. Implementations are
// expected to be asynchronous/batched (see batch.OpportunityWriter) — the
// tracker never waits on this call.
type OpportunityWriter interface {
	WriteOpportunity(model.Opportunity)
}

// OpportunityTracker is a read-only observer on the tick stream: it never
// gates, never blocks, and never triggers a trade. Ported from the
// reference bot's opportunity_tracker.py in control flow.
type OpportunityTracker struct {
	baseline            *model.RollingBaseline
	observationThreshold float64
	fees                model.FeeSchedule
	writer              OpportunityWriter
}

func NewOpportunityTracker(baselineWindow int, observationThresholdBps float64, fees model.FeeSchedule, writer OpportunityWriter) *OpportunityTracker {
	return &OpportunityTracker{
		baseline:             model.NewRollingBaseline(baselineWindow),
		observationThreshold: observationThresholdBps,
		fees:                 fees,
		writer:               writer,
	}
}

// OnTick consumes every tick unconditionally. Any panic inside is recovered
// and logged so a tracker bug can never reach the trading path — spec's
// testable property "OpportunityTracker exceptions never escape".
func (t *OpportunityTracker) OnTick(tick model.Tick, edge model.Edge) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("opportunity tracker panic recovered")
		}
	}()

	t.baseline.Push(tick)

	best, dir := edge.Best()
	if best < t.observationThreshold {
		return
	}
	base, ready := t.baseline.Baseline()
	if !ready {
		return
	}

	start := time.Now()
	opp := t.analyze(tick, edge, dir, base)
	opp.AnalysisDuration = time.Since(start)

	if t.writer != nil {
		t.writer.WriteOpportunity(opp)
	}
}

const movementEpsilonBps = 0.1

func (t *OpportunityTracker) analyze(tick model.Tick, edge model.Edge, dir model.Direction, base model.Baseline) model.Opportunity {
	mid := tick.MidRef()

	var perpDevBps, spotDevBps float64
	if mid > 0 {
		if dir == model.PerpToSpot {
			perpDevBps = 1e4 * (tick.PerpAsk - base.PerpAsk) / mid
			spotDevBps = 1e4 * (tick.SpotBid - base.SpotBid) / mid
		} else {
			perpDevBps = 1e4 * (tick.PerpBid - base.PerpBid) / mid
			spotDevBps = 1e4 * (tick.SpotAsk - base.SpotAsk) / mid
		}
	}
	perpMove := math.Abs(perpDevBps)
	spotMove := math.Abs(spotDevBps)

	source, ratio := classifyVolatilitySource(perpMove, spotMove)

	simBoth, simPerpIOCSpotALO, simSpotIOCPerpALO := t.simulateCosts()
	best, _ := edge.Best()

	return model.Opportunity{
		DetectedAt:           time.Now(),
		Tick:                 tick,
		Baseline:             base,
		PerpMovementBps:       perpMove,
		SpotMovementBps:       spotMove,
		Source:                source,
		Ratio:                 ratio,
		SimIOCBothBps:         simBoth,
		SimIOCPerpALOSpotBps:  simPerpIOCSpotALO,
		SimIOCSpotALOPerpBps:  simSpotIOCPerpALO,
		ExpectedProfitBps:     best - simBoth,
	}
}

// classifyVolatilitySource implements spec's §4.7 rule 3 exactly: Perp if
// the ratio exceeds 1.5, Spot if it's below 0.67, Both otherwise; movements
// both under epsilon collapse to Both with ratio 1 (no meaningful movement
// on either side to attribute).
func classifyVolatilitySource(perpMove, spotMove float64) (model.VolatilitySource, float64) {
	if perpMove < movementEpsilonBps && spotMove < movementEpsilonBps {
		return model.SourceBoth, 1
	}
	denom := math.Max(spotMove, movementEpsilonBps)
	ratio := perpMove / denom
	switch {
	case ratio > 1.5:
		return model.SourcePerp, ratio
	case ratio < 0.67:
		return model.SourceSpot, ratio
	default:
		return model.SourceBoth, ratio
	}
}

// simulateCosts derives the three execution-mode cost constants from the
// configured fee schedule: both legs aggressive, perp aggressive with spot
// resting, and spot aggressive with perp resting.
func (t *OpportunityTracker) simulateCosts() (ioBoth, ioPerpAloSpot, ioSpotAloPerp float64) {
	ioBoth = t.fees.PerpTakerBps + t.fees.SpotTakerBps
	ioPerpAloSpot = t.fees.PerpTakerBps + t.fees.SpotMakerBps
	ioSpotAloPerp = t.fees.PerpMakerBps + t.fees.SpotTakerBps
	return
}
