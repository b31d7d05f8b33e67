package model

import "time"

// VolatilitySource classifies which side moved to create a dislocation.
type VolatilitySource int

const (
	SourcePerp VolatilitySource = iota
	SourceSpot
	SourceBoth
)

func (s VolatilitySource) String() string {
	switch s {
	case SourcePerp:
		return "PERP"
	case SourceSpot:
		return "SPOT"
	default:
		return "BOTH"
	}
}

// Opportunity is a purely observational record: it is never read by the
// trading path and never triggers a dispatch. It exists so the strategy's
// thresholds can be calibrated offline against real deviation/profitability
// data.
type Opportunity struct {
	DetectedAt time.Time

	Tick     Tick
	Baseline Baseline

	PerpMovementBps float64
	SpotMovementBps float64
	Source          VolatilitySource
	Ratio           float64

	// Simulated round-trip cost, in bps, for three execution modes.
	SimIOCBothBps         float64
	SimIOCPerpALOSpotBps  float64
	SimIOCSpotALOPerpBps  float64
	ExpectedProfitBps     float64

	AnalysisDuration time.Duration
}
