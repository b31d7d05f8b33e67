package port

import (
	"context"

	"hyperarb/internal/domain/model"
)

// EdgeRecord is one row of the edges relation (spec §6 / SPEC_FULL §F).
type EdgeRecord struct {
	Ts         int64
	Base       string
	SpotIndex  int
	EdgePsBps  float64
	EdgeSpBps  float64
	MidRef     float64
	RecvMs     int64
	SendMs     int64
}

// TradeRecord is one row of the trades relation.
type TradeRecord struct {
	Ts            int64
	Base          string
	Direction     string
	ThresholdBps  float64
	BestEdgeBps   float64
	NotionalUSD   float64
	Role          string // "maker" | "taker"
	RequestID     string
	RequestJSON   string
	ResponseJSON  string
	Status        string
}

// PositionClose carries the fields written when a position terminates.
type PositionClose struct {
	ClosedAtMs   int64
	CloseEdgeBps float64
	PerpExitPx   float64
	SpotExitPx   float64
	RealizedPnL  float64
	Status       string // "CLOSED" | "BROKEN"
}

// EdgeRepository is the narrow interface the (asynchronous, batched) edge
// writer needs.
type EdgeRepository interface {
	InsertEdge(ctx context.Context, rec EdgeRecord) error
}

// TradeRepository is the narrow, synchronous-write interface the dispatcher
// needs to record every attempt.
type TradeRepository interface {
	InsertTrade(ctx context.Context, rec TradeRecord) (string, error)
}

// PositionRepository is the narrow, synchronous-write interface the
// position manager needs.
type PositionRepository interface {
	InsertPosition(ctx context.Context, p model.HedgedPosition) (string, error)
	GetOpenPositions(ctx context.Context) ([]model.HedgedPosition, error)
	ClosePosition(ctx context.Context, id string, c PositionClose) error
}

// QueryRepository is the read-only surface the control surface's
// "trades [hours]" and "pnl [hours]" commands need. Kept separate from the
// write-side interfaces above so the hot path (dispatcher, position
// manager, batch writers) never depends on it.
type QueryRepository interface {
	// RecentTrades returns trades with ts >= sinceMs, most recent first,
	// capped at an internal limit.
	RecentTrades(ctx context.Context, sinceMs int64) ([]TradeRecord, error)
	// RealizedPnLSince sums realized_pnl over positions closed at or after
	// sinceMs.
	RealizedPnLSince(ctx context.Context, sinceMs int64) (float64, error)
}

// OpportunityRepository is the narrow, asynchronous-write interface the
// opportunity tracker needs.
type OpportunityRepository interface {
	InsertOpportunity(ctx context.Context, o model.Opportunity) error
}

// EdgeSink is the non-blocking write side the engine holds directly. A
// batch writer implements this over an EdgeRepository, buffering and
// flushing on its own schedule (spec §6: "at most 100 records or 1 second,
// whichever comes first").
type EdgeSink interface {
	WriteEdge(rec EdgeRecord)
}

// Repository is the full persistence surface a storage backend implements.
type Repository interface {
	EdgeRepository
	TradeRepository
	PositionRepository
	OpportunityRepository
	QueryRepository
	Close() error
}
