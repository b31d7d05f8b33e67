package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

// PositionManagerConfig holds the close-trigger tunables (spec §4.6).
type PositionManagerConfig struct {
	MaxHoldMs         int64
	CloseThresholdBps float64
}

// PositionManager owns the set of open HedgedPositions and decides, on
// every tick, whether any of them must be closed.
type PositionManager struct {
	cfg        PositionManagerConfig
	dispatcher *OrderDispatcher
	positions  port.PositionRepository
	notifier   port.Notifier

	open map[string]*model.HedgedPosition
}

func NewPositionManager(cfg PositionManagerConfig, dispatcher *OrderDispatcher, positions port.PositionRepository, notifier port.Notifier) *PositionManager {
	return &PositionManager{
		cfg:        cfg,
		dispatcher: dispatcher,
		positions:  positions,
		notifier:   notifier,
		open:       make(map[string]*model.HedgedPosition),
	}
}

// Track registers a newly opened position, persists it, and arms it for
// per-tick closure checks.
func (m *PositionManager) Track(ctx context.Context, pos *model.HedgedPosition) error {
	id, err := m.positions.InsertPosition(ctx, *pos)
	if err != nil {
		return err
	}
	pos.TradeID = id
	m.open[pos.ID] = pos
	return nil
}

// Open returns the number of currently tracked open positions.
func (m *PositionManager) Open() int {
	return len(m.open)
}

// OpenIDs returns the ids of every currently tracked open position.
func (m *PositionManager) OpenIDs() []string {
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	return ids
}

// Positions returns a snapshot of the currently tracked open positions. The
// control surface's "positions" command does not use it; that command
// reports only the open-position count.
func (m *PositionManager) Positions() []model.HedgedPosition {
	out := make([]model.HedgedPosition, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	return out
}

// OnTick evaluates every open position's closure triggers against the
// latest edge reading and closes whichever ones qualify. Each position is
// checked against the edge of its reverse direction, since a position only
// cares about the edge that would unwind it.
func (m *PositionManager) OnTick(ctx context.Context, tick model.Tick, edge model.Edge, now time.Time) {
	for id, pos := range m.open {
		if pos.Status != model.Open {
			continue
		}

		closeEdgeBps := edge.For(pos.Direction.Reverse())
		heldMs := now.Sub(pos.OpenedAt).Milliseconds()

		triggered, reason := m.shouldClose(pos, closeEdgeBps, heldMs)
		if !triggered {
			continue
		}

		m.closePosition(ctx, pos, tick, closeEdgeBps, reason)
		delete(m.open, id)
	}
}

// RequestClose closes one position on operator demand (the "close-all"
// control surface command), bypassing the normal triggers.
func (m *PositionManager) RequestClose(ctx context.Context, id string, tick model.Tick, edge model.Edge) bool {
	pos, ok := m.open[id]
	if !ok {
		return false
	}
	closeEdgeBps := edge.For(pos.Direction.Reverse())
	m.closePosition(ctx, pos, tick, closeEdgeBps, "operator_request")
	delete(m.open, id)
	return true
}

func (m *PositionManager) shouldClose(pos *model.HedgedPosition, closeEdgeBps float64, heldMs int64) (bool, string) {
	if heldMs >= m.cfg.MaxHoldMs {
		return true, "max_hold"
	}
	if closeEdgeBps >= m.cfg.CloseThresholdBps {
		return true, "edge_decay"
	}
	return false, ""
}

func (m *PositionManager) closePosition(ctx context.Context, pos *model.HedgedPosition, tick model.Tick, closeEdgeBps float64, reason string) {
	pos.Status = model.Closing

	err := m.dispatcher.Close(ctx, pos, tick, closeEdgeBps)
	if err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Str("reason", reason).Msg("position close failed")
		m.persistTerminal(ctx, pos)
		m.notify(ctx, pos, reason, err)
		return
	}

	pos.RealizedPnL = m.computeRealizedPnL(pos)
	m.persistTerminal(ctx, pos)
	m.notify(ctx, pos, reason, nil)
}

func (m *PositionManager) computeRealizedPnL(pos *model.HedgedPosition) float64 {
	perpPnL := (pos.PerpEntryPx - pos.PerpExitPx) * pos.PerpSize
	if pos.Direction == model.SpotToPerp {
		perpPnL = -perpPnL
	}
	spotPnL := (pos.SpotExitPx - pos.SpotEntryPx) * pos.SpotSize
	if pos.Direction == model.SpotToPerp {
		spotPnL = -spotPnL
	}
	return perpPnL + spotPnL
}

func (m *PositionManager) persistTerminal(ctx context.Context, pos *model.HedgedPosition) {
	status := "CLOSED"
	if pos.Status == model.Broken {
		status = "BROKEN"
	}
	err := m.positions.ClosePosition(ctx, pos.ID, port.PositionClose{
		ClosedAtMs:   pos.ClosedAt.UnixMilli(),
		CloseEdgeBps: pos.CloseEdgeBps,
		PerpExitPx:   pos.PerpExitPx,
		SpotExitPx:   pos.SpotExitPx,
		RealizedPnL:  pos.RealizedPnL,
		Status:       status,
	})
	if err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("position close persistence failed")
	}
}

func (m *PositionManager) notify(ctx context.Context, pos *model.HedgedPosition, reason string, closeErr error) {
	if m.notifier == nil {
		return
	}
	n := port.Notification{
		Severity:    "info",
		Direction:   pos.Direction.String(),
		NotionalUSD: pos.NotionalUSD,
		PnL:         pos.RealizedPnL,
		Message:     reason,
	}
	if closeErr != nil {
		n.Severity = "critical"
		n.Code = "CloseFailed"
		n.Message = closeErr.Error()
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		log.Error().Err(err).Msg("operator notification failed")
	}
}

// Restore reloads open positions after a restart (spec §5: "the engine
// must recover open positions from storage on startup").
func (m *PositionManager) Restore(ctx context.Context) error {
	positions, err := m.positions.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for i := range positions {
		p := positions[i]
		m.open[p.ID] = &p
	}
	return nil
}
