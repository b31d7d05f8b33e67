package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

// Repo implements port.Repository against Postgres, for deployments that
// need a shared store across multiple engine processes or a durable
// analytics sink beyond the embedded default.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS edges (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  base TEXT NOT NULL,
  spot_index INT NOT NULL,
  edge_ps_bps DOUBLE PRECISION NOT NULL,
  edge_sp_bps DOUBLE PRECISION NOT NULL,
  mid_ref DOUBLE PRECISION NOT NULL,
  recv_ms BIGINT NOT NULL,
  send_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_ts ON edges(ts_ms);

CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  base TEXT NOT NULL,
  direction TEXT NOT NULL,
  threshold_bps DOUBLE PRECISION NOT NULL,
  best_edge_bps DOUBLE PRECISION NOT NULL,
  notional_usd DOUBLE PRECISION NOT NULL,
  role TEXT NOT NULL,
  request_id TEXT NOT NULL,
  request_json TEXT NOT NULL DEFAULT '',
  response_json TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_ms);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  direction TEXT NOT NULL,
  opened_at_ms BIGINT NOT NULL,
  closed_at_ms BIGINT,
  notional_usd DOUBLE PRECISION NOT NULL,
  perp_size DOUBLE PRECISION NOT NULL,
  spot_size DOUBLE PRECISION NOT NULL,
  open_edge_bps DOUBLE PRECISION NOT NULL,
  close_edge_bps DOUBLE PRECISION,
  status TEXT NOT NULL,
  perp_entry_px DOUBLE PRECISION NOT NULL,
  spot_entry_px DOUBLE PRECISION NOT NULL,
  perp_exit_px DOUBLE PRECISION,
  spot_exit_px DOUBLE PRECISION,
  realized_pnl DOUBLE PRECISION,
  trade_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

CREATE TABLE IF NOT EXISTS opportunities (
  id BIGSERIAL PRIMARY KEY,
  detected_at_ms BIGINT NOT NULL,
  source TEXT NOT NULL,
  ratio DOUBLE PRECISION NOT NULL,
  perp_movement_bps DOUBLE PRECISION NOT NULL,
  spot_movement_bps DOUBLE PRECISION NOT NULL,
  sim_ioc_both_bps DOUBLE PRECISION NOT NULL,
  sim_ioc_perp_alo_spot_bps DOUBLE PRECISION NOT NULL,
  sim_ioc_spot_alo_perp_bps DOUBLE PRECISION NOT NULL,
  expected_profit_bps DOUBLE PRECISION NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities(detected_at_ms);
`)
	return err
}

func (r *Repo) InsertEdge(ctx context.Context, rec port.EdgeRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO edges (ts_ms, base, spot_index, edge_ps_bps, edge_sp_bps, mid_ref, recv_ms, send_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Ts, rec.Base, rec.SpotIndex, rec.EdgePsBps, rec.EdgeSpBps, rec.MidRef, rec.RecvMs, rec.SendMs)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, rec port.TradeRecord) (string, error) {
	id := rec.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO trades (id, ts_ms, base, direction, threshold_bps, best_edge_bps, notional_usd, role, request_id, request_json, response_json, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, rec.Ts, rec.Base, rec.Direction, rec.ThresholdBps, rec.BestEdgeBps, rec.NotionalUSD, rec.Role, rec.RequestID, rec.RequestJSON, rec.ResponseJSON, rec.Status)
	return id, err
}

func (r *Repo) InsertPosition(ctx context.Context, p model.HedgedPosition) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO positions (id, direction, opened_at_ms, notional_usd, perp_size, spot_size, open_edge_bps, status, perp_entry_px, spot_entry_px)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, p.Direction.String(), p.OpenedAt.UnixMilli(), p.NotionalUSD, p.PerpSize, p.SpotSize, p.OpenEdgeBps, p.Status.String(), p.PerpEntryPx, p.SpotEntryPx)
	return id, err
}

func (r *Repo) GetOpenPositions(ctx context.Context) ([]model.HedgedPosition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, direction, opened_at_ms, notional_usd, perp_size, spot_size, open_edge_bps, perp_entry_px, spot_entry_px
FROM positions WHERE status = 'OPEN'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HedgedPosition
	for rows.Next() {
		var p model.HedgedPosition
		var dir string
		var openedAtMs int64
		if err := rows.Scan(&p.ID, &dir, &openedAtMs, &p.NotionalUSD, &p.PerpSize, &p.SpotSize, &p.OpenEdgeBps, &p.PerpEntryPx, &p.SpotEntryPx); err != nil {
			return nil, err
		}
		p.Direction = parseDirection(dir)
		p.OpenedAt = time.UnixMilli(openedAtMs)
		p.Status = model.Open
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ClosePosition(ctx context.Context, id string, c port.PositionClose) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE positions SET closed_at_ms = $1, close_edge_bps = $2, perp_exit_px = $3, spot_exit_px = $4, realized_pnl = $5, status = $6
WHERE id = $7`,
		c.ClosedAtMs, c.CloseEdgeBps, c.PerpExitPx, c.SpotExitPx, c.RealizedPnL, c.Status, id)
	return err
}

func (r *Repo) InsertOpportunity(ctx context.Context, o model.Opportunity) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO opportunities (detected_at_ms, source, ratio, perp_movement_bps, spot_movement_bps, sim_ioc_both_bps, sim_ioc_perp_alo_spot_bps, sim_ioc_spot_alo_perp_bps, expected_profit_bps, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.DetectedAt.UnixMilli(), o.Source.String(), o.Ratio, o.PerpMovementBps, o.SpotMovementBps,
		o.SimIOCBothBps, o.SimIOCPerpALOSpotBps, o.SimIOCSpotALOPerpBps, o.ExpectedProfitBps, string(payload))
	return err
}

const maxRecentTrades = 200

func (r *Repo) RecentTrades(ctx context.Context, sinceMs int64) ([]port.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT ts_ms, base, direction, threshold_bps, best_edge_bps, notional_usd, role, request_id, status
FROM trades WHERE ts_ms >= $1 ORDER BY ts_ms DESC LIMIT $2`, sinceMs, maxRecentTrades)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []port.TradeRecord
	for rows.Next() {
		var t port.TradeRecord
		if err := rows.Scan(&t.Ts, &t.Base, &t.Direction, &t.ThresholdBps, &t.BestEdgeBps, &t.NotionalUSD, &t.Role, &t.RequestID, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) RealizedPnLSince(ctx context.Context, sinceMs int64) (float64, error) {
	var pnl sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(realized_pnl) FROM positions WHERE status = 'CLOSED' AND closed_at_ms >= $1`, sinceMs,
	).Scan(&pnl)
	if err != nil {
		return 0, err
	}
	return pnl.Float64, nil
}

func parseDirection(s string) model.Direction {
	if s == model.SpotToPerp.String() {
		return model.SpotToPerp
	}
	return model.PerpToSpot
}

var _ port.Repository = (*Repo)(nil)
