package composite

import (
	"context"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

// Repo fans every write out to all of its underlying repositories — useful
// for running the embedded sqlite default alongside a durable Postgres
// mirror without the rest of the engine knowing the difference.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) InsertEdge(ctx context.Context, rec port.EdgeRecord) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertEdge(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertTrade(ctx context.Context, rec port.TradeRecord) (string, error) {
	var id string
	var firstErr error
	for i, repo := range r.repos {
		got, err := repo.InsertTrade(ctx, rec)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if i == 0 {
			id = got
		}
	}
	return id, firstErr
}

func (r *Repo) InsertPosition(ctx context.Context, p model.HedgedPosition) (string, error) {
	var id string
	var firstErr error
	for i, repo := range r.repos {
		got, err := repo.InsertPosition(ctx, p)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if i == 0 {
			id = got
		}
	}
	return id, firstErr
}

func (r *Repo) GetOpenPositions(ctx context.Context) ([]model.HedgedPosition, error) {
	if len(r.repos) == 0 {
		return nil, nil
	}
	// The first repository is authoritative for reads: every write already
	// went to all of them, so reading from one is sufficient and avoids
	// reconciling divergent result sets.
	return r.repos[0].GetOpenPositions(ctx)
}

func (r *Repo) ClosePosition(ctx context.Context, id string, c port.PositionClose) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.ClosePosition(ctx, id, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertOpportunity(ctx context.Context, o model.Opportunity) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertOpportunity(ctx, o); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) RecentTrades(ctx context.Context, sinceMs int64) ([]port.TradeRecord, error) {
	if len(r.repos) == 0 {
		return nil, nil
	}
	return r.repos[0].RecentTrades(ctx, sinceMs)
}

func (r *Repo) RealizedPnLSince(ctx context.Context, sinceMs int64) (float64, error) {
	if len(r.repos) == 0 {
		return 0, nil
	}
	return r.repos[0].RealizedPnLSince(ctx, sinceMs)
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Repository = (*Repo)(nil)
