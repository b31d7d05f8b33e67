package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

const (
	perpMarginBuffer = 1.20 // 20% buffer absorbing margin fluctuation
	spotBuffer       = 1.05 // 5% buffer absorbing price drift
	balanceCacheTTL  = 2 * time.Second
)

// CapitalGuard validates balances and margin before every dispatch. It
// queries the exchange on demand — balances are never cached beyond
// balanceCacheTTL, per spec §4.4.
type CapitalGuard struct {
	exch port.Exchange

	mu        sync.Mutex
	cached    port.AccountState
	cachedAt  time.Time
}

func NewCapitalGuard(exch port.Exchange) *CapitalGuard {
	return &CapitalGuard{exch: exch}
}

// RefusalReason is a structured reason for a CapitalGuard refusal.
type RefusalReason struct {
	Code    string
	Message string
}

func (r RefusalReason) Error() string { return fmt.Sprintf("%s: %s", r.Code, r.Message) }

// Balances exposes the cached balance query for the control surface's
// "balance" command; it shares the same TTL cache as Admit.
func (g *CapitalGuard) Balances(ctx context.Context) (port.AccountState, error) {
	return g.balances(ctx)
}

func (g *CapitalGuard) balances(ctx context.Context) (port.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.cachedAt) < balanceCacheTTL {
		return g.cached, nil
	}
	st, err := g.exch.UserState(ctx)
	if err != nil {
		return port.AccountState{}, err
	}
	g.cached, g.cachedAt = st, time.Now()
	return st, nil
}

// Admit rules a dispatch of notionalUSD at leverage on direction admissible
// or not, per spec §4.4's buffered rules. mid is the current reference
// price, required to convert the USD notional into a spot-base quantity
// for SpotToPerp.
func (g *CapitalGuard) Admit(ctx context.Context, dir model.Direction, notionalUSD float64, leverage int, mid float64) (bool, *RefusalReason, error) {
	st, err := g.balances(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("capital guard: balance query: %w", err)
	}

	requiredMargin := (notionalUSD / float64(leverage)) * perpMarginBuffer
	if st.PerpFreeUSDC < requiredMargin {
		return false, &RefusalReason{
			Code:    "InsufficientCapital",
			Message: fmt.Sprintf("perp free usdc %.2f < required %.2f", st.PerpFreeUSDC, requiredMargin),
		}, nil
	}

	switch dir {
	case model.PerpToSpot:
		requiredSpotUSD := notionalUSD * spotBuffer
		if st.SpotUSDC < requiredSpotUSD {
			return false, &RefusalReason{
				Code:    "InsufficientCapital",
				Message: fmt.Sprintf("spot usdc %.2f < required %.2f", st.SpotUSDC, requiredSpotUSD),
			}, nil
		}
	case model.SpotToPerp:
		if mid <= 0 {
			return false, &RefusalReason{Code: "InsufficientCapital", Message: "no reference mid available"}, nil
		}
		requiredSpotBase := (notionalUSD / mid) * spotBuffer
		if st.SpotBase < requiredSpotBase {
			return false, &RefusalReason{
				Code:    "InsufficientCapital",
				Message: fmt.Sprintf("spot base %.6f < required %.6f", st.SpotBase, requiredSpotBase),
			}, nil
		}
	}

	return true, nil, nil
}
