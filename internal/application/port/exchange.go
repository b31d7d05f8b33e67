package port

import (
	"context"

	"hyperarb/internal/domain/model"
)

// BookLevel is one price/size level of an L2 book.
type BookLevel struct {
	Px float64
	Sz float64
}

// L2Book is a merged two-sided book snapshot for one instrument.
type L2Book struct {
	Bids []BookLevel
	Asks []BookLevel
	// SendMs is the venue-reported timestamp, when present.
	SendMs int64
}

// BestBidAsk returns the top of book, or ok=false if either side is empty.
func (b L2Book) BestBidAsk() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Px, b.Asks[0].Px, true
}

// AccountState is the subset of exchange user-state the capital guard and
// position manager need: free margin, spot balances, and open positions.
type AccountState struct {
	PerpFreeUSDC float64
	SpotUSDC     float64
	SpotBase     float64
	PerpPosition float64 // signed size, positive = long
}

// Exchange is the abstract set of capabilities the engine consumes from the
// venue collaborator. It is out of scope for spec's own core (the exchange
// client library is an external collaborator) — this interface is the
// boundary the core is written against.
type Exchange interface {
	// SubscribeL2Book streams book updates for coin (a perp symbol or a
	// spot instrument addressed by "@index" notation) until ctx is
	// cancelled. The engine is responsible for recovering on channel
	// close with backoff.
	SubscribeL2Book(ctx context.Context, coin string) (<-chan L2Book, error)

	// PlaceOrder submits one leg and returns its classified result along
	// with the venue order id (used for CancelOrder and for resolving
	// Unknown via a position query).
	PlaceOrder(ctx context.Context, coin string, spec model.OrderSpec, clientOrderID string) (model.LegResult, string, error)

	CancelOrder(ctx context.Context, coin string, orderID string) error

	// OrderStatus polls a previously placed order's current state by id.
	// The dispatcher uses this to wait out an ALO maker attempt's dwell
	// window for a fill before cancelling and falling back to IOC — the
	// initial PlaceOrder ack for a resting maker order only confirms it
	// was accepted, not that it filled.
	OrderStatus(ctx context.Context, coin string, orderID string) (model.LegResult, error)

	SetLeverage(ctx context.Context, symbol string, factor int, isCross bool) error

	UserState(ctx context.Context) (AccountState, error)

	// ScheduleCancelAll arms the exchange-side dead-man's switch: if the
	// client fails to re-arm it within afterSeconds, all resting orders
	// belonging to this account are cancelled.
	ScheduleCancelAll(ctx context.Context, afterSeconds int) error
}
