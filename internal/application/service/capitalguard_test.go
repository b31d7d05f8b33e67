package service

import (
	"context"
	"testing"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

type fakeExchange struct {
	state port.AccountState
}

func (f fakeExchange) SubscribeL2Book(ctx context.Context, coin string) (<-chan port.L2Book, error) {
	return nil, nil
}
func (f fakeExchange) PlaceOrder(ctx context.Context, coin string, spec model.OrderSpec, clientOrderID string) (model.LegResult, string, error) {
	return model.LegResult{}, "", nil
}
func (f fakeExchange) CancelOrder(ctx context.Context, coin string, orderID string) error {
	return nil
}
func (f fakeExchange) OrderStatus(ctx context.Context, coin string, orderID string) (model.LegResult, error) {
	return model.LegResult{Status: model.Filled}, nil
}
func (f fakeExchange) SetLeverage(ctx context.Context, symbol string, factor int, isCross bool) error {
	return nil
}
func (f fakeExchange) UserState(ctx context.Context) (port.AccountState, error) {
	return f.state, nil
}
func (f fakeExchange) ScheduleCancelAll(ctx context.Context, afterSeconds int) error {
	return nil
}

var _ port.Exchange = fakeExchange{}

func TestAdmitRefusesInsufficientPerpMargin(t *testing.T) {
	g := NewCapitalGuard(fakeExchange{state: port.AccountState{PerpFreeUSDC: 1, SpotUSDC: 1000, SpotBase: 1000}})

	ok, reason, err := g.Admit(context.Background(), model.PerpToSpot, 100, 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected Admit to refuse with insufficient perp margin")
	}
	if reason == nil || reason.Code != "InsufficientCapital" {
		t.Errorf("reason = %+v, want code InsufficientCapital", reason)
	}
}

func TestAdmitRefusesInsufficientSpotUSDOnPerpToSpot(t *testing.T) {
	g := NewCapitalGuard(fakeExchange{state: port.AccountState{PerpFreeUSDC: 1000, SpotUSDC: 1, SpotBase: 1000}})

	ok, reason, err := g.Admit(context.Background(), model.PerpToSpot, 100, 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || reason == nil {
		t.Fatalf("expected refusal for insufficient spot usdc, got ok=%t reason=%+v", ok, reason)
	}
}

func TestAdmitRefusesInsufficientSpotBaseOnSpotToPerp(t *testing.T) {
	g := NewCapitalGuard(fakeExchange{state: port.AccountState{PerpFreeUSDC: 1000, SpotUSDC: 1000, SpotBase: 0.001}})

	ok, reason, err := g.Admit(context.Background(), model.SpotToPerp, 100, 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || reason == nil {
		t.Fatalf("expected refusal for insufficient spot base, got ok=%t reason=%+v", ok, reason)
	}
}

func TestAdmitApprovesWithAmpleBalances(t *testing.T) {
	g := NewCapitalGuard(fakeExchange{state: port.AccountState{PerpFreeUSDC: 10000, SpotUSDC: 10000, SpotBase: 10000}})

	ok, reason, err := g.Admit(context.Background(), model.PerpToSpot, 100, 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || reason != nil {
		t.Errorf("expected approval, got ok=%t reason=%+v", ok, reason)
	}

	ok, reason, err = g.Admit(context.Background(), model.SpotToPerp, 100, 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || reason != nil {
		t.Errorf("expected approval, got ok=%t reason=%+v", ok, reason)
	}
}

func TestAdmitRefusesSpotToPerpWithoutReferenceMid(t *testing.T) {
	g := NewCapitalGuard(fakeExchange{state: port.AccountState{PerpFreeUSDC: 10000, SpotUSDC: 10000, SpotBase: 10000}})

	ok, reason, err := g.Admit(context.Background(), model.SpotToPerp, 100, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || reason == nil {
		t.Fatalf("expected refusal when mid is zero, got ok=%t reason=%+v", ok, reason)
	}
}
