package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

func TestFloorToLotStepRoundsDownToStep(t *testing.T) {
	cases := []struct {
		raw, step, want float64
	}{
		{1.23456, 0.0001, 1.2345},
		{1.0, 0.0001, 1.0},
		{0.00005, 0.0001, 0},
		{2.5, 0, 2.5}, // lotStep <= 0 passes through unchanged
	}
	for _, c := range cases {
		got := floorToLotStep(c.raw, c.step)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("floorToLotStep(%v, %v) = %v, want %v", c.raw, c.step, got, c.want)
		}
	}
}

// buildOpenSpecs must size both legs identically: the hedge is only
// leverage-neutral if the perp and spot legs trade the same size.
func TestBuildOpenSpecsUsesEqualSizeOnBothLegs(t *testing.T) {
	d := NewOrderDispatcher(nil, DispatcherConfig{PerpSymbol: "HYPE", SpotCoin: "@107"}, nil)
	tick := model.Tick{PerpBid: 10, PerpAsk: 10.01, SpotBid: 9.99, SpotAsk: 10}

	perp, spot := d.buildOpenSpecs(model.PerpToSpot, tick, 5.5, model.AddLiquidityOnly, false)
	if perp.Size != spot.Size {
		t.Errorf("perp size %v != spot size %v", perp.Size, spot.Size)
	}
	if perp.Size != 5.5 {
		t.Errorf("perp size = %v, want 5.5", perp.Size)
	}
}

// Direction correctness: PerpToSpot (perp expensive) must short perp and
// buy spot; SpotToPerp must do the opposite.
func TestBuildOpenSpecsRespectsDirection(t *testing.T) {
	d := NewOrderDispatcher(nil, DispatcherConfig{}, nil)
	tick := model.Tick{PerpBid: 10, PerpAsk: 10.01, SpotBid: 9.99, SpotAsk: 10}

	perp, spot := d.buildOpenSpecs(model.PerpToSpot, tick, 1, model.AddLiquidityOnly, false)
	if perp.IsBuy {
		t.Error("PerpToSpot: perp leg should sell, not buy")
	}
	if !spot.IsBuy {
		t.Error("PerpToSpot: spot leg should buy")
	}

	perp, spot = d.buildOpenSpecs(model.SpotToPerp, tick, 1, model.AddLiquidityOnly, false)
	if !perp.IsBuy {
		t.Error("SpotToPerp: perp leg should buy")
	}
	if spot.IsBuy {
		t.Error("SpotToPerp: spot leg should sell, not buy")
	}
}

func TestSetTIFPolicyRejectsUnknownValue(t *testing.T) {
	d := NewOrderDispatcher(nil, DispatcherConfig{}, nil)
	if err := d.SetTIFPolicy("yolo"); err == nil {
		t.Error("expected an error for an unrecognized tif policy")
	}
	if got := d.TIFPolicy(); got != "maker" {
		t.Errorf("TIFPolicy() after a rejected Set = %q, want unchanged default %q", got, "maker")
	}
}

func TestSetTIFPolicyTogglesBetweenMakerAndIOC(t *testing.T) {
	d := NewOrderDispatcher(nil, DispatcherConfig{}, nil)
	if got := d.TIFPolicy(); got != "maker" {
		t.Fatalf("default TIFPolicy() = %q, want %q", got, "maker")
	}
	if err := d.SetTIFPolicy("ioc"); err != nil {
		t.Fatalf("SetTIFPolicy(ioc) failed: %v", err)
	}
	if got := d.TIFPolicy(); got != "ioc" {
		t.Errorf("TIFPolicy() = %q, want %q", got, "ioc")
	}
	if err := d.SetTIFPolicy("maker"); err != nil {
		t.Fatalf("SetTIFPolicy(maker) failed: %v", err)
	}
	if got := d.TIFPolicy(); got != "maker" {
		t.Errorf("TIFPolicy() = %q, want %q", got, "maker")
	}
}

// slowExchange holds every Open call open until release is closed, so tests
// can observe Drain blocking on a genuinely in-flight dispatch.
type slowExchange struct {
	fakeExchange
	release chan struct{}
}

func (f slowExchange) PlaceOrder(ctx context.Context, coin string, spec model.OrderSpec, clientOrderID string) (model.LegResult, string, error) {
	<-f.release
	return model.LegResult{Status: model.Rejected, Reason: "test"}, "", nil
}

var _ port.Exchange = slowExchange{}

// Drain must block while an Open/Close call is in flight and return once it
// completes, per spec §5's shutdown drain sequence.
func TestDrainBlocksUntilInFlightDispatchCompletes(t *testing.T) {
	exch := slowExchange{release: make(chan struct{})}
	d := NewOrderDispatcher(exch, DispatcherConfig{PerpSymbol: "HYPE", SpotCoin: "@107", Leverage: 1, LotStep: 0.01}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := model.Tick{PerpBid: 10, PerpAsk: 10.01, SpotBid: 9.99, SpotAsk: 10}
		_, _ = d.Open(context.Background(), model.PerpToSpot, 100, tick, 20, 5)
	}()

	// Give the goroutine a chance to enter Open and register in-flight
	// before asserting Drain blocks on it.
	time.Sleep(20 * time.Millisecond)

	drainCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Drain(drainCtx); err == nil {
		t.Fatal("Drain returned nil before the in-flight dispatch released its orders")
	}

	close(exch.release)
	wg.Wait()

	if err := d.Drain(context.Background()); err != nil {
		t.Errorf("Drain after completion returned %v, want nil", err)
	}
}

func TestDrainReturnsImmediatelyWithNoInFlightDispatch(t *testing.T) {
	d := NewOrderDispatcher(nil, DispatcherConfig{}, nil)
	if err := d.Drain(context.Background()); err != nil {
		t.Errorf("Drain with nothing in flight = %v, want nil", err)
	}
}
