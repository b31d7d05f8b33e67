package service

import "hyperarb/internal/domain/model"

// EdgeCalculator converts a tick and a fee schedule into the two signed
// directional edges. It is pure and stateless: the same tick and fee
// schedule always produce the same Edge.
type EdgeCalculator struct {
	fees model.FeeSchedule
}

func NewEdgeCalculator(fees model.FeeSchedule) *EdgeCalculator {
	return &EdgeCalculator{fees: fees}
}

// Compute implements spec's edge formulas exactly:
//
//	mid_ref     = (perp_bid + perp_ask + spot_bid + spot_ask) / 4
//	edge_ps_bps = 1e4*(perp_bid-spot_ask)/mid_ref - fees_bps_roundtrip
//	edge_sp_bps = 1e4*(spot_bid-perp_ask)/mid_ref - fees_bps_roundtrip
func (c *EdgeCalculator) Compute(t model.Tick) model.Edge {
	mid := t.MidRef()
	fee := c.fees.RoundTripTakerBps()

	var ps, sp float64
	if mid > 0 {
		ps = 1e4*(t.PerpBid-t.SpotAsk)/mid - fee
		sp = 1e4*(t.SpotBid-t.PerpAsk)/mid - fee
	}

	return model.Edge{
		PerpToSpotBps: ps,
		SpotToPerpBps: sp,
		MidRef:        mid,
		Ts:            t.RecvMs,
	}
}
