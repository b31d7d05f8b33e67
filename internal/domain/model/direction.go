package model

// Direction is the tagged variant governing which leg goes long and which
// goes short. This is the single most load-bearing contract in the engine:
// getting it backwards means buying high and selling low on every trade.
type Direction int

const (
	// PerpToSpot: perp is relatively expensive (edge_ps_bps > 0) — short
	// perp, buy spot.
	PerpToSpot Direction = iota
	// SpotToPerp: spot is relatively expensive (edge_sp_bps > 0) — sell
	// spot, long perp.
	SpotToPerp
)

func (d Direction) String() string {
	switch d {
	case PerpToSpot:
		return "perp->spot"
	case SpotToPerp:
		return "spot->perp"
	default:
		return "unknown"
	}
}

// Reverse returns the direction used to close a position opened in d.
func (d Direction) Reverse() Direction {
	if d == PerpToSpot {
		return SpotToPerp
	}
	return PerpToSpot
}

// PerpIsBuy reports whether the perp leg of an *open* in direction d is a
// buy. PerpToSpot opens short perp (sell); SpotToPerp opens long perp (buy).
func (d Direction) PerpIsBuy() bool {
	return d == SpotToPerp
}

// SpotIsBuy reports whether the spot leg of an *open* in direction d is a
// buy. Always the opposite side of the perp leg: the hedge only works if
// one leg buys the underlying and the other sells it.
func (d Direction) SpotIsBuy() bool {
	return !d.PerpIsBuy()
}
