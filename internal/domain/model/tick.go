package model

// Tick is a merged top-of-book snapshot for the perp and spot instruments of
// a single underlying. It is produced by the market feed whenever either
// side's top level changes and consumed immediately by the edge calculator;
// individual ticks are never persisted.
type Tick struct {
	PerpBid float64
	PerpAsk float64
	SpotBid float64
	SpotAsk float64

	// RecvMs is the wall-clock time the merged tick was assembled, in Unix
	// milliseconds.
	RecvMs int64
	// SendMs is the exchange-reported send time, when available; zero if
	// the venue does not echo one.
	SendMs int64
}

// Valid reports whether the tick satisfies the book-ordering invariant
// required before it can be fed to the edge calculator.
func (t Tick) Valid() bool {
	return t.PerpBid > 0 && t.PerpAsk > 0 && t.SpotBid > 0 && t.SpotAsk > 0 &&
		t.PerpBid < t.PerpAsk && t.SpotBid < t.SpotAsk
}

// MidRef is the four-way mid used as the reference price for bps
// conversions throughout the engine.
func (t Tick) MidRef() float64 {
	return (t.PerpBid + t.PerpAsk + t.SpotBid + t.SpotAsk) / 4
}

// FeeSchedule holds the maker/taker fee rates, in basis points, for both
// legs of the hedge.
type FeeSchedule struct {
	PerpMakerBps float64
	PerpTakerBps float64
	SpotMakerBps float64
	SpotTakerBps float64
}

// RoundTripTakerBps is the dominant-mode round-trip fee constant subtracted
// from raw edges: taker-taker on both legs, doubled for open plus close.
func (f FeeSchedule) RoundTripTakerBps() float64 {
	return 2 * (f.PerpTakerBps + f.SpotTakerBps)
}

// RoundTripMakerBps is the round-trip cost if both legs fill as maker on
// both open and close — used by the opportunity tracker's cost simulation,
// never by the live edge (which always assumes the dominant, taker, mode).
func (f FeeSchedule) RoundTripMakerBps() float64 {
	return 2 * (f.PerpMakerBps + f.SpotMakerBps)
}
