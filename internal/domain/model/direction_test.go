package model

import "testing"

// The hedge only works if the two legs trade opposite sides of the
// underlying; getting this backwards for either direction means buying
// high and selling low on both legs instead of one of each.
func TestDirectionIsBuyInvariant(t *testing.T) {
	cases := []struct {
		dir          Direction
		wantPerpBuy  bool
		wantSpotBuy  bool
	}{
		{PerpToSpot, false, true},
		{SpotToPerp, true, false},
	}
	for _, c := range cases {
		if got := c.dir.PerpIsBuy(); got != c.wantPerpBuy {
			t.Errorf("%v.PerpIsBuy() = %t, want %t", c.dir, got, c.wantPerpBuy)
		}
		if got := c.dir.SpotIsBuy(); got != c.wantSpotBuy {
			t.Errorf("%v.SpotIsBuy() = %t, want %t", c.dir, got, c.wantSpotBuy)
		}
		if c.dir.PerpIsBuy() == c.dir.SpotIsBuy() {
			t.Errorf("%v: perp and spot legs must trade opposite sides", c.dir)
		}
	}
}

func TestDirectionReverseIsInvolution(t *testing.T) {
	for _, d := range []Direction{PerpToSpot, SpotToPerp} {
		if got := d.Reverse().Reverse(); got != d {
			t.Errorf("Reverse(Reverse(%v)) = %v, want %v", d, got, d)
		}
		if d.Reverse() == d {
			t.Errorf("Reverse(%v) returned the same direction", d)
		}
	}
}
