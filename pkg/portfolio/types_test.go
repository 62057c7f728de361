package portfolio

import (
	"testing"
)

func TestAppendPnLSample_TrimsToRingDepth(t *testing.T) {
	p := Portfolio{}
	for i := 0; i < 5; i++ {
		p.AppendPnLSample(PnLSample{NetDelta: float64(i)}, 3)
	}

	if len(p.PnLHistory) != 3 {
		t.Fatalf("len(PnLHistory) = %d, want 3", len(p.PnLHistory))
	}
	if p.PnLHistory[0].NetDelta != 2 {
		t.Fatalf("oldest retained sample NetDelta = %v, want 2 (samples 0,1 dropped)", p.PnLHistory[0].NetDelta)
	}
	if p.PnLHistory[2].NetDelta != 4 {
		t.Fatalf("newest sample NetDelta = %v, want 4", p.PnLHistory[2].NetDelta)
	}
}

func TestAppendPnLSample_ZeroRingDepthKeepsEverything(t *testing.T) {
	p := Portfolio{}
	for i := 0; i < 10; i++ {
		p.AppendPnLSample(PnLSample{NetDelta: float64(i)}, 0)
	}
	if len(p.PnLHistory) != 10 {
		t.Fatalf("len(PnLHistory) = %d, want 10 when ringDepth is 0", len(p.PnLHistory))
	}
}

func TestNetDelta_ExcludesExpiredLegs(t *testing.T) {
	p := Portfolio{
		Legs: []LegPosition{
			{Instrument: "BTC-30AUG24-60000-C", Kind: "option", Quantity: 2},
			{Instrument: "BTC-30JUL24-58000-C", Kind: "option", Quantity: 5, Expired: true},
		},
	}
	deltas := map[string]float64{
		"BTC-30AUG24-60000-C": 0.5,
		"BTC-30JUL24-58000-C": 0.9,
	}

	got := p.NetDelta(deltas)
	want := 2 * 0.5
	if got != want {
		t.Fatalf("NetDelta() = %v, want %v (expired leg must not contribute)", got, want)
	}
}

func TestNetDelta_MissingDeltaTreatedAsZero(t *testing.T) {
	p := Portfolio{
		Legs: []LegPosition{
			{Instrument: "BTC-PERP", Kind: "perpetual", Quantity: 3},
		},
	}
	got := p.NetDelta(map[string]float64{})
	if got != 0 {
		t.Fatalf("NetDelta() = %v, want 0 for an instrument absent from the deltas map", got)
	}
}
