package hedger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deltahedge/engine/pkg/exchange"
	"github.com/deltahedge/engine/pkg/portfolio"
)

func newTestPortfolio(store portfolio.Store, id string, p portfolio.Portfolio) {
	_, _ = store.Save(id, func(portfolio.Portfolio) (portfolio.Portfolio, error) {
		return p, nil
	})
}

func TestHandleLifecycleEvent_InstrumentExpiredMarksMatchingLeg(t *testing.T) {
	store := portfolio.NewInMemoryStore()
	initial := portfolio.Portfolio{
		ID: "p1",
		Legs: []portfolio.LegPosition{
			{Instrument: "BTC-30AUG26-100000-C", Quantity: 1},
			{Instrument: "ETH-30AUG26-5000-C", Quantity: 1},
		},
	}
	newTestPortfolio(store, "p1", initial)

	h := &Hedger{portfolioID: "p1", store: store}
	h.handleLifecycleEvent(&initial, exchange.LifecycleEvent{
		Kind:   exchange.LifecycleInstrumentExpired,
		Symbol: "BTC-30AUG26-100000-C",
	})

	p, err := store.Load("p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, leg := range p.Legs {
		switch leg.Instrument {
		case "BTC-30AUG26-100000-C":
			if !leg.Expired {
				t.Errorf("expected BTC leg marked expired")
			}
		case "ETH-30AUG26-5000-C":
			if leg.Expired {
				t.Errorf("ETH leg should be untouched")
			}
		}
	}
}

func TestHandleLifecycleEvent_InstrumentExpiredNoMatchingLegIsNoop(t *testing.T) {
	store := portfolio.NewInMemoryStore()
	initial := portfolio.Portfolio{
		ID:   "p1",
		Legs: []portfolio.LegPosition{{Instrument: "ETH-30AUG26-5000-C", Quantity: 1}},
	}
	newTestPortfolio(store, "p1", initial)

	h := &Hedger{portfolioID: "p1", store: store}
	h.handleLifecycleEvent(&initial, exchange.LifecycleEvent{
		Kind:   exchange.LifecycleInstrumentExpired,
		Symbol: "BTC-30AUG26-100000-C",
	})

	p, err := store.Load("p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Legs[0].Expired {
		t.Fatalf("unrelated leg should not be marked expired")
	}
}

func TestHandleLifecycleEvent_FundingSettlementCreditsBalance(t *testing.T) {
	store := portfolio.NewInMemoryStore()
	initial := portfolio.Portfolio{
		ID:      "p1",
		Balance: decimal.NewFromInt(1000),
		Config:  portfolio.HedgerConfig{HedgeInstrument: "BTC-PERPETUAL"},
	}
	newTestPortfolio(store, "p1", initial)

	h := &Hedger{portfolioID: "p1", store: store}
	h.handleLifecycleEvent(&initial, exchange.LifecycleEvent{
		Kind:   exchange.LifecycleFundingSettlement,
		Symbol: "BTC-PERPETUAL",
		Amount: -12.5,
	})

	p, err := store.Load("p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := decimal.NewFromFloat(987.5)
	if !p.Balance.Equal(want) {
		t.Fatalf("balance = %s, want %s", p.Balance, want)
	}
}

func TestHandleLifecycleEvent_FundingSettlementIgnoresOtherInstrument(t *testing.T) {
	store := portfolio.NewInMemoryStore()
	initial := portfolio.Portfolio{
		ID:      "p1",
		Balance: decimal.NewFromInt(1000),
		Config:  portfolio.HedgerConfig{HedgeInstrument: "BTC-PERPETUAL"},
	}
	newTestPortfolio(store, "p1", initial)

	h := &Hedger{portfolioID: "p1", store: store}
	h.handleLifecycleEvent(&initial, exchange.LifecycleEvent{
		Kind:   exchange.LifecycleFundingSettlement,
		Symbol: "ETH-PERPETUAL",
		Amount: -50,
	})

	p, err := store.Load("p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !p.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("balance changed for unrelated instrument: %s", p.Balance)
	}
}
