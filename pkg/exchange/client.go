// Package exchange defines the venue-agnostic capability surface the
// hedging engine drives: request/response calls, a subscribable market
// data stream, and idempotent order placement. It depends on nothing
// venue-specific so pkg/hedger and pkg/subscription can be tested against
// a fake; pkg/delta.Service is the concrete implementation against Delta
// Exchange, translating its own wire types into these.
package exchange

import "context"

// StreamHandle identifies a live subscription returned by Subscribe; pass
// it to Unsubscribe to tear it down.
type StreamHandle struct {
	Channel string
	Symbols []string
}

// Greeks holds the risk sensitivities of an option instrument.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// Tick is a normalized market data update delivered over a subscription's
// channel.
type Tick struct {
	Channel    string
	Symbol     string
	MarkPrice  float64
	IndexPrice float64
	MarkIV     float64
	Greeks     *Greeks
	Timestamp  int64
}

// Product carries the instrument metadata needed to size and round orders.
type Product struct {
	Symbol        string
	Kind          string // "option", "future", "perpetual"
	TickSize      string
	LotSize       string // contract increment a hedge order's size must round to
	ContractValue string
	IsInverse     bool // true if the contract is settled/quoted in the underlying rather than USD
}

// OrderRequest describes an order to place. ClientOrderID, when set, is
// used as an idempotency key: a retried call with the same ClientOrderID
// must not result in a duplicate fill.
type OrderRequest struct {
	ProductSymbol string
	Side          string // "buy" or "sell"
	Size          int
	OrderType     string // "limit_order" or "market_order"
	LimitPrice    string
	ReduceOnly    bool
	ClientOrderID string
}

// Order is the venue's record of a placed order.
type Order struct {
	ID            int64
	ClientOrderID string
	ProductSymbol string
	Side          string
	Size          int
	UnfilledSize  int
	State         string
	AvgFillPrice  float64 // zero if the venue hasn't reported a fill price yet
}

// Position is the current position for an instrument.
type Position struct {
	ProductSymbol string
	Size          int
	EntryPrice    string
}

// AccountSummary is the subset of wallet state the hedger and risk guard need.
type AccountSummary struct {
	NetEquity        float64
	AvailableBalance float64
}

// LifecycleKind distinguishes the instrument lifecycle notifications a
// venue pushes outside of the regular tick stream.
type LifecycleKind string

const (
	LifecycleInstrumentExpired LifecycleKind = "instrument_expired"
	LifecycleFundingSettlement LifecycleKind = "funding_settlement"
)

// LifecycleEvent is a venue-pushed notification unrelated to price, that a
// hedger still needs to react to: an option instrument delisting, or a
// funding payment settling against a perpetual position.
type LifecycleEvent struct {
	Kind      LifecycleKind
	Symbol    string
	Amount    float64 // funding payment/charge; zero for instrument expiry
	Timestamp int64
}

// Client is the capability surface pkg/hedger and pkg/subscription depend
// on. It composes a request/response control channel with a streaming
// market data channel and authenticated order placement.
type Client interface {
	// Connect establishes the underlying transport(s) and blocks until
	// ready or ctx is done.
	Connect(ctx context.Context) error

	// Subscribe opens (or joins, if already open) a market data channel
	// for the given symbols and returns a handle plus the tick stream.
	// The returned channel is closed when Unsubscribe is called or the
	// client disconnects.
	Subscribe(ctx context.Context, channel string, symbols []string) (StreamHandle, <-chan Tick, error)

	// Unsubscribe tears down a previously-acquired stream.
	Unsubscribe(handle StreamHandle) error

	// PlaceOrder submits an order.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// CancelOrder cancels a resting order by id.
	CancelOrder(ctx context.Context, productSymbol string, orderID int64) error

	// GetActiveOrders returns every open order on symbol, used by the
	// reconnect reconciliation sweep to converge local state to venue truth.
	GetActiveOrders(ctx context.Context, symbol string) ([]Order, error)

	// GetPosition returns the current position for a symbol, or nil if flat.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// GetAccountSummary returns net equity and available balance.
	GetAccountSummary(ctx context.Context) (*AccountSummary, error)

	// GetProduct looks up instrument metadata (tick size, contract value).
	GetProduct(ctx context.Context, symbol string) (*Product, error)

	// Lifecycle returns a new independent feed of instrument expiry and
	// funding settlement notifications; every caller gets its own channel
	// and filters for the symbols it cares about.
	Lifecycle() <-chan LifecycleEvent

	// Close tears down all subscriptions and the underlying transport.
	Close() error
}
