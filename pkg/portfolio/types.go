// Package portfolio defines the persisted state a DynamicDeltaHedger acts
// on: a portfolio's option/future legs, its hedging configuration, and the
// store abstraction used to load and atomically mutate that state.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegPosition is one option, future, or perpetual leg of a portfolio.
type LegPosition struct {
	Instrument    string          `json:"instrument"`
	Kind          string          `json:"kind"` // "option", "future", "perpetual"
	Quantity      float64         `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	Expired       bool            `json:"expired"`

	// Option-only fields, populated so pkg/pricer can price the leg when
	// the venue's ticker doesn't carry a greeks block for it.
	Strike     float64    `json:"strike,omitempty"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	OptionType string     `json:"option_type,omitempty"` // "call" or "put"

	// IsInverse marks a future/perpetual leg quoted and settled in the
	// underlying rather than USD; only meaningful on the hedge position.
	IsInverse bool `json:"is_inverse,omitempty"`

	// Observability fields. The hedger keeps live marks and deltas in memory
	// and does not write them here on ticks or PnL publishes; the only writer
	// is a hedge fill, which sets the hedge position's LastMark to the fill's
	// average price.
	LastMark  float64 `json:"last_mark,omitempty"`
	LastDelta float64 `json:"last_delta,omitempty"`
	LastIV    float64 `json:"last_iv,omitempty"`
}

// HedgerConfig is the per-portfolio tuning a DynamicDeltaHedger runs with.
// The config.Config hedging values are not applied to it. A zero
// PriceCheckInterval, MinTriggerDelta or CooldownMs falls back to the
// hedger's built-in 30s, 0.01 or 500ms; every other field is used as
// stored, zero included, and StopTimeout is not read by the hedger or the
// manager.
type HedgerConfig struct {
	TargetDelta        float64       `json:"target_delta"`
	MinTriggerDelta    float64       `json:"min_trigger_delta"`
	StepMode           string        `json:"step_mode"` // "absolute" or "percentage"
	StepSize           float64       `json:"step_size"`
	PriceCheckInterval time.Duration `json:"price_check_interval"`
	MinHedgeUSD        float64       `json:"min_hedge_usd"`
	CooldownMs         time.Duration `json:"cooldown_ms"`
	StopTimeout        time.Duration `json:"stop_timeout"`
	HedgeInstrument    string        `json:"hedge_instrument"` // perpetual symbol used to flatten delta
}

// PnLSample is one point in a portfolio's realized/unrealized P&L ring buffer.
type PnLSample struct {
	Timestamp     time.Time       `json:"timestamp"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	NetDelta      float64         `json:"net_delta"`
}

// Portfolio is the unit of hedging: a set of legs, a cash balance, and the
// configuration governing how its net delta is hedged.
type Portfolio struct {
	ID      string          `json:"id"`
	Legs    []LegPosition   `json:"legs"`
	Balance decimal.Decimal `json:"balance"`
	Config  HedgerConfig    `json:"config"`

	// HedgePosition is the hedger's own position on Config.HedgeInstrument,
	// tracked separately from the option Legs it offsets.
	HedgePosition *LegPosition `json:"hedge_position,omitempty"`

	PnLHistory []PnLSample `json:"pnl_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// snapshot is the versioned on-disk envelope FileStore persists.
type snapshot struct {
	Schema    int       `json:"schema"`
	Portfolio Portfolio `json:"portfolio"`
}

const currentSchema = 1

// AppendPnLSample appends a sample, trimming the history to ringDepth
// entries (oldest dropped first).
func (p *Portfolio) AppendPnLSample(sample PnLSample, ringDepth int) {
	p.PnLHistory = append(p.PnLHistory, sample)
	if ringDepth > 0 && len(p.PnLHistory) > ringDepth {
		p.PnLHistory = p.PnLHistory[len(p.PnLHistory)-ringDepth:]
	}
}

// NetDelta sums each non-expired leg's quantity-weighted delta. Callers
// supply the latest per-instrument delta (from pricer.PriceAndDelta or a
// venue-reported greek); expired legs are excluded per instrument expiry
// handling.
func (p *Portfolio) NetDelta(deltas map[string]float64) float64 {
	var net float64
	for _, leg := range p.Legs {
		if leg.Expired {
			continue
		}
		net += leg.Quantity * deltas[leg.Instrument]
	}
	return net
}
