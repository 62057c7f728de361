// Package hedger implements the DynamicDeltaHedger state machine: it
// watches a portfolio's net delta against live market ticks and places
// offsetting hedge orders on a perpetual or future instrument to keep
// the net delta within its configured band.
package hedger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltahedge/engine/pkg/delta"
	"github.com/deltahedge/engine/pkg/eventbus"
	"github.com/deltahedge/engine/pkg/exchange"
	"github.com/deltahedge/engine/pkg/logger"
	"github.com/deltahedge/engine/pkg/portfolio"
	"github.com/deltahedge/engine/pkg/pricer"
	"github.com/deltahedge/engine/pkg/subscription"
)

// errNoMatchingLeg signals that a lifecycle event named an instrument this
// portfolio has no leg in (or isn't its hedge instrument); the mutator
// aborts the write rather than persisting a no-op snapshot.
var errNoMatchingLeg = errors.New("hedger: no matching leg for lifecycle event")

// maxHedgeRetries bounds the retry/backoff loop around a single hedge
// order submission: 1 initial attempt plus this many retries, each waiting
// 250ms*2^k before trying again.
const maxHedgeRetries = 5

// riskFreeRate is a flat rate used when pricing option legs the venue's
// ticker doesn't already carry a greeks block for. Delta Exchange options
// settle in a matter of days to months, so the rate's effect on delta is
// small enough that a fixed value is an acceptable simplification.
const riskFreeRate = 0.0

// State is a DynamicDeltaHedger's lifecycle stage.
type State string

const (
	StateIdle     State = "idle"
	StateWarming  State = "warming"
	StateArmed    State = "armed"
	StateHedging  State = "hedging"
	StateCooldown State = "cooldown"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// orderOutcome classifies the result of a single hedge order submission
// attempt so evaluateAndHedge can decide between Cooldown, a retry, or Failed.
type orderOutcome int

const (
	outcomeFilled orderOutcome = iota
	outcomePartial
	outcomeRejectedRetryable
	outcomeRejectedNonRetryable
	outcomeExhausted // every retry used up against a retryable transport error
)

// Status is a snapshot of a hedger's current lifecycle state, exposed to
// HedgingManager and health reporting.
type Status struct {
	PortfolioID       string
	State             State
	NetDelta          float64
	LastHedgedDelta   float64
	LastTickTS        time.Time
	OrdersSent        int
	Fills             int
	Errors            int
	ConsecutiveErrors int
	LastError         string
	UpdatedAt         time.Time
}

// Hedger drives one portfolio's delta-hedging loop. Each Hedger owns
// exactly one goroutine (started by Run) and communicates lifecycle
// changes only through Status()/Stop(); all mutable state is confined to
// that goroutine.
type Hedger struct {
	portfolioID string
	client      exchange.Client
	subs        *subscription.Manager
	store       portfolio.Store
	log         *slog.Logger
	bus         *eventbus.Bus
	pricer      pricer.Pricer

	pnlRingDepth       int
	pnlPublishInterval time.Duration

	stopCh      chan struct{}
	pauseCh     chan string
	reconcileCh chan string
	doneCh      chan struct{}

	statusCh  chan Status // buffered 1, always holds the latest snapshot
	lastState State

	// loop-confined counters, read only from within Run's goroutine
	lastHedgedDelta   float64
	consecutiveErrors int
	ordersSent        int
	fills             int
	errorsCount       int
	seq               uint64
}

// hedgerStateChanged is the payload published on eventbus topic
// "hedger_state_changed" whenever a hedger's State transitions.
type hedgerStateChanged struct {
	PortfolioID string
	From        State
	To          State
	Reason      string
}

// New creates a hedger for portfolioID. Run must be called to start it.
// log may be nil, in which case hedge/reconciliation events are dropped
// (only lifecycle transitions still go to the standard logger). bus may
// be nil to disable event publishing (e.g. in tests). prc may be nil to
// disable pricing legs the venue's ticker doesn't carry greeks for (they're
// simply excluded from net_delta until the venue reports one). pnlRingDepth
// and pnlPublishInterval control how often PnL samples are appended to the
// portfolio's ring buffer and broadcast as "pnl_update".
func New(portfolioID string, client exchange.Client, subs *subscription.Manager, store portfolio.Store, log *slog.Logger, bus *eventbus.Bus, prc pricer.Pricer, pnlRingDepth int, pnlPublishInterval time.Duration) *Hedger {
	h := &Hedger{
		portfolioID:        portfolioID,
		client:             client,
		subs:               subs,
		store:              store,
		log:                log,
		bus:                bus,
		pricer:             prc,
		pnlRingDepth:       pnlRingDepth,
		pnlPublishInterval: pnlPublishInterval,
		stopCh:             make(chan struct{}),
		pauseCh:            make(chan string),
		reconcileCh:        make(chan string),
		doneCh:             make(chan struct{}),
		statusCh:           make(chan Status, 1),
	}
	h.publish(Status{PortfolioID: portfolioID, State: StateIdle, UpdatedAt: time.Now()})
	return h
}

func (h *Hedger) publish(s Status) {
	select {
	case <-h.statusCh:
	default:
	}
	h.statusCh <- s

	if h.bus != nil && s.State != h.lastState {
		h.bus.Publish("hedger_state_changed", hedgerStateChanged{
			PortfolioID: h.portfolioID,
			From:        h.lastState,
			To:          s.State,
			Reason:      s.LastError,
		})
	}
	h.lastState = s.State
}

// snapshot builds a Status from the hedger's current counters, the
// arguments that vary call to call, and a fresh timestamp.
func (h *Hedger) snapshot(state State, netDelta float64, lastError string) Status {
	return Status{
		PortfolioID:       h.portfolioID,
		State:             state,
		NetDelta:          netDelta,
		LastHedgedDelta:   h.lastHedgedDelta,
		OrdersSent:        h.ordersSent,
		Fills:             h.fills,
		Errors:            h.errorsCount,
		ConsecutiveErrors: h.consecutiveErrors,
		LastError:         lastError,
		UpdatedAt:         time.Now(),
	}
}

// publishPnL appends a PnL sample to the portfolio's ring buffer and
// broadcasts the new tail on "pnl_update"; a nil bus makes this a
// store-only append with no broadcast.
func (h *Hedger) publishPnL(netDelta float64) {
	updated, err := h.store.Save(h.portfolioID, func(p portfolio.Portfolio) (portfolio.Portfolio, error) {
		p.AppendPnLSample(portfolio.PnLSample{
			Timestamp: time.Now(),
			NetDelta:  netDelta,
		}, h.pnlRingDepth)
		return p, nil
	})
	if err != nil {
		log.Printf("hedger %s: failed to append pnl sample: %v", h.portfolioID, err)
		return
	}
	if h.bus == nil || len(updated.PnLHistory) == 0 {
		return
	}
	h.bus.Publish("pnl_update", struct {
		PortfolioID string
		History     []portfolio.PnLSample
	}{
		PortfolioID: h.portfolioID,
		History:     updated.PnLHistory[len(updated.PnLHistory)-1:],
	})
}

// Status returns the most recently published lifecycle snapshot.
func (h *Hedger) Status() Status {
	s := <-h.statusCh
	h.statusCh <- s
	return s
}

// Stop requests the hedger's loop to exit and blocks until it has, or
// ctx is done first.
func (h *Hedger) Stop(ctx context.Context) error {
	select {
	case <-h.doneCh:
		return nil
	default:
	}
	close(h.stopCh)
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause requests the hedger's loop to exit into StateFailed with reason
// as its LastError, rather than the clean StateStopped that Stop
// produces; the risk guard's circuit breaker uses this to distinguish an
// operator-requested stop from a drawdown-triggered halt.
func (h *Hedger) Pause(ctx context.Context, reason string) error {
	select {
	case <-h.doneCh:
		return nil
	default:
	}
	select {
	case h.pauseCh <- reason:
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile requests that the hedger re-sweep its hedge instrument's open
// orders and position against venue truth, without tearing down the
// running loop. Called after the exchange client signals a reconnect, so
// a missed fill during the outage can't silently drift local state from
// what the venue actually holds.
func (h *Hedger) Reconcile(ctx context.Context, reason string) error {
	select {
	case <-h.doneCh:
		return nil
	default:
	}
	select {
	case h.reconcileCh <- reason:
		return nil
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the hedger's select loop: {tick, lifecycle event, reconcile
// request, pnl timer, price-check timer, cooldown timer, stop}. It owns
// all of the hedger's mutable state and must be run in its own goroutine;
// Run returns once Stop has been called or an unrecoverable error moves
// the hedger to Failed.
func (h *Hedger) Run(ctx context.Context) {
	defer close(h.doneCh)

	h.publish(h.snapshot(StateWarming, 0, ""))

	p, err := h.store.Load(h.portfolioID)
	if err != nil {
		h.fail(fmt.Errorf("load portfolio: %w", err))
		return
	}

	stream, err := h.subs.Acquire(ctx, "v2/ticker", hedgeInstruments(p))
	if err != nil {
		h.fail(fmt.Errorf("acquire market stream: %w", err))
		return
	}
	defer h.subs.Release("v2/ticker", hedgeInstruments(p), stream)

	var hedgeProduct *exchange.Product
	if p.Config.HedgeInstrument != "" {
		if prod, perr := h.client.GetProduct(ctx, p.Config.HedgeInstrument); perr == nil {
			hedgeProduct = prod
		} else {
			log.Printf("hedger %s: failed to look up hedge instrument metadata: %v", h.portfolioID, perr)
		}
	}

	lastDelta := make(map[string]float64)
	lastMark := make(map[string]float64)
	lastIndex := make(map[string]float64)

	checkInterval := p.Config.PriceCheckInterval
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	priceTimer := time.NewTicker(checkInterval)
	defer priceTimer.Stop()

	pnlInterval := h.pnlPublishInterval
	if pnlInterval <= 0 {
		pnlInterval = time.Second
	}
	pnlTimer := time.NewTicker(pnlInterval)
	defer pnlTimer.Stop()

	lifecycle := h.client.Lifecycle()

	var cooldownCh <-chan time.Time
	warming := true

	for {
		select {
		case <-h.stopCh:
			h.publish(h.snapshot(StateStopped, h.netDelta(p, lastDelta, lastMark), ""))
			return

		case reason := <-h.pauseCh:
			h.publish(h.snapshot(StateFailed, h.netDelta(p, lastDelta, lastMark), reason))
			return

		case reason := <-h.reconcileCh:
			h.runReconciliation(ctx, &p, reason)
			warming = true
			h.publish(h.snapshot(StateWarming, h.netDelta(p, lastDelta, lastMark), ""))

		case tick, ok := <-stream.Ticks:
			if !ok {
				h.fail(fmt.Errorf("market stream closed unexpectedly"))
				return
			}
			h.observeTick(&p, tick, lastDelta, lastMark, lastIndex)

			if warming {
				if h.allLegsPriced(p, lastDelta, lastMark) {
					warming = false
					h.publish(h.snapshot(StateArmed, h.netDelta(p, lastDelta, lastMark), ""))
				}
				continue
			}
			if cooldownCh != nil {
				continue // still cooling down from the last hedge
			}

			netDelta := h.netDelta(p, lastDelta, lastMark)
			if !h.shouldHedge(p.Config, netDelta, h.underlyingNotional(p, lastMark, lastIndex)) {
				continue
			}
			next, terminal := h.evaluateAndHedge(ctx, &p, netDelta, hedgeProduct, lastMark)
			if terminal {
				return
			}
			cooldownCh = next

		case warn, ok := <-stream.Warnings:
			if ok {
				log.Printf("hedger %s: stale tick warning on %s", h.portfolioID, warn.Channel)
			}

		case ev, ok := <-lifecycle:
			if ok {
				h.handleLifecycleEvent(&p, ev)
			}

		case <-pnlTimer.C:
			h.publishPnL(h.netDelta(p, lastDelta, lastMark))

		case <-priceTimer.C:
			if warming || cooldownCh != nil {
				continue
			}
			netDelta := h.netDelta(p, lastDelta, lastMark)
			if !h.shouldHedge(p.Config, netDelta, h.underlyingNotional(p, lastMark, lastIndex)) {
				h.publish(h.snapshot(StateArmed, netDelta, ""))
				continue
			}
			next, terminal := h.evaluateAndHedge(ctx, &p, netDelta, hedgeProduct, lastMark)
			if terminal {
				return
			}
			cooldownCh = next

		case <-cooldownCh:
			cooldownCh = nil
			h.publish(h.snapshot(StateArmed, h.netDelta(p, lastDelta, lastMark), ""))
		}
	}
}

// observeTick folds a ticker update into the per-instrument mark/index/delta
// maps. When the venue's own greeks block is absent (common for a thin or
// newly-listed strike) it falls back to h.pricer, when the leg carries
// enough option metadata (strike/expiry/option type) and the tick carries a
// usable mark IV to price from.
func (h *Hedger) observeTick(p *portfolio.Portfolio, tick exchange.Tick, lastDelta, lastMark, lastIndex map[string]float64) {
	lastMark[tick.Symbol] = tick.MarkPrice
	if tick.IndexPrice > 0 {
		lastIndex[tick.Symbol] = tick.IndexPrice
	}

	if tick.Greeks != nil {
		lastDelta[tick.Symbol] = tick.Greeks.Delta
		return
	}
	if h.pricer == nil {
		return
	}

	leg := findLeg(*p, tick.Symbol)
	if leg == nil || leg.Kind != "option" || leg.Expired {
		return
	}
	if leg.Strike <= 0 || leg.Expiry == nil || tick.IndexPrice <= 0 || tick.MarkIV <= 0 {
		return
	}

	result, err := h.pricer.Price(tick.IndexPrice, leg.Strike, riskFreeRate, tick.MarkIV, *leg.Expiry, time.Now(), optionTypeOf(leg.OptionType))
	if err != nil {
		return
	}
	lastDelta[tick.Symbol] = result.Delta.Delta
}

func findLeg(p portfolio.Portfolio, instrument string) *portfolio.LegPosition {
	for i := range p.Legs {
		if p.Legs[i].Instrument == instrument {
			return &p.Legs[i]
		}
	}
	return nil
}

func optionTypeOf(s string) delta.OptionType {
	if s == string(delta.OptionPut) {
		return delta.OptionPut
	}
	return delta.OptionCall
}

// allLegsPriced reports whether every non-expired leg has a known delta and
// the hedge instrument has a known mark, i.e. it's safe to leave Warming.
func (h *Hedger) allLegsPriced(p portfolio.Portfolio, lastDelta, lastMark map[string]float64) bool {
	for _, leg := range p.Legs {
		if leg.Expired {
			continue
		}
		if _, ok := lastDelta[leg.Instrument]; !ok {
			return false
		}
	}
	if p.Config.HedgeInstrument == "" {
		return true
	}
	_, ok := lastMark[p.Config.HedgeInstrument]
	return ok
}

// netDelta is the portfolio's option legs' net delta plus the hedge
// position's own delta contribution: 1 per contract for a linear
// perpetual/future, -1/mark for an inverse one. Without this term a filled
// hedge never shows up in net_delta and the hedger re-hedges the same
// drift on every subsequent tick.
func (h *Hedger) netDelta(p portfolio.Portfolio, lastDelta, lastMark map[string]float64) float64 {
	net := p.NetDelta(lastDelta)
	hp := p.HedgePosition
	if hp == nil || hp.Expired || hp.Quantity == 0 {
		return net
	}
	if hp.IsInverse {
		mark := lastMark[hp.Instrument]
		if mark > 0 {
			net += hp.Quantity * (-1 / mark)
		}
		return net
	}
	net += hp.Quantity
	return net
}

// underlyingNotional sums each non-expired leg's notional in units of its
// underlying, used by percentage step mode. Zero when step mode isn't
// percentage, since computing it needs an index price per instrument.
func (h *Hedger) underlyingNotional(p portfolio.Portfolio, lastMark, lastIndex map[string]float64) float64 {
	if p.Config.StepMode != "percentage" {
		return 0
	}
	var notional float64
	for _, leg := range p.Legs {
		if leg.Expired {
			continue
		}
		mark := lastMark[leg.Instrument]
		idx := lastIndex[leg.Instrument]
		if mark <= 0 || idx <= 0 {
			continue
		}
		notional += leg.Quantity * mark / idx
	}
	return notional
}

// handleLifecycleEvent applies a venue-pushed instrument expiry or funding
// settlement notification to the persisted portfolio, and folds the
// persisted result back into p so the caller's in-memory copy never goes
// stale relative to what was just written. Events for instruments this
// portfolio holds no leg in are ignored; every other hedger watching the
// same shared feed does its own filtering.
func (h *Hedger) handleLifecycleEvent(p *portfolio.Portfolio, ev exchange.LifecycleEvent) {
	switch ev.Kind {
	case exchange.LifecycleInstrumentExpired:
		updated, err := h.store.Save(h.portfolioID, func(cur portfolio.Portfolio) (portfolio.Portfolio, error) {
			found := false
			for i := range cur.Legs {
				if cur.Legs[i].Instrument == ev.Symbol && !cur.Legs[i].Expired {
					cur.Legs[i].Expired = true
					found = true
				}
			}
			if !found {
				return cur, errNoMatchingLeg
			}
			return cur, nil
		})
		if err != nil {
			if err != errNoMatchingLeg {
				log.Printf("hedger %s: failed to record instrument expiry for %s: %v", h.portfolioID, ev.Symbol, err)
			}
			return
		}
		*p = updated
		if h.log != nil {
			h.log.Info("portfolio_updated",
				"portfolio_id", h.portfolioID,
				"reason", "instrument_expired",
				"instrument", ev.Symbol,
			)
		}

	case exchange.LifecycleFundingSettlement:
		isHedgeInstrument := false
		updated, err := h.store.Save(h.portfolioID, func(cur portfolio.Portfolio) (portfolio.Portfolio, error) {
			if cur.Config.HedgeInstrument != ev.Symbol {
				return cur, errNoMatchingLeg
			}
			isHedgeInstrument = true
			cur.Balance = cur.Balance.Add(decimal.NewFromFloat(ev.Amount))
			return cur, nil
		})
		if err != nil {
			if err != errNoMatchingLeg {
				log.Printf("hedger %s: failed to record funding settlement for %s: %v", h.portfolioID, ev.Symbol, err)
			}
			return
		}
		if isHedgeInstrument {
			*p = updated
			if h.log != nil {
				h.log.Info("portfolio_updated",
					"portfolio_id", h.portfolioID,
					"reason", "funding_settlement",
					"instrument", ev.Symbol,
					"amount", ev.Amount,
					"balance", updated.Balance.String(),
				)
			}
		}
	}
}

func (h *Hedger) fail(err error) {
	h.publish(h.snapshot(StateFailed, 0, err.Error()))
	log.Printf("hedger %s: failed: %v", h.portfolioID, err)
}

func hedgeInstruments(p portfolio.Portfolio) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, leg := range p.Legs {
		if leg.Expired {
			continue
		}
		if _, ok := seen[leg.Instrument]; ok {
			continue
		}
		seen[leg.Instrument] = struct{}{}
		out = append(out, leg.Instrument)
	}
	if hi := p.Config.HedgeInstrument; hi != "" {
		if _, ok := seen[hi]; !ok {
			out = append(out, hi)
		}
	}
	return out
}

// stepSize is the configured hedge step in delta units: step_size directly
// in absolute mode, step_size*|underlying_notional| in percentage mode.
func (h *Hedger) stepSize(cfg portfolio.HedgerConfig, underlyingNotional float64) float64 {
	step := cfg.StepSize
	if cfg.StepMode == "percentage" {
		if underlyingNotional < 0 {
			underlyingNotional = -underlyingNotional
		}
		step = cfg.StepSize * underlyingNotional
	}
	if step < 0 {
		step = -step
	}
	return step
}

// shouldHedge applies the trigger rule: the current deviation from target
// must clear max(min_trigger_delta, step), AND the deviation must have
// moved by at least a full step since the last hedge (hysteresis), so a
// delta oscillating just above and below the trigger band doesn't cause a
// hedge order on every tick.
func (h *Hedger) shouldHedge(cfg portfolio.HedgerConfig, netDelta float64, underlyingNotional float64) bool {
	target := cfg.TargetDelta
	trigger := cfg.MinTriggerDelta
	if trigger <= 0 {
		trigger = 0.01
	}
	step := h.stepSize(cfg, underlyingNotional)
	threshold := trigger
	if step > threshold {
		threshold = step
	}

	diff := netDelta - target
	if diff < 0 {
		diff = -diff
	}
	if diff < threshold {
		return false
	}

	drift := (netDelta - target) - (h.lastHedgedDelta - target)
	if drift < 0 {
		drift = -drift
	}
	return drift >= step || step == 0
}

// hedgeSize computes the signed contract quantity to submit: hedge_qty =
// -diff (the order that flattens the deviation), truncated toward zero to a
// whole number of lot_size increments via the venue's tick-rounding helper,
// then zeroed out if the resulting order's notional wouldn't clear
// min_hedge_usd.
func (h *Hedger) hedgeSize(cfg portfolio.HedgerConfig, netDelta float64, lotSize string, currentPrice float64) int {
	diff := netDelta - cfg.TargetDelta
	hedgeQty := -diff
	if hedgeQty == 0 {
		return 0
	}

	sign := 1.0
	if hedgeQty < 0 {
		sign = -1
		hedgeQty = -hedgeQty
	}

	rounded := hedgeQty
	if lotSize != "" {
		if s, err := delta.RoundToTickSizeWithDirection(hedgeQty, lotSize, "down"); err == nil {
			if v, perr := strconv.ParseFloat(s, 64); perr == nil {
				rounded = v
			}
		}
	}

	lots := int(rounded)
	if lots == 0 {
		return 0
	}

	if cfg.MinHedgeUSD > 0 && currentPrice > 0 {
		notional := float64(lots) * currentPrice
		if notional < cfg.MinHedgeUSD {
			return 0
		}
	}

	return int(sign) * lots
}

// evaluateAndHedge sizes and submits a hedge order for netDelta, persists
// the outcome, and returns the cooldown timer to wait out before the next
// evaluation, or (nil, true) if the hedger has moved to Failed and Run
// must return.
func (h *Hedger) evaluateAndHedge(ctx context.Context, p *portfolio.Portfolio, netDelta float64, product *exchange.Product, lastMark map[string]float64) (<-chan time.Time, bool) {
	h.publish(h.snapshot(StateHedging, netDelta, ""))

	if len(p.Config.HedgeInstrument) == 0 {
		h.publish(h.snapshot(StateFailed, netDelta, "no hedge instrument configured"))
		return nil, true
	}

	lotSize := "1"
	if product != nil && product.LotSize != "" {
		lotSize = product.LotSize
	}
	currentPrice := lastMark[p.Config.HedgeInstrument]

	qty := h.hedgeSize(p.Config, netDelta, lotSize, currentPrice)
	if qty == 0 {
		h.publish(h.snapshot(StateArmed, netDelta, ""))
		return nil, false
	}

	order, outcome, err := h.placeHedgeWithRetry(ctx, p, qty, netDelta)

	switch outcome {
	case outcomeFilled, outcomePartial:
		h.consecutiveErrors = 0
		h.fills++
		h.applyFill(p, order, qty, currentPrice)
		h.lastHedgedDelta = netDelta

		cooldown := p.Config.CooldownMs
		if cooldown <= 0 {
			cooldown = 500 * time.Millisecond
		}
		timer := time.NewTimer(cooldown)
		h.publish(h.snapshot(StateCooldown, netDelta, ""))
		return timer.C, false

	case outcomeRejectedRetryable:
		h.errorsCount++
		h.consecutiveErrors++
		reason := errString(err)
		log.Printf("hedger %s: hedge order rejected (retryable): %v", h.portfolioID, err)
		if h.consecutiveErrors < 3 {
			h.publish(h.snapshot(StateArmed, netDelta, reason))
			return nil, false
		}
		h.publish(h.snapshot(StateFailed, netDelta, reason))
		return nil, true

	case outcomeExhausted:
		h.errorsCount++
		reason := errString(err)
		log.Printf("hedger %s: hedge order retries exhausted: %v", h.portfolioID, err)
		h.publish(h.snapshot(StateArmed, netDelta, reason))
		return nil, false

	default: // outcomeRejectedNonRetryable
		h.errorsCount++
		h.consecutiveErrors++
		reason := errString(err)
		log.Printf("hedger %s: hedge order failed: %v", h.portfolioID, err)
		h.publish(h.snapshot(StateFailed, netDelta, reason))
		return nil, true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// placeHedgeWithRetry submits a market order sized qty contracts on the
// hedge instrument, retrying transport failures with a 250ms*2^k backoff
// up to maxHedgeRetries times. A venue rejection (accepted request, order
// itself refused) is classified and returned immediately without retrying.
func (h *Hedger) placeHedgeWithRetry(ctx context.Context, p *portfolio.Portfolio, qty int, netDeltaBefore float64) (*exchange.Order, orderOutcome, error) {
	side := "buy"
	size := qty
	if qty < 0 {
		side = "sell"
		size = -qty
	}

	var lastErr error
	for attempt := 0; attempt <= maxHedgeRetries; attempt++ {
		if attempt > 0 {
			backoff := 250 * time.Millisecond * time.Duration(int64(1)<<uint(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, outcomeExhausted, ctx.Err()
			}
		}

		h.seq++
		label := fmt.Sprintf("h:%s:%d", h.portfolioID, h.seq)
		h.ordersSent++

		order, err := h.client.PlaceOrder(ctx, &exchange.OrderRequest{
			ProductSymbol: p.Config.HedgeInstrument,
			Side:          side,
			Size:          size,
			OrderType:     "market_order",
			ClientOrderID: label,
		})
		if err == nil {
			h.logHedgePlaced(p, side, size, netDeltaBefore, label)
			return order, classifyOutcome(order), nil
		}
		lastErr = err

		if rejected, ok := err.(*exchange.RejectedError); ok {
			if rejected.Retryable {
				return nil, outcomeRejectedRetryable, err
			}
			return nil, outcomeRejectedNonRetryable, err
		}
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, outcomeRejectedNonRetryable, authErr
		}
		// exchange.TransportError and anything else unrecognized: retry.
	}
	return nil, outcomeExhausted, lastErr
}

func (h *Hedger) logHedgePlaced(p *portfolio.Portfolio, side string, size int, netDeltaBefore float64, label string) {
	if h.log == nil {
		return
	}
	ev := logger.HedgeEvent{
		PortfolioID:    h.portfolioID,
		Instrument:     p.Config.HedgeInstrument,
		Side:           side,
		Quantity:       float64(size),
		NetDeltaBefore: netDeltaBefore,
		Label:          label,
		Timestamp:      time.Now(),
	}
	h.log.Info("hedge_placed",
		"portfolio_id", ev.PortfolioID,
		"instrument", ev.Instrument,
		"side", ev.Side,
		"quantity", ev.Quantity,
		"net_delta_before", ev.NetDeltaBefore,
		"label", ev.Label,
	)
}

// classifyOutcome infers Filled/PartialFill from the order's reported
// unfilled size; a market order the venue accepted without error is
// expected to fill immediately, so anything still open counts as partial.
func classifyOutcome(order *exchange.Order) orderOutcome {
	if order == nil {
		return outcomeRejectedRetryable
	}
	if order.UnfilledSize <= 0 {
		return outcomeFilled
	}
	if order.UnfilledSize < order.Size {
		return outcomePartial
	}
	if order.State == "filled" {
		return outcomeFilled
	}
	return outcomePartial
}

// applyFill persists the hedge order's fill against the portfolio's
// hedge position: quantity moves by the signed filled size, and balance
// moves by the notional (inverse contracts settle in the underlying,
// linear contracts settle in USD).
func (h *Hedger) applyFill(p *portfolio.Portfolio, order *exchange.Order, signedQty int, fallbackPrice float64) {
	if order == nil {
		return
	}
	filled := order.Size - order.UnfilledSize
	if filled <= 0 {
		filled = order.Size
	}
	signedFilled := filled
	if signedQty < 0 {
		signedFilled = -filled
	}

	avgPrice := order.AvgFillPrice
	if avgPrice == 0 {
		avgPrice = fallbackPrice
	}

	wasInverse := p.HedgePosition != nil && p.HedgePosition.IsInverse

	updated, err := h.store.Save(h.portfolioID, func(cur portfolio.Portfolio) (portfolio.Portfolio, error) {
		hp := cur.HedgePosition
		if hp == nil {
			hp = &portfolio.LegPosition{
				Instrument: p.Config.HedgeInstrument,
				Kind:       "perpetual",
				IsInverse:  wasInverse,
			}
		}
		hp.Quantity += float64(signedFilled)
		if avgPrice > 0 {
			hp.LastMark = avgPrice
		}
		cur.HedgePosition = hp

		if avgPrice > 0 {
			delta := decimal.NewFromFloat(avgPrice).Mul(decimal.NewFromFloat(float64(signedFilled)))
			if hp.IsInverse && avgPrice != 0 {
				cur.Balance = cur.Balance.Add(decimal.NewFromFloat(float64(signedFilled) / avgPrice))
			} else {
				cur.Balance = cur.Balance.Sub(delta)
			}
		}
		return cur, nil
	})
	if err != nil {
		log.Printf("hedger %s: failed to persist hedge fill: %v", h.portfolioID, err)
		return
	}
	*p = updated
}

// runReconciliation sweeps the hedge instrument's open orders and position
// against venue truth, logging any divergence from the persisted
// HedgePosition snapshot. Called on Reconcile, before the hedger resumes
// normal tick handling, so a fill missed during a disconnect doesn't leave
// net_delta silently wrong.
func (h *Hedger) runReconciliation(ctx context.Context, p *portfolio.Portfolio, reason string) {
	if p.Config.HedgeInstrument == "" {
		return
	}

	orders, err := h.client.GetActiveOrders(ctx, p.Config.HedgeInstrument)
	if err != nil {
		log.Printf("hedger %s: reconciliation failed to list active orders: %v", h.portfolioID, err)
		return
	}
	position, err := h.client.GetPosition(ctx, p.Config.HedgeInstrument)
	if err != nil {
		log.Printf("hedger %s: reconciliation failed to fetch position: %v", h.portfolioID, err)
		return
	}

	venueQty := 0.0
	if position != nil {
		venueQty = float64(position.Size)
	}
	localQty := 0.0
	if p.HedgePosition != nil {
		localQty = p.HedgePosition.Quantity
	}
	diverged := venueQty != localQty

	if diverged {
		updated, err := h.store.Save(h.portfolioID, func(cur portfolio.Portfolio) (portfolio.Portfolio, error) {
			hp := cur.HedgePosition
			if hp == nil {
				hp = &portfolio.LegPosition{Instrument: p.Config.HedgeInstrument, Kind: "perpetual"}
			}
			hp.Quantity = venueQty
			cur.HedgePosition = hp
			return cur, nil
		})
		if err != nil {
			log.Printf("hedger %s: reconciliation failed to persist venue position: %v", h.portfolioID, err)
		} else {
			*p = updated
		}
	}

	if h.log != nil {
		h.log.Info("reconciliation_swept",
			"portfolio_id", h.portfolioID,
			"reason", reason,
			"orders_checked", len(orders),
			"diverged", diverged,
		)
	}
}
