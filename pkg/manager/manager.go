// Package manager implements HedgingManager: the per-portfolio hedger
// registry that starts, stops, and supervises one pkg/hedger.Hedger per
// active portfolio, consulting a risk guard before admitting new hedges.
package manager

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/deltahedge/engine/pkg/eventbus"
	"github.com/deltahedge/engine/pkg/exchange"
	"github.com/deltahedge/engine/pkg/hedger"
	"github.com/deltahedge/engine/pkg/portfolio"
	"github.com/deltahedge/engine/pkg/pricer"
	"github.com/deltahedge/engine/pkg/risk"
	"github.com/deltahedge/engine/pkg/subscription"
)

type handle struct {
	h      *hedger.Hedger
	cancel context.CancelFunc
}

// Manager starts and stops DynamicDeltaHedgers by portfolio id, thread-safe
// for concurrent Start/Stop/Status calls. It generalizes the teacher's
// name->strategy registry from named strategies to per-portfolio hedger handles.
type Manager struct {
	client exchange.Client
	subs   *subscription.Manager
	store  portfolio.Store
	guard  *risk.Guard
	log    *slog.Logger
	bus    *eventbus.Bus
	pricer pricer.Pricer

	pnlRingDepth       int
	pnlPublishInterval time.Duration

	mu      sync.RWMutex
	handles map[string]*handle
}

// New creates a hedging manager. guard may be nil to disable the
// drawdown/daily-loss circuit breaker (e.g. in tests); bus may be nil to
// disable "hedger_state_changed"/"portfolio_updated"/"pnl_update"
// broadcasting. prc may be nil to disable pricing legs the venue's ticker
// doesn't carry greeks for (they're simply excluded from net_delta).
func New(client exchange.Client, subs *subscription.Manager, store portfolio.Store, guard *risk.Guard, log *slog.Logger, bus *eventbus.Bus, pnlRingDepth int, pnlPublishInterval time.Duration, prc pricer.Pricer) *Manager {
	return &Manager{
		client:             client,
		subs:               subs,
		store:              store,
		guard:              guard,
		log:                log,
		bus:                bus,
		pricer:             prc,
		pnlRingDepth:       pnlRingDepth,
		pnlPublishInterval: pnlPublishInterval,
		handles:            make(map[string]*handle),
	}
}

// Start launches a hedger for portfolioID, refusing if the risk guard is
// tripped or a hedger for this id is already running.
func (m *Manager) Start(ctx context.Context, portfolioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handles[portfolioID]; exists {
		return fmt.Errorf("hedger for portfolio %s already running", portfolioID)
	}

	if m.guard != nil {
		if can, reason := m.guard.CanHedge(); !can {
			return fmt.Errorf("hedging manager refused to start portfolio %s: %s", portfolioID, reason)
		}
	}

	h := hedger.New(portfolioID, m.client, m.subs, m.store, m.log, m.bus, m.pricer, m.pnlRingDepth, m.pnlPublishInterval)
	runCtx, cancel := context.WithCancel(ctx)
	m.handles[portfolioID] = &handle{h: h, cancel: cancel}

	go func() {
		h.Run(runCtx)
		m.mu.Lock()
		delete(m.handles, portfolioID)
		m.mu.Unlock()
	}()

	return nil
}

// Stop requests the hedger for portfolioID to exit and waits for it to
// finish, or ctx is done first.
func (m *Manager) Stop(ctx context.Context, portfolioID string) error {
	m.mu.RLock()
	h, ok := m.handles[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no hedger running for portfolio %s", portfolioID)
	}

	if err := h.h.Stop(ctx); err != nil {
		return err
	}
	h.cancel()
	return nil
}

// Status returns the live status for every running hedger.
func (m *Manager) Status() []hedger.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]hedger.Status, 0, len(m.handles))
	for _, h := range m.handles {
		statuses = append(statuses, h.h.Status())
	}
	return statuses
}

// OnBalanceUpdate feeds a fresh account balance to the risk guard and, if
// the drawdown/daily-loss circuit breaker trips as a result, pauses every
// running hedger.
func (m *Manager) OnBalanceUpdate(ctx context.Context, balance float64) {
	if m.guard == nil {
		return
	}
	m.guard.UpdateBalance(balance)

	can, reason := m.guard.CanHedge()
	if can {
		return
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.pause(ctx, id, "circuit_breaker"); err != nil {
			log.Printf("hedging manager: failed to pause portfolio %s after circuit breaker (%s): %v", id, reason, err)
		}
	}
}

// pause moves a running hedger into StateFailed with reason as its
// LastError, distinct from the clean StateStopped that Stop produces, and
// releases the handle the same way Stop does so Resume can restart it.
func (m *Manager) pause(ctx context.Context, portfolioID, reason string) error {
	m.mu.RLock()
	h, ok := m.handles[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no hedger running for portfolio %s", portfolioID)
	}

	if err := h.h.Pause(ctx, reason); err != nil {
		return err
	}
	h.cancel()
	return nil
}

// Resume restarts a hedger that the circuit breaker paused, once the
// guard allows hedging again.
func (m *Manager) Resume(ctx context.Context, portfolioID string) error {
	return m.Start(ctx, portfolioID)
}

// Reconcile nudges every running hedger to re-sweep its hedge instrument's
// open orders and position against venue truth, called after the exchange
// client signals a reconnect so local state can't silently drift from what
// the venue actually holds.
func (m *Manager) Reconcile(ctx context.Context, reason string) {
	m.mu.RLock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		if err := h.h.Reconcile(ctx, reason); err != nil {
			log.Printf("hedging manager: reconcile request dropped: %v", err)
		}
	}
}
