package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deltahedge/engine/config"
)

// Guard tracks account balance and trips a drawdown/daily-loss circuit
// breaker that the hedging manager consults before starting or resuming a
// hedger and after each account balance update, pausing running hedgers
// when it trips.
type Guard struct {
	cfg *config.Config

	mu              sync.RWMutex
	peakBalance     float64
	currentBalance  float64
	currentDrawdown float64
	lastHedgeTime   time.Time

	dailyStartBalance float64
	dailyPnL          float64
	dailyLossLimit    float64
	currentDay        time.Time

	isCircuitBroken     bool
	circuitBrokenAt     time.Time
	isDailyLimitHit     bool
	dailyLimitResetTime time.Time
}

// NewGuard creates a risk guard seeded from the engine configuration.
func NewGuard(cfg *config.Config) *Guard {
	return &Guard{
		cfg:            cfg,
		dailyLossLimit: cfg.DailyLossLimitPct,
		currentDay:     time.Now().Truncate(24 * time.Hour),
	}
}

// UpdateBalance records a new account balance snapshot and recomputes
// drawdown and daily P&L, tripping the circuit breaker if either limit
// is exceeded.
func (g *Guard) UpdateBalance(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := time.Now().Truncate(24 * time.Hour)
	if today.After(g.currentDay) {
		g.currentDay = today
		g.dailyStartBalance = balance
		g.dailyPnL = 0
		g.isDailyLimitHit = false
		log.Printf("new trading day started, daily balance reset to %.2f", balance)
	}

	if g.dailyStartBalance == 0 {
		g.dailyStartBalance = balance
	}

	g.currentBalance = balance

	if g.dailyStartBalance > 0 {
		g.dailyPnL = ((balance - g.dailyStartBalance) / g.dailyStartBalance) * 100
	}

	if g.dailyPnL <= g.dailyLossLimit && !g.isDailyLimitHit {
		g.isDailyLimitHit = true
		g.dailyLimitResetTime = today.Add(24 * time.Hour)
		log.Printf("daily loss limit hit: daily P&L %.2f%% exceeds limit %.2f%%, hedging paused until %v",
			g.dailyPnL, g.dailyLossLimit, g.dailyLimitResetTime)
	}

	if balance > g.peakBalance {
		g.peakBalance = balance
	}

	if g.peakBalance > 0 {
		g.currentDrawdown = (g.peakBalance - balance) / g.peakBalance * 100
	}

	if g.currentDrawdown >= g.cfg.MaxDrawdownPct {
		if !g.isCircuitBroken {
			g.isCircuitBroken = true
			g.circuitBrokenAt = time.Now()
			log.Printf("circuit breaker triggered: drawdown %.2f%% exceeds max %.2f%%",
				g.currentDrawdown, g.cfg.MaxDrawdownPct)
		}
	}
}

// CanHedge reports whether the manager may start or resume a hedger, and a
// human-readable reason when it may not. A circuit breaker tripped more than
// 24 hours ago is cleared here, re-seeding the drawdown peak from the
// current balance.
func (g *Guard) CanHedge() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isDailyLimitHit {
		if time.Now().After(g.dailyLimitResetTime) {
			return true, ""
		}
		hoursRemaining := time.Until(g.dailyLimitResetTime).Hours()
		return false, fmt.Sprintf("daily loss limit hit (%.2f%%), resets in %.1f hours",
			g.dailyPnL, hoursRemaining)
	}

	if g.isCircuitBroken {
		if time.Since(g.circuitBrokenAt) > 24*time.Hour {
			g.isCircuitBroken = false
			g.peakBalance = g.currentBalance
			return true, ""
		}
		return false, fmt.Sprintf("circuit breaker active (%.1f hours remaining)",
			24-time.Since(g.circuitBrokenAt).Hours())
	}

	return true, ""
}

// GetRiskMetrics returns a snapshot of the guard's current state, suitable
// for embedding in status/health reporting.
func (g *Guard) GetRiskMetrics() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]interface{}{
		"current_balance":  g.currentBalance,
		"peak_balance":      g.peakBalance,
		"current_drawdown": g.currentDrawdown,
		"max_drawdown":     g.cfg.MaxDrawdownPct,
		"circuit_broken":   g.isCircuitBroken,
		"last_hedge_time":  g.lastHedgeTime,
	}
}

// RecordHedge timestamps the most recent hedge order placement.
func (g *Guard) RecordHedge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastHedgeTime = time.Now()
}

// ResetCircuitBreaker manually clears a tripped circuit breaker, re-seeding
// the drawdown peak from the current balance.
func (g *Guard) ResetCircuitBreaker() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.isCircuitBroken = false
	g.peakBalance = g.currentBalance
	log.Println("circuit breaker manually reset")
}
