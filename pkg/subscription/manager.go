// Package subscription ref-counts market data subscriptions across
// multiple hedgers so that two portfolios hedging the same instrument
// share one upstream venue subscription instead of each opening their own.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/deltahedge/engine/pkg/exchange"
)

const queueDepth = 64

// defaultLinger is how long a channel with no remaining consumers stays
// subscribed before being released, absorbing a hedger restart that
// re-acquires the same channel moments later.
const defaultLinger = 5 * time.Second

// StaleWarning is delivered on a MarketStream's Warnings channel when the
// consumer's queue was full and a tick had to be dropped.
type StaleWarning struct {
	Channel   string
	Symbols   []string
	Timestamp time.Time
}

// MarketStream is a per-consumer view onto a shared venue subscription.
type MarketStream struct {
	Ticks    <-chan exchange.Tick
	Warnings <-chan StaleWarning
}

type entry struct {
	handle    exchange.StreamHandle
	refs      int
	lingering *time.Timer
	consumers map[chan exchange.Tick]chan StaleWarning
	upstream  <-chan exchange.Tick
	cancel    func()
}

// Manager ref-counts Acquire/Release calls against a single exchange.Client
// so that N hedgers watching the same channel produce exactly one upstream
// subscription.
type Manager struct {
	client exchange.Client
	linger time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates a subscription manager fronting client.
func NewManager(client exchange.Client) *Manager {
	return &Manager{
		client:  client,
		linger:  defaultLinger,
		entries: make(map[string]*entry),
	}
}

func key(channel string, symbols []string) string {
	k := channel
	for _, s := range symbols {
		k += "|" + s
	}
	return k
}

// Acquire joins (or opens) the subscription for (channel, symbols) and
// returns a bounded per-consumer stream. Call Release with the same
// (channel, symbols) when done.
func (m *Manager) Acquire(ctx context.Context, channel string, symbols []string) (*MarketStream, error) {
	k := key(channel, symbols)

	m.mu.Lock()
	e, ok := m.entries[k]
	if ok {
		if e.lingering != nil {
			e.lingering.Stop()
			e.lingering = nil
		}
		e.refs++
		ticks := make(chan exchange.Tick, queueDepth)
		warnings := make(chan StaleWarning, 1)
		e.consumers[ticks] = warnings
		m.mu.Unlock()
		return &MarketStream{Ticks: ticks, Warnings: warnings}, nil
	}
	m.mu.Unlock()

	handle, upstream, err := m.client.Subscribe(ctx, channel, symbols)
	if err != nil {
		return nil, err
	}

	e = &entry{
		handle:    handle,
		refs:      1,
		consumers: make(map[chan exchange.Tick]chan StaleWarning),
		upstream:  upstream,
	}
	ticks := make(chan exchange.Tick, queueDepth)
	warnings := make(chan StaleWarning, 1)
	e.consumers[ticks] = warnings

	m.mu.Lock()
	m.entries[k] = e
	m.mu.Unlock()

	go m.pump(k, e)

	return &MarketStream{Ticks: ticks, Warnings: warnings}, nil
}

func (m *Manager) pump(k string, e *entry) {
	for tick := range e.upstream {
		m.mu.Lock()
		for ticks, warnings := range e.consumers {
			select {
			case ticks <- tick:
			default:
				// Queue full: drop the oldest queued tick to make room.
				select {
				case <-ticks:
				default:
				}
				select {
				case ticks <- tick:
				default:
				}
				select {
				case warnings <- StaleWarning{Channel: tick.Channel, Symbols: nil, Timestamp: time.Now()}:
				default:
				}
			}
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	for ticks := range e.consumers {
		close(ticks)
	}
	delete(m.entries, k)
	m.mu.Unlock()
}

// Release decrements the ref count for (channel, symbols). When it drops
// to zero the upstream subscription lingers for a grace period before
// being torn down, so a hedger restart doesn't thrash the venue subscription.
func (m *Manager) Release(channel string, symbols []string, stream *MarketStream) {
	k := key(channel, symbols)

	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return
	}

	for ticks := range e.consumers {
		if ticks == chanFromStream(stream) {
			delete(e.consumers, ticks)
			close(ticks)
			break
		}
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}

	handle := e.handle
	e.lingering = time.AfterFunc(m.linger, func() {
		m.mu.Lock()
		cur, ok := m.entries[k]
		if ok && cur.refs <= 0 {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		_ = m.client.Unsubscribe(handle)
	})
	m.mu.Unlock()
}

func chanFromStream(stream *MarketStream) <-chan exchange.Tick {
	if stream == nil {
		return nil
	}
	return stream.Ticks
}
