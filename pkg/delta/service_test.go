package delta

import (
	"testing"
	"time"

	"github.com/deltahedge/engine/config"
	"github.com/deltahedge/engine/pkg/exchange"
)

func TestChannelKey_SameChannelAndSymbolsProduceSameKey(t *testing.T) {
	a := channelKey("v2/ticker", []string{"BTC-PERP", "ETH-PERP"})
	b := channelKey("v2/ticker", []string{"BTC-PERP", "ETH-PERP"})
	if a != b {
		t.Fatalf("channelKey not stable across calls: %q != %q", a, b)
	}

	c := channelKey("v2/ticker", []string{"BTC-PERP"})
	if a == c {
		t.Fatalf("channelKey collided for different symbol sets: %q", a)
	}
}

func TestDispatchTicker_FansOutToEveryConsumerOfTheSameKey(t *testing.T) {
	svc := &Service{consumers: make(map[string]map[chan exchange.Tick]struct{})}
	key := channelKey("v2/ticker", []string{"BTC-30AUG24-60000-C"})

	ch1 := make(chan exchange.Tick, 1)
	ch2 := make(chan exchange.Tick, 1)
	svc.consumers[key] = map[chan exchange.Tick]struct{}{ch1: {}, ch2: {}}

	svc.dispatchTicker(Ticker{
		Symbol:     "BTC-30AUG24-60000-C",
		MarkPrice:  61000,
		IndexPrice: 60950,
		MarkIV:     0.62,
		Timestamp:  123,
		Greeks:     &Greeks{Delta: 0.55, Gamma: 0.0001, Theta: -12.3, Vega: 45.6},
	})

	for _, ch := range []chan exchange.Tick{ch1, ch2} {
		select {
		case tick := <-ch:
			if tick.Symbol != "BTC-30AUG24-60000-C" || tick.MarkPrice != 61000 {
				t.Fatalf("unexpected tick: %+v", tick)
			}
			if tick.Greeks == nil || tick.Greeks.Delta != 0.55 {
				t.Fatalf("Greeks not converted: %+v", tick.Greeks)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fanned-out tick")
		}
	}
}

func TestDispatchTicker_DropsWhenConsumerQueueFull(t *testing.T) {
	svc := &Service{consumers: make(map[string]map[chan exchange.Tick]struct{})}
	key := channelKey("v2/ticker", []string{"BTC-PERP"})

	ch := make(chan exchange.Tick, 1)
	ch <- exchange.Tick{Symbol: "stale"}
	svc.consumers[key] = map[chan exchange.Tick]struct{}{ch: {}}

	svc.dispatchTicker(Ticker{Symbol: "BTC-PERP", MarkPrice: 1})

	got := <-ch
	if got.Symbol != "stale" {
		t.Fatalf("expected the full queue to retain its existing tick, got %+v", got)
	}
}

func TestDispatchTicker_NoGreeksLeavesNilPointer(t *testing.T) {
	svc := &Service{consumers: make(map[string]map[chan exchange.Tick]struct{})}
	key := channelKey("v2/ticker", []string{"BTC-PERP"})
	ch := make(chan exchange.Tick, 1)
	svc.consumers[key] = map[chan exchange.Tick]struct{}{ch: {}}

	svc.dispatchTicker(Ticker{Symbol: "BTC-PERP", MarkPrice: 1})

	tick := <-ch
	if tick.Greeks != nil {
		t.Fatalf("Greeks = %+v, want nil when the wire ticker carries none", tick.Greeks)
	}
}

func TestLifecycle_FansOutToEveryRegisteredCaller(t *testing.T) {
	svc := &Service{lifecycleSubs: make(map[chan exchange.LifecycleEvent]struct{})}

	ch1 := svc.Lifecycle()
	ch2 := svc.Lifecycle()

	svc.publishLifecycle(exchange.LifecycleEvent{
		Kind:   exchange.LifecycleInstrumentExpired,
		Symbol: "BTC-30AUG24-60000-C",
	})

	for _, ch := range []<-chan exchange.LifecycleEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Symbol != "BTC-30AUG24-60000-C" || ev.Kind != exchange.LifecycleInstrumentExpired {
				t.Fatalf("unexpected lifecycle event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fanned-out lifecycle event")
		}
	}
}

func TestPublishLifecycle_DropsWhenConsumerQueueFull(t *testing.T) {
	svc := &Service{lifecycleSubs: make(map[chan exchange.LifecycleEvent]struct{})}
	ch := make(chan exchange.LifecycleEvent, 1)
	ch <- exchange.LifecycleEvent{Symbol: "stale"}
	svc.lifecycleSubs[ch] = struct{}{}

	svc.publishLifecycle(exchange.LifecycleEvent{Symbol: "fresh"})

	got := <-ch
	if got.Symbol != "stale" {
		t.Fatalf("expected the full queue to retain its existing event, got %+v", got)
	}
}

func TestClose_ClosesAllConsumerChannels(t *testing.T) {
	cfg := &config.Config{
		BaseURL:         "https://api.india.delta.exchange/v2",
		APIKey:          "k",
		APISecret:       "s",
		APIRateLimitRPS: 8,
		WebSocketURL:    "wss://socket.india.delta.exchange",
	}
	svc := &Service{
		rest:          NewClient(cfg),
		ws:            NewWebSocketClient(cfg),
		consumers:     make(map[string]map[chan exchange.Tick]struct{}),
		lifecycleSubs: make(map[chan exchange.LifecycleEvent]struct{}),
	}
	ch := make(chan exchange.Tick, 1)
	svc.consumers["k"] = map[chan exchange.Tick]struct{}{ch: {}}
	lifeCh := make(chan exchange.LifecycleEvent, 1)
	svc.lifecycleSubs[lifeCh] = struct{}{}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Fatal("expected consumer channel to be closed")
	}
	if _, ok := <-lifeCh; ok {
		t.Fatal("expected lifecycle channel to be closed")
	}
	if len(svc.consumers) != 0 {
		t.Fatalf("consumers map not cleared: %v", svc.consumers)
	}
	if len(svc.lifecycleSubs) != 0 {
		t.Fatalf("lifecycleSubs map not cleared: %v", svc.lifecycleSubs)
	}
}
