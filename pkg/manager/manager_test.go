package manager

import (
	"context"
	"testing"
	"time"

	"github.com/deltahedge/engine/pkg/exchange"
	"github.com/deltahedge/engine/pkg/portfolio"
	"github.com/deltahedge/engine/pkg/risk"
	"github.com/deltahedge/engine/pkg/subscription"
	"github.com/deltahedge/engine/config"
)

type fakeClient struct{}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Subscribe(ctx context.Context, channel string, symbols []string) (exchange.StreamHandle, <-chan exchange.Tick, error) {
	ch := make(chan exchange.Tick)
	return exchange.StreamHandle{Channel: channel, Symbols: symbols}, ch, nil
}
func (f *fakeClient) Unsubscribe(handle exchange.StreamHandle) error { return nil }
func (f *fakeClient) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	return &exchange.Order{ID: 1, State: "open"}, nil
}
func (f *fakeClient) CancelOrder(ctx context.Context, productSymbol string, orderID int64) error {
	return nil
}
func (f *fakeClient) GetActiveOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeClient) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	return nil, nil
}
func (f *fakeClient) GetAccountSummary(ctx context.Context) (*exchange.AccountSummary, error) {
	return &exchange.AccountSummary{}, nil
}
func (f *fakeClient) GetProduct(ctx context.Context, symbol string) (*exchange.Product, error) {
	return &exchange.Product{Symbol: symbol}, nil
}
func (f *fakeClient) Lifecycle() <-chan exchange.LifecycleEvent {
	return make(chan exchange.LifecycleEvent)
}
func (f *fakeClient) Close() error { return nil }

func TestStart_RefusesDuplicatePortfolio(t *testing.T) {
	client := &fakeClient{}
	subs := subscription.NewManager(client)
	store := portfolio.NewInMemoryStore()
	_, _ = store.Save("p1", func(p portfolio.Portfolio) (portfolio.Portfolio, error) { return p, nil })

	m := New(client, subs, store, nil, nil, nil, 0, 0, nil)

	if err := m.Start(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	defer m.Stop(context.Background(), "p1")

	if err := m.Start(context.Background(), "p1"); err == nil {
		t.Fatal("expected error starting duplicate portfolio")
	}
}

func TestStart_RefusedWhenCircuitBroken(t *testing.T) {
	client := &fakeClient{}
	subs := subscription.NewManager(client)
	store := portfolio.NewInMemoryStore()
	guard := risk.NewGuard(&config.Config{MaxDrawdownPct: 1})
	guard.UpdateBalance(100)
	guard.UpdateBalance(50) // 50% drawdown trips the breaker

	m := New(client, subs, store, guard, nil, nil, 0, 0, nil)

	if err := m.Start(context.Background(), "p1"); err == nil {
		t.Fatal("expected Start to be refused while circuit breaker is tripped")
	}
}

func TestStop_ErrorsWhenNotRunning(t *testing.T) {
	client := &fakeClient{}
	subs := subscription.NewManager(client)
	store := portfolio.NewInMemoryStore()
	m := New(client, subs, store, nil, nil, nil, 0, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx, "missing"); err == nil {
		t.Fatal("expected error stopping a hedger that was never started")
	}
}
