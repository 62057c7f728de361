package delta

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/deltahedge/engine/config"
	"github.com/deltahedge/engine/pkg/exchange"
)

// Service composes the REST client and the WebSocket client into the
// single authenticated duplex channel pkg/exchange.Client describes: one
// set of credentials, rate limiting, and reconnect handling, fronting
// both request/response calls and the market data stream. It translates
// between Delta Exchange's wire types and the venue-agnostic exchange types.
type Service struct {
	cfg  *config.Config
	rest *Client
	ws   *WebSocketClient

	mu            sync.Mutex
	consumers     map[string]map[chan exchange.Tick]struct{} // channel key -> subscriber set
	lifecycleSubs map[chan exchange.LifecycleEvent]struct{}  // every hedger's lifecycle feed

	onReconcile func(reason string)
}

const lifecycleQueueDepth = 64

// NewService wires a REST client and a WebSocket client against the same
// configuration, ready for Connect.
func NewService(cfg *config.Config) *Service {
	svc := &Service{
		cfg:           cfg,
		rest:          NewClient(cfg),
		ws:            NewWebSocketClient(cfg),
		consumers:     make(map[string]map[chan exchange.Tick]struct{}),
		lifecycleSubs: make(map[chan exchange.LifecycleEvent]struct{}),
	}
	svc.ws.OnTicker(svc.dispatchTicker)
	svc.ws.OnReconnect(func() {
		if svc.onReconcile != nil {
			svc.onReconcile("reconnect")
		}
	})
	svc.ws.OnExpiredInstrument(func(ev ExpiredInstrumentEvent) {
		svc.publishLifecycle(exchange.LifecycleEvent{
			Kind:      exchange.LifecycleInstrumentExpired,
			Symbol:    ev.Symbol,
			Timestamp: ev.Timestamp,
		})
	})
	svc.ws.OnFundingSettlement(func(ev FundingSettlementEvent) {
		svc.publishLifecycle(exchange.LifecycleEvent{
			Kind:      exchange.LifecycleFundingSettlement,
			Symbol:    ev.Symbol,
			Amount:    ev.Amount,
			Timestamp: ev.Timestamp,
		})
	})
	return svc
}

// publishLifecycle fans an expiry/funding notification out to every
// hedger currently watching Lifecycle(), mirroring dispatchTicker.
func (s *Service) publishLifecycle(ev exchange.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.lifecycleSubs {
		select {
		case ch <- ev:
		default:
			// Drop rather than block the WebSocket reader goroutine; a
			// missed expiry/funding notification still self-heals on the
			// next reconciliation sweep.
		}
	}
}

// Lifecycle returns a new channel of instrument expiry and funding
// settlement notifications; every call registers an independent feed so
// multiple hedgers each see every event.
func (s *Service) Lifecycle() <-chan exchange.LifecycleEvent {
	ch := make(chan exchange.LifecycleEvent, lifecycleQueueDepth)
	s.mu.Lock()
	s.lifecycleSubs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// OnReconcile registers a callback invoked after a successful reconnect,
// so the caller can run a reconciliation sweep against venue truth.
func (s *Service) OnReconcile(fn func(reason string)) {
	s.onReconcile = fn
}

// Connect establishes the WebSocket leg; the REST leg is stateless HTTP
// and needs no explicit connect step.
func (s *Service) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ws.Connect(); err != nil {
		return &exchange.TransportError{Op: "ws_connect", Err: err, Retryable: true}
	}
	return nil
}

func channelKey(channel string, symbols []string) string {
	key := channel
	for _, s := range symbols {
		key += "|" + s
	}
	return key
}

// Subscribe joins a market data channel, fanning venue ticks out to every
// caller subscribed to the same (channel, symbols) pair.
func (s *Service) Subscribe(ctx context.Context, channel string, symbols []string) (exchange.StreamHandle, <-chan exchange.Tick, error) {
	if err := ctx.Err(); err != nil {
		return exchange.StreamHandle{}, nil, err
	}

	key := channelKey(channel, symbols)
	out := make(chan exchange.Tick, 64)

	s.mu.Lock()
	set, ok := s.consumers[key]
	if !ok {
		set = make(map[chan exchange.Tick]struct{})
		s.consumers[key] = set
	}
	set[out] = struct{}{}
	s.mu.Unlock()

	if err := s.ws.Subscribe(channel, symbols); err != nil {
		s.mu.Lock()
		delete(set, out)
		s.mu.Unlock()
		close(out)
		return exchange.StreamHandle{}, nil, &exchange.TransportError{Op: "subscribe", Err: err, Retryable: true}
	}

	return exchange.StreamHandle{Channel: channel, Symbols: symbols}, out, nil
}

// Unsubscribe closes every consumer channel registered for the handle's
// (channel, symbols) pair and unsubscribes the venue channel. Sharing one
// subscription between callers is pkg/subscription's job: it calls this
// only after its last reference has been released.
func (s *Service) Unsubscribe(handle exchange.StreamHandle) error {
	key := channelKey(handle.Channel, handle.Symbols)

	s.mu.Lock()
	set, ok := s.consumers[key]
	if ok {
		for ch := range set {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(s.consumers, key)
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.ws.Unsubscribe(handle.Channel, handle.Symbols)
}

func (s *Service) dispatchTicker(t Ticker) {
	tick := exchange.Tick{
		Channel:    "v2/ticker",
		Symbol:     t.Symbol,
		MarkPrice:  t.MarkPrice,
		IndexPrice: t.IndexPrice,
		MarkIV:     t.MarkIV,
		Timestamp:  t.Timestamp,
	}
	if t.Greeks != nil {
		tick.Greeks = &exchange.Greeks{
			Delta: t.Greeks.Delta,
			Gamma: t.Greeks.Gamma,
			Theta: t.Greeks.Theta,
			Vega:  t.Greeks.Vega,
		}
	}

	s.mu.Lock()
	for key, set := range s.consumers {
		parts := strings.Split(key, "|")
		if parts[0] != "v2/ticker" {
			continue
		}
		match := false
		for _, sym := range parts[1:] {
			if sym == t.Symbol {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		for ch := range set {
			select {
			case ch <- tick:
			default:
				// Consumer queue full: drop the tick rather than block the
				// single WebSocket reader goroutine.
			}
		}
	}
	s.mu.Unlock()
}

// PlaceOrder submits an order through the REST leg. req.ClientOrderID
// carries the idempotency label the hedger seeds per attempt.
func (s *Service) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	product, err := s.rest.GetProductBySymbol(req.ProductSymbol)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_product", Err: err, Retryable: true}
	}

	wireReq := &OrderRequest{
		ProductID:     product.ID,
		Size:          req.Size,
		Side:          req.Side,
		OrderType:     req.OrderType,
		LimitPrice:    req.LimitPrice,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	}

	order, err := s.rest.PlaceOrder(wireReq)
	if err != nil {
		if rejected, ok := err.(*OrderRejectedError); ok {
			return nil, &exchange.RejectedError{OrderID: rejected.OrderID, Reason: rejected.Reason, Retryable: false}
		}
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "place_order", Err: err, Retryable: true}
	}

	avgFillPrice, _ := strconv.ParseFloat(order.AvgFillPrice, 64)

	return &exchange.Order{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		ProductSymbol: order.ProductSymbol,
		Side:          order.Side,
		Size:          order.Size,
		UnfilledSize:  order.UnfilledSize,
		State:         order.State,
		AvgFillPrice:  avgFillPrice,
	}, nil
}

// CancelOrder cancels a resting order.
func (s *Service) CancelOrder(ctx context.Context, productSymbol string, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	product, err := s.rest.GetProductBySymbol(productSymbol)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return authErr
		}
		return &exchange.TransportError{Op: "get_product", Err: err, Retryable: true}
	}
	if err := s.rest.CancelOrder(orderID, product.ID); err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return authErr
		}
		return &exchange.TransportError{Op: "cancel_order", Err: err, Retryable: true}
	}
	return nil
}

// GetActiveOrders resolves the product id for symbol and returns its open
// orders, used by the reconnect reconciliation sweep.
func (s *Service) GetActiveOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	product, err := s.rest.GetProductBySymbol(symbol)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_product", Err: err, Retryable: true}
	}
	orders, err := s.rest.GetActiveOrders(product.ID)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_active_orders", Err: err, Retryable: true}
	}
	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		avgFillPrice, _ := strconv.ParseFloat(o.AvgFillPrice, 64)
		out = append(out, exchange.Order{
			ID:            o.ID,
			ClientOrderID: o.ClientOrderID,
			ProductSymbol: o.ProductSymbol,
			Side:          o.Side,
			Size:          o.Size,
			UnfilledSize:  o.UnfilledSize,
			State:         o.State,
			AvgFillPrice:  avgFillPrice,
		})
	}
	return out, nil
}

// GetPosition resolves the product id for symbol and returns its position,
// or nil if flat.
func (s *Service) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	product, err := s.rest.GetProductBySymbol(symbol)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_product", Err: err, Retryable: true}
	}
	pos, err := s.rest.GetPosition(product.ID)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_position", Err: err, Retryable: true}
	}
	if pos == nil {
		return nil, nil
	}
	return &exchange.Position{
		ProductSymbol: pos.ProductSymbol,
		Size:          pos.Size,
		EntryPrice:    pos.EntryPrice,
	}, nil
}

// GetAccountSummary returns net equity and available balance in the
// settlement asset.
func (s *Service) GetAccountSummary(ctx context.Context) (*exchange.AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	equity, err := s.rest.GetNetEquity()
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_net_equity", Err: err, Retryable: true}
	}
	available, err := s.rest.GetAvailableBalance("USDT")
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_available_balance", Err: err, Retryable: true}
	}
	return &exchange.AccountSummary{NetEquity: equity, AvailableBalance: available}, nil
}

// GetProduct looks up instrument metadata by symbol.
func (s *Service) GetProduct(ctx context.Context, symbol string) (*exchange.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	product, err := s.rest.GetProductBySymbol(symbol)
	if err != nil {
		if authErr, ok := err.(*exchange.AuthError); ok {
			return nil, authErr
		}
		return nil, &exchange.TransportError{Op: "get_product", Err: err, Retryable: true}
	}
	lotSize := product.LotSize
	if lotSize == "" {
		lotSize = "1"
	}
	return &exchange.Product{
		Symbol:        product.Symbol,
		Kind:          product.ProductType,
		TickSize:      product.TickSize,
		LotSize:       lotSize,
		ContractValue: product.ContractValue,
		IsInverse:     product.IsInverse(),
	}, nil
}

// Close tears down the WebSocket connection and all open consumer channels.
func (s *Service) Close() error {
	s.mu.Lock()
	for key, set := range s.consumers {
		for ch := range set {
			close(ch)
		}
		delete(s.consumers, key)
	}
	for ch := range s.lifecycleSubs {
		close(ch)
		delete(s.lifecycleSubs, ch)
	}
	s.mu.Unlock()

	s.ws.Close()
	s.rest.Close()
	return nil
}

var _ exchange.Client = (*Service)(nil)
