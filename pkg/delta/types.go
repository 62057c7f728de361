package delta

// Product represents a trading product on Delta Exchange
type Product struct {
	ID                int    `json:"id"`
	Symbol            string `json:"symbol"`
	Description       string `json:"description"`
	ProductType       string `json:"product_type"`
	QuotingAssetID    int    `json:"quoting_asset_id"`
	SettlingAssetID   int    `json:"settling_asset_id"`
	QuotingAsset      Asset  `json:"quoting_asset"`
	SettlingAsset     Asset  `json:"settling_asset"`
	TickSize          string `json:"tick_size"`
	LotSize           string `json:"lot_size"`
	ContractValue     string `json:"contract_value"`
	InitialMargin     string `json:"initial_margin"`
	MaintenanceMargin string `json:"maintenance_margin"`
	ImpactSize        int    `json:"impact_size"`
	MakerCommission   string `json:"maker_commission_rate"`
	TakerCommission   string `json:"taker_commission_rate"`
	IsActive          bool   `json:"is_active"`
}

// Asset represents an asset on Delta Exchange
type Asset struct {
	ID               int    `json:"id"`
	Symbol           string `json:"symbol"`
	Name             string `json:"name"`
	Precision        int    `json:"precision"`
	MinWithdrawLimit string `json:"minimum_withdrawal_limit"`
}

// Ticker represents real-time ticker data. Options tickers additionally
// carry greeks and mark IV; linear/inverse hedge instruments leave those
// fields zero.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	ProductID   int     `json:"product_id"`
	Close       float64 `json:"close,string"`
	High        float64 `json:"high,string"`
	Low         float64 `json:"low,string"`
	MarkPrice   float64 `json:"mark_price,string"`
	IndexPrice  float64 `json:"spot_price,string"`
	Open        float64 `json:"open,string"`
	Size        float64 `json:"size"`
	Timestamp   int64   `json:"timestamp"`
	Turnover    float64 `json:"turnover,string"`
	Volume      float64 `json:"volume"`
	FundingRate float64 `json:"funding_rate,string"` // 8-hourly funding rate for perpetuals
	Greeks      *Greeks `json:"greeks,omitempty"`
	MarkIV      float64 `json:"mark_vol,string"`
}

// Greeks holds the venue-computed risk sensitivities carried on an option ticker.
type Greeks struct {
	Delta float64 `json:"delta,string"`
	Gamma float64 `json:"gamma,string"`
	Theta float64 `json:"theta,string"`
	Vega  float64 `json:"vega,string"`
}

// ContractKind distinguishes the three instrument shapes the hedger reasons about.
type ContractKind string

const (
	ContractOption    ContractKind = "option"
	ContractFuture    ContractKind = "future"
	ContractPerpetual ContractKind = "perpetual"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// IsInverse reports whether a product is quoted in underlying terms (inverse
// perpetual/future) rather than linear (USD-settled). Delta Exchange's India
// venue trades linear contracts exclusively, but the contract kind is still
// surfaced so the hedger's delta math stays correct if that ever changes.
func (p *Product) IsInverse() bool {
	return p.QuotingAsset.Symbol != "" && p.SettlingAsset.Symbol != "" &&
		p.QuotingAsset.Symbol != p.SettlingAsset.Symbol && p.SettlingAsset.Symbol != "USDT" && p.SettlingAsset.Symbol != "USD"
}

// ExpiredInstrumentEvent is emitted by the venue when an option instrument
// has gone past its expiry and is being delisted.
type ExpiredInstrumentEvent struct {
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
}

// FundingSettlementEvent reports a funding payment/charge applied to a
// perpetual position.
type FundingSettlementEvent struct {
	Symbol    string  `json:"symbol"`
	Amount    float64 `json:"amount,string"`
	Timestamp int64   `json:"timestamp"`
}

// Candle represents OHLCV data
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Order represents an order on Delta Exchange
type Order struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	Size           int    `json:"size"`
	UnfilledSize   int    `json:"unfilled_size"`
	Side           string `json:"side"` // "buy" or "sell"
	OrderType      string `json:"order_type"`
	LimitPrice     string `json:"limit_price"`
	StopOrderType  string `json:"stop_order_type,omitempty"`
	StopPrice      string `json:"stop_price,omitempty"`
	PaidCommission string `json:"paid_commission"`
	ReduceOnly     bool   `json:"reduce_only"`
	ClientOrderID  string `json:"client_order_id,omitempty"`
	State          string `json:"state"`
	CreatedAt      string `json:"created_at"`
	ProductID      int    `json:"product_id"`
	ProductSymbol  string `json:"product_symbol"`
	AvgFillPrice   string `json:"average_fill_price,omitempty"`
}

// Position represents a position on Delta Exchange
type Position struct {
	UserID          int64  `json:"user_id"`
	Size            int    `json:"size"`
	EntryPrice      string `json:"entry_price"`
	Margin          string `json:"margin"`
	Liquidation     string `json:"liquidation_price"`
	Bankruptcy      string `json:"bankruptcy_price"`
	RealizedPnL     string `json:"realized_pnl"`
	UnrealizedPnL   string `json:"unrealized_pnl"`
	RealizedFunding string `json:"realized_funding"`
	ProductID       int    `json:"product_id"`
	ProductSymbol   string `json:"product_symbol"`
}

// Wallet represents wallet balance
type Wallet struct {
	AssetID          int    `json:"asset_id"`
	AssetSymbol      string `json:"asset_symbol"`
	AvailableBalance string `json:"available_balance"`
	Balance          string `json:"balance"`
	BlockedMargin    string `json:"blocked_margin"`
	OrderMargin      string `json:"order_margin"`
	PositionMargin   string `json:"position_margin"`
	Commission       string `json:"commission"`
	UserID           int64  `json:"user_id"`
}

// WalletResponse represents the wallet API response
type WalletResponse struct {
	Meta   WalletMeta `json:"meta"`
	Result []Wallet   `json:"result"`
}

// WalletMeta contains metadata for wallet response
type WalletMeta struct {
	NetEquity string `json:"net_equity"`
}

// OrderRequest represents a request to place an order
type OrderRequest struct {
	ProductID     int    `json:"product_id,omitempty"`
	ProductSymbol string `json:"product_symbol,omitempty"`
	Size          int    `json:"size"`
	Side          string `json:"side"`       // "buy" or "sell"
	OrderType     string `json:"order_type"` // "limit_order", "market_order"
	LimitPrice    string `json:"limit_price,omitempty"`
	StopOrderType string `json:"stop_order_type,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"` // "gtc", "ioc", "fok"
	PostOnly      bool   `json:"post_only,omitempty"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`

	// Bracket order fields
	BracketStopLossPrice        string `json:"bracket_stop_loss_price,omitempty"`
	BracketStopLossLimitPrice   string `json:"bracket_stop_loss_limit_price,omitempty"`
	BracketTakeProfitPrice      string `json:"bracket_take_profit_price,omitempty"`
	BracketTakeProfitLimitPrice string `json:"bracket_take_profit_limit_price,omitempty"`
}

