package core

import (
	"github.com/cockroachdb/apd/v3"
)

// OrderSide represents the direction of an order (buy or sell).
type OrderSide int

// Order side constants define the direction of a trade.
const (
	// SideBuy indicates an order to purchase the contract.
	SideBuy OrderSide = iota
	// SideSell indicates an order to sell the contract.
	SideSell
)

// String returns the string representation of the order side ("BUY" or "SELL").
func (s OrderSide) String() string {
	return [...]string{"BUY", "SELL"}[s]
}

// Opposite returns the opposing side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderSide.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"BUY"`, `"buy"`:
		*s = SideBuy
	case `"SELL"`, `"sell"`:
		*s = SideSell
	}
	return nil
}

// ParseOrderSide maps an exchange side string to an OrderSide.
func ParseOrderSide(s string) OrderSide {
	if s == "SELL" {
		return SideSell
	}
	return SideBuy
}

// PositionSide represents the position direction in hedge or one-way mode.
type PositionSide int

// Position side constants.
const (
	// PositionBoth is the single position of one-way mode.
	PositionBoth PositionSide = iota
	// PositionLong is the long leg in hedge mode.
	PositionLong
	// PositionShort is the short leg in hedge mode.
	PositionShort
)

// String returns the string representation of the position side.
func (p PositionSide) String() string {
	return [...]string{"BOTH", "LONG", "SHORT"}[p]
}

// MarshalJSON implements json.Marshaler for PositionSide.
func (p PositionSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for PositionSide.
func (p *PositionSide) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"LONG"`, `"long"`:
		*p = PositionLong
	case `"SHORT"`, `"short"`:
		*p = PositionShort
	case `"BOTH"`, `"both"`:
		*p = PositionBoth
	}
	return nil
}

// ParsePositionSide maps an exchange position-side string to a PositionSide.
func ParsePositionSide(s string) PositionSide {
	switch s {
	case "LONG":
		return PositionLong
	case "SHORT":
		return PositionShort
	default:
		return PositionBoth
	}
}

// OrderType represents the type of order placed on the exchange. The type
// string doubles as the orchestrator's lock key.
type OrderType int

// Order type constants define how an order is executed.
const (
	// TypeLimit executes at a specified price or better.
	TypeLimit OrderType = iota
	// TypeMarket executes immediately at the best available price.
	TypeMarket
	// TypeStopMarket triggers a market order when price crosses the stop price.
	TypeStopMarket
	// TypeTakeProfitMarket triggers a market order when price reaches the target.
	TypeTakeProfitMarket
	// TypeTrailingStopMarket trails the market by a callback rate once activated.
	TypeTrailingStopMarket
)

// String returns the string representation of the order type.
func (t OrderType) String() string {
	return [...]string{"LIMIT", "MARKET", "STOP_MARKET", "TAKE_PROFIT_MARKET", "TRAILING_STOP_MARKET"}[t]
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderType.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	*t = ParseOrderType(trimQuotes(string(data)))
	return nil
}

// ParseOrderType maps an exchange order-type string to an OrderType.
func ParseOrderType(s string) OrderType {
	switch s {
	case "MARKET":
		return TypeMarket
	case "STOP_MARKET", "STOP":
		return TypeStopMarket
	case "TAKE_PROFIT_MARKET", "TAKE_PROFIT":
		return TypeTakeProfitMarket
	case "TRAILING_STOP_MARKET":
		return TypeTrailingStopMarket
	default:
		return TypeLimit
	}
}

// OrderStatus represents the current state of an order.
type OrderStatus int

// Order status constants define the lifecycle state of an order.
const (
	// StatusNew indicates the order has been accepted by the exchange.
	StatusNew OrderStatus = iota
	// StatusPartiallyFilled indicates the order has been partially filled.
	StatusPartiallyFilled
	// StatusFilled indicates the order has been completely filled.
	StatusFilled
	// StatusCanceled indicates the order has been canceled.
	StatusCanceled
	// StatusRejected indicates the order was rejected by the exchange.
	StatusRejected
	// StatusExpired indicates the order has expired.
	StatusExpired
)

// String returns the string representation of the order status.
func (s OrderStatus) String() string {
	return [...]string{"NEW", "PARTIALLY_FILLED", "FILLED", "CANCELED", "REJECTED", "EXPIRED"}[s]
}

// IsTerminal returns true if the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected || s == StatusExpired
}

// IsOpen returns true if the order still rests on the book.
func (s OrderStatus) IsOpen() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// MarshalJSON implements json.Marshaler for OrderStatus.
func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderStatus.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	*s = ParseOrderStatus(trimQuotes(string(data)))
	return nil
}

// ParseOrderStatus maps an exchange status string to an OrderStatus.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled
	case "FILLED":
		return StatusFilled
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusNew
	}
}

// TimeInForce defines how long an order remains active.
type TimeInForce int

// Time in force constants define order lifetime behavior.
const (
	// GTC (Good Till Canceled) keeps the order active until filled or canceled.
	GTC TimeInForce = iota
	// IOC (Immediate Or Cancel) cancels any unfilled portion immediately.
	IOC
	// FOK (Fill Or Kill) requires complete immediate execution.
	FOK
	// GTX (Good Till Crossing) posts only; canceled if it would take liquidity.
	GTX
)

// String returns the string representation of time in force.
func (t TimeInForce) String() string {
	return [...]string{"GTC", "IOC", "FOK", "GTX"}[t]
}

// MarshalJSON implements json.Marshaler for TimeInForce.
func (t TimeInForce) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for TimeInForce.
func (t *TimeInForce) UnmarshalJSON(data []byte) error {
	*t = ParseTimeInForce(trimQuotes(string(data)))
	return nil
}

// ParseTimeInForce maps an exchange time-in-force string to a TimeInForce.
func ParseTimeInForce(s string) TimeInForce {
	switch s {
	case "IOC", "ioc":
		return IOC
	case "FOK", "fok":
		return FOK
	case "GTX", "gtx":
		return GTX
	default:
		return GTC
	}
}

// WorkingType selects which price stream triggers conditional orders.
type WorkingType int

// Working type constants.
const (
	// WorkingContractPrice triggers on the last traded price.
	WorkingContractPrice WorkingType = iota
	// WorkingMarkPrice triggers on the mark price.
	WorkingMarkPrice
)

// String returns the string representation of the working type.
func (w WorkingType) String() string {
	return [...]string{"CONTRACT_PRICE", "MARK_PRICE"}[w]
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Credentials holds API authentication credentials. They are immutable for
// the lifetime of a client.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key"`
	// SecretKey is the private key used for request signing.
	SecretKey string `json:"secret_key"`
}

// Order is the canonical order record. Both the compact websocket push shape
// and the verbose REST shape normalize into it.
type Order struct {
	// OrderID is the exchange-assigned order identifier.
	OrderID int64 `json:"order_id"`
	// ClientOrderID is the client-assigned order identifier.
	ClientOrderID string `json:"client_order_id"`
	// Symbol is the contract this order trades.
	Symbol string `json:"symbol"`
	// Side indicates whether this is a buy or sell order.
	Side OrderSide `json:"side"`
	// PositionSide is the position leg the order affects.
	PositionSide PositionSide `json:"position_side"`
	// Type defines how the order executes.
	Type OrderType `json:"type"`
	// Status is the current lifecycle state.
	Status OrderStatus `json:"status"`
	// Price is the limit price; zero for market orders.
	Price apd.Decimal `json:"price"`
	// StopPrice is the trigger price for conditional orders.
	StopPrice apd.Decimal `json:"stop_price"`
	// ActivationPrice is the trailing-stop activation price, if any.
	ActivationPrice apd.Decimal `json:"activation_price"`
	// CallbackRate is the trailing-stop callback percentage, if any.
	CallbackRate apd.Decimal `json:"callback_rate"`
	// OrigQty is the original order quantity.
	OrigQty apd.Decimal `json:"orig_qty"`
	// ExecutedQty is the quantity filled so far.
	ExecutedQty apd.Decimal `json:"executed_qty"`
	// AvgPrice is the average fill price.
	AvgPrice apd.Decimal `json:"avg_price"`
	// ReduceOnly marks orders that may only decrease a position.
	ReduceOnly bool `json:"reduce_only"`
	// ClosePosition marks conditional orders that flatten the whole position.
	ClosePosition bool `json:"close_position"`
	// TimeInForce defines how long the order remains active.
	TimeInForce TimeInForce `json:"time_in_force"`
	// Time is the order creation time in epoch milliseconds.
	Time int64 `json:"time"`
	// UpdateTime is the last modification time in epoch milliseconds.
	UpdateTime int64 `json:"update_time"`
}

// EffectiveUpdateTime returns the update time, falling back to the creation
// time when the exchange omitted it. Used for deduplication ordering.
func (o *Order) EffectiveUpdateTime() int64 {
	if o.UpdateTime != 0 {
		return o.UpdateTime
	}
	return o.Time
}

// Asset is the per-currency balance entry of an account snapshot.
type Asset struct {
	// Asset is the currency code (e.g. "USDT").
	Asset string `json:"asset"`
	// WalletBalance is the total wallet balance.
	WalletBalance apd.Decimal `json:"wallet_balance"`
	// CrossWalletBalance is the balance available to cross-margin positions.
	CrossWalletBalance apd.Decimal `json:"cross_wallet_balance"`
	// AvailableBalance is the balance free for new orders.
	AvailableBalance apd.Decimal `json:"available_balance"`
	// UnrealizedProfit is the unrealized P&L attributed to the asset.
	UnrealizedProfit apd.Decimal `json:"unrealized_profit"`
	// UpdateTime is the last change time in epoch milliseconds.
	UpdateTime int64 `json:"update_time"`
}

// Position is the per-(symbol, position side) entry of an account snapshot.
type Position struct {
	// Symbol is the contract.
	Symbol string `json:"symbol"`
	// PositionSide is the leg this entry describes.
	PositionSide PositionSide `json:"position_side"`
	// PositionAmt is the signed position size.
	PositionAmt apd.Decimal `json:"position_amt"`
	// EntryPrice is the average entry price.
	EntryPrice apd.Decimal `json:"entry_price"`
	// UnrealizedProfit is the unrealized P&L of the leg.
	UnrealizedProfit apd.Decimal `json:"unrealized_profit"`
	// Leverage is the configured leverage for the symbol.
	Leverage apd.Decimal `json:"leverage"`
	// Isolated reports whether the leg uses isolated margin.
	Isolated bool `json:"isolated"`
	// UpdateTime is the last change time in epoch milliseconds.
	UpdateTime int64 `json:"update_time"`
}

// AccountSnapshot is the locally reconciled copy of exchange-side account
// state. The struct instance is stable: the periodic poll overwrites fields
// in place so observers holding the pointer always see current data.
type AccountSnapshot struct {
	// CanTrade reports whether the account may trade.
	CanTrade bool `json:"can_trade"`
	// TotalWalletBalance is the sum of all wallet balances in quote terms.
	TotalWalletBalance apd.Decimal `json:"total_wallet_balance"`
	// TotalUnrealizedProfit is the account-wide unrealized P&L.
	TotalUnrealizedProfit apd.Decimal `json:"total_unrealized_profit"`
	// TotalMarginBalance is wallet balance plus unrealized P&L.
	TotalMarginBalance apd.Decimal `json:"total_margin_balance"`
	// AvailableBalance is the balance free for new positions.
	AvailableBalance apd.Decimal `json:"available_balance"`
	// UpdateTime is the snapshot time in epoch milliseconds.
	UpdateTime int64 `json:"update_time"`
	// Assets holds per-currency balances keyed by asset code order.
	Assets []Asset `json:"assets"`
	// Positions holds per-leg position data.
	Positions []Position `json:"positions"`
}

// FindAsset returns the asset entry with the given code, or nil.
func (a *AccountSnapshot) FindAsset(code string) *Asset {
	for i := range a.Assets {
		if a.Assets[i].Asset == code {
			return &a.Assets[i]
		}
	}
	return nil
}

// FindPosition returns the position entry for (symbol, side), or nil.
func (a *AccountSnapshot) FindPosition(symbol string, side PositionSide) *Position {
	for i := range a.Positions {
		if a.Positions[i].Symbol == symbol && a.Positions[i].PositionSide == side {
			return &a.Positions[i]
		}
	}
	return nil
}

// DepthLevel is a single price level of the order book.
type DepthLevel struct {
	// Price is the level's limit price.
	Price apd.Decimal `json:"price"`
	// Quantity is the resting quantity at the price.
	Quantity apd.Decimal `json:"quantity"`
}

// Depth is the canonical order-book snapshot. Websocket pushes and REST
// depth responses populate the same structure.
type Depth struct {
	// Symbol is the contract.
	Symbol string `json:"symbol"`
	// EventTime is the push event time in epoch milliseconds (push only).
	EventTime int64 `json:"event_time"`
	// TradeTime is the transaction time in epoch milliseconds (push only).
	TradeTime int64 `json:"trade_time"`
	// FirstUpdateID is the first update id covered (push only).
	FirstUpdateID int64 `json:"first_update_id"`
	// LastUpdateID is the last update id covered.
	LastUpdateID int64 `json:"last_update_id"`
	// Bids are buy levels, best first.
	Bids []DepthLevel `json:"bids"`
	// Asks are sell levels, best first.
	Asks []DepthLevel `json:"asks"`
}

// Ticker is the canonical 24h ticker. Mini-ticker pushes omit the HTTP-only
// statistical fields, which then stay at their zero values.
type Ticker struct {
	// Symbol is the contract.
	Symbol string `json:"symbol"`
	// LastPrice is the most recent trade price.
	LastPrice apd.Decimal `json:"last_price"`
	// OpenPrice is the first trade price of the window.
	OpenPrice apd.Decimal `json:"open_price"`
	// HighPrice is the window high.
	HighPrice apd.Decimal `json:"high_price"`
	// LowPrice is the window low.
	LowPrice apd.Decimal `json:"low_price"`
	// Volume is the base-asset volume of the window.
	Volume apd.Decimal `json:"volume"`
	// QuoteVolume is the quote-asset volume of the window.
	QuoteVolume apd.Decimal `json:"quote_volume"`
	// PriceChange is the window price change (HTTP only).
	PriceChange apd.Decimal `json:"price_change"`
	// PriceChangePercent is the window change percentage (HTTP only).
	PriceChangePercent apd.Decimal `json:"price_change_percent"`
	// WeightedAvgPrice is the volume-weighted average price (HTTP only).
	WeightedAvgPrice apd.Decimal `json:"weighted_avg_price"`
	// Count is the number of trades in the window (HTTP only).
	Count int64 `json:"count"`
	// EventTime is the push event time in epoch milliseconds (push only).
	EventTime int64 `json:"event_time"`
}

// Kline is the canonical candlestick, keyed by OpenTime.
type Kline struct {
	// Symbol is the contract.
	Symbol string `json:"symbol"`
	// Interval is the candle interval (e.g. "1m").
	Interval string `json:"interval"`
	// OpenTime is the candle start in epoch milliseconds; the series key.
	OpenTime int64 `json:"open_time"`
	// CloseTime is the candle end in epoch milliseconds.
	CloseTime int64 `json:"close_time"`
	// Open is the first price of the candle.
	Open apd.Decimal `json:"open"`
	// High is the highest price of the candle.
	High apd.Decimal `json:"high"`
	// Low is the lowest price of the candle.
	Low apd.Decimal `json:"low"`
	// Close is the last price of the candle.
	Close apd.Decimal `json:"close"`
	// Volume is the base-asset volume.
	Volume apd.Decimal `json:"volume"`
	// QuoteVolume is the quote-asset volume.
	QuoteVolume apd.Decimal `json:"quote_volume"`
	// Trades is the number of trades in the candle.
	Trades int64 `json:"trades"`
	// TakerBuyVolume is the taker buy base-asset volume.
	TakerBuyVolume apd.Decimal `json:"taker_buy_volume"`
	// TakerBuyQuoteVolume is the taker buy quote-asset volume.
	TakerBuyQuoteVolume apd.Decimal `json:"taker_buy_quote_volume"`
	// Closed reports whether the candle is final (push only).
	Closed bool `json:"closed"`
}
