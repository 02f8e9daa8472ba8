package aster

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
)

// Stream event names carried under the "e" key of every push frame.
const (
	eventOrderUpdate      = "ORDER_TRADE_UPDATE"
	eventAccountUpdate    = "ACCOUNT_UPDATE"
	eventDepthUpdate      = "depthUpdate"
	eventMiniTicker       = "24hrMiniTicker"
	eventKline            = "kline"
	eventListenKeyExpired = "listenKeyExpired"
)

// OrderUpdateEvent is a private-stream order status change.
type OrderUpdateEvent struct {
	EventTime int64
	Order     *core.Order
}

// BalanceDelta is the compact balance fragment of an account update. Fields
// the push omits (available balance, unrealized profit) are not included;
// the periodic poll refreshes those.
type BalanceDelta struct {
	Asset              string
	WalletBalance      apd.Decimal
	CrossWalletBalance apd.Decimal
}

// PositionDelta is the compact position fragment of an account update.
type PositionDelta struct {
	Symbol           string
	PositionSide     core.PositionSide
	PositionAmt      apd.Decimal
	EntryPrice       apd.Decimal
	UnrealizedProfit apd.Decimal
}

// AccountUpdateEvent is a private-stream account change.
type AccountUpdateEvent struct {
	EventTime int64
	Reason    string
	Balances  []BalanceDelta
	Positions []PositionDelta
}

// ListenKeyExpiredEvent signals that the private stream key died server-side.
// The session reacts by cycling the connection.
type ListenKeyExpiredEvent struct {
	EventTime int64
}

// ParseEvent decodes one push frame into a typed event: *core.Depth,
// *core.Ticker, *core.Kline, *OrderUpdateEvent, *AccountUpdateEvent or
// *ListenKeyExpiredEvent. Frames without a recognized "e" key (subscription
// acks, unknown events) return (nil, nil) and are dropped by the caller.
func ParseEvent(data []byte) (any, error) {
	var env streamEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case eventOrderUpdate:
		var raw pushOrderUpdate
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode order update: %w", err)
		}
		return &OrderUpdateEvent{EventTime: raw.EventTime, Order: orderFromPush(&raw.Order)}, nil

	case eventAccountUpdate:
		var raw pushAccountUpdate
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode account update: %w", err)
		}
		return accountUpdateFromPush(&raw), nil

	case eventDepthUpdate:
		var raw pushDepth
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode depth update: %w", err)
		}
		return depthFromPush(&raw)

	case eventMiniTicker:
		var raw pushMiniTicker
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode mini ticker: %w", err)
		}
		return tickerFromPush(&raw), nil

	case eventKline:
		var raw pushKlineEvent
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode kline: %w", err)
		}
		return klineFromPush(&raw), nil

	case eventListenKeyExpired:
		// Both keys declared so case-insensitive fallback cannot route
		// the string "e" into the numeric field.
		var raw struct {
			Event     string `json:"e"`
			EventTime int64  `json:"E"`
		}
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode listen key expiry: %w", err)
		}
		return &ListenKeyExpiredEvent{EventTime: raw.EventTime}, nil

	default:
		return nil, nil
	}
}

// orderFromREST maps the verbose REST order shape to the canonical record.
func orderFromREST(raw *asterOrder) *core.Order {
	typ := raw.Type
	if raw.OrigType != "" {
		// Triggered conditional orders report their resting type under
		// "type"; origType preserves what the caller placed.
		typ = raw.OrigType
	}
	return &core.Order{
		OrderID:         raw.OrderID,
		ClientOrderID:   raw.ClientOrderID,
		Symbol:          raw.Symbol,
		Side:            core.ParseOrderSide(raw.Side),
		PositionSide:    core.ParsePositionSide(raw.PositionSide),
		Type:            core.ParseOrderType(typ),
		Status:          core.ParseOrderStatus(raw.Status),
		Price:           raw.Price,
		StopPrice:       raw.StopPrice,
		ActivationPrice: raw.ActivatePrice,
		CallbackRate:    raw.PriceRate,
		OrigQty:         raw.OrigQty,
		ExecutedQty:     raw.ExecutedQty,
		AvgPrice:        raw.AvgPrice,
		ReduceOnly:      raw.ReduceOnly,
		ClosePosition:   raw.ClosePosition,
		TimeInForce:     core.ParseTimeInForce(raw.TimeInForce),
		Time:            raw.Time,
		UpdateTime:      raw.UpdateTime,
	}
}

// orderFromPush maps the compact single-letter push shape to the same
// canonical record the REST path produces.
func orderFromPush(raw *pushOrderData) *core.Order {
	typ := raw.Type
	if raw.OrigType != "" {
		typ = raw.OrigType
	}
	return &core.Order{
		OrderID:         raw.OrderID,
		ClientOrderID:   raw.ClientOrderID,
		Symbol:          raw.Symbol,
		Side:            core.ParseOrderSide(raw.Side),
		PositionSide:    core.ParsePositionSide(raw.PositionSide),
		Type:            core.ParseOrderType(typ),
		Status:          core.ParseOrderStatus(raw.Status),
		Price:           raw.Price,
		StopPrice:       raw.StopPrice,
		ActivationPrice: raw.ActivationPrice,
		CallbackRate:    raw.CallbackRate,
		OrigQty:         raw.OrigQty,
		ExecutedQty:     raw.CumQty,
		AvgPrice:        raw.AvgPrice,
		ReduceOnly:      raw.ReduceOnly,
		ClosePosition:   raw.ClosePosition,
		TimeInForce:     core.ParseTimeInForce(raw.TimeInForce),
		UpdateTime:      raw.TradeTime,
	}
}

func accountFromREST(raw *asterAccount) *core.AccountSnapshot {
	snap := &core.AccountSnapshot{
		CanTrade:              raw.CanTrade,
		TotalWalletBalance:    raw.TotalWalletBalance,
		TotalUnrealizedProfit: raw.TotalUnrealizedProfit,
		TotalMarginBalance:    raw.TotalMarginBalance,
		AvailableBalance:      raw.AvailableBalance,
		UpdateTime:            raw.UpdateTime,
		Assets:                make([]core.Asset, 0, len(raw.Assets)),
		Positions:             make([]core.Position, 0, len(raw.Positions)),
	}
	for _, a := range raw.Assets {
		snap.Assets = append(snap.Assets, core.Asset{
			Asset:              a.Asset,
			WalletBalance:      a.WalletBalance,
			CrossWalletBalance: a.CrossWalletBalance,
			AvailableBalance:   a.AvailableBalance,
			UnrealizedProfit:   a.UnrealizedProfit,
			UpdateTime:         a.UpdateTime,
		})
	}
	for _, p := range raw.Positions {
		snap.Positions = append(snap.Positions, core.Position{
			Symbol:           p.Symbol,
			PositionSide:     core.ParsePositionSide(p.PositionSide),
			PositionAmt:      p.PositionAmt,
			EntryPrice:       p.EntryPrice,
			UnrealizedProfit: p.UnrealizedProfit,
			Leverage:         p.Leverage,
			Isolated:         p.Isolated,
			UpdateTime:       p.UpdateTime,
		})
	}
	return snap
}

func accountUpdateFromPush(raw *pushAccountUpdate) *AccountUpdateEvent {
	ev := &AccountUpdateEvent{
		EventTime: raw.EventTime,
		Reason:    raw.Data.Reason,
		Balances:  make([]BalanceDelta, 0, len(raw.Data.Balances)),
		Positions: make([]PositionDelta, 0, len(raw.Data.Positions)),
	}
	for _, b := range raw.Data.Balances {
		ev.Balances = append(ev.Balances, BalanceDelta{
			Asset:              b.Asset,
			WalletBalance:      b.WalletBalance,
			CrossWalletBalance: b.CrossWalletBalance,
		})
	}
	for _, p := range raw.Data.Positions {
		ev.Positions = append(ev.Positions, PositionDelta{
			Symbol:           p.Symbol,
			PositionSide:     core.ParsePositionSide(p.PositionSide),
			PositionAmt:      p.PositionAmt,
			EntryPrice:       p.EntryPrice,
			UnrealizedProfit: p.UnrealizedProfit,
		})
	}
	return ev
}

func depthFromREST(raw *asterDepth, symbol string) (*core.Depth, error) {
	bids, err := depthLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := depthLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}
	return &core.Depth{
		Symbol:       symbol,
		EventTime:    raw.EventTime,
		TradeTime:    raw.TradeTime,
		LastUpdateID: raw.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func depthFromPush(raw *pushDepth) (*core.Depth, error) {
	bids, err := depthLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := depthLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}
	return &core.Depth{
		Symbol:        raw.Symbol,
		EventTime:     raw.EventTime,
		TradeTime:     raw.TradeTime,
		FirstUpdateID: raw.FirstUpdateID,
		LastUpdateID:  raw.LastUpdateID,
		Bids:          bids,
		Asks:          asks,
	}, nil
}

func depthLevels(levels [][2]string) ([]core.DepthLevel, error) {
	out := make([]core.DepthLevel, 0, len(levels))
	for _, level := range levels {
		var dl core.DepthLevel
		if err := parseDecimal(&dl.Price, level[0]); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if err := parseDecimal(&dl.Quantity, level[1]); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func tickerFromREST(raw *asterTicker) *core.Ticker {
	return &core.Ticker{
		Symbol:             raw.Symbol,
		LastPrice:          raw.LastPrice,
		OpenPrice:          raw.OpenPrice,
		HighPrice:          raw.HighPrice,
		LowPrice:           raw.LowPrice,
		Volume:             raw.Volume,
		QuoteVolume:        raw.QuoteVolume,
		PriceChange:        raw.PriceChange,
		PriceChangePercent: raw.PriceChangePercent,
		WeightedAvgPrice:   raw.WeightedAvgPrice,
		Count:              raw.Count,
	}
}

// tickerFromPush maps the mini ticker. The statistical fields the push
// omits stay at their zero values.
func tickerFromPush(raw *pushMiniTicker) *core.Ticker {
	return &core.Ticker{
		Symbol:      raw.Symbol,
		LastPrice:   raw.ClosePrice,
		OpenPrice:   raw.OpenPrice,
		HighPrice:   raw.HighPrice,
		LowPrice:    raw.LowPrice,
		Volume:      raw.Volume,
		QuoteVolume: raw.QuoteVolume,
		EventTime:   raw.EventTime,
	}
}

// klineFromREST maps one positional kline array.
func klineFromREST(raw asterKline, symbol, interval string) (*core.Kline, error) {
	if len(raw) < 11 {
		return nil, fmt.Errorf("kline array has %d elements, want 11", len(raw))
	}

	k := &core.Kline{Symbol: symbol, Interval: interval, Closed: true}

	if t, ok := raw[0].(float64); ok {
		k.OpenTime = int64(t)
	}
	if err := parseDecimalAny(&k.Open, raw[1]); err != nil {
		return nil, fmt.Errorf("parse open: %w", err)
	}
	if err := parseDecimalAny(&k.High, raw[2]); err != nil {
		return nil, fmt.Errorf("parse high: %w", err)
	}
	if err := parseDecimalAny(&k.Low, raw[3]); err != nil {
		return nil, fmt.Errorf("parse low: %w", err)
	}
	if err := parseDecimalAny(&k.Close, raw[4]); err != nil {
		return nil, fmt.Errorf("parse close: %w", err)
	}
	if err := parseDecimalAny(&k.Volume, raw[5]); err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}
	if t, ok := raw[6].(float64); ok {
		k.CloseTime = int64(t)
	}
	if err := parseDecimalAny(&k.QuoteVolume, raw[7]); err != nil {
		k.QuoteVolume = apd.Decimal{}
	}
	if n, ok := raw[8].(float64); ok {
		k.Trades = int64(n)
	}
	if err := parseDecimalAny(&k.TakerBuyVolume, raw[9]); err != nil {
		k.TakerBuyVolume = apd.Decimal{}
	}
	if err := parseDecimalAny(&k.TakerBuyQuoteVolume, raw[10]); err != nil {
		k.TakerBuyQuoteVolume = apd.Decimal{}
	}
	return k, nil
}

func klineFromPush(raw *pushKlineEvent) *core.Kline {
	return &core.Kline{
		Symbol:              raw.Symbol,
		Interval:            raw.Kline.Interval,
		OpenTime:            raw.Kline.OpenTime,
		CloseTime:           raw.Kline.CloseTime,
		Open:                raw.Kline.Open,
		High:                raw.Kline.High,
		Low:                 raw.Kline.Low,
		Close:               raw.Kline.Close,
		Volume:              raw.Kline.Volume,
		QuoteVolume:         raw.Kline.QuoteVolume,
		Trades:              raw.Kline.Trades,
		TakerBuyVolume:      raw.Kline.TakerBuyVolume,
		TakerBuyQuoteVolume: raw.Kline.TakerBuyQuoteVolume,
		Closed:              raw.Kline.Closed,
	}
}

func positionFromRisk(raw *asterPositionRisk) *core.Position {
	return &core.Position{
		Symbol:           raw.Symbol,
		PositionSide:     core.ParsePositionSide(raw.PositionSide),
		PositionAmt:      raw.PositionAmt,
		EntryPrice:       raw.EntryPrice,
		UnrealizedProfit: raw.UnrealizedProfit,
		Leverage:         raw.Leverage,
		Isolated:         raw.MarginType == "isolated",
		UpdateTime:       raw.UpdateTime,
	}
}

func parseDecimal(dest *apd.Decimal, s string) error {
	if s == "" {
		*dest = apd.Decimal{}
		return nil
	}
	if _, _, err := apd.BaseContext.SetString(dest, s); err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}
	return nil
}

func parseDecimalAny(dest *apd.Decimal, val any) error {
	switch v := val.(type) {
	case string:
		return parseDecimal(dest, v)
	case float64:
		_, _, err := apd.BaseContext.SetString(dest, fmt.Sprintf("%v", v))
		return err
	default:
		return fmt.Errorf("unsupported type for decimal: %T", val)
	}
}
