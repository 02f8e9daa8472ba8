package aster

import (
	"github.com/cockroachdb/apd/v3"
)

// Raw REST payloads. The exchange sends decimals as strings; apd.Decimal
// parses them via encoding.TextUnmarshaler without a float round trip.

type asterServerTime struct {
	ServerTime int64 `json:"serverTime"`
}

type asterOrder struct {
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Status        string      `json:"status"`
	Price         apd.Decimal `json:"price"`
	AvgPrice      apd.Decimal `json:"avgPrice"`
	OrigQty       apd.Decimal `json:"origQty"`
	ExecutedQty   apd.Decimal `json:"executedQty"`
	CumQuote      apd.Decimal `json:"cumQuote"`
	TimeInForce   string      `json:"timeInForce"`
	Type          string      `json:"type"`
	OrigType      string      `json:"origType"`
	Side          string      `json:"side"`
	PositionSide  string      `json:"positionSide"`
	StopPrice     apd.Decimal `json:"stopPrice"`
	ActivatePrice apd.Decimal `json:"activatePrice"`
	PriceRate     apd.Decimal `json:"priceRate"`
	ReduceOnly    bool        `json:"reduceOnly"`
	ClosePosition bool        `json:"closePosition"`
	WorkingType   string      `json:"workingType"`
	Time          int64       `json:"time"`
	UpdateTime    int64       `json:"updateTime"`
}

type asterAsset struct {
	Asset              string      `json:"asset"`
	WalletBalance      apd.Decimal `json:"walletBalance"`
	CrossWalletBalance apd.Decimal `json:"crossWalletBalance"`
	AvailableBalance   apd.Decimal `json:"availableBalance"`
	UnrealizedProfit   apd.Decimal `json:"unrealizedProfit"`
	UpdateTime         int64       `json:"updateTime"`
}

type asterPosition struct {
	Symbol           string      `json:"symbol"`
	PositionSide     string      `json:"positionSide"`
	PositionAmt      apd.Decimal `json:"positionAmt"`
	EntryPrice       apd.Decimal `json:"entryPrice"`
	UnrealizedProfit apd.Decimal `json:"unrealizedProfit"`
	Leverage         apd.Decimal `json:"leverage"`
	Isolated         bool        `json:"isolated"`
	UpdateTime       int64       `json:"updateTime"`
}

type asterAccount struct {
	CanTrade              bool            `json:"canTrade"`
	TotalWalletBalance    apd.Decimal     `json:"totalWalletBalance"`
	TotalUnrealizedProfit apd.Decimal     `json:"totalUnrealizedProfit"`
	TotalMarginBalance    apd.Decimal     `json:"totalMarginBalance"`
	AvailableBalance      apd.Decimal     `json:"availableBalance"`
	UpdateTime            int64           `json:"updateTime"`
	Assets                []asterAsset    `json:"assets"`
	Positions             []asterPosition `json:"positions"`
}

type asterBalance struct {
	Asset              string      `json:"asset"`
	Balance            apd.Decimal `json:"balance"`
	CrossWalletBalance apd.Decimal `json:"crossWalletBalance"`
	AvailableBalance   apd.Decimal `json:"availableBalance"`
	CrossUnPnl         apd.Decimal `json:"crossUnPnl"`
	UpdateTime         int64       `json:"updateTime"`
}

type asterPositionRisk struct {
	Symbol           string      `json:"symbol"`
	PositionSide     string      `json:"positionSide"`
	PositionAmt      apd.Decimal `json:"positionAmt"`
	EntryPrice       apd.Decimal `json:"entryPrice"`
	UnrealizedProfit apd.Decimal `json:"unRealizedProfit"`
	Leverage         apd.Decimal `json:"leverage"`
	MarginType       string      `json:"marginType"`
	UpdateTime       int64       `json:"updateTime"`
}

type asterDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	EventTime    int64       `json:"E"`
	TradeTime    int64       `json:"T"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type asterTicker struct {
	Symbol             string      `json:"symbol"`
	PriceChange        apd.Decimal `json:"priceChange"`
	PriceChangePercent apd.Decimal `json:"priceChangePercent"`
	WeightedAvgPrice   apd.Decimal `json:"weightedAvgPrice"`
	LastPrice          apd.Decimal `json:"lastPrice"`
	OpenPrice          apd.Decimal `json:"openPrice"`
	HighPrice          apd.Decimal `json:"highPrice"`
	LowPrice           apd.Decimal `json:"lowPrice"`
	Volume             apd.Decimal `json:"volume"`
	QuoteVolume        apd.Decimal `json:"quoteVolume"`
	Count              int64       `json:"count"`
}

// asterKline is the positional kline array:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
// trades, takerBuyVolume, takerBuyQuoteVolume, ignore].
type asterKline []any

type asterUserTrade struct {
	ID              int64       `json:"id"`
	OrderID         int64       `json:"orderId"`
	Symbol          string      `json:"symbol"`
	Side            string      `json:"side"`
	PositionSide    string      `json:"positionSide"`
	Price           apd.Decimal `json:"price"`
	Qty             apd.Decimal `json:"qty"`
	QuoteQty        apd.Decimal `json:"quoteQty"`
	RealizedPnl     apd.Decimal `json:"realizedPnl"`
	Commission      apd.Decimal `json:"commission"`
	CommissionAsset string      `json:"commissionAsset"`
	Maker           bool        `json:"maker"`
	Time            int64       `json:"time"`
}

type asterIncome struct {
	Symbol     string      `json:"symbol"`
	IncomeType string      `json:"incomeType"`
	Income     apd.Decimal `json:"income"`
	Asset      string      `json:"asset"`
	Info       string      `json:"info"`
	Time       int64       `json:"time"`
	TranID     int64       `json:"tranId"`
}

type asterListenKey struct {
	ListenKey string `json:"listenKey"`
}

type asterLeverage struct {
	Symbol           string      `json:"symbol"`
	Leverage         int         `json:"leverage"`
	MaxNotionalValue apd.Decimal `json:"maxNotionalValue"`
}

type asterSymbolInfo struct {
	Symbol            string              `json:"symbol"`
	Status            string              `json:"status"`
	BaseAsset         string              `json:"baseAsset"`
	QuoteAsset        string              `json:"quoteAsset"`
	PricePrecision    int                 `json:"pricePrecision"`
	QuantityPrecision int                 `json:"quantityPrecision"`
	Filters           []map[string]string `json:"filters"`
}

type asterExchangeInfo struct {
	ServerTime int64             `json:"serverTime"`
	Symbols    []asterSymbolInfo `json:"symbols"`
}

// Websocket push payloads. The stream uses single-letter keys; every event
// carries its type under "e".

// streamEnvelope declares both "e" and "E": decoders fall back to
// case-insensitive key matching, so omitting either would route the numeric
// event-time key into the string field.
type streamEnvelope struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

type pushOrderUpdate struct {
	Event     string        `json:"e"`
	EventTime int64         `json:"E"`
	TradeTime int64         `json:"T"`
	Order     pushOrderData `json:"o"`
}

type pushOrderData struct {
	Symbol          string      `json:"s"`
	ClientOrderID   string      `json:"c"`
	Side            string      `json:"S"`
	Type            string      `json:"o"`
	TimeInForce     string      `json:"f"`
	OrigQty         apd.Decimal `json:"q"`
	Price           apd.Decimal `json:"p"`
	AvgPrice        apd.Decimal `json:"ap"`
	StopPrice       apd.Decimal `json:"sp"`
	ExecutionType   string      `json:"x"`
	Status          string      `json:"X"`
	OrderID         int64       `json:"i"`
	CumQty          apd.Decimal `json:"z"`
	TradeTime       int64       `json:"T"`
	ReduceOnly      bool        `json:"R"`
	WorkingType     string      `json:"wt"`
	OrigType        string      `json:"ot"`
	PositionSide    string      `json:"ps"`
	ClosePosition   bool        `json:"cp"`
	ActivationPrice apd.Decimal `json:"AP"`
	CallbackRate    apd.Decimal `json:"cr"`
	RealizedProfit  apd.Decimal `json:"rp"`
}

type pushAccountUpdate struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	TradeTime int64           `json:"T"`
	Data      pushAccountData `json:"a"`
}

type pushAccountData struct {
	Reason    string               `json:"m"`
	Balances  []pushAccountBalance `json:"B"`
	Positions []pushPosition       `json:"P"`
}

type pushAccountBalance struct {
	Asset              string      `json:"a"`
	WalletBalance      apd.Decimal `json:"wb"`
	CrossWalletBalance apd.Decimal `json:"cw"`
	BalanceChange      apd.Decimal `json:"bc"`
}

type pushPosition struct {
	Symbol           string      `json:"s"`
	PositionAmt      apd.Decimal `json:"pa"`
	EntryPrice       apd.Decimal `json:"ep"`
	UnrealizedProfit apd.Decimal `json:"up"`
	MarginType       string      `json:"mt"`
	IsolatedWallet   apd.Decimal `json:"iw"`
	PositionSide     string      `json:"ps"`
}

type pushDepth struct {
	Event         string      `json:"e"`
	EventTime     int64       `json:"E"`
	TradeTime     int64       `json:"T"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	LastUpdateID  int64       `json:"u"`
	PrevUpdateID  int64       `json:"pu"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

type pushMiniTicker struct {
	Event       string      `json:"e"`
	EventTime   int64       `json:"E"`
	Symbol      string      `json:"s"`
	ClosePrice  apd.Decimal `json:"c"`
	OpenPrice   apd.Decimal `json:"o"`
	HighPrice   apd.Decimal `json:"h"`
	LowPrice    apd.Decimal `json:"l"`
	Volume      apd.Decimal `json:"v"`
	QuoteVolume apd.Decimal `json:"q"`
}

type pushKlineEvent struct {
	Event     string        `json:"e"`
	EventTime int64         `json:"E"`
	Symbol    string        `json:"s"`
	Kline     pushKlineData `json:"k"`
}

type pushKlineData struct {
	OpenTime            int64       `json:"t"`
	CloseTime           int64       `json:"T"`
	Symbol              string      `json:"s"`
	Interval            string      `json:"i"`
	Open                apd.Decimal `json:"o"`
	Close               apd.Decimal `json:"c"`
	High                apd.Decimal `json:"h"`
	Low                 apd.Decimal `json:"l"`
	Volume              apd.Decimal `json:"v"`
	Trades              int64       `json:"n"`
	Closed              bool        `json:"x"`
	QuoteVolume         apd.Decimal `json:"q"`
	TakerBuyVolume      apd.Decimal `json:"V"`
	TakerBuyQuoteVolume apd.Decimal `json:"Q"`
}
