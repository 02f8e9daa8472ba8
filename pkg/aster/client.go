// Package aster implements the exchange-specific REST surface and the
// translation between wire payloads and the canonical types in pkg/core.
package aster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"nakula/internal/circuitbreaker"
	"nakula/internal/ratelimit"
	"nakula/internal/rest"
	"nakula/pkg/core"
)

// Client is the REST client for a single symbol and account.
type Client struct {
	config  *core.Config
	rest    *rest.Client
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// Option is a functional option for configuring the Client.
type Option func(*Options)

// Options holds configuration options for the Client.
type Options struct {
	Logger zerolog.Logger
}

// WithLogger returns an option that sets the logger for the client.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// New creates a Client from the configuration.
func New(config *core.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	options := &Options{
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	limiter := ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod)

	var breaker *circuitbreaker.Breaker
	if config.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
		})
	}

	transport, err := rest.New(rest.Config{
		BaseURL:     config.BaseURL,
		Timeout:     config.Timeout,
		Credentials: config.Credentials,
		RecvWindow:  config.RecvWindow,
		Limiter:     limiter,
		Breaker:     breaker,
		Logger:      options.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	return &Client{
		config:  config,
		rest:    transport,
		limiter: limiter,
		logger:  options.Logger,
	}, nil
}

// Symbol returns the contract this client trades.
func (c *Client) Symbol() string {
	return c.config.Symbol
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.rest.Close()
}

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rest.Public(ctx, http.MethodGet, "/fapi/v1/ping", nil, nil)
}

// ServerTime returns the exchange clock in epoch milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var raw asterServerTime
	if err := c.rest.Public(ctx, http.MethodGet, "/fapi/v1/time", nil, &raw); err != nil {
		return 0, err
	}
	return raw.ServerTime, nil
}

// SymbolInfo describes the traded contract's precision rules.
type SymbolInfo struct {
	Symbol            string
	Status            string
	BaseAsset         string
	QuoteAsset        string
	PricePrecision    int
	QuantityPrecision int
}

// ExchangeInfo returns the precision rules for the configured symbol.
func (c *Client) ExchangeInfo(ctx context.Context) (*SymbolInfo, error) {
	var raw asterExchangeInfo
	if err := c.rest.Public(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, &raw); err != nil {
		return nil, err
	}
	for _, s := range raw.Symbols {
		if s.Symbol == c.config.Symbol {
			return &SymbolInfo{
				Symbol:            s.Symbol,
				Status:            s.Status,
				BaseAsset:         s.BaseAsset,
				QuoteAsset:        s.QuoteAsset,
				PricePrecision:    s.PricePrecision,
				QuantityPrecision: s.QuantityPrecision,
			}, nil
		}
	}
	return nil, fmt.Errorf("symbol %s not listed", c.config.Symbol)
}

// Depth returns an order book snapshot with up to limit levels per side.
func (c *Client) Depth(ctx context.Context, limit int) (*core.Depth, error) {
	params := c.symbolParams()
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var raw asterDepth
	if err := c.rest.Public(ctx, http.MethodGet, "/fapi/v1/depth", params, &raw); err != nil {
		return nil, err
	}
	return depthFromREST(&raw, c.config.Symbol)
}

// Ticker returns the 24h rolling window ticker.
func (c *Client) Ticker(ctx context.Context) (*core.Ticker, error) {
	var raw asterTicker
	if err := c.rest.Public(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", c.symbolParams(), &raw); err != nil {
		return nil, err
	}
	return tickerFromREST(&raw), nil
}

// Klines returns up to limit historical candles for the interval,
// oldest first.
func (c *Client) Klines(ctx context.Context, interval string, limit int) ([]core.Kline, error) {
	params := c.symbolParams()
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var raw []asterKline
	if err := c.rest.Public(ctx, http.MethodGet, "/fapi/v1/klines", params, &raw); err != nil {
		return nil, err
	}
	klines := make([]core.Kline, 0, len(raw))
	for _, rk := range raw {
		k, err := klineFromREST(rk, c.config.Symbol, interval)
		if err != nil {
			return nil, fmt.Errorf("normalize kline: %w", err)
		}
		klines = append(klines, *k)
	}
	return klines, nil
}

// Account returns the full account snapshot: balances and positions.
func (c *Client) Account(ctx context.Context) (*core.AccountSnapshot, error) {
	var raw asterAccount
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v2/account", nil, &raw); err != nil {
		return nil, err
	}
	return accountFromREST(&raw), nil
}

// Balances returns per-asset futures wallet balances.
func (c *Client) Balances(ctx context.Context) ([]core.Asset, error) {
	var raw []asterBalance
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v2/balance", nil, &raw); err != nil {
		return nil, err
	}
	assets := make([]core.Asset, 0, len(raw))
	for _, b := range raw {
		assets = append(assets, core.Asset{
			Asset:              b.Asset,
			WalletBalance:      b.Balance,
			CrossWalletBalance: b.CrossWalletBalance,
			AvailableBalance:   b.AvailableBalance,
			UpdateTime:         b.UpdateTime,
		})
	}
	return assets, nil
}

// PositionRisk returns the open position legs for the configured symbol.
func (c *Client) PositionRisk(ctx context.Context) ([]core.Position, error) {
	var raw []asterPositionRisk
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", c.symbolParams(), &raw); err != nil {
		return nil, err
	}
	positions := make([]core.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, *positionFromRisk(&p))
	}
	return positions, nil
}

// OpenOrders returns all resting orders for the configured symbol.
func (c *Client) OpenOrders(ctx context.Context) ([]core.Order, error) {
	var raw []asterOrder
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v1/openOrders", c.symbolParams(), &raw); err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, *orderFromREST(&o))
	}
	return orders, nil
}

// OrderRequest carries the parameters for placing one order. Zero-valued
// optional fields are omitted from the request.
type OrderRequest struct {
	Side            core.OrderSide
	PositionSide    core.PositionSide
	Type            core.OrderType
	Quantity        apd.Decimal
	Price           apd.Decimal
	StopPrice       apd.Decimal
	ActivationPrice apd.Decimal
	CallbackRate    apd.Decimal
	TimeInForce     core.TimeInForce
	ReduceOnly      bool
	ClosePosition   bool
	WorkingType     core.WorkingType
	ClientOrderID   string
}

func (r *OrderRequest) values(symbol string) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", r.Side.String())
	params.Set("type", r.Type.String())
	if r.PositionSide != core.PositionBoth {
		params.Set("positionSide", r.PositionSide.String())
	}
	if !r.Quantity.IsZero() {
		params.Set("quantity", r.Quantity.Text('f'))
	}
	if !r.Price.IsZero() {
		params.Set("price", r.Price.Text('f'))
		params.Set("timeInForce", r.TimeInForce.String())
	}
	if !r.StopPrice.IsZero() {
		params.Set("stopPrice", r.StopPrice.Text('f'))
	}
	if !r.ActivationPrice.IsZero() {
		params.Set("activationPrice", r.ActivationPrice.Text('f'))
	}
	if !r.CallbackRate.IsZero() {
		params.Set("callbackRate", r.CallbackRate.Text('f'))
	}
	if r.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if r.ClosePosition {
		params.Set("closePosition", "true")
	}
	if r.WorkingType == core.WorkingMarkPrice {
		params.Set("workingType", r.WorkingType.String())
	}
	if r.ClientOrderID != "" {
		params.Set("newClientOrderId", r.ClientOrderID)
	}
	return params
}

// CreateOrder submits a new order and returns its normalized echo.
func (c *Client) CreateOrder(ctx context.Context, req *OrderRequest) (*core.Order, error) {
	var raw asterOrder
	err := c.rest.Signed(ctx, http.MethodPost, "/fapi/v1/order", req.values(c.config.Symbol), &raw,
		rest.WithBucket(rest.BucketOrders))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order := orderFromREST(&raw)
	c.logger.Info().
		Int64("order_id", order.OrderID).
		Str("type", order.Type.String()).
		Str("side", order.Side.String()).
		Msg("order created")
	return order, nil
}

// CancelOrder cancels a single order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*core.Order, error) {
	params := c.symbolParams()
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var raw asterOrder
	err := c.rest.Signed(ctx, http.MethodDelete, "/fapi/v1/order", params, &raw,
		rest.WithBucket(rest.BucketOrders))
	if err != nil {
		return nil, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return orderFromREST(&raw), nil
}

// CancelOrders cancels up to ten orders in one batch request.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []int64) error {
	if len(orderIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	params := c.symbolParams()
	params.Set("orderIdList", "["+strings.Join(ids, ",")+"]")
	err := c.rest.Signed(ctx, http.MethodDelete, "/fapi/v1/batchOrders", params, nil,
		rest.WithBucket(rest.BucketOrders))
	if err != nil {
		return fmt.Errorf("cancel %d orders: %w", len(orderIDs), err)
	}
	return nil
}

// CancelAllOrders cancels every resting order on the symbol.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	err := c.rest.Signed(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", c.symbolParams(), nil,
		rest.WithBucket(rest.BucketOrders))
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	return nil
}

// QueryOrder fetches one order by exchange id, resting or not.
func (c *Client) QueryOrder(ctx context.Context, orderID int64) (*core.Order, error) {
	params := c.symbolParams()
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var raw asterOrder
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v1/order", params, &raw); err != nil {
		return nil, err
	}
	return orderFromREST(&raw), nil
}

// UserTrade is one fill of the account on the configured symbol.
type UserTrade struct {
	ID              int64
	OrderID         int64
	Symbol          string
	Side            core.OrderSide
	PositionSide    core.PositionSide
	Price           apd.Decimal
	Quantity        apd.Decimal
	QuoteQuantity   apd.Decimal
	RealizedPnl     apd.Decimal
	Commission      apd.Decimal
	CommissionAsset string
	Maker           bool
	Time            int64
}

// UserTrades returns the account's recent fills, newest last.
func (c *Client) UserTrades(ctx context.Context, limit int) ([]UserTrade, error) {
	params := c.symbolParams()
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var raw []asterUserTrade
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v1/userTrades", params, &raw); err != nil {
		return nil, err
	}
	trades := make([]UserTrade, 0, len(raw))
	for _, t := range raw {
		trades = append(trades, UserTrade{
			ID:              t.ID,
			OrderID:         t.OrderID,
			Symbol:          t.Symbol,
			Side:            core.ParseOrderSide(t.Side),
			PositionSide:    core.ParsePositionSide(t.PositionSide),
			Price:           t.Price,
			Quantity:        t.Qty,
			QuoteQuantity:   t.QuoteQty,
			RealizedPnl:     t.RealizedPnl,
			Commission:      t.Commission,
			CommissionAsset: t.CommissionAsset,
			Maker:           t.Maker,
			Time:            t.Time,
		})
	}
	return trades, nil
}

// IncomeRecord is one income-history entry (realized pnl, funding, fees).
type IncomeRecord struct {
	Symbol     string
	IncomeType string
	Income     apd.Decimal
	Asset      string
	Info       string
	Time       int64
	TranID     int64
}

// Income returns the account's income history for the symbol.
func (c *Client) Income(ctx context.Context, incomeType string, limit int) ([]IncomeRecord, error) {
	params := c.symbolParams()
	if incomeType != "" {
		params.Set("incomeType", incomeType)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var raw []asterIncome
	if err := c.rest.Signed(ctx, http.MethodGet, "/fapi/v1/income", params, &raw); err != nil {
		return nil, err
	}
	records := make([]IncomeRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, IncomeRecord{
			Symbol:     r.Symbol,
			IncomeType: r.IncomeType,
			Income:     r.Income,
			Asset:      r.Asset,
			Info:       r.Info,
			Time:       r.Time,
			TranID:     r.TranID,
		})
	}
	return records, nil
}

// SetLeverage changes the symbol's leverage.
func (c *Client) SetLeverage(ctx context.Context, leverage int) error {
	params := c.symbolParams()
	params.Set("leverage", strconv.Itoa(leverage))
	var raw asterLeverage
	if err := c.rest.Signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, &raw); err != nil {
		return fmt.Errorf("set leverage %d: %w", leverage, err)
	}
	c.logger.Info().Int("leverage", raw.Leverage).Msg("leverage updated")
	return nil
}

// SetMarginType switches the symbol between "ISOLATED" and "CROSSED" margin.
func (c *Client) SetMarginType(ctx context.Context, marginType string) error {
	params := c.symbolParams()
	params.Set("marginType", marginType)
	if err := c.rest.Signed(ctx, http.MethodPost, "/fapi/v1/marginType", params, nil); err != nil {
		// The exchange rejects a no-op switch with a dedicated code.
		if exErr := asExchangeError(err); exErr != nil && exErr.Code == -4046 {
			return nil
		}
		return fmt.Errorf("set margin type %s: %w", marginType, err)
	}
	return nil
}

// CreateListenKey starts a private data stream and returns its key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var raw asterListenKey
	if err := c.rest.Signed(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, &raw); err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	return raw.ListenKey, nil
}

// KeepAliveListenKey extends the active listen key's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	if err := c.rest.Signed(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, nil); err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	return nil
}

// CloseListenKey revokes the active listen key.
func (c *Client) CloseListenKey(ctx context.Context) error {
	if err := c.rest.Signed(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, nil); err != nil {
		return fmt.Errorf("close listen key: %w", err)
	}
	return nil
}

func (c *Client) symbolParams() url.Values {
	params := url.Values{}
	params.Set("symbol", c.config.Symbol)
	return params
}

func asExchangeError(err error) *core.ExchangeError {
	var e *core.ExchangeError
	if errors.As(err, &e) {
		return e
	}
	return nil
}
