// Package feed reconciles pushed websocket events with periodic REST polls
// into one coherent local view: account snapshot, open orders, order book,
// ticker and a bounded candle series.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"nakula/internal/timer"
	"nakula/pkg/aster"
	"nakula/pkg/core"
)

// Reconnector cycles the underlying connection. Satisfied by
// session.Session.
type Reconnector interface {
	ForceReconnect()
}

// orderEntry tracks one open order. Market orders are retained through
// exactly one terminal sighting so consumers observe the fill before the
// entry disappears.
type orderEntry struct {
	order      *core.Order
	pushedOnce bool
}

// Feed is the reconciled state store. Pushes keep it fresh between polls;
// the poll is authoritative on conflict. All exported methods are safe for
// concurrent use; observer callbacks run outside the internal lock.
type Feed struct {
	config *core.Config
	client *aster.Client
	logger zerolog.Logger

	interval string
	poll     *timer.Ticker
	reconn   Reconnector

	mu         sync.Mutex
	ready      bool
	readyCh    chan struct{}
	account    *core.AccountSnapshot
	orders     map[int64]*orderEntry
	depth      *core.Depth
	ticker     *core.Ticker
	klines     []core.Kline
	klinesSeed bool

	onAccount []func(*core.AccountSnapshot)
	onOrders  []func([]core.Order)
	onOrder   []func(*core.Order)
	onDepth   []func(*core.Depth)
	onTicker  []func(*core.Ticker)
	onKline   []func(*core.Kline)
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the feed logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Feed) {
		f.logger = l
	}
}

// WithKlineInterval sets the candle interval maintained by the feed.
// Defaults to "1m".
func WithKlineInterval(interval string) Option {
	return func(f *Feed) {
		f.interval = interval
	}
}

// New creates a Feed over the given REST client.
func New(config *core.Config, client *aster.Client, opts ...Option) *Feed {
	f := &Feed{
		config:   config,
		client:   client,
		logger:   zerolog.Nop(),
		interval: "1m",
		poll:     timer.NewTicker(),
		readyCh:  make(chan struct{}),
		account:  &core.AccountSnapshot{},
		orders:   make(map[int64]*orderEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BindSession wires the connection the feed may cycle on listen-key expiry.
func (f *Feed) BindSession(r Reconnector) {
	f.reconn = r
}

// Bootstrap seeds the store from REST: full account snapshot and the
// current open-orders list. Intended as the session's bootstrap hook; it
// runs again on every reconnect.
func (f *Feed) Bootstrap(ctx context.Context) error {
	snap, err := f.client.Account(ctx)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	open, err := f.client.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	f.mu.Lock()
	f.overwriteAccount(snap)
	f.reconcileOrders(open)
	first := !f.ready
	f.ready = true
	notify := f.collectNotifications(notifyAccount | notifyOrders)
	f.mu.Unlock()

	if first {
		close(f.readyCh)
	}
	notify()

	f.logger.Info().Int("open_orders", len(open)).Msg("state bootstrapped")
	return nil
}

// Start begins the periodic authoritative poll.
func (f *Feed) Start() {
	f.poll.Start(f.config.PollInterval, f.pollOnce)
}

// Stop halts the poll.
func (f *Feed) Stop() {
	f.poll.Stop()
}

// Ready returns a channel closed after the first successful bootstrap.
func (f *Feed) Ready() <-chan struct{} {
	return f.readyCh
}

// SeedKlines loads the historical candle series over REST. It is a no-op
// once the series holds data, so pushes arriving first win.
func (f *Feed) SeedKlines(ctx context.Context) error {
	f.mu.Lock()
	if f.klinesSeed || len(f.klines) > 0 {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	klines, err := f.client.Klines(ctx, f.interval, f.config.KlineLimit)
	if err != nil {
		return fmt.Errorf("seed klines: %w", err)
	}

	f.mu.Lock()
	f.klinesSeed = true
	for i := range klines {
		f.upsertKline(&klines[i])
	}
	f.mu.Unlock()
	return nil
}

func (f *Feed) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), f.config.Timeout)
	defer cancel()

	snap, err := f.client.Account(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Msg("account poll failed")
		return
	}
	open, err := f.client.OpenOrders(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Msg("open orders poll failed")
		return
	}

	f.mu.Lock()
	f.overwriteAccount(snap)
	f.reconcileOrders(open)
	notify := f.collectNotifications(notifyAccount | notifyOrders)
	f.mu.Unlock()
	notify()
}

// overwriteAccount copies the fresh snapshot into the stable container
// field by field. Callers holding the *AccountSnapshot pointer keep seeing
// current data; the pointer itself never changes.
func (f *Feed) overwriteAccount(snap *core.AccountSnapshot) {
	f.account.CanTrade = snap.CanTrade
	f.account.TotalWalletBalance = snap.TotalWalletBalance
	f.account.TotalUnrealizedProfit = snap.TotalUnrealizedProfit
	f.account.TotalMarginBalance = snap.TotalMarginBalance
	f.account.AvailableBalance = snap.AvailableBalance
	f.account.UpdateTime = snap.UpdateTime
	f.account.Assets = snap.Assets
	f.account.Positions = snap.Positions
}

// reconcileOrders applies the authoritative open-orders list: present
// orders are upserted, absent entries are swept. A filled market order
// that has not yet been observed terminal survives one sweep.
func (f *Feed) reconcileOrders(open []core.Order) {
	seen := make(map[int64]struct{}, len(open))
	for i := range open {
		o := open[i]
		seen[o.OrderID] = struct{}{}
		if entry, ok := f.orders[o.OrderID]; ok {
			entry.order = &o
		} else {
			f.orders[o.OrderID] = &orderEntry{order: &o}
		}
	}
	for id, entry := range f.orders {
		if _, ok := seen[id]; ok {
			continue
		}
		if entry.order.Type == core.TypeMarket && entry.order.Status.IsTerminal() && !entry.pushedOnce {
			entry.pushedOnce = true
			continue
		}
		delete(f.orders, id)
	}
}

// HandleFrame consumes one websocket frame. Intended as the session's
// frame hook.
func (f *Feed) HandleFrame(data []byte) {
	ev, err := aster.ParseEvent(data)
	if err != nil {
		f.logger.Debug().Err(err).Msg("frame dropped")
		return
	}

	switch e := ev.(type) {
	case *aster.OrderUpdateEvent:
		f.applyOrderUpdate(e.Order)
	case *aster.AccountUpdateEvent:
		f.applyAccountUpdate(e)
	case *core.Depth:
		f.applyDepth(e)
	case *core.Ticker:
		f.applyTicker(e)
	case *core.Kline:
		f.applyKline(e)
	case *aster.ListenKeyExpiredEvent:
		f.logger.Warn().Msg("listen key expired, cycling connection")
		if f.reconn != nil {
			f.reconn.ForceReconnect()
		}
	}
}

// applyOrderUpdate merges one pushed order status change. Open statuses
// upsert; terminal statuses remove, except that a market order's first
// terminal push is retained so the fill is observable.
func (f *Feed) applyOrderUpdate(order *core.Order) {
	f.mu.Lock()
	if order.Status.IsTerminal() {
		entry, ok := f.orders[order.OrderID]
		switch {
		case order.Type == core.TypeMarket && (!ok || !entry.pushedOnce):
			f.orders[order.OrderID] = &orderEntry{order: order, pushedOnce: true}
		default:
			delete(f.orders, order.OrderID)
		}
	} else {
		if entry, ok := f.orders[order.OrderID]; ok {
			entry.order = order
		} else {
			f.orders[order.OrderID] = &orderEntry{order: order}
		}
	}
	notify := f.collectNotifications(notifyOrders)
	callbacks := make([]func(*core.Order), len(f.onOrder))
	copy(callbacks, f.onOrder)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(order)
	}
	notify()
}

// applyAccountUpdate merges the push's balance and position fragments by
// key. Entries the push does not mention are left untouched; the next poll
// refreshes everything.
func (f *Feed) applyAccountUpdate(ev *aster.AccountUpdateEvent) {
	f.mu.Lock()
	for _, b := range ev.Balances {
		if asset := f.account.FindAsset(b.Asset); asset != nil {
			asset.WalletBalance = b.WalletBalance
			asset.CrossWalletBalance = b.CrossWalletBalance
			asset.UpdateTime = ev.EventTime
		} else {
			f.account.Assets = append(f.account.Assets, core.Asset{
				Asset:              b.Asset,
				WalletBalance:      b.WalletBalance,
				CrossWalletBalance: b.CrossWalletBalance,
				UpdateTime:         ev.EventTime,
			})
		}
	}
	for _, p := range ev.Positions {
		if pos := f.account.FindPosition(p.Symbol, p.PositionSide); pos != nil {
			pos.PositionAmt = p.PositionAmt
			pos.EntryPrice = p.EntryPrice
			pos.UnrealizedProfit = p.UnrealizedProfit
			pos.UpdateTime = ev.EventTime
		} else {
			f.account.Positions = append(f.account.Positions, core.Position{
				Symbol:           p.Symbol,
				PositionSide:     p.PositionSide,
				PositionAmt:      p.PositionAmt,
				EntryPrice:       p.EntryPrice,
				UnrealizedProfit: p.UnrealizedProfit,
				UpdateTime:       ev.EventTime,
			})
		}
	}
	f.account.UpdateTime = ev.EventTime
	notify := f.collectNotifications(notifyAccount)
	f.mu.Unlock()
	notify()
}

func (f *Feed) applyDepth(depth *core.Depth) {
	f.mu.Lock()
	f.depth = depth
	callbacks := make([]func(*core.Depth), len(f.onDepth))
	copy(callbacks, f.onDepth)
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(depth)
	}
}

func (f *Feed) applyTicker(ticker *core.Ticker) {
	f.mu.Lock()
	f.ticker = ticker
	callbacks := make([]func(*core.Ticker), len(f.onTicker))
	copy(callbacks, f.onTicker)
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(ticker)
	}
}

func (f *Feed) applyKline(kline *core.Kline) {
	f.mu.Lock()
	f.upsertKline(kline)
	callbacks := make([]func(*core.Kline), len(f.onKline))
	copy(callbacks, f.onKline)
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(kline)
	}
}

// upsertKline merges one candle into the series keyed by open time. The
// series stays sorted and capped; the oldest candle is evicted first.
// Re-applying the same candle is idempotent.
func (f *Feed) upsertKline(kline *core.Kline) {
	for i := range f.klines {
		if f.klines[i].OpenTime == kline.OpenTime {
			f.klines[i] = *kline
			return
		}
	}
	f.klines = append(f.klines, *kline)
	sort.Slice(f.klines, func(i, j int) bool {
		return f.klines[i].OpenTime < f.klines[j].OpenTime
	})
	if limit := f.config.KlineLimit; limit > 0 && len(f.klines) > limit {
		f.klines = f.klines[len(f.klines)-limit:]
	}
}

// Account returns the stable account snapshot container. The feed
// overwrites its fields in place on every refresh.
func (f *Feed) Account() *core.AccountSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

// OpenOrders returns a copy of the tracked orders, resting first by
// creation time.
func (f *Feed) OpenOrders() []core.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOrdersLocked()
}

func (f *Feed) openOrdersLocked() []core.Order {
	orders := make([]core.Order, 0, len(f.orders))
	for _, entry := range f.orders {
		orders = append(orders, *entry.order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Time < orders[j].Time
	})
	return orders
}

// Depth returns the latest order book snapshot, or nil.
func (f *Feed) Depth() *core.Depth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}

// Ticker returns the latest ticker, or nil.
func (f *Feed) Ticker() *core.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticker
}

// LastPrice returns the most recent trade price.
func (f *Feed) LastPrice() (apd.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticker == nil {
		return apd.Decimal{}, core.ErrNoMarketData
	}
	return f.ticker.LastPrice, nil
}

// Klines returns a copy of the candle series, oldest first.
func (f *Feed) Klines() []core.Kline {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Kline, len(f.klines))
	copy(out, f.klines)
	return out
}

// SubscribeAccount registers an account observer. If a snapshot is already
// present it is replayed synchronously before the call returns.
func (f *Feed) SubscribeAccount(fn func(*core.AccountSnapshot)) {
	f.mu.Lock()
	f.onAccount = append(f.onAccount, fn)
	replay := f.ready
	snap := f.account
	f.mu.Unlock()
	if replay {
		fn(snap)
	}
}

// SubscribeOpenOrders registers an observer for the full open-orders list,
// republished after every change. Current state is replayed synchronously
// when available.
func (f *Feed) SubscribeOpenOrders(fn func([]core.Order)) {
	f.mu.Lock()
	f.onOrders = append(f.onOrders, fn)
	replay := f.ready
	var orders []core.Order
	if replay {
		orders = f.openOrdersLocked()
	}
	f.mu.Unlock()
	if replay {
		fn(orders)
	}
}

// SubscribeOrderUpdates registers an observer for individual pushed order
// status changes. There is no replay: updates are transitions, not state.
func (f *Feed) SubscribeOrderUpdates(fn func(*core.Order)) {
	f.mu.Lock()
	f.onOrder = append(f.onOrder, fn)
	f.mu.Unlock()
}

// SubscribeDepth registers an order book observer with synchronous replay.
func (f *Feed) SubscribeDepth(fn func(*core.Depth)) {
	f.mu.Lock()
	f.onDepth = append(f.onDepth, fn)
	current := f.depth
	f.mu.Unlock()
	if current != nil {
		fn(current)
	}
}

// SubscribeTicker registers a ticker observer with synchronous replay.
func (f *Feed) SubscribeTicker(fn func(*core.Ticker)) {
	f.mu.Lock()
	f.onTicker = append(f.onTicker, fn)
	current := f.ticker
	f.mu.Unlock()
	if current != nil {
		fn(current)
	}
}

// SubscribeKlines registers a candle observer. The latest candle is
// replayed synchronously when the series is non-empty.
func (f *Feed) SubscribeKlines(fn func(*core.Kline)) {
	f.mu.Lock()
	f.onKline = append(f.onKline, fn)
	var current *core.Kline
	if len(f.klines) > 0 {
		last := f.klines[len(f.klines)-1]
		current = &last
	}
	f.mu.Unlock()
	if current != nil {
		fn(current)
	}
}

type notifyMask int

const (
	notifyAccount notifyMask = 1 << iota
	notifyOrders
)

// collectNotifications snapshots the callbacks and payloads to run after
// the lock is released. Must be called with the lock held.
func (f *Feed) collectNotifications(mask notifyMask) func() {
	var accountFns []func(*core.AccountSnapshot)
	var orderFns []func([]core.Order)
	var orders []core.Order
	snap := f.account

	if mask&notifyAccount != 0 && len(f.onAccount) > 0 {
		accountFns = make([]func(*core.AccountSnapshot), len(f.onAccount))
		copy(accountFns, f.onAccount)
	}
	if mask&notifyOrders != 0 && len(f.onOrders) > 0 {
		orderFns = make([]func([]core.Order), len(f.onOrders))
		copy(orderFns, f.onOrders)
		orders = f.openOrdersLocked()
	}

	return func() {
		for _, fn := range accountFns {
			fn(snap)
		}
		for _, fn := range orderFns {
			fn(orders)
		}
	}
}
