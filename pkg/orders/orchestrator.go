// Package orders serializes order placement per order type. Each type has a
// lock held from submission until the exchange confirms a status change, so
// a signal firing faster than the exchange responds cannot stack duplicate
// orders.
package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nakula/internal/timer"
	"nakula/pkg/aster"
	"nakula/pkg/core"
	"nakula/pkg/feed"
)

// Rounding contexts for exchange precision: prices floor to 1 decimal,
// quantities to 3. Flooring never overstates what the account can afford.
var roundingCtx = apd.BaseContext.WithPrecision(20)

func init() {
	roundingCtx.Rounding = apd.RoundFloor
}

// lockState guards one order type. pendingID correlates the in-flight
// order; the recovery timer releases a lock whose order never produced a
// status change. gen increments on every acquire so a submission whose
// response outlives its own hold cannot touch a successor's hold.
type lockState struct {
	held      bool
	gen       uint64
	pendingID int64
	recovery  *timer.Task
}

// Orchestrator places and cancels orders with per-type mutual exclusion,
// pre-placement deduplication and price validation. It observes the feed's
// order stream to release locks when the exchange confirms.
type Orchestrator struct {
	config *core.Config
	client *aster.Client
	feed   *feed.Feed
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[core.OrderType]*lockState
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator and registers its release hooks on the feed.
func New(config *core.Config, client *aster.Client, f *feed.Feed, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config: config,
		client: client,
		feed:   f,
		logger: zerolog.Nop(),
		locks:  make(map[core.OrderType]*lockState),
	}
	for _, opt := range opts {
		opt(o)
	}
	f.SubscribeOrderUpdates(o.onOrderUpdate)
	f.SubscribeOpenOrders(o.onOpenOrders)
	return o
}

// PlaceLimit places a limit order. Returns (nil, nil) without touching the
// network when a limit order is already in flight.
func (o *Orchestrator) PlaceLimit(ctx context.Context, side core.OrderSide, price, quantity apd.Decimal) (*core.Order, error) {
	req := &aster.OrderRequest{
		Side:        side,
		Type:        core.TypeLimit,
		Price:       RoundPrice(price),
		Quantity:    RoundQuantity(quantity),
		TimeInForce: core.GTC,
	}
	return o.place(ctx, req, side)
}

// PlaceMarket places a market order.
func (o *Orchestrator) PlaceMarket(ctx context.Context, side core.OrderSide, quantity apd.Decimal) (*core.Order, error) {
	req := &aster.OrderRequest{
		Side:     side,
		Type:     core.TypeMarket,
		Quantity: RoundQuantity(quantity),
	}
	return o.place(ctx, req, side)
}

// PlaceStopLoss places a close-position stop. The stop must sit on the
// protective side of the last traded price: below it for a SELL stop, above
// it for a BUY stop. A stop that would trigger instantly is rejected
// locally without a network call.
func (o *Orchestrator) PlaceStopLoss(ctx context.Context, side core.OrderSide, stopPrice apd.Decimal) (*core.Order, error) {
	last, err := o.feed.LastPrice()
	if err != nil {
		return nil, fmt.Errorf("stop loss: %w", err)
	}

	rounded := RoundPrice(stopPrice)
	cmp := rounded.Cmp(&last)
	if (side == core.SideSell && cmp >= 0) || (side == core.SideBuy && cmp <= 0) {
		return nil, fmt.Errorf("stop %s vs last %s: %w", rounded.String(), last.String(), core.ErrStopPriceInvalid)
	}

	req := &aster.OrderRequest{
		Side:          side,
		Type:          core.TypeStopMarket,
		StopPrice:     rounded,
		ClosePosition: true,
	}
	return o.place(ctx, req, side)
}

// PlaceTrailingStop places a trailing stop that activates at
// activationPrice and trails by callbackRate percent.
func (o *Orchestrator) PlaceTrailingStop(ctx context.Context, side core.OrderSide, activationPrice, callbackRate, quantity apd.Decimal) (*core.Order, error) {
	req := &aster.OrderRequest{
		Side:            side,
		Type:            core.TypeTrailingStopMarket,
		ActivationPrice: RoundPrice(activationPrice),
		CallbackRate:    callbackRate,
		Quantity:        RoundQuantity(quantity),
		ReduceOnly:      true,
	}
	return o.place(ctx, req, side)
}

// ClosePositionMarket flattens the current position with a reduce-only
// market order. Returns (nil, nil) when there is nothing to close.
func (o *Orchestrator) ClosePositionMarket(ctx context.Context) (*core.Order, error) {
	pos := o.feed.Account().FindPosition(o.config.Symbol, core.PositionBoth)
	if pos == nil || pos.PositionAmt.IsZero() {
		return nil, nil
	}

	side := core.SideSell
	qty := pos.PositionAmt
	if qty.Negative {
		side = core.SideBuy
		qty.Abs(&qty)
	}

	req := &aster.OrderRequest{
		Side:       side,
		Type:       core.TypeMarket,
		Quantity:   RoundQuantity(qty),
		ReduceOnly: true,
	}
	return o.place(ctx, req, side)
}

// place runs the shared submission path: dedup, lock, submit, correlate.
// The acquired generation gates every later touch of the lock: a response
// arriving after the recovery timer released this hold must not correlate
// against, or release, a successor's hold.
func (o *Orchestrator) place(ctx context.Context, req *aster.OrderRequest, side core.OrderSide) (*core.Order, error) {
	gen, ok := o.acquire(req.Type)
	if !ok {
		o.logger.Debug().Str("type", req.Type.String()).Msg("placement skipped, lock held")
		return nil, nil
	}

	if err := o.dedupe(ctx, req.Type, side); err != nil {
		o.logger.Warn().Err(err).Str("type", req.Type.String()).Msg("duplicate cleanup failed")
	}

	req.ClientOrderID = "nk-" + uuid.NewString()

	order, err := o.client.CreateOrder(ctx, req)
	if err != nil {
		o.release(req.Type, gen, "submit failed")
		return nil, err
	}

	o.mu.Lock()
	st := o.lockFor(req.Type)
	if st.held && st.gen == gen {
		st.pendingID = order.OrderID
	}
	o.mu.Unlock()

	return order, nil
}

// dedupe cancels stale same-type same-side orders, keeping only the most
// recently updated one. Ties break on creation time, then order id, so the
// survivor is deterministic.
func (o *Orchestrator) dedupe(ctx context.Context, typ core.OrderType, side core.OrderSide) error {
	var matches []core.Order
	for _, order := range o.feed.OpenOrders() {
		if order.Type == typ && order.Side == side && order.Status.IsOpen() {
			matches = append(matches, order)
		}
	}
	if len(matches) < 2 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := &matches[i], &matches[j]
		if a.EffectiveUpdateTime() != b.EffectiveUpdateTime() {
			return a.EffectiveUpdateTime() > b.EffectiveUpdateTime()
		}
		return a.OrderID > b.OrderID
	})

	stale := make([]int64, 0, len(matches)-1)
	for _, order := range matches[1:] {
		stale = append(stale, order.OrderID)
	}
	o.logger.Info().
		Str("type", typ.String()).
		Str("side", side.String()).
		Int64("kept", matches[0].OrderID).
		Ints64("canceled", stale).
		Msg("duplicate orders canceled")
	return o.client.CancelOrders(ctx, stale)
}

// acquire takes the type lock, bumps the generation and arms the recovery
// timer. Returns the generation of the hold, or false when already held.
func (o *Orchestrator) acquire(typ core.OrderType) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.lockFor(typ)
	if st.held {
		return 0, false
	}
	st.held = true
	st.gen++
	st.pendingID = 0
	gen := st.gen
	st.recovery.Arm(o.config.OrderRecoveryTimeout, func() {
		o.release(typ, gen, "recovery timeout, no status change observed")
	})
	return gen, true
}

// release frees the type lock, but only while the given generation still
// holds it. A stale caller finds the generation moved on and does nothing.
func (o *Orchestrator) release(typ core.OrderType, gen uint64, reason string) {
	o.mu.Lock()
	st := o.lockFor(typ)
	if !st.held || st.gen != gen {
		o.mu.Unlock()
		return
	}
	pending := st.pendingID
	st.held = false
	st.pendingID = 0
	st.recovery.Cancel()
	o.mu.Unlock()

	o.logger.Debug().
		Str("type", typ.String()).
		Int64("pending_id", pending).
		Str("reason", reason).
		Msg("type lock released")
}

// lockFor returns the lock state for a type. Must be called with o.mu held.
func (o *Orchestrator) lockFor(typ core.OrderType) *lockState {
	st, ok := o.locks[typ]
	if !ok {
		st = &lockState{recovery: timer.NewTask()}
		o.locks[typ] = st
	}
	return st
}

// Locked reports whether a placement for the type is in flight.
func (o *Orchestrator) Locked(typ core.OrderType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.locks[typ]
	return ok && st.held
}

// onOrderUpdate releases the type lock once the correlated order reports
// any status beyond NEW.
func (o *Orchestrator) onOrderUpdate(order *core.Order) {
	o.mu.Lock()
	st, ok := o.locks[order.Type]
	match := ok && st.held && st.pendingID == order.OrderID
	var gen uint64
	if match {
		gen = st.gen
	}
	o.mu.Unlock()

	if match && order.Status != core.StatusNew {
		o.release(order.Type, gen, "status "+order.Status.String())
	}
}

// onOpenOrders releases locks whose pending order vanished from the
// authoritative open list: it was filled, canceled or rejected between
// polls without a push arriving.
func (o *Orchestrator) onOpenOrders(open []core.Order) {
	present := make(map[int64]struct{}, len(open))
	for i := range open {
		present[open[i].OrderID] = struct{}{}
	}

	type staleHold struct {
		typ core.OrderType
		gen uint64
	}
	o.mu.Lock()
	var gone []staleHold
	for typ, st := range o.locks {
		if st.held && st.pendingID != 0 {
			if _, ok := present[st.pendingID]; !ok {
				gone = append(gone, staleHold{typ: typ, gen: st.gen})
			}
		}
	}
	o.mu.Unlock()

	for _, hold := range gone {
		o.release(hold.typ, hold.gen, "order left open list")
	}
}

// Cancel cancels one order by exchange id.
func (o *Orchestrator) Cancel(ctx context.Context, orderID int64) error {
	_, err := o.client.CancelOrder(ctx, orderID)
	return err
}

// CancelAll cancels every resting order on the symbol.
func (o *Orchestrator) CancelAll(ctx context.Context) error {
	return o.client.CancelAllOrders(ctx)
}

// RoundPrice floors a price to the exchange's one-decimal tick.
func RoundPrice(price apd.Decimal) apd.Decimal {
	var out apd.Decimal
	_, _ = roundingCtx.Quantize(&out, &price, -1)
	return out
}

// RoundQuantity floors a quantity to the exchange's three-decimal step.
func RoundQuantity(quantity apd.Decimal) apd.Decimal {
	var out apd.Decimal
	_, _ = roundingCtx.Quantize(&out, &quantity, -3)
	return out
}

// ProtectivePrice derives a stop level percent away from the reference
// price, on the protective side for the given stop direction: below for a
// SELL stop, above for a BUY stop.
func ProtectivePrice(reference apd.Decimal, side core.OrderSide, percent apd.Decimal) apd.Decimal {
	var fraction, offset, out apd.Decimal
	hundred := apd.New(100, 0)
	_, _ = roundingCtx.Quo(&fraction, &percent, hundred)
	_, _ = roundingCtx.Mul(&offset, &reference, &fraction)
	if side == core.SideSell {
		_, _ = roundingCtx.Sub(&out, &reference, &offset)
	} else {
		_, _ = roundingCtx.Add(&out, &reference, &offset)
	}
	return RoundPrice(out)
}

// ActivationPrice derives the trailing-stop activation level percent away
// from the reference price, on the profit side for the given exit direction:
// above for a SELL trailing stop, below for a BUY trailing stop.
func ActivationPrice(reference apd.Decimal, side core.OrderSide, percent apd.Decimal) apd.Decimal {
	var fraction, offset, out apd.Decimal
	hundred := apd.New(100, 0)
	_, _ = roundingCtx.Quo(&fraction, &percent, hundred)
	_, _ = roundingCtx.Mul(&offset, &reference, &fraction)
	if side == core.SideSell {
		_, _ = roundingCtx.Add(&out, &reference, &offset)
	} else {
		_, _ = roundingCtx.Sub(&out, &reference, &offset)
	}
	return RoundPrice(out)
}

// RiskStopPrice derives the stop level that caps the position's loss at
// maxLoss quote units: the loss per unit is spread over the quantity and
// subtracted from the entry for a SELL stop, added for a BUY stop.
func RiskStopPrice(entry, quantity, maxLoss apd.Decimal, side core.OrderSide) apd.Decimal {
	return riskOffsetPrice(entry, quantity, maxLoss, side == core.SideBuy)
}

// RiskActivationPrice derives the trailing-stop activation level that arms
// once the position carries profit quote units of unrealized gain: above
// the entry for a SELL trailing stop, below it for a BUY trailing stop.
func RiskActivationPrice(entry, quantity, profit apd.Decimal, side core.OrderSide) apd.Decimal {
	return riskOffsetPrice(entry, quantity, profit, side == core.SideSell)
}

func riskOffsetPrice(entry, quantity, amount apd.Decimal, above bool) apd.Decimal {
	quantity.Abs(&quantity)
	if quantity.IsZero() {
		return RoundPrice(entry)
	}
	var perUnit, out apd.Decimal
	_, _ = roundingCtx.Quo(&perUnit, &amount, &quantity)
	if above {
		_, _ = roundingCtx.Add(&out, &entry, &perUnit)
	} else {
		_, _ = roundingCtx.Sub(&out, &entry, &perUnit)
	}
	return RoundPrice(out)
}
