package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// reservation is cash set aside for a resting buy order.
type reservation struct {
	price  decimal.Decimal
	amount decimal.Decimal
}

// orderBook holds every order ever placed plus the arrival-ordered list of
// open ones.
type orderBook struct {
	orders   map[string]*domain.Order
	byAgent  map[string][]string
	openIDs  []string
	reserves map[string]reservation
}

func newOrderBook() *orderBook {
	return &orderBook{
		orders:   make(map[string]*domain.Order),
		byAgent:  make(map[string][]string),
		reserves: make(map[string]reservation),
	}
}

func (b *orderBook) add(o *domain.Order) {
	b.orders[o.ID] = o
	b.byAgent[o.AgentID] = append(b.byAgent[o.AgentID], o.ID)
	if o.Status.Open() {
		b.openIDs = append(b.openIDs, o.ID)
	}
}

func (b *orderBook) get(id string) (*domain.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

func (b *orderBook) close(id string) {
	for i, v := range b.openIDs {
		if v == id {
			b.openIDs = append(b.openIDs[:i:i], b.openIDs[i+1:]...)
			return
		}
	}
}

// open returns open orders in arrival order. The slice is a copy, so
// callers may close orders while iterating.
func (b *orderBook) open() []*domain.Order {
	out := make([]*domain.Order, 0, len(b.openIDs))
	for _, id := range b.openIDs {
		out = append(out, b.orders[id])
	}
	return out
}

func (b *orderBook) openByAgent(agentID string) []*domain.Order {
	var out []*domain.Order
	for _, id := range b.openIDs {
		if o := b.orders[id]; o.AgentID == agentID {
			out = append(out, o)
		}
	}
	return out
}

func (b *orderBook) history(agentID string) []domain.Order {
	ids := b.byAgent[agentID]
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, *b.orders[id])
	}
	return out
}

// ExecuteOrder validates and places an order for agentID. Market orders
// fill immediately at the current price; GTC limit and stop orders rest
// until a tick satisfies them; IOC and FOK orders are matched once and any
// remainder is cancelled.
//
// A refused placement returns the rejected order together with an error
// wrapping one of domain.ErrValidation, domain.ErrUnknownSymbol,
// domain.ErrAgentNotEligible, domain.ErrInsufficientBalance,
// domain.ErrRiskLimitExceeded or domain.ErrSystemHalted.
func (e *Engine) ExecuteOrder(ctx context.Context, agentID string, spec domain.OrderSpec) (domain.Order, error) {
	e.mu.Lock()
	o, err := e.placeLocked(agentID, spec)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	if err != nil {
		return o, fmt.Errorf("engine: execute order: %w", err)
	}
	return o, nil
}

func (e *Engine) placeLocked(agentID string, spec domain.OrderSpec) (domain.Order, error) {
	now := e.now()
	o := domain.NewOrder(e.newID(), agentID, spec, now)
	op := &o

	if e.safety.halted {
		return e.rejectLocked(op, domain.Reject(domain.ErrSystemHalted, e.safety.reason))
	}
	if err := spec.Validate(); err != nil {
		return e.rejectLocked(op, err)
	}
	px, err := e.feed.price(spec.Symbol)
	if err != nil {
		return e.rejectLocked(op, domain.Reject(domain.ErrUnknownSymbol, spec.Symbol))
	}
	st, ok := e.agents.get(agentID)
	if !ok {
		return e.rejectLocked(op, domain.Reject(domain.ErrAgentNotEligible, "unknown agent "+agentID))
	}
	if st.meta.Status != domain.AgentStatusActive {
		return e.rejectLocked(op, domain.Reject(domain.ErrAgentNotEligible, "agent is "+string(st.meta.Status)))
	}

	est := estimatePrice(op, px)
	if err := e.checkRiskLimitsLocked(op, est); err != nil {
		return e.rejectLocked(op, err)
	}
	if err := e.checkFundsLocked(st, op, est); err != nil {
		return e.rejectLocked(op, err)
	}

	e.book.add(op)
	e.emit(domain.TopicOrderPlaced, domain.OrderUpdate{Order: *op})

	if op.Type == domain.OrderTypeMarket || op.TimeInForce != domain.TimeInForceGTC {
		e.evaluateLocked(op, px, now)
		if op.TimeInForce != domain.TimeInForceGTC && op.Status.Open() {
			e.cancelLocked(op, fmt.Sprintf("%s remainder cancelled", op.TimeInForce))
		}
	}
	if op.Status.Open() {
		e.reserveLocked(st.portfolio, op, est)
	}
	return *op, nil
}

// estimatePrice is the price used for pre-trade checks and reservations.
func estimatePrice(o *domain.Order, px decimal.Decimal) decimal.Decimal {
	switch t := o.Terms().(type) {
	case domain.LimitTerms:
		return t.Limit
	case domain.StopLimitTerms:
		return t.Limit
	case domain.StopTerms:
		if o.Side == domain.OrderSideBuy {
			return decimal.Max(t.Stop, px)
		}
		return t.Stop
	default:
		return px
	}
}

func (e *Engine) checkRiskLimitsLocked(o *domain.Order, est decimal.Decimal) error {
	l := e.cfg.Risk
	if l.MaxOrderNotional.IsPositive() {
		if notional := o.Quantity.Mul(est); notional.GreaterThan(l.MaxOrderNotional) {
			return domain.Reject(domain.ErrRiskLimitExceeded,
				fmt.Sprintf("order notional %s exceeds limit %s", notional.String(), l.MaxOrderNotional.String()))
		}
	}
	if l.MaxOpenOrders > 0 && len(e.book.openByAgent(o.AgentID)) >= l.MaxOpenOrders {
		return domain.Reject(domain.ErrRiskLimitExceeded,
			fmt.Sprintf("agent already has %d open orders", l.MaxOpenOrders))
	}
	return nil
}

// checkFundsLocked requires buys to be covered by unreserved cash and, when
// shorting is disabled, sells to be covered by the uncommitted long
// position.
func (e *Engine) checkFundsLocked(st *agentState, o *domain.Order, est decimal.Decimal) error {
	pf := st.portfolio
	avail := pf.AvailableCash()

	if o.Side == domain.OrderSideBuy {
		need := o.Quantity.Mul(est).Mul(one.Add(e.cfg.FeeRate))
		if need.GreaterThan(avail) {
			return domain.Reject(domain.ErrInsufficientBalance,
				fmt.Sprintf("order cost %s exceeds available cash %s", need.String(), avail.String()))
		}
		return nil
	}

	free := e.sellableLocked(st, o.Symbol)
	if !e.cfg.AllowShort {
		if o.Quantity.GreaterThan(free) {
			return domain.Reject(domain.ErrInsufficientBalance,
				fmt.Sprintf("sell quantity %s exceeds available position %s", o.Quantity.String(), free.String()))
		}
		return nil
	}
	short := o.Quantity.Sub(decimal.Max(free, decimal.Zero))
	if short.IsPositive() {
		need := short.Mul(est).Mul(one.Add(e.cfg.FeeRate))
		if need.GreaterThan(avail) {
			return domain.Reject(domain.ErrInsufficientBalance,
				fmt.Sprintf("short collateral %s exceeds available cash %s", need.String(), avail.String()))
		}
	}
	return nil
}

// sellableLocked is the long quantity not already committed to open sells.
func (e *Engine) sellableLocked(st *agentState, symbol string) decimal.Decimal {
	held := decimal.Zero
	if pos, ok := st.portfolio.Positions[symbol]; ok && pos.Long() {
		held = pos.Quantity
	}
	for _, o := range e.book.openByAgent(st.meta.ID) {
		if o.Symbol == symbol && o.Side == domain.OrderSideSell {
			held = held.Sub(o.Remaining())
		}
	}
	return held
}

func (e *Engine) rejectLocked(o *domain.Order, err error) (domain.Order, error) {
	reason := err.Error()
	var re *domain.RejectError
	if errors.As(err, &re) && re.Reason != "" {
		reason = re.Reason
	}
	o.Status = domain.OrderStatusRejected
	o.Reason = reason
	o.UpdatedAt = e.now()
	e.book.add(o)
	e.emit(domain.TopicOrderRejected, domain.OrderUpdate{Order: *o, Reason: reason})
	e.logger.Info("order rejected",
		slog.String("order_id", o.ID),
		slog.String("agent_id", o.AgentID),
		slog.String("symbol", o.Symbol),
		slog.String("reason", reason),
	)
	return *o, err
}

func stopCrossed(side domain.OrderSide, px, stop decimal.Decimal) bool {
	if side == domain.OrderSideBuy {
		return px.GreaterThanOrEqual(stop)
	}
	return px.LessThanOrEqual(stop)
}

func limitReached(side domain.OrderSide, px, limit decimal.Decimal) bool {
	if side == domain.OrderSideBuy {
		return px.LessThanOrEqual(limit)
	}
	return px.GreaterThanOrEqual(limit)
}

// evaluateLocked matches one open order against px. Orders of agents that
// are not active are skipped, stops included.
func (e *Engine) evaluateLocked(o *domain.Order, px decimal.Decimal, now time.Time) {
	st, ok := e.agents.get(o.AgentID)
	if !ok || st.meta.Status != domain.AgentStatusActive || !px.IsPositive() {
		return
	}

	switch t := o.Terms().(type) {
	case domain.StopTerms:
		if !o.Triggered {
			if !stopCrossed(o.Side, px, t.Stop) {
				return
			}
			o.Triggered = true
			o.UpdatedAt = now
		}
	case domain.StopLimitTerms:
		if !o.Triggered {
			if !stopCrossed(o.Side, px, t.Stop) {
				return
			}
			o.Triggered = true
			o.UpdatedAt = now
		}
		if !limitReached(o.Side, px, t.Limit) {
			return
		}
	case domain.LimitTerms:
		if !limitReached(o.Side, px, t.Limit) {
			return
		}
	}

	qty := o.Remaining()
	if capQty := e.feed.specs[o.Symbol].MaxFillPerTick; capQty.IsPositive() && qty.GreaterThan(capQty) {
		if o.TimeInForce == domain.TimeInForceFOK {
			e.cancelLocked(o, "fill-or-kill quantity exceeds available liquidity")
			return
		}
		qty = capQty
	}
	e.fillLocked(st, o, px, qty, now)
}

// fillLocked executes qty of o at px. The ledger update, the order update
// and the revaluation happen together; the orderFilled event carries the
// resulting portfolio.
func (e *Engine) fillLocked(st *agentState, o *domain.Order, px, qty decimal.Decimal, now time.Time) {
	pf := st.portfolio
	notional := px.Mul(qty)
	fee := notional.Mul(e.cfg.FeeRate)

	if o.Side == domain.OrderSideBuy {
		need := notional.Add(fee)
		avail := pf.AvailableCash().Add(e.book.reserves[o.ID].amount)
		if need.GreaterThan(avail) {
			e.failFillLocked(o, fmt.Sprintf("insufficient balance at fill: need %s, available %s", need.String(), avail.String()))
			return
		}
	} else if !e.cfg.AllowShort {
		held := decimal.Zero
		if pos, ok := pf.Positions[o.Symbol]; ok && pos.Long() {
			held = pos.Quantity
		}
		if qty.GreaterThan(held) {
			e.failFillLocked(o, fmt.Sprintf("insufficient position at fill: need %s, held %s", qty.String(), held.String()))
			return
		}
	}

	f := domain.Fill{
		ID:         e.newID(),
		OrderID:    o.ID,
		AgentID:    o.AgentID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Price:      px,
		Quantity:   qty,
		Fee:        fee,
		Tick:       e.tick,
		ExecutedAt: now,
	}
	f.RealizedPnL = applyFill(pf, f, now)

	prevFilled := o.FilledQuantity
	o.FilledQuantity = prevFilled.Add(qty)
	o.AvgFillPrice = prevFilled.Mul(o.AvgFillPrice).Add(notional).Div(o.FilledQuantity)
	o.Fees = o.Fees.Add(fee)
	o.UpdatedAt = now
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = domain.OrderStatusFilled
		e.book.close(o.ID)
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	e.updateReservationLocked(pf, o)

	revalue(pf, e.feed.priceMap(), now)
	e.emit(domain.TopicOrderFilled, domain.OrderFilled{
		Tick:      e.tick,
		Order:     *o,
		Fill:      f,
		Portfolio: pf.Clone(),
	})
	e.logger.Debug("order filled",
		slog.String("order_id", o.ID),
		slog.String("agent_id", o.AgentID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("price", px.String()),
		slog.String("quantity", qty.String()),
		slog.String("status", string(o.Status)),
	)
}

// failFillLocked ends an order that can no longer be funded. A pending order
// becomes rejected; a partially filled one can only be cancelled.
func (e *Engine) failFillLocked(o *domain.Order, reason string) {
	if o.Status == domain.OrderStatusPartiallyFilled {
		e.cancelLocked(o, reason)
		return
	}
	o.Status = domain.OrderStatusRejected
	o.Reason = reason
	o.UpdatedAt = e.now()
	e.book.close(o.ID)
	if st, ok := e.agents.get(o.AgentID); ok {
		e.updateReservationLocked(st.portfolio, o)
	}
	e.emit(domain.TopicOrderRejected, domain.OrderUpdate{Order: *o, Reason: reason})
}

func (e *Engine) cancelLocked(o *domain.Order, reason string) {
	o.Status = domain.OrderStatusCancelled
	o.Reason = reason
	o.UpdatedAt = e.now()
	e.book.close(o.ID)
	if st, ok := e.agents.get(o.AgentID); ok {
		e.updateReservationLocked(st.portfolio, o)
	}
	e.emit(domain.TopicOrderCancelled, domain.OrderUpdate{Order: *o, Reason: reason})
}

func (e *Engine) reserveLocked(pf *domain.Portfolio, o *domain.Order, price decimal.Decimal) {
	if o.Side != domain.OrderSideBuy {
		return
	}
	amt := o.Remaining().Mul(price).Mul(one.Add(e.cfg.FeeRate))
	e.book.reserves[o.ID] = reservation{price: price, amount: amt}
	pf.ReservedCash = pf.ReservedCash.Add(amt)
}

// updateReservationLocked shrinks a buy reservation to the order's
// remaining quantity, releasing it entirely once the order is closed.
func (e *Engine) updateReservationLocked(pf *domain.Portfolio, o *domain.Order) {
	res, ok := e.book.reserves[o.ID]
	if !ok {
		return
	}
	pf.ReservedCash = pf.ReservedCash.Sub(res.amount)
	if !o.Status.Open() {
		delete(e.book.reserves, o.ID)
		return
	}
	res.amount = o.Remaining().Mul(res.price).Mul(one.Add(e.cfg.FeeRate))
	e.book.reserves[o.ID] = res
	pf.ReservedCash = pf.ReservedCash.Add(res.amount)
}

// CancelOrder cancels a pending or partially filled order. Any other state,
// including an order already cancelled, fails with
// domain.ErrOrderNotCancellable and changes nothing.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	e.mu.Lock()
	o, err := e.cancelOrderLocked(orderID)
	e.mu.Unlock()
	e.bus.Drain(ctx)
	if err != nil {
		return o, fmt.Errorf("engine: cancel order: %w", err)
	}
	return o, nil
}

func (e *Engine) cancelOrderLocked(id string) (domain.Order, error) {
	o, ok := e.book.get(id)
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if !o.Status.Open() {
		return *o, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotCancellable, id, o.Status)
	}
	e.cancelLocked(o, "cancelled by request")
	return *o, nil
}

// Order returns one order by ID.
func (e *Engine) Order(id string) (domain.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.get(id)
	if !ok {
		return domain.Order{}, fmt.Errorf("engine: order %s: %w", id, domain.ErrNotFound)
	}
	return *o, nil
}

// Orders returns the agent's order history in placement order.
func (e *Engine) Orders(agentID string) []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.history(agentID)
}

// OpenOrders returns every pending or partially filled order, oldest first.
func (e *Engine) OpenOrders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	open := e.book.open()
	out := make([]domain.Order, 0, len(open))
	for _, o := range open {
		out = append(out, *o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
