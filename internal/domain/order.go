package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType is the kind of order, mirroring the OrderTerms variant.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order may rest.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Open reports whether the order can still receive fills or be cancelled.
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Transitions never go backwards.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPartiallyFilled || next == OrderStatusFilled ||
			next == OrderStatusCancelled || next == OrderStatusRejected
	case OrderStatusPartiallyFilled:
		return next == OrderStatusPartiallyFilled || next == OrderStatusFilled ||
			next == OrderStatusCancelled
	default:
		return false
	}
}

// OrderTerms is the kind-specific half of an order. The set of
// implementations is closed: MarketTerms, LimitTerms, StopTerms and
// StopLimitTerms.
type OrderTerms interface {
	Type() OrderType
	validate() error
}

// MarketTerms fills at the current feed price.
type MarketTerms struct{}

// LimitTerms fills when the price is at or better than Limit.
type LimitTerms struct {
	Limit decimal.Decimal
}

// StopTerms becomes a market order once the price crosses Stop.
type StopTerms struct {
	Stop decimal.Decimal
}

// StopLimitTerms becomes a limit order at Limit once the price crosses Stop.
type StopLimitTerms struct {
	Stop  decimal.Decimal
	Limit decimal.Decimal
}

func (MarketTerms) Type() OrderType    { return OrderTypeMarket }
func (LimitTerms) Type() OrderType     { return OrderTypeLimit }
func (StopTerms) Type() OrderType      { return OrderTypeStop }
func (StopLimitTerms) Type() OrderType { return OrderTypeStopLimit }

func (MarketTerms) validate() error { return nil }

func (t LimitTerms) validate() error {
	if !t.Limit.IsPositive() {
		return Reject(ErrValidation, "limit price must be positive")
	}
	return nil
}

func (t StopTerms) validate() error {
	if !t.Stop.IsPositive() {
		return Reject(ErrValidation, "stop price must be positive")
	}
	return nil
}

func (t StopLimitTerms) validate() error {
	if !t.Stop.IsPositive() {
		return Reject(ErrValidation, "stop price must be positive")
	}
	if !t.Limit.IsPositive() {
		return Reject(ErrValidation, "limit price must be positive")
	}
	return nil
}

// OrderSpec is a validated order placement.
type OrderSpec struct {
	Symbol        string
	Side          OrderSide
	Quantity      decimal.Decimal
	TimeInForce   TimeInForce
	Terms         OrderTerms
	ClientOrderID string
}

// Validate checks the fields every order kind shares plus the kind's own.
func (s OrderSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return Reject(ErrValidation, "symbol is required")
	}
	if s.Side != OrderSideBuy && s.Side != OrderSideSell {
		return Reject(ErrValidation, fmt.Sprintf("unknown side %q", s.Side))
	}
	if !s.Quantity.IsPositive() {
		return Reject(ErrValidation, "quantity must be positive")
	}
	switch s.TimeInForce {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
	default:
		return Reject(ErrValidation, fmt.Sprintf("unknown time in force %q", s.TimeInForce))
	}
	if s.Terms == nil {
		return Reject(ErrValidation, "order type is required")
	}
	switch s.Terms.Type() {
	case OrderTypeStop, OrderTypeStopLimit:
		if s.TimeInForce != TimeInForceGTC {
			return Reject(ErrValidation, "stop orders must be GTC")
		}
	}
	return s.Terms.validate()
}

// OrderRequest is the loosely typed wire form of a placement, as submitted
// by dashboards and agents.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce   string           `json:"time_in_force,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// ParseOrderRequest turns a wire request into an OrderSpec, rejecting
// fields that do not belong to the requested order type.
func ParseOrderRequest(req OrderRequest) (OrderSpec, error) {
	spec := OrderSpec{
		Symbol:        strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:          OrderSide(strings.ToLower(strings.TrimSpace(req.Side))),
		Quantity:      req.Quantity,
		TimeInForce:   TimeInForce(strings.ToUpper(strings.TrimSpace(req.TimeInForce))),
		ClientOrderID: req.ClientOrderID,
	}
	if spec.TimeInForce == "" {
		spec.TimeInForce = TimeInForceGTC
	}

	typ := OrderType(strings.ToLower(strings.TrimSpace(req.Type)))
	if typ == "" {
		typ = OrderTypeMarket
	}
	if typ == "stop-limit" {
		typ = OrderTypeStopLimit
	}

	switch typ {
	case OrderTypeMarket:
		if req.LimitPrice != nil || req.StopPrice != nil {
			return OrderSpec{}, Reject(ErrValidation, "market orders take no limit or stop price")
		}
		spec.Terms = MarketTerms{}
	case OrderTypeLimit:
		if req.LimitPrice == nil {
			return OrderSpec{}, Reject(ErrValidation, "limit orders require limit_price")
		}
		if req.StopPrice != nil {
			return OrderSpec{}, Reject(ErrValidation, "limit orders take no stop_price")
		}
		spec.Terms = LimitTerms{Limit: *req.LimitPrice}
	case OrderTypeStop:
		if req.StopPrice == nil {
			return OrderSpec{}, Reject(ErrValidation, "stop orders require stop_price")
		}
		if req.LimitPrice != nil {
			return OrderSpec{}, Reject(ErrValidation, "stop orders take no limit_price")
		}
		spec.Terms = StopTerms{Stop: *req.StopPrice}
	case OrderTypeStopLimit:
		if req.StopPrice == nil || req.LimitPrice == nil {
			return OrderSpec{}, Reject(ErrValidation, "stop_limit orders require stop_price and limit_price")
		}
		spec.Terms = StopLimitTerms{Stop: *req.StopPrice, Limit: *req.LimitPrice}
	default:
		return OrderSpec{}, Reject(ErrValidation, fmt.Sprintf("unknown order type %q", req.Type))
	}

	if err := spec.Validate(); err != nil {
		return OrderSpec{}, err
	}
	return spec, nil
}

// Order is a placed order and its fill progress.
type Order struct {
	ID             string           `json:"id"`
	AgentID        string           `json:"agent_id"`
	ClientOrderID  string           `json:"client_order_id,omitempty"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Type           OrderType        `json:"type"`
	TimeInForce    TimeInForce      `json:"time_in_force"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	Status         OrderStatus      `json:"status"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal  `json:"avg_fill_price"`
	Fees           decimal.Decimal  `json:"fees"`
	Triggered      bool             `json:"triggered,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewOrder builds a pending order from spec.
func NewOrder(id, agentID string, spec OrderSpec, now time.Time) Order {
	o := Order{
		ID:            id,
		AgentID:       agentID,
		ClientOrderID: spec.ClientOrderID,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		TimeInForce:   spec.TimeInForce,
		Quantity:      spec.Quantity,
		Status:        OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if spec.Terms != nil {
		o.Type = spec.Terms.Type()
	}
	switch t := spec.Terms.(type) {
	case LimitTerms:
		o.LimitPrice = &t.Limit
	case StopTerms:
		o.StopPrice = &t.Stop
	case StopLimitTerms:
		o.StopPrice = &t.Stop
		o.LimitPrice = &t.Limit
	}
	return o
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Terms rebuilds the order's tagged variant.
func (o Order) Terms() OrderTerms {
	switch o.Type {
	case OrderTypeLimit:
		return LimitTerms{Limit: deref(o.LimitPrice)}
	case OrderTypeStop:
		return StopTerms{Stop: deref(o.StopPrice)}
	case OrderTypeStopLimit:
		return StopLimitTerms{Stop: deref(o.StopPrice), Limit: deref(o.LimitPrice)}
	default:
		return MarketTerms{}
	}
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
