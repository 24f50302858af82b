package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution against an order. An order reaches filled through
// one or more fills.
type Fill struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	AgentID     string          `json:"agent_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Tick        uint64          `json:"tick"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Notional is price times quantity, excluding fees.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}
