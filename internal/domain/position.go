package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an agent's holding in one symbol. Quantity is signed:
// positive for long, negative for short.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketValue is quantity times current price; negative for shorts.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// Long reports whether the position holds a positive quantity.
func (p Position) Long() bool { return p.Quantity.IsPositive() }
