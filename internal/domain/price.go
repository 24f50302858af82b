package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolPrice is the latest simulated price for a symbol.
type SymbolPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"` // since the previous tick
	Timestamp time.Time       `json:"timestamp"`
}

// PriceMap indexes prices by symbol.
func PriceMap(prices []SymbolPrice) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		out[p.Symbol] = p.Price
	}
	return out
}
