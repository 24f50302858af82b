package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// MarketEngine is the price feed surface of the engine.
type MarketEngine interface {
	MarketPrices() []domain.SymbolPrice
	Price(symbol string) (decimal.Decimal, error)
	Tick(ctx context.Context, overrides map[string]decimal.Decimal) (domain.PricesUpdated, error)
}

// MarketHandler serves simulated prices.
type MarketHandler struct {
	engine MarketEngine
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(engine MarketEngine, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{engine: engine, logger: logger}
}

// ListPrices returns the latest price of every symbol.
// GET /api/prices
func (h *MarketHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prices": h.engine.MarketPrices()})
}

// GetPrice returns one symbol's price. Symbols such as BTC/USD contain a
// slash, so the route captures the remainder of the path.
// GET /api/prices/{symbol...}
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	px, err := h.engine.Price(symbol)
	if err != nil {
		writeEngineError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price": px})
}

type tickRequest struct {
	Overrides map[string]decimal.Decimal `json:"overrides"`
}

// Tick advances the feed once, optionally forcing prices for some symbols.
// POST /api/tick
func (h *MarketHandler) Tick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	overrides := make(map[string]decimal.Decimal, len(req.Overrides))
	for sym, px := range req.Overrides {
		overrides[strings.ToUpper(strings.TrimSpace(sym))] = px
	}
	upd, err := h.engine.Tick(r.Context(), overrides)
	if err != nil {
		writeEngineError(w, r, h.logger, "tick", err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}
