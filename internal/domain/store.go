package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists order history. Writes are upserts keyed by order ID
// so replays after a dropped write converge.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Order, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FillStore persists executions.
type FillStore interface {
	Insert(ctx context.Context, fill Fill) error
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AgentStore persists agent metadata and their latest status.
type AgentStore interface {
	Upsert(ctx context.Context, agent Agent) error
	UpdateStatus(ctx context.Context, id string, status AgentStatus) error
	List(ctx context.Context) ([]Agent, error)
}

// EquitySnapshot is a point-in-time valuation of one portfolio.
type EquitySnapshot struct {
	AgentID       string          `json:"agent_id"`
	Tick          uint64          `json:"tick"`
	Cash          decimal.Decimal `json:"cash"`
	TotalValue    decimal.Decimal `json:"total_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
	TakenAt       time.Time       `json:"taken_at"`
}

// EquityStore persists equity curves.
type EquityStore interface {
	InsertBatch(ctx context.Context, snaps []EquitySnapshot) error
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]EquitySnapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EquitySnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
