package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert records an execution. Re-inserting the same fill ID is a no-op.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, order_id, agent_id, symbol, side,
			price, quantity, fee, realized_pnl, tick, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.OrderID, f.AgentID, f.Symbol, string(f.Side),
		f.Price.String(), f.Quantity.String(), f.Fee.String(), f.RealizedPnL.String(),
		int64(f.Tick), f.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

const fillSelectCols = `id, order_id, agent_id, symbol, side,
	price::text, quantity::text, fee::text, realized_pnl::text, tick, executed_at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, px, qty, fee, pnl string
		var tick int64
		if err := rows.Scan(
			&f.ID, &f.OrderID, &f.AgentID, &f.Symbol, &side,
			&px, &qty, &fee, &pnl, &tick, &f.ExecutedAt,
		); err != nil {
			return nil, err
		}
		f.Side = domain.OrderSide(side)
		f.Tick = uint64(tick)
		if err := parseNumerics(
			[]*decimal.Decimal{&f.Price, &f.Quantity, &f.Fee, &f.RealizedPnL},
			[]string{px, qty, fee, pnl},
		); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListByAgent returns an agent's fills, newest first.
func (s *FillStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := appendListOpts(
		`SELECT `+fillSelectCols+` FROM fills WHERE agent_id = $1`,
		[]any{agentID}, opts, "executed_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by agent: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by agent: %w", err)
	}
	return fills, nil
}

// ListBefore returns fills executed strictly before the given time, oldest
// first (for archiving).
func (s *FillStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills WHERE executed_at < $1
		 ORDER BY executed_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills before: %w", err)
	}
	return fills, nil
}

// DeleteBefore deletes all fills executed before the given time. Returns the
// number deleted.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}
