package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert writes the latest state of an order. Every lifecycle event carries
// the full order, so the newest write always wins; updated_at guards against
// an older state overwriting a newer one.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, agent_id, client_order_id, symbol, side, order_type, time_in_force,
			quantity, limit_price, stop_price, status,
			filled_quantity, avg_fill_price, fees, triggered, reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11,
			$12::numeric, $13::numeric, $14::numeric, $15, $16,
			$17, $18
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_quantity = EXCLUDED.filled_quantity,
			avg_fill_price = EXCLUDED.avg_fill_price,
			fees = EXCLUDED.fees,
			triggered = EXCLUDED.triggered,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at
		WHERE orders.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.AgentID, o.ClientOrderID, o.Symbol,
		string(o.Side), string(o.Type), string(o.TimeInForce),
		o.Quantity.String(), numericArg(o.LimitPrice), numericArg(o.StopPrice), string(o.Status),
		o.FilledQuantity.String(), o.AvgFillPrice.String(), o.Fees.String(), o.Triggered, o.Reason,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, agent_id, client_order_id, symbol, side, order_type, time_in_force,
	quantity::text, limit_price::text, stop_price::text, status,
	filled_quantity::text, avg_fill_price::text, fees::text, triggered, reason,
	created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var side, orderType, tif, status string
	var qty, filled, avg, fees string
	var limitPx, stopPx *string

	err := scanner.Scan(
		&o.ID, &o.AgentID, &o.ClientOrderID, &o.Symbol,
		&side, &orderType, &tif,
		&qty, &limitPx, &stopPx, &status,
		&filled, &avg, &fees, &o.Triggered, &o.Reason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)

	if err := parseNumerics(
		[]*decimal.Decimal{&o.Quantity, &o.FilledQuantity, &o.AvgFillPrice, &o.Fees},
		[]string{qty, filled, avg, fees},
	); err != nil {
		return domain.Order{}, err
	}
	if o.LimitPrice, err = optionalNumeric(limitPx); err != nil {
		return domain.Order{}, err
	}
	if o.StopPrice, err = optionalNumeric(stopPx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByAgent returns an agent's orders, newest first.
func (s *OrderStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := appendListOpts(
		`SELECT `+orderSelectCols+` FROM orders WHERE agent_id = $1`,
		[]any{agentID}, opts, "created_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by agent: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by agent: %w", err)
	}
	return orders, nil
}

// ListBefore returns closed orders last updated before the cutoff, oldest
// first, for archiving.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE updated_at < $1 AND status IN ('filled', 'cancelled', 'rejected')
		 ORDER BY updated_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders before: %w", err)
	}
	return orders, nil
}

// DeleteBefore deletes closed orders last updated before the cutoff.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders WHERE updated_at < $1 AND status IN ('filled', 'cancelled', 'rejected')`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before: %w", err)
	}
	return tag.RowsAffected(), nil
}
