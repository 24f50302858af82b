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

// EquityStore implements domain.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *pgxpool.Pool
}

// NewEquityStore creates a new EquityStore backed by the given connection pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// InsertBatch inserts one tick's snapshots using a pgx Batch. A snapshot
// already stored for the same agent and tick is skipped.
func (s *EquityStore) InsertBatch(ctx context.Context, snaps []domain.EquitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO equity_snapshots (
			agent_id, tick, cash, total_value, unrealized_pnl, total_pnl, drawdown_pct, taken_at
		) VALUES (
			$1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8
		) ON CONFLICT (agent_id, tick) DO NOTHING`

	for _, e := range snaps {
		batch.Queue(query,
			e.AgentID, int64(e.Tick),
			e.Cash.String(), e.TotalValue.String(), e.UnrealizedPnL.String(),
			e.TotalPnL.String(), e.DrawdownPct.String(), e.TakenAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert equity snapshot %d: %w", i, err)
		}
	}
	return nil
}

const equitySelectCols = `agent_id, tick, cash::text, total_value::text,
	unrealized_pnl::text, total_pnl::text, drawdown_pct::text, taken_at`

func scanEquityRows(rows pgx.Rows) ([]domain.EquitySnapshot, error) {
	var out []domain.EquitySnapshot
	for rows.Next() {
		var e domain.EquitySnapshot
		var tick int64
		var cash, total, unreal, pnl, dd string
		if err := rows.Scan(&e.AgentID, &tick, &cash, &total, &unreal, &pnl, &dd, &e.TakenAt); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		if err := parseNumerics(
			[]*decimal.Decimal{&e.Cash, &e.TotalValue, &e.UnrealizedPnL, &e.TotalPnL, &e.DrawdownPct},
			[]string{cash, total, unreal, pnl, dd},
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByAgent returns an agent's equity curve, newest first.
func (s *EquityStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.EquitySnapshot, error) {
	query, args := appendListOpts(
		`SELECT `+equitySelectCols+` FROM equity_snapshots WHERE agent_id = $1`,
		[]any{agentID}, opts, "taken_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity by agent: %w", err)
	}
	defer rows.Close()

	out, err := scanEquityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan equity by agent: %w", err)
	}
	return out, nil
}

// ListBefore returns snapshots taken before the cutoff, oldest first.
func (s *EquityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+equitySelectCols+` FROM equity_snapshots WHERE taken_at < $1
		 ORDER BY taken_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity before: %w", err)
	}
	defer rows.Close()

	out, err := scanEquityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan equity before: %w", err)
	}
	return out, nil
}

// DeleteBefore deletes snapshots taken before the cutoff.
func (s *EquityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM equity_snapshots WHERE taken_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete equity before: %w", err)
	}
	return tag.RowsAffected(), nil
}
