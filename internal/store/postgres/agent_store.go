package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/papersim/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates a new AgentStore backed by the given connection pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Upsert inserts an agent or refreshes its name, strategy and status.
func (s *AgentStore) Upsert(ctx context.Context, a domain.Agent) error {
	const query = `
		INSERT INTO agents (id, name, strategy, status, initial_cash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			strategy = EXCLUDED.strategy,
			status = EXCLUDED.status,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Name, a.Strategy, string(a.Status),
		a.Portfolio.InitialCash.String(), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert agent %s: %w", a.ID, err)
	}
	return nil
}

// UpdateStatus records a status transition.
func (s *AgentStore) UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update agent status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns every recorded agent in creation order. Portfolios are not
// persisted; only InitialCash is populated.
func (s *AgentStore) List(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, strategy, status, initial_cash::text, created_at, updated_at
		 FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		var status, cash string
		if err := rows.Scan(&a.ID, &a.Name, &a.Strategy, &status, &cash, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		a.Status = domain.AgentStatus(status)
		if a.Portfolio.InitialCash, err = parseNumeric(cash); err != nil {
			return nil, err
		}
		a.Portfolio.AgentID = a.ID
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agents rows: %w", err)
	}
	return agents, nil
}
