package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const agentCols = `id, name, instructions, scopes, temperature, max_output_tokens, created_at, updated_at`

// Store persists agent configurations.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an agent Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create validates and inserts a new agent.
func (s *Store) Create(ctx context.Context, agent Agent) (Agent, error) {
	if err := agent.Validate(); err != nil {
		return Agent{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, instructions, scopes, temperature, max_output_tokens)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+agentCols,
		agent.Name, agent.Instructions, agent.Scopes, agent.Temperature, agent.MaxOutputTokens)
	created, err := scanAgent(row)
	if err != nil {
		return Agent{}, fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Info("agent created", "agent_id", created.ID, "name", created.Name)
	return created, nil
}

// Get loads one agent. The loaded row is validated so a manually edited bad
// row surfaces as a configuration error instead of a broken turn.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Agent{}, ErrAgentNotFound
	case err != nil:
		return Agent{}, fmt.Errorf("loading agent: %w", err)
	}
	if err := agent.Validate(); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// List returns all agents ordered by name.
func (s *Store) List(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentCols+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return out, nil
}

// Update validates and replaces an agent's configuration. Turns already in
// flight keep the snapshot they resolved; the update applies from the next
// turn on.
func (s *Store) Update(ctx context.Context, agent Agent) (Agent, error) {
	if err := agent.Validate(); err != nil {
		return Agent{}, err
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE agents
		SET name = $2, instructions = $3, scopes = $4, temperature = $5,
			max_output_tokens = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+agentCols,
		agent.ID, agent.Name, agent.Instructions, agent.Scopes,
		agent.Temperature, agent.MaxOutputTokens)
	updated, err := scanAgent(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Agent{}, ErrAgentNotFound
	case err != nil:
		return Agent{}, fmt.Errorf("updating agent: %w", err)
	}

	s.logger.Info("agent updated", "agent_id", updated.ID, "name", updated.Name)
	return updated, nil
}

// Delete removes an agent. Conversations bound to it stay readable; their
// next turn fails with ErrAgentNotFound.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}

	s.logger.Info("agent deleted", "agent_id", id)
	return nil
}

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.Instructions, &a.Scopes,
		&a.Temperature, &a.MaxOutputTokens, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}
