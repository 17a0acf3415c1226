package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationCols = `id, user_id, agent_id, COALESCE(title, ''), created_at, last_activity_at`

const turnCols = `id, conversation_id, sequence, role, content, citations, created_at`

// Store persists conversations and turns.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create starts a new conversation bound to an agent.
func (s *Store) Create(ctx context.Context, userID string, agentID uuid.UUID, title string) (Conversation, error) {
	if userID == "" {
		return Conversation{}, fmt.Errorf("user id is required")
	}

	var titleArg *string
	if title != "" {
		titleArg = &title
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id, agent_id, title)
		VALUES ($1, $2, $3)
		RETURNING `+conversationCols, userID, agentID, titleArg)
	conv, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Info("conversation created",
		"conversation_id", conv.ID, "user_id", userID, "agent_id", agentID)
	return conv, nil
}

// Get loads one conversation.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Conversation{}, ErrConversationNotFound
	case err != nil:
		return Conversation{}, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// List returns the user's conversations, most recently active first.
func (s *Store) List(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationCols+` FROM conversations
		WHERE user_id = $1
		ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// Delete removes the conversation. Its turns go with it via the foreign key
// cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	s.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// History returns the most recent limit turns in chronological order.
// limit <= 0 returns the full history.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT `+turnCols+` FROM (
				SELECT `+turnCols+` FROM turns
				WHERE conversation_id = $1
				ORDER BY sequence DESC
				LIMIT $2
			) recent ORDER BY sequence`, conversationID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+turnCols+` FROM turns
			WHERE conversation_id = $1
			ORDER BY sequence`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// AppendTurn appends a turn with the next sequence number.
//
// The conversation row is locked FOR UPDATE for the duration of the
// transaction, so concurrent appends to the same conversation queue behind
// each other and sequence numbers come out gapless even if the in-process
// serialization is bypassed (e.g. multiple server instances).
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, role Role, content string, citations []uuid.UUID) (Turn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&locked)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Turn{}, ErrConversationNotFound
	case err != nil:
		return Turn{}, fmt.Errorf("locking conversation: %w", err)
	}

	var next int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM turns WHERE conversation_id = $1`,
		conversationID).Scan(&next)
	if err != nil {
		return Turn{}, fmt.Errorf("computing next sequence: %w", err)
	}

	if citations == nil {
		citations = []uuid.UUID{}
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO turns (conversation_id, sequence, role, content, citations)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+turnCols,
		conversationID, next, role, content, citations)
	turn, err := scanTurn(row)
	if err != nil {
		return Turn{}, fmt.Errorf("inserting turn: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET last_activity_at = now() WHERE id = $1`,
		conversationID); err != nil {
		return Turn{}, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Turn{}, fmt.Errorf("committing turn: %w", err)
	}
	return turn, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.AgentID, &c.Title, &c.CreatedAt, &c.LastActivityAt)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func scanTurn(row pgx.Row) (Turn, error) {
	var t Turn
	err := row.Scan(&t.ID, &t.ConversationID, &t.Sequence, &t.Role, &t.Content,
		&t.Citations, &t.CreatedAt)
	if err != nil {
		return Turn{}, err
	}
	return t, nil
}
