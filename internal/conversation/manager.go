package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/retrieve"
)

// store is the persistence slice the Manager needs. Satisfied by *Store.
type store interface {
	Create(ctx context.Context, userID string, agentID uuid.UUID, title string) (Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (Conversation, error)
	List(ctx context.Context, userID string) ([]Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error)
	AppendTurn(ctx context.Context, conversationID uuid.UUID, role Role, content string, citations []uuid.UUID) (Turn, error)
}

// router resolves a conversation's agent binding. Satisfied by *agents.Router.
type router interface {
	Resolve(ctx context.Context, agentID uuid.UUID) (agents.Agent, error)
}

// retriever fetches grounding passages. Satisfied by *retrieve.Retriever.
type retriever interface {
	Retrieve(ctx context.Context, agent agents.Agent, query string, topK int) ([]retrieve.Passage, error)
}

// ManagerConfig bounds the turn pipeline.
type ManagerConfig struct {
	// HistoryLimit is how many recent turns feed prompt assembly.
	HistoryLimit int

	// TopK is how many grounding passages to retrieve per turn.
	TopK int

	// PromptBudget is the token allowance for the assembled prompt.
	PromptBudget int

	// CompletionTimeout bounds the completion call.
	CompletionTimeout time.Duration
}

func (c ManagerConfig) normalize() ManagerConfig {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.PromptBudget <= 0 {
		c.PromptBudget = 4096
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 60 * time.Second
	}
	return c
}

// turnLocks tracks which conversations have a turn in flight in this
// process. Acquisition never blocks; a held lock means reject.
type turnLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func newTurnLocks() *turnLocks {
	return &turnLocks{held: make(map[uuid.UUID]struct{})}
}

func (l *turnLocks) tryAcquire(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *turnLocks) release(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Manager orchestrates the turn pipeline: route to the agent, retrieve
// grounding, assemble the bounded prompt, complete, persist.
type Manager struct {
	store     store
	router    router
	retriever retriever
	completer llm.Client
	cfg       ManagerConfig
	logger    *slog.Logger
	locks     *turnLocks
}

// NewManager creates a Manager.
func NewManager(st store, rt router, rv retriever, completer llm.Client, cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if rt == nil {
		return nil, fmt.Errorf("router is required")
	}
	if rv == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		router:    rt,
		retriever: rv,
		completer: completer,
		cfg:       cfg.normalize(),
		logger:    logger,
		locks:     newTurnLocks(),
	}, nil
}

// Create starts a conversation after confirming the agent exists.
func (m *Manager) Create(ctx context.Context, userID string, agentID uuid.UUID, title string) (Conversation, error) {
	if _, err := m.router.Resolve(ctx, agentID); err != nil {
		return Conversation{}, err
	}
	return m.store.Create(ctx, userID, agentID, title)
}

// Get returns the conversation after an ownership check.
func (m *Manager) Get(ctx context.Context, id uuid.UUID, userID string) (Conversation, error) {
	conv, err := m.store.Get(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if conv.UserID != userID {
		return Conversation{}, ErrNotOwner
	}
	return conv, nil
}

// List returns the user's conversations, most recently active first.
func (m *Manager) List(ctx context.Context, userID string) ([]Conversation, error) {
	return m.store.List(ctx, userID)
}

// Delete removes the conversation and its turns after an ownership check.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if _, err := m.Get(ctx, id, userID); err != nil {
		return err
	}
	return m.store.Delete(ctx, id)
}

// History returns the conversation's turns after an ownership check.
func (m *Manager) History(ctx context.Context, id uuid.UUID, userID string) ([]Turn, error) {
	if _, err := m.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	return m.store.History(ctx, id, 0)
}

// PostMessage records the user's message and produces the agent's reply
// turn.
//
// Failure semantics matter here: an error before the user turn is appended
// means "your message could not be recorded"; once the user turn is
// persisted, every later failure is wrapped in ErrReplyNotGenerated and the
// user turn stays. A retry then simply produces the next sequence number.
func (m *Manager) PostMessage(ctx context.Context, conversationID uuid.UUID, userID, text string) (Turn, error) {
	if text == "" {
		return Turn{}, fmt.Errorf("message text is required")
	}

	conv, err := m.store.Get(ctx, conversationID)
	if err != nil {
		return Turn{}, err
	}
	if conv.UserID != userID {
		return Turn{}, ErrNotOwner
	}

	if !m.locks.tryAcquire(conversationID) {
		return Turn{}, ErrConversationBusy
	}
	defer m.locks.release(conversationID)

	history, err := m.store.History(ctx, conversationID, m.cfg.HistoryLimit)
	if err != nil {
		return Turn{}, fmt.Errorf("loading history: %w", err)
	}

	if _, err := m.store.AppendTurn(ctx, conversationID, RoleUser, text, nil); err != nil {
		return Turn{}, fmt.Errorf("recording message: %w", err)
	}

	// From here on the user turn is durable; failures leave it in place.
	agent, err := m.router.Resolve(ctx, conv.AgentID)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrReplyNotGenerated, err)
	}

	passages, err := m.retriever.Retrieve(ctx, agent, text, m.cfg.TopK)
	if err != nil {
		// Grounding is best-effort: reply ungrounded rather than failing.
		m.logger.Warn("retrieval failed, replying ungrounded",
			"conversation_id", conversationID, "error", err)
		passages = nil
	}

	messages := make([]prompt.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, prompt.Message{Role: prompt.Role(t.Role), Text: t.Content})
	}
	messages = append(messages, prompt.Message{Role: prompt.RoleUser, Text: text})

	assembled, err := prompt.Assemble(agent, messages, passages, m.cfg.PromptBudget)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrReplyNotGenerated, err)
	}

	completionCtx, cancel := context.WithTimeout(ctx, m.cfg.CompletionTimeout)
	defer cancel()

	// SystemText carries the grounding passages; sending bare instructions
	// here would record citations for passages the model never saw.
	reply, err := m.completer.Complete(completionCtx, llm.Request{
		System:          assembled.SystemText(),
		Messages:        assembled.Messages,
		Temperature:     agent.Temperature,
		MaxOutputTokens: agent.MaxOutputTokens,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrReplyNotGenerated, err)
	}

	citations := make([]uuid.UUID, 0, len(assembled.Passages))
	for _, p := range assembled.Passages {
		citations = append(citations, p.Citation.ChunkID)
	}

	agentTurn, err := m.store.AppendTurn(ctx, conversationID, RoleAgent, reply, citations)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: persisting reply: %w", ErrReplyNotGenerated, err)
	}

	m.logger.Info("turn completed",
		"conversation_id", conversationID, "sequence", agentTurn.Sequence,
		"citations", len(citations), "grounded", len(assembled.Passages) > 0)
	return agentTurn, nil
}
