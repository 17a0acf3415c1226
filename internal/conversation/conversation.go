// Package conversation owns per-conversation turn history and drives the
// reply pipeline for new user messages.
//
// Turn handling within one conversation is strictly serialized; a second
// message arriving while one is in flight is rejected with
// ErrConversationBusy rather than queued. Different conversations proceed
// fully in parallel.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConversationNotFound indicates the conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotOwner indicates the caller does not own the conversation.
	ErrNotOwner = errors.New("conversation belongs to another user")

	// ErrConversationBusy indicates a turn is already in flight for the
	// conversation. The client retries after the current turn settles.
	ErrConversationBusy = errors.New("conversation busy with another turn")

	// ErrReplyNotGenerated indicates the user's message was recorded but no
	// agent reply could be produced. Distinct from a recording failure: the
	// user turn is persisted and a retry produces a new turn.
	ErrReplyNotGenerated = errors.New("message recorded but no reply generated")
)

// Role of a turn author.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Conversation binds a user to an agent and an ordered turn sequence.
type Conversation struct {
	ID             uuid.UUID
	UserID         string
	AgentID        uuid.UUID
	Title          string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Turn is one message in a conversation. Sequence numbers are unique and
// strictly increasing per conversation, with no gaps: 1..N.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sequence       int64
	Role           Role
	Content        string
	Citations      []uuid.UUID
	CreatedAt      time.Time
}
