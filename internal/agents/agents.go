// Package agents manages agent configurations: the instructions, retrieval
// scopes and completion parameters a conversation turn runs under.
package agents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAgentNotFound indicates the agent id is unknown, typically because
	// the agent was deleted after a conversation bound to it. Callers
	// surface this to the user; there is no fallback agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidAgent indicates a configuration that fails validation.
	ErrInvalidAgent = errors.New("invalid agent configuration")
)

// Completion parameter bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Agent is a closed configuration record. Values handed out by the Router
// are snapshots: an update never changes a turn already in flight, only
// subsequent turns.
type Agent struct {
	ID              uuid.UUID
	Name            string
	Instructions    string
	Scopes          []string
	Temperature     float64
	MaxOutputTokens int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the configuration. Run at store time and again at load
// time so a bad row never reaches a turn.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if strings.TrimSpace(a.Instructions) == "" {
		return fmt.Errorf("%w: instructions are required", ErrInvalidAgent)
	}
	if a.Temperature < MinTemperature || a.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %v outside [%v, %v]",
			ErrInvalidAgent, a.Temperature, MinTemperature, MaxTemperature)
	}
	if a.MaxOutputTokens <= 0 {
		return fmt.Errorf("%w: max output tokens must be positive, got %d",
			ErrInvalidAgent, a.MaxOutputTokens)
	}
	for _, scope := range a.Scopes {
		if strings.TrimSpace(scope) == "" {
			return fmt.Errorf("%w: empty retrieval scope", ErrInvalidAgent)
		}
	}
	return nil
}
