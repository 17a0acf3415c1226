// Package llm is the boundary to the external completion capability.
package llm

import (
	"context"

	"github.com/parleyhq/parley/internal/prompt"
)

// Request is one completion call. Temperature and MaxOutputTokens come from
// the agent snapshot governing the turn.
type Request struct {
	System          string
	Messages        []prompt.Message
	Temperature     float64
	MaxOutputTokens int
}

// Client produces a completion for an assembled prompt. Implementations
// must honor ctx cancellation and deadlines; a canceled call returns an
// error, never partial text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
