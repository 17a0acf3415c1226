// Package prompt assembles the bounded prompt for a completion call.
//
// A fixed token budget is split across three segments in strict priority
// order: agent instructions always go in whole, then conversation turns
// newest-first, then retrieved passages in similarity order. Assembly is
// deterministic: identical inputs and budget produce byte-identical output,
// which the assembler tests rely on.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/retrieve"
	"github.com/parleyhq/parley/internal/token"
)

// ErrBudgetExceeded indicates the agent instructions alone exceed the
// budget. This is an operator configuration error, never retried.
var ErrBudgetExceeded = errors.New("prompt budget exceeded by agent instructions")

// Role of a prompt message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one conversational exchange fed into assembly.
type Message struct {
	Role Role
	Text string
}

// Prompt is the assembled, budget-bounded completion input. Messages are
// chronological; Passages carry the grounding that made it in, in
// similarity order, so callers can cite exactly what was used.
type Prompt struct {
	System   string
	Messages []Message
	Passages []retrieve.Passage
}

// Assemble builds a Prompt from the agent's instructions, conversation
// history (chronological, oldest first) and retrieved passages (similarity
// order). budget is the total token allowance across all three segments.
func Assemble(agent agents.Agent, history []Message, passages []retrieve.Passage, budget int) (Prompt, error) {
	if budget <= 0 {
		return Prompt{}, fmt.Errorf("budget must be positive, got %d", budget)
	}

	used := token.Estimate(agent.Instructions)
	if used > budget {
		return Prompt{}, fmt.Errorf("%w: instructions need %d tokens, budget is %d",
			ErrBudgetExceeded, used, budget)
	}

	// Walk history newest-first; the slice of kept messages stays
	// chronological because we track the cut point instead of reordering.
	keep := len(history)
	for keep > 0 {
		cost := token.Estimate(history[keep-1].Text)
		if used+cost > budget {
			break
		}
		used += cost
		keep--
	}
	messages := history[keep:]

	var kept []retrieve.Passage
	for _, p := range passages {
		cost := token.Estimate(p.Text)
		if used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, p)
	}

	return Prompt{
		System:   agent.Instructions,
		Messages: messages,
		Passages: kept,
	}, nil
}

// SystemText is the system side of the completion call: the instructions
// followed by the grounding passages, numbered so replies can reference
// them. This is what actually carries the retrieved passages to the model;
// Messages travel separately with their roles. Deterministic: the same
// Prompt always produces the same bytes.
func (p Prompt) SystemText() string {
	var b strings.Builder

	b.WriteString(p.System)

	if len(p.Passages) > 0 {
		b.WriteString("\n\nUse the following passages as grounding:\n")
		for i, passage := range p.Passages {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, passage.Text)
		}
	}

	return b.String()
}

// Render produces the full textual form of the prompt, system text plus
// messages. Deterministic: the same Prompt always renders to the same bytes.
func (p Prompt) Render() string {
	var b strings.Builder

	b.WriteString(p.SystemText())

	if len(p.Messages) > 0 {
		b.WriteString("\n")
		for _, m := range p.Messages {
			fmt.Fprintf(&b, "\n%s: %s", m.Role, m.Text)
		}
	}

	return b.String()
}
