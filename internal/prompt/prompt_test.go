package prompt

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/retrieve"
	"github.com/parleyhq/parley/internal/token"
)

func testAgent(instructions string) agents.Agent {
	return agents.Agent{
		ID:              uuid.New(),
		Name:            "support",
		Instructions:    instructions,
		Temperature:     0.7,
		MaxOutputTokens: 512,
	}
}

func passage(text string, similarity float64) retrieve.Passage {
	return retrieve.Passage{
		Text:       text,
		Tokens:     token.Estimate(text),
		Similarity: similarity,
		Citation:   retrieve.Citation{ChunkID: uuid.New(), DocumentID: uuid.New(), Version: 1},
	}
}

func TestAssemble_InstructionsAlwaysIncluded(t *testing.T) {
	agent := testAgent("Answer politely using the manual.")
	p, err := Assemble(agent, nil, nil, 1000)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if p.System != agent.Instructions {
		t.Errorf("System = %q, want instructions", p.System)
	}
}

func TestAssemble_BudgetBoundary(t *testing.T) {
	// 8 runes -> exactly 4 estimated tokens.
	agent := testAgent("abcdefgh")
	if got := token.Estimate(agent.Instructions); got != 4 {
		t.Fatalf("estimate = %d, want 4", got)
	}

	if _, err := Assemble(agent, nil, nil, 4); err != nil {
		t.Errorf("instructions exactly at budget should succeed, got %v", err)
	}

	_, err := Assemble(agent, nil, nil, 3)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded one token over, got %v", err)
	}
}

func TestAssemble_HistoryNewestFirst(t *testing.T) {
	agent := testAgent("ab") // 1 token
	history := []Message{
		{Role: RoleUser, Text: "oldest message here"},   // 9 tokens
		{Role: RoleAgent, Text: "middle reply"},         // 6 tokens
		{Role: RoleUser, Text: "newest question"},       // 7 tokens
	}

	// Budget fits instructions + the two newest turns only.
	p, err := Assemble(agent, history, nil, 15)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := []Message{history[1], history[2]}
	if !reflect.DeepEqual(p.Messages, want) {
		t.Errorf("Messages = %v, want newest two in order %v", p.Messages, want)
	}
}

func TestAssemble_PassagesFillRemainingBudget(t *testing.T) {
	agent := testAgent("ab") // 1 token
	passages := []retrieve.Passage{
		passage("abcdefgh", 0.9), // 4 tokens
		passage("abcdefgh", 0.8), // 4 tokens
		passage("abcdefgh", 0.7), // 4 tokens
	}

	p, err := Assemble(agent, nil, passages, 9)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(p.Passages) != 2 {
		t.Fatalf("expected 2 passages within budget, got %d", len(p.Passages))
	}
	if p.Passages[0].Similarity < p.Passages[1].Similarity {
		t.Error("passages out of similarity order")
	}
}

func TestAssemble_HistoryBeatsPassages(t *testing.T) {
	agent := testAgent("ab") // 1 token
	history := []Message{{Role: RoleUser, Text: "abcdefgh"}} // 4 tokens
	passages := []retrieve.Passage{passage("abcdefgh", 0.9)} // 4 tokens

	// Budget 5: instructions + history fit, passage does not.
	p, err := Assemble(agent, history, passages, 5)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(p.Messages) != 1 {
		t.Errorf("expected history included, got %d messages", len(p.Messages))
	}
	if len(p.Passages) != 0 {
		t.Errorf("expected no passages, got %d", len(p.Passages))
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	agent := testAgent("Answer using the product manual only.")
	history := []Message{
		{Role: RoleUser, Text: "How do I reset the device?"},
		{Role: RoleAgent, Text: "Hold the power button for ten seconds."},
		{Role: RoleUser, Text: "And after that?"},
	}
	passages := []retrieve.Passage{
		passage("Resetting restores factory settings.", 0.92),
		passage("The power button is on the left side.", 0.85),
	}

	first, err := Assemble(agent, history, passages, 200)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	second, err := Assemble(agent, history, passages, 200)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("repeated Assemble produced different prompts")
	}
	if first.Render() != second.Render() {
		t.Error("repeated Render produced different bytes")
	}
}

func TestRender(t *testing.T) {
	p := Prompt{
		System: "Be terse.",
		Messages: []Message{
			{Role: RoleUser, Text: "hello"},
			{Role: RoleAgent, Text: "hi"},
		},
		Passages: []retrieve.Passage{passage("grounding text", 0.9)},
	}

	out := p.Render()
	if !strings.HasPrefix(out, "Be terse.") {
		t.Errorf("render should start with instructions, got %q", out)
	}
	if !strings.Contains(out, "[1] grounding text") {
		t.Errorf("render missing numbered passage: %q", out)
	}
	if !strings.Contains(out, "user: hello") || !strings.Contains(out, "agent: hi") {
		t.Errorf("render missing messages: %q", out)
	}
}

func TestSystemText(t *testing.T) {
	p := Prompt{
		System: "Be terse.",
		Messages: []Message{
			{Role: RoleUser, Text: "hello"},
		},
		Passages: []retrieve.Passage{passage("grounding text", 0.9)},
	}

	out := p.SystemText()
	if !strings.HasPrefix(out, "Be terse.") {
		t.Errorf("system text should start with instructions, got %q", out)
	}
	if !strings.Contains(out, "[1] grounding text") {
		t.Errorf("system text missing numbered passage: %q", out)
	}
	if strings.Contains(out, "hello") {
		t.Errorf("system text must not include messages: %q", out)
	}

	// Without passages the system text is the bare instructions.
	if got := (Prompt{System: "Be terse."}).SystemText(); got != "Be terse." {
		t.Errorf("system text without passages = %q", got)
	}
}
