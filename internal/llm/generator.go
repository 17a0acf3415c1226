package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/prompt"
)

// Generator is the Genkit-backed completion client.
//
// Each attempt passes through the proactive rate limiter first, then the
// provider call; transient provider errors retry with exponential backoff
// while the caller's context allows it.
type Generator struct {
	g        *genkit.Genkit
	model    string
	limiter  *rate.Limiter
	retryCfg RetryConfig
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRateLimiter replaces the default limiter (10 req/s, burst 30).
func WithRateLimiter(l *rate.Limiter) Option {
	return func(g *Generator) { g.limiter = l }
}

// WithRetryConfig replaces the default retry behavior.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(g *Generator) { g.retryCfg = cfg }
}

// NewGenerator creates a completion client for the given model name.
func NewGenerator(g *genkit.Genkit, model string, logger *slog.Logger, opts ...Option) (*Generator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gen := &Generator{
		g:        g,
		model:    model,
		limiter:  rate.NewLimiter(10, 30),
		retryCfg: DefaultRetryConfig(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(gen)
	}
	return gen, nil
}

// Complete generates the agent reply. Cancellation or deadline expiry on
// ctx aborts the call; no partial text is ever returned.
func (gen *Generator) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]*ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case prompt.RoleAgent:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Text)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Text)))
		}
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxOutputTokens),
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(gen.model),
		ai.WithSystem(req.System),
		ai.WithMessages(messages...),
		ai.WithConfig(cfg),
	}

	resp, err := gen.generateWithRetry(ctx, opts)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// generateWithRetry executes the call with exponential backoff. Each
// attempt is rate limited individually so retries cannot stampede the
// provider.
func (gen *Generator) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := gen.retryCfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= gen.retryCfg.MaxRetries; attempt++ {
		if gen.limiter != nil {
			if err := gen.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, gen.g, opts...)
		if err == nil {
			gen.logger.Debug("completion generated",
				"attempts", attempt+1, "elapsed", time.Since(start))
			return resp, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generating completion: %w", err)
		}
		if attempt == gen.retryCfg.MaxRetries {
			break
		}

		gen.logger.Debug("retrying completion",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, gen.retryCfg.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generating completion after %d retries (elapsed: %v): %w",
		gen.retryCfg.MaxRetries, time.Since(start), lastErr)
}
