package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedDimension indicates the embedding dimension does not
	// match the vector column width the schema was created with.
	ErrInvalidEmbedDimension = errors.New("invalid embedding dimension")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidWorkerCount indicates the ingestion worker count is out of range.
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrInvalidLease indicates the ingestion lease is out of range.
	ErrInvalidLease = errors.New("invalid ingestion lease")

	// ErrInvalidChunkSize indicates the chunk sizing is inconsistent.
	ErrInvalidChunkSize = errors.New("invalid chunk sizing")

	// ErrInvalidPromptBudget indicates the prompt budget is out of range.
	ErrInvalidPromptBudget = errors.New("invalid prompt budget")
)

// SchemaVectorDimension is the width of the vector column in the schema.
// The configured embedding dimension must match it exactly.
const SchemaVectorDimension = 768

// MaxWorkers caps the ingestion pool size.
const MaxWorkers = 32

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks all configuration values. Fail-fast: called once at load.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: got %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedDimension != SchemaVectorDimension {
		return fmt.Errorf("%w: got %d, schema uses vector(%d)",
			ErrInvalidEmbedDimension, c.EmbedDimension, SchemaVectorDimension)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 250 {
		return fmt.Errorf("%w: got %d, must be in [1, 250]", ErrInvalidBatchSize, c.EmbedBatchSize)
	}

	if c.Ingest.Workers < 1 || c.Ingest.Workers > MaxWorkers {
		return fmt.Errorf("%w: got %d, must be in [1, %d]",
			ErrInvalidWorkerCount, c.Ingest.Workers, MaxWorkers)
	}
	if c.Ingest.Lease <= c.Ingest.JobTimeout {
		return fmt.Errorf("%w: lease %v must exceed job timeout %v",
			ErrInvalidLease, c.Ingest.Lease, c.Ingest.JobTimeout)
	}
	if c.Ingest.MaxChunkTokens < 1 {
		return fmt.Errorf("%w: max chunk tokens must be positive, got %d",
			ErrInvalidChunkSize, c.Ingest.MaxChunkTokens)
	}
	if c.Ingest.OverlapTokens < 0 || c.Ingest.OverlapTokens >= c.Ingest.MaxChunkTokens {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)",
			ErrInvalidChunkSize, c.Ingest.OverlapTokens, c.Ingest.MaxChunkTokens)
	}

	if c.Conversation.PromptBudget < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPromptBudget, c.Conversation.PromptBudget)
	}

	return nil
}
