package domain

import (
	"context"
	"time"
)

// SchemaStore is the remote source-of-truth store for the schema document.
type SchemaStore interface {
	Get(ctx context.Context) (*Schema, error)
	Save(ctx context.Context, s *Schema) error
}

// SuggestionStore persists the suggestion queue and its history.
type SuggestionStore interface {
	Save(ctx context.Context, s *Suggestion) error
	Update(ctx context.Context, s *Suggestion) error
	ListPending(ctx context.Context) ([]Suggestion, error)
	ListHistory(ctx context.Context, limit int) ([]Suggestion, error)
}

// ChangeLogStore is the append-only schema audit trail.
type ChangeLogStore interface {
	Append(ctx context.Context, e *ChangeLogEntry) error
	List(ctx context.Context, limit int) ([]ChangeLogEntry, error)
}

// GraphBackend is the single capability interface every graph backend must
// implement. It is selected once at construction; no runtime type sniffing.
type GraphBackend interface {
	// Read surface used by extraction, compliance and analysis.
	Stats(ctx context.Context) (*GraphStats, error)
	FindNodes(ctx context.Context, label string, limit int) ([]GraphNode, error)
	FindRelationships(ctx context.Context, relType string, limit int) ([]GraphRelationship, error)
	Query(ctx context.Context, query string) ([]map[string]any, error)

	// Export surface used by the sync coordinator. EnsureIndex is idempotent:
	// an index that already exists reports created=false and no error.
	EnsureIndex(ctx context.Context, label, property string) (created bool, err error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
}

// SchemaChangeEvent is one insert/update/delete notification for the schema
// document.
type SchemaChangeEvent struct {
	Op        string    `json:"op"`
	Version   string    `json:"version,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// SchemaNotifier delivers remote schema-change notifications. The returned
// channel closes when ctx is cancelled.
type SchemaNotifier interface {
	Subscribe(ctx context.Context) (<-chan SchemaChangeEvent, error)
}

// CompletionRequest is one call to the text-generation backend.
type CompletionRequest struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// CompletionClient is the text-generation backend surface.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
