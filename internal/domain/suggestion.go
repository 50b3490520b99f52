package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SuggestionType is the kind of schema change a suggestion proposes.
type SuggestionType string

const (
	SuggestionNewEntity   SuggestionType = "new_entity"
	SuggestionNewRelation SuggestionType = "new_relation"
	SuggestionNewProperty SuggestionType = "new_property"
)

// SuggestionStatus tracks the suggestion lifecycle. Approved and rejected are
// terminal.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

// Suggestion sources. Batch auto-approval only considers graph and LLM
// analysis; document extraction is lower-precision by construction.
const (
	SourceDocumentExtraction = "document_extraction"
	SourceGraphAnalysis      = "graph_analysis"
	SourceLLMAnalysis        = "llm_analysis"
)

// Suggestion is a proposed schema change awaiting approval or rejection.
type Suggestion struct {
	ID          uuid.UUID      `json:"id"`
	Type        SuggestionType `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Confidence  float64        `json:"confidence"`
	Source      string         `json:"source"`

	// Payload by type: new_entity carries Properties; new_relation carries
	// FromType/ToType; new_property carries EntityType.
	Properties map[string]PropertyDef `json:"properties,omitempty"`
	FromType   string                 `json:"from_type,omitempty"`
	ToType     string                 `json:"to_type,omitempty"`
	EntityType string                 `json:"entity_type,omitempty"`

	Status          SuggestionStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

// ChangeType enumerates schema change-log entry kinds.
type ChangeType string

const (
	ChangeVersionBump      ChangeType = "version_bump"
	ChangeEntityAdded      ChangeType = "entity_added"
	ChangeEntityModified   ChangeType = "entity_modified"
	ChangeEntityRemoved    ChangeType = "entity_removed"
	ChangeRelationAdded    ChangeType = "relation_added"
	ChangeRelationModified ChangeType = "relation_modified"
	ChangeRelationRemoved  ChangeType = "relation_removed"
)

// ChangeLogEntry is one record in the append-only schema audit trail, written
// for every schema mutation.
type ChangeLogEntry struct {
	ID            uuid.UUID       `json:"id"`
	ChangeType    ChangeType      `json:"change_type"`
	TargetType    string          `json:"target_type"`
	TargetName    string          `json:"target_name"`
	OldDefinition json.RawMessage `json:"old_definition,omitempty"`
	NewDefinition json.RawMessage `json:"new_definition,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Source        string          `json:"source,omitempty"`
	ChangedBy     string          `json:"changed_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
