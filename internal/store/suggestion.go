package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ontoloom/ontoloom/internal/domain"
)

// SuggestionStore persists schema-change suggestions. The evolution agent
// keeps the working queue in memory; this store is the durable copy that
// restores pending suggestions across restarts.
type SuggestionStore struct {
	db *pgxpool.Pool
}

func NewSuggestionStore(db *pgxpool.Pool) *SuggestionStore {
	return &SuggestionStore{db: db}
}

func (s *SuggestionStore) Save(ctx context.Context, sg *domain.Suggestion) error {
	props, err := json.Marshal(sg.Properties)
	if err != nil {
		return fmt.Errorf("marshal suggestion properties: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO ontology_suggestions (
			id, suggestion_type, name, description, confidence, source,
			properties, from_type, to_type, entity_type,
			status, created_at, approved_at, rejected_at, rejection_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sg.ID, sg.Type, sg.Name, sg.Description, sg.Confidence, sg.Source,
		props, sg.FromType, sg.ToType, sg.EntityType,
		sg.Status, sg.CreatedAt, sg.ApprovedAt, sg.RejectedAt, sg.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

func (s *SuggestionStore) Update(ctx context.Context, sg *domain.Suggestion) error {
	props, err := json.Marshal(sg.Properties)
	if err != nil {
		return fmt.Errorf("marshal suggestion properties: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE ontology_suggestions SET
			name = $1, description = $2, confidence = $3, properties = $4,
			from_type = $5, to_type = $6, entity_type = $7,
			status = $8, approved_at = $9, rejected_at = $10, rejection_reason = $11
		 WHERE id = $12`,
		sg.Name, sg.Description, sg.Confidence, props,
		sg.FromType, sg.ToType, sg.EntityType,
		sg.Status, sg.ApprovedAt, sg.RejectedAt, sg.RejectionReason,
		sg.ID,
	)
	if err != nil {
		return fmt.Errorf("update suggestion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SuggestionStore) ListPending(ctx context.Context) ([]domain.Suggestion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, suggestion_type, name, description, confidence, source,
			properties, from_type, to_type, entity_type,
			status, created_at, approved_at, rejected_at, rejection_reason
		 FROM ontology_suggestions
		 WHERE status = $1
		 ORDER BY created_at ASC`,
		domain.SuggestionPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSuggestions(rows)
}

func (s *SuggestionStore) ListHistory(ctx context.Context, limit int) ([]domain.Suggestion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, suggestion_type, name, description, confidence, source,
			properties, from_type, to_type, entity_type,
			status, created_at, approved_at, rejected_at, rejection_reason
		 FROM ontology_suggestions
		 WHERE status <> $1
		 ORDER BY COALESCE(approved_at, rejected_at) DESC
		 LIMIT $2`,
		domain.SuggestionPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSuggestions(rows)
}

func scanSuggestions(rows pgx.Rows) ([]domain.Suggestion, error) {
	var out []domain.Suggestion
	for rows.Next() {
		var sg domain.Suggestion
		var props []byte

		err := rows.Scan(
			&sg.ID, &sg.Type, &sg.Name, &sg.Description, &sg.Confidence, &sg.Source,
			&props, &sg.FromType, &sg.ToType, &sg.EntityType,
			&sg.Status, &sg.CreatedAt, &sg.ApprovedAt, &sg.RejectedAt, &sg.RejectionReason,
		)
		if err != nil {
			return nil, err
		}
		if len(props) > 0 {
			_ = json.Unmarshal(props, &sg.Properties)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// Verify interface compliance at compile time
var _ domain.SuggestionStore = (*SuggestionStore)(nil)
