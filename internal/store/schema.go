package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ontoloom/ontoloom/internal/domain"
)

// SchemaStore persists the canonical schema document as a single JSONB row.
// Saves fire the schema_changes notification via a table trigger, so every
// writer (this process or another) reaches all subscribers.
type SchemaStore struct {
	db *pgxpool.Pool
}

func NewSchemaStore(db *pgxpool.Pool) *SchemaStore {
	return &SchemaStore{db: db}
}

func (s *SchemaStore) Get(ctx context.Context) (*domain.Schema, error) {
	var doc []byte
	err := s.db.QueryRow(ctx,
		`SELECT document FROM ontology_schemas WHERE id = 1`,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load schema document: %w", err)
	}

	schema := &domain.Schema{}
	if err := json.Unmarshal(doc, schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema document: %w", err)
	}
	schema.Normalize()
	return schema, nil
}

func (s *SchemaStore) Save(ctx context.Context, schema *domain.Schema) error {
	doc, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema document: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO ontology_schemas (id, version, document, updated_at)
		 VALUES (1, $1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET version = EXCLUDED.version,
		     document = EXCLUDED.document,
		     updated_at = NOW()`,
		schema.Version, doc,
	)
	if err != nil {
		return fmt.Errorf("save schema document: %w", err)
	}
	return nil
}

// Verify interface compliance at compile time
var _ domain.SchemaStore = (*SchemaStore)(nil)
