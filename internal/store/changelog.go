package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ontoloom/ontoloom/internal/domain"
)

// ChangeLogStore is the append-only schema audit trail.
type ChangeLogStore struct {
	db *pgxpool.Pool
}

func NewChangeLogStore(db *pgxpool.Pool) *ChangeLogStore {
	return &ChangeLogStore{db: db}
}

func (s *ChangeLogStore) Append(ctx context.Context, e *domain.ChangeLogEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO ontology_change_log (
			change_type, target_type, target_name,
			old_definition, new_definition, reason, source, changed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		e.ChangeType, e.TargetType, e.TargetName,
		nullableJSON(e.OldDefinition), nullableJSON(e.NewDefinition),
		e.Reason, e.Source, e.ChangedBy,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append change log entry: %w", err)
	}
	return nil
}

func (s *ChangeLogStore) List(ctx context.Context, limit int) ([]domain.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, change_type, target_type, target_name,
			old_definition, new_definition, reason, source, changed_by, created_at
		 FROM ontology_change_log
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChangeLogEntry
	for rows.Next() {
		var e domain.ChangeLogEntry
		var oldDef, newDef []byte
		err := rows.Scan(
			&e.ID, &e.ChangeType, &e.TargetType, &e.TargetName,
			&oldDef, &newDef, &e.Reason, &e.Source, &e.ChangedBy, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.OldDefinition = oldDef
		e.NewDefinition = newDef
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// Verify interface compliance at compile time
var _ domain.ChangeLogStore = (*ChangeLogStore)(nil)
