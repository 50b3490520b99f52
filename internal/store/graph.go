package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ontoloom/ontoloom/internal/domain"
)

// duplicate_table covers duplicate index names as well.
const pgDuplicateObject = "42P07"

// GraphBackend adapts a Postgres graph projection (graph_nodes, graph_edges,
// graph_metadata) to the backend capability interface. The backend's own
// storage engine stays external: this adapter only reads samples and
// statistics and writes export metadata.
type GraphBackend struct {
	db *pgxpool.Pool
}

func NewGraphBackend(db *pgxpool.Pool) *GraphBackend {
	return &GraphBackend{db: db}
}

func (g *GraphBackend) Stats(ctx context.Context) (*domain.GraphStats, error) {
	stats := &domain.GraphStats{}

	rows, err := g.db.Query(ctx,
		`SELECT label, COUNT(*) FROM graph_nodes GROUP BY label ORDER BY COUNT(*) DESC, label`,
	)
	if err != nil {
		return nil, fmt.Errorf("node label stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lc domain.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		stats.Labels = append(stats.Labels, lc)
		stats.TotalNodes += lc.Count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	relRows, err := g.db.Query(ctx,
		`SELECT relation_type, COUNT(*) FROM graph_edges GROUP BY relation_type ORDER BY COUNT(*) DESC, relation_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("relation type stats: %w", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var rc domain.RelationCount
		if err := relRows.Scan(&rc.Type, &rc.Count); err != nil {
			return nil, err
		}
		stats.RelationTypes = append(stats.RelationTypes, rc)
		stats.TotalRelationships += rc.Count
	}
	return stats, relRows.Err()
}

func (g *GraphBackend) FindNodes(ctx context.Context, label string, limit int) ([]domain.GraphNode, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := g.db.Query(ctx,
		`SELECT id, label, properties FROM graph_nodes WHERE label = $1 LIMIT $2`,
		label, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.GraphNode
	for rows.Next() {
		var n domain.GraphNode
		if err := rows.Scan(&n.ID, &n.Label, &n.Properties); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *GraphBackend) FindRelationships(ctx context.Context, relType string, limit int) ([]domain.GraphRelationship, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := g.db.Query(ctx,
		`SELECT e.id, e.relation_type, src.label, dst.label, e.properties
		 FROM graph_edges e
		 JOIN graph_nodes src ON src.id = e.source_id
		 JOIN graph_nodes dst ON dst.id = e.target_id
		 WHERE e.relation_type = $1
		 LIMIT $2`,
		relType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find relationships: %w", err)
	}
	defer rows.Close()

	var out []domain.GraphRelationship
	for rows.Next() {
		var r domain.GraphRelationship
		if err := rows.Scan(&r.ID, &r.Type, &r.FromLabel, &r.ToLabel, &r.Properties); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Query executes a compiled pattern query and returns generic rows. Queries
// come from the schema's query patterns, which for this backend are SQL.
func (g *GraphBackend) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := g.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute pattern query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, fd := range fields {
			record[fd.Name] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// EnsureIndex creates a per-label expression index over one node property.
// Creating an index that already exists reports created=false, not an error.
func (g *GraphBackend) EnsureIndex(ctx context.Context, label, property string) (bool, error) {
	name := indexName(label, property)
	stmt := fmt.Sprintf(
		`CREATE INDEX %s ON graph_nodes ((properties->>%s)) WHERE label = %s`,
		name, quoteLiteral(property), quoteLiteral(label),
	)

	_, err := g.db.Exec(ctx, stmt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateObject {
			return false, nil
		}
		return false, fmt.Errorf("create index %s: %w", name, err)
	}
	return true, nil
}

func (g *GraphBackend) SetMetadata(ctx context.Context, key, value string) error {
	_, err := g.db.Exec(ctx,
		`INSERT INTO graph_metadata (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	return err
}

func (g *GraphBackend) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := g.db.QueryRow(ctx,
		`SELECT value FROM graph_metadata WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// indexName builds a deterministic identifier from label and property,
// stripping anything that is not a safe identifier character.
func indexName(label, property string) string {
	return "idx_graph_nodes_" + sanitizeIdent(label) + "_" + sanitizeIdent(property)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Verify interface compliance at compile time
var _ domain.GraphBackend = (*GraphBackend)(nil)
