// Package graphsync keeps the graph backend aligned with the current schema:
// indexes for queryable properties and a recorded schema version.
package graphsync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/schema"
	"github.com/ontoloom/ontoloom/internal/store"
	"go.uber.org/zap"
)

// MetadataVersionKey is where the graph records the schema version it was
// last synchronized to.
const MetadataVersionKey = "schema_version"

// Exporter applies one schema to the graph backend.
type Exporter struct {
	manager    *schema.Manager
	graph      domain.GraphBackend
	logger     *zap.Logger
	applyRules bool
}

func NewExporter(manager *schema.Manager, graph domain.GraphBackend, logger *zap.Logger) *Exporter {
	return &Exporter{manager: manager, graph: graph, logger: logger}
}

// SetApplyRules controls whether enabled inference rules run during export.
func (e *Exporter) SetApplyRules(enabled bool) {
	e.applyRules = enabled
}

// ExportReport lists what one export pass did.
type ExportReport struct {
	Version        string   `json:"version"`
	IndexesCreated []string `json:"indexes_created"`
	IndexesSkipped []string `json:"indexes_skipped"`
	RulesApplied   []string `json:"rules_applied,omitempty"`
}

// Export ensures an index exists for every searchable, unique or required
// entity property, then records the schema version in graph metadata.
// Indexes that already exist are reported as skipped, not errors.
func (e *Exporter) Export(ctx context.Context) (*ExportReport, error) {
	current, err := e.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}

	report := &ExportReport{
		Version:        current.Version,
		IndexesCreated: []string{},
		IndexesSkipped: []string{},
	}

	labels := make([]string, 0, len(current.EntityTypes))
	for label := range current.EntityTypes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		et := current.EntityTypes[label]
		props := make([]string, 0, len(et.Properties))
		for name, def := range et.Properties {
			if def.Searchable || def.Unique || def.Required {
				props = append(props, name)
			}
		}
		sort.Strings(props)

		for _, prop := range props {
			created, err := e.graph.EnsureIndex(ctx, label, prop)
			if err != nil {
				return nil, fmt.Errorf("ensure index %s.%s: %w", label, prop, err)
			}
			ref := label + "." + prop
			if created {
				report.IndexesCreated = append(report.IndexesCreated, ref)
			} else {
				report.IndexesSkipped = append(report.IndexesSkipped, ref)
			}
		}
	}

	if e.applyRules {
		report.RulesApplied = e.runInferenceRules(ctx, current.InferenceRules)
	}

	if err := e.graph.SetMetadata(ctx, MetadataVersionKey, current.Version); err != nil {
		return nil, fmt.Errorf("record schema version: %w", err)
	}

	e.logger.Info("schema exported to graph",
		zap.String("version", current.Version),
		zap.Int("indexes_created", len(report.IndexesCreated)),
		zap.Int("indexes_skipped", len(report.IndexesSkipped)),
		zap.Int("rules_applied", len(report.RulesApplied)))
	return report, nil
}

// runInferenceRules executes every enabled rule's action against the graph.
// A rule with a condition only fires when the condition query returns rows.
// Rule failures are logged and never fail the export.
func (e *Exporter) runInferenceRules(ctx context.Context, rules []domain.InferenceRule) []string {
	var applied []string
	for _, rule := range rules {
		if !rule.Enabled || rule.Action == "" {
			continue
		}
		if rule.Condition != "" {
			rows, err := e.graph.Query(ctx, rule.Condition)
			if err != nil {
				e.logger.Warn("inference rule condition failed",
					zap.String("rule", rule.Name), zap.Error(err))
				continue
			}
			if len(rows) == 0 {
				continue
			}
		}
		if _, err := e.graph.Query(ctx, rule.Action); err != nil {
			e.logger.Warn("inference rule action failed",
				zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		applied = append(applied, rule.Name)
	}
	return applied
}

// NeedsSync reports whether the graph's recorded schema version differs from
// the current one. The comparison is plain string inequality; a graph with
// no recorded version always needs sync.
func (e *Exporter) NeedsSync(ctx context.Context) (bool, error) {
	version, err := e.manager.Version(ctx)
	if err != nil {
		return false, err
	}
	recorded, err := e.graph.GetMetadata(ctx, MetadataVersionKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("read graph schema version: %w", err)
	}
	return recorded != version, nil
}
