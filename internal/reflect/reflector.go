// Package reflect extracts candidate ontologies from live graph data and
// measures how well that data complies with the current schema.
package reflect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/schema"
	"go.uber.org/zap"
)

const DefaultSampleSize = 100

// Issue severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue types
const (
	IssueUnknownEntityType       = "unknown_entity_type"
	IssueUnknownRelationType     = "unknown_relation_type"
	IssueMissingRequiredProperty = "missing_required_property"
	IssueInvalidRelationEndpoint = "invalid_relation_endpoint"
	IssueNoUniqueAttribute       = "no_unique_attribute"
)

// meta labels kept out of extraction unless explicitly requested
var metaLabels = map[string]bool{
	"SchemaMeta": true,
	"Migration":  true,
}

// node property keys never promoted into extracted schemas
var internalPropertyKeys = map[string]bool{
	"embedding": true,
}

// Reflector reads the live graph through the backend capability interface
// and compares it against the managed schema.
type Reflector struct {
	graph   domain.GraphBackend
	manager *schema.Manager
	logger  *zap.Logger
}

func NewReflector(graph domain.GraphBackend, manager *schema.Manager, logger *zap.Logger) *Reflector {
	return &Reflector{graph: graph, manager: manager, logger: logger}
}

// ExtractOptions controls graph extraction sampling.
type ExtractOptions struct {
	SampleSize       int
	IncludeMetaNodes bool
}

// ExtractStats summarizes one extraction pass.
type ExtractStats struct {
	EntityTypesFound    int   `json:"entity_types_found"`
	RelationTypesFound  int   `json:"relation_types_found"`
	TotalNodes          int64 `json:"total_nodes"`
	TotalRelationships  int64 `json:"total_relationships"`
	AttributesExtracted int   `json:"attributes_extracted"`
}

// ExtractionReport is a candidate ontology derived from live data.
type ExtractionReport struct {
	Ontology *domain.Schema `json:"ontology"`
	Stats    ExtractStats   `json:"stats"`
}

// ExtractFromGraph samples the live graph and derives a candidate ontology:
// one entity type per observed label with the union of observed property
// keys (typed uniformly as string), and one relation type per observed edge
// type with the observed endpoint label sets.
func (r *Reflector) ExtractFromGraph(ctx context.Context, opts ExtractOptions) (*ExtractionReport, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}

	stats, err := r.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	ontology := domain.NewSchema()
	report := &ExtractionReport{Ontology: ontology}
	report.Stats.TotalNodes = stats.TotalNodes
	report.Stats.TotalRelationships = stats.TotalRelationships

	for _, lc := range stats.Labels {
		if !opts.IncludeMetaNodes && isMetaLabel(lc.Label) {
			continue
		}

		nodes, err := r.graph.FindNodes(ctx, lc.Label, opts.SampleSize)
		if err != nil {
			r.logger.Warn("node sampling failed, skipping label",
				zap.String("label", lc.Label), zap.Error(err))
			continue
		}

		props := make(map[string]domain.PropertyDef)
		for _, node := range nodes {
			for key := range node.Properties {
				if strings.HasPrefix(key, "_") || internalPropertyKeys[key] {
					continue
				}
				if _, seen := props[key]; !seen {
					props[key] = domain.PropertyDef{Type: domain.PropertyString}
				}
			}
		}

		ontology.EntityTypes[lc.Label] = domain.EntityType{
			Label:       lc.Label,
			Description: fmt.Sprintf("Observed in graph (%d nodes)", lc.Count),
			Properties:  props,
		}
		report.Stats.EntityTypesFound++
		report.Stats.AttributesExtracted += len(props)
	}

	for _, rc := range stats.RelationTypes {
		rels, err := r.graph.FindRelationships(ctx, rc.Type, opts.SampleSize)
		if err != nil {
			r.logger.Warn("relationship sampling failed, skipping type",
				zap.String("type", rc.Type), zap.Error(err))
			continue
		}

		fromSet := make(map[string]bool)
		toSet := make(map[string]bool)
		for _, rel := range rels {
			if rel.FromLabel != "" {
				fromSet[rel.FromLabel] = true
			}
			if rel.ToLabel != "" {
				toSet[rel.ToLabel] = true
			}
		}
		if len(fromSet) == 0 && len(toSet) == 0 {
			continue
		}

		ontology.RelationTypes[rc.Type] = domain.RelationType{
			Description: fmt.Sprintf("Observed in graph (%d relationships)", rc.Count),
			FromTypes:   sortedKeys(fromSet),
			ToTypes:     sortedKeys(toSet),
		}
		report.Stats.RelationTypesFound++
	}

	return report, nil
}

// ComplianceIssue is one problem found when checking live data against the
// schema.
type ComplianceIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Name     string `json:"name"`
	Property string `json:"property,omitempty"`
	Count    int64  `json:"count,omitempty"`
	Message  string `json:"message"`
}

// ComplianceReport scores how much of the live graph is covered by the
// current schema. Valid is true only when no error-severity issues exist.
type ComplianceReport struct {
	Valid              bool              `json:"valid"`
	Score              int               `json:"score"`
	Issues             []ComplianceIssue `json:"issues"`
	TotalNodes         int64             `json:"total_nodes"`
	TotalRelationships int64             `json:"total_relationships"`
	ValidItems         int64             `json:"valid_items"`
	TotalItems         int64             `json:"total_items"`
}

// ValidateCompliance checks every observed label and relation type against
// the schema. Unknown types are errors; property and endpoint problems and
// identifiability risks are warnings. Score is the percentage of live items
// whose type the schema defines.
func (r *Reflector) ValidateCompliance(ctx context.Context) (*ComplianceReport, error) {
	current, err := r.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := r.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	report := &ComplianceReport{
		TotalNodes:         stats.TotalNodes,
		TotalRelationships: stats.TotalRelationships,
	}

	for _, lc := range stats.Labels {
		report.TotalItems += lc.Count
		et, known := current.EntityTypes[lc.Label]
		if !known {
			report.Issues = append(report.Issues, ComplianceIssue{
				Type:     IssueUnknownEntityType,
				Severity: SeverityError,
				Name:     lc.Label,
				Count:    lc.Count,
				Message:  fmt.Sprintf("%d nodes use label %s which is not defined in the schema", lc.Count, lc.Label),
			})
			continue
		}
		report.ValidItems += lc.Count

		r.checkRequiredProperties(ctx, lc.Label, et, report)
	}

	for _, rc := range stats.RelationTypes {
		report.TotalItems += rc.Count
		rt, known := current.RelationTypes[rc.Type]
		if !known {
			report.Issues = append(report.Issues, ComplianceIssue{
				Type:     IssueUnknownRelationType,
				Severity: SeverityError,
				Name:     rc.Type,
				Count:    rc.Count,
				Message:  fmt.Sprintf("%d relationships use type %s which is not defined in the schema", rc.Count, rc.Type),
			})
			continue
		}
		report.ValidItems += rc.Count

		r.checkRelationEndpoints(ctx, rc.Type, rt, report)
	}

	// Entity types with no required or unique property cannot identify their
	// instances.
	for _, name := range sortedEntityNames(current) {
		et := current.EntityTypes[name]
		if !hasIdentifyingProperty(et) {
			report.Issues = append(report.Issues, ComplianceIssue{
				Type:     IssueNoUniqueAttribute,
				Severity: SeverityWarning,
				Name:     name,
				Message:  fmt.Sprintf("entity type %s defines no required or unique property", name),
			})
		}
	}

	if report.TotalItems > 0 {
		report.Score = int(math.Round(100 * float64(report.ValidItems) / float64(report.TotalItems)))
	} else {
		report.Score = 100
	}
	report.Valid = true
	for _, issue := range report.Issues {
		if issue.Severity == SeverityError {
			report.Valid = false
			break
		}
	}
	return report, nil
}

func (r *Reflector) checkRequiredProperties(ctx context.Context, label string, et domain.EntityType, report *ComplianceReport) {
	required := make([]string, 0, len(et.Properties))
	for name, def := range et.Properties {
		if def.Required {
			required = append(required, name)
		}
	}
	if len(required) == 0 {
		return
	}
	sort.Strings(required)

	nodes, err := r.graph.FindNodes(ctx, label, DefaultSampleSize)
	if err != nil {
		r.logger.Warn("node sampling failed during compliance check",
			zap.String("label", label), zap.Error(err))
		return
	}

	for _, prop := range required {
		var missing int64
		for _, node := range nodes {
			if _, present := node.Properties[prop]; !present {
				missing++
			}
		}
		if missing > 0 {
			report.Issues = append(report.Issues, ComplianceIssue{
				Type:     IssueMissingRequiredProperty,
				Severity: SeverityWarning,
				Name:     label,
				Property: prop,
				Count:    missing,
				Message:  fmt.Sprintf("%d sampled %s nodes are missing required property %s", missing, label, prop),
			})
		}
	}
}

func (r *Reflector) checkRelationEndpoints(ctx context.Context, relType string, rt domain.RelationType, report *ComplianceReport) {
	rels, err := r.graph.FindRelationships(ctx, relType, DefaultSampleSize)
	if err != nil {
		r.logger.Warn("relationship sampling failed during compliance check",
			zap.String("type", relType), zap.Error(err))
		return
	}

	var violations int64
	for _, rel := range rels {
		if !rt.Allows(rel.FromLabel, rel.ToLabel) {
			violations++
		}
	}
	if violations > 0 {
		report.Issues = append(report.Issues, ComplianceIssue{
			Type:     IssueInvalidRelationEndpoint,
			Severity: SeverityWarning,
			Name:     relType,
			Count:    violations,
			Message:  fmt.Sprintf("%d sampled %s relationships connect endpoint types the schema does not allow", violations, relType),
		})
	}
}

// FindUnusedTypes reports schema types with zero live instances.
func (r *Reflector) FindUnusedTypes(ctx context.Context) (*UnusedTypes, error) {
	current, err := r.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := r.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	liveLabels := make(map[string]int64, len(stats.Labels))
	for _, lc := range stats.Labels {
		liveLabels[lc.Label] = lc.Count
	}
	liveRelations := make(map[string]int64, len(stats.RelationTypes))
	for _, rc := range stats.RelationTypes {
		liveRelations[rc.Type] = rc.Count
	}

	unused := &UnusedTypes{}
	for _, name := range sortedEntityNames(current) {
		if liveLabels[name] == 0 {
			unused.EntityTypes = append(unused.EntityTypes, name)
		}
	}
	for _, name := range sortedRelationNames(current) {
		if liveRelations[name] == 0 {
			unused.RelationTypes = append(unused.RelationTypes, name)
		}
	}
	return unused, nil
}

// UnusedTypes lists schema-only types with no live graph instances.
type UnusedTypes struct {
	EntityTypes   []string `json:"entity_types"`
	RelationTypes []string `json:"relation_types"`
}

func isMetaLabel(label string) bool {
	return strings.HasPrefix(label, "_") || metaLabels[label]
}

func hasIdentifyingProperty(et domain.EntityType) bool {
	for _, def := range et.Properties {
		if def.Required || def.Unique {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedEntityNames(s *domain.Schema) []string {
	out := make([]string, 0, len(s.EntityTypes))
	for name := range s.EntityTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedRelationNames(s *domain.Schema) []string {
	out := make([]string, 0, len(s.RelationTypes))
	for name := range s.RelationTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
