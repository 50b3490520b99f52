// Package evolve maintains the schema-change suggestion queue and the
// analysis passes that feed it.
package evolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/llm"
	"github.com/ontoloom/ontoloom/internal/schema"
	"go.uber.org/zap"
)

// Suggestion confidences by evidence source. Graph evidence outweighs
// single-document evidence.
const (
	extractionEntityConfidence   = 0.7
	extractionRelationConfidence = 0.7
	extractionPropertyConfidence = 0.6
	graphConfidence              = 0.9
	defaultLLMConfidence         = 0.8
)

// DefaultAutoApproveThreshold gates batch and inline auto-approval.
const DefaultAutoApproveThreshold = 0.85

// observed vocabulary shared with the model during deep analysis
const topObservedLimit = 20

var ErrSuggestionNotFound = errors.New("suggestion not found")

// Agent owns the suggestion queue. It never edits the schema directly:
// approvals submit mutation requests to the schema manager.
type Agent struct {
	manager *schema.Manager
	graph   domain.GraphBackend
	llm     domain.CompletionClient
	store   domain.SuggestionStore
	logger  *zap.Logger

	autoApprove          bool
	autoApproveThreshold float64

	mu      sync.Mutex
	pending []*domain.Suggestion
	history []*domain.Suggestion
}

// NewAgent creates an evolution agent. store may be nil, in which case the
// queue is purely in-memory.
func NewAgent(manager *schema.Manager, graph domain.GraphBackend, completions domain.CompletionClient, store domain.SuggestionStore, logger *zap.Logger) *Agent {
	return &Agent{
		manager:              manager,
		graph:                graph,
		llm:                  completions,
		store:                store,
		logger:               logger,
		autoApproveThreshold: DefaultAutoApproveThreshold,
	}
}

// SetAutoApprove enables inline approval of high-confidence LLM findings.
func (a *Agent) SetAutoApprove(enabled bool, threshold float64) {
	a.autoApprove = enabled
	if threshold > 0 {
		a.autoApproveThreshold = threshold
	}
}

// RestorePending reloads the pending queue from the suggestion store, used
// once at startup.
func (a *Agent) RestorePending(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	pending, err := a.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("restore pending suggestions: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = a.pending[:0]
	for i := range pending {
		s := pending[i]
		a.pending = append(a.pending, &s)
	}
	a.logger.Info("restored pending suggestions", zap.Int("count", len(a.pending)))
	return nil
}

// Pending returns a snapshot of the pending queue.
func (a *Agent) Pending() []domain.Suggestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Suggestion, 0, len(a.pending))
	for _, s := range a.pending {
		out = append(out, *s)
	}
	return out
}

// History returns a snapshot of resolved suggestions.
func (a *Agent) History() []domain.Suggestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Suggestion, 0, len(a.history))
	for _, s := range a.history {
		out = append(out, *s)
	}
	return out
}

// AnalysisReport summarizes one analysis pass.
type AnalysisReport struct {
	Created []domain.Suggestion `json:"created"`
	Skipped int                 `json:"skipped"`
}

// AnalyzeExtraction turns a text-extraction result into suggestions for
// types the schema does not know yet. Duplicates against the schema and the
// pending queue are skipped; property suggestions are only raised for entity
// types the schema already defines.
func (a *Agent) AnalyzeExtraction(ctx context.Context, extraction *domain.ExtractionResult, source string) (*AnalysisReport, error) {
	current, err := a.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	report := &AnalysisReport{}
	for _, entity := range extraction.Entities {
		if entity.Type == "" || current.HasEntityType(entity.Type) || a.hasPendingDuplicateLocked(domain.SuggestionNewEntity, entity.Type) {
			report.Skipped++
			continue
		}
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewEntity,
			Name:        entity.Type,
			Description: fmt.Sprintf("Entity type detected in text (example: %s)", entity.Name),
			Confidence:  extractionEntityConfidence,
			Source:      source,
		})
		report.Created = append(report.Created, *s)
	}

	for _, rel := range extraction.Relationships {
		if rel.Type == "" || current.HasRelationType(rel.Type) || a.hasPendingDuplicateLocked(domain.SuggestionNewRelation, rel.Type) {
			report.Skipped++
			continue
		}
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewRelation,
			Name:        rel.Type,
			Description: fmt.Sprintf("Relationship detected in text (%s -> %s)", rel.FromType, rel.ToType),
			Confidence:  extractionRelationConfidence,
			Source:      source,
			FromType:    rel.FromType,
			ToType:      rel.ToType,
		})
		report.Created = append(report.Created, *s)
	}

	for _, prop := range extraction.Properties {
		canonical, known := current.LookupEntityType(prop.EntityType)
		if !known {
			report.Skipped++
			continue
		}
		if _, defined := current.EntityTypes[canonical].Properties[prop.Name]; defined {
			report.Skipped++
			continue
		}
		if a.hasPendingDuplicateLocked(domain.SuggestionNewProperty, prop.Name) {
			report.Skipped++
			continue
		}
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewProperty,
			Name:        prop.Name,
			Description: prop.Description,
			Confidence:  extractionPropertyConfidence,
			Source:      source,
			EntityType:  canonical,
		})
		report.Created = append(report.Created, *s)
	}

	return report, nil
}

// AnalyzeGraph raises suggestions from live graph labels and relation types
// absent from the schema.
func (a *Agent) AnalyzeGraph(ctx context.Context) (*AnalysisReport, error) {
	current, err := a.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	report := &AnalysisReport{}
	for _, lc := range stats.Labels {
		if current.HasEntityType(lc.Label) || a.hasPendingDuplicateLocked(domain.SuggestionNewEntity, lc.Label) {
			report.Skipped++
			continue
		}
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewEntity,
			Name:        lc.Label,
			Description: fmt.Sprintf("Label present in graph with %d nodes but not defined in schema", lc.Count),
			Confidence:  graphConfidence,
			Source:      domain.SourceGraphAnalysis,
		})
		report.Created = append(report.Created, *s)
	}

	for _, rc := range stats.RelationTypes {
		if current.HasRelationType(rc.Type) || a.hasPendingDuplicateLocked(domain.SuggestionNewRelation, rc.Type) {
			report.Skipped++
			continue
		}
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewRelation,
			Name:        rc.Type,
			Description: fmt.Sprintf("Relationship type present in graph with %d edges but not defined in schema", rc.Count),
			Confidence:  graphConfidence,
			Source:      domain.SourceGraphAnalysis,
		})
		report.Created = append(report.Created, *s)
	}

	return report, nil
}

// llmSchemaAnalysis is the structured shape requested from the model.
type llmSchemaAnalysis struct {
	MissingEntityTypes []struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Confidence  float64           `json:"confidence"`
		Properties  map[string]string `json:"properties"`
	} `json:"missing_entity_types"`
	MissingRelationTypes []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		FromTypes   []string `json:"from_types"`
		ToTypes     []string `json:"to_types"`
		Confidence  float64  `json:"confidence"`
	} `json:"missing_relation_types"`
	SuggestedRelations []struct {
		Name        string  `json:"name"`
		FromType    string  `json:"from_type"`
		ToType      string  `json:"to_type"`
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
	} `json:"suggested_relations"`
}

// LLMAnalysis reports a deep-analysis pass. A failed or unparsable model
// response sets Error; it never aborts the caller.
type LLMAnalysis struct {
	Created      []domain.Suggestion `json:"created"`
	AutoApproved []string            `json:"auto_approved,omitempty"`
	Skipped      int                 `json:"skipped"`
	Error        string              `json:"error,omitempty"`
}

// AnalyzeWithLLM asks the text-generation backend to compare the schema
// vocabulary against the most common observed labels and relation types and
// report gaps.
func (a *Agent) AnalyzeWithLLM(ctx context.Context) (*LLMAnalysis, error) {
	if a.llm == nil {
		return &LLMAnalysis{Error: "no completion client configured"}, nil
	}

	current, err := a.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	prompt := buildAnalysisPrompt(current, stats)
	response, err := a.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   2000,
	})
	if err != nil {
		a.logger.Warn("schema deep analysis call failed", zap.Error(err))
		return &LLMAnalysis{Error: err.Error()}, nil
	}

	raw, err := llm.ExtractJSONObject(response)
	if err != nil {
		a.logger.Warn("schema deep analysis returned no parsable JSON", zap.Error(err))
		return &LLMAnalysis{Error: err.Error()}, nil
	}
	var analysis llmSchemaAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		a.logger.Warn("schema deep analysis returned malformed JSON", zap.Error(err))
		return &LLMAnalysis{Error: err.Error()}, nil
	}

	result := &LLMAnalysis{}

	// Names already handled this pass. The pending-queue check alone misses
	// repeats whose first occurrence was inline auto-approved.
	seenEntities := make(map[string]bool)
	seenRelations := make(map[string]bool)

	for _, missing := range analysis.MissingEntityTypes {
		key := strings.ToLower(missing.Name)
		a.mu.Lock()
		dup := seenEntities[key] || current.HasEntityType(missing.Name) || a.hasPendingDuplicateLocked(domain.SuggestionNewEntity, missing.Name)
		if dup {
			a.mu.Unlock()
			result.Skipped++
			continue
		}
		seenEntities[key] = true
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewEntity,
			Name:        missing.Name,
			Description: missing.Description,
			Confidence:  confidenceOrDefault(missing.Confidence),
			Source:      domain.SourceLLMAnalysis,
			Properties:  propertiesFromTypes(missing.Properties),
		})
		id := s.ID
		conf := s.Confidence
		a.mu.Unlock()

		if a.autoApprove && conf >= a.autoApproveThreshold {
			if _, err := a.Approve(ctx, id, nil); err != nil {
				a.logger.Warn("inline auto-approval failed", zap.String("name", missing.Name), zap.Error(err))
			} else {
				result.AutoApproved = append(result.AutoApproved, missing.Name)
				continue
			}
		}
		result.Created = append(result.Created, *s)
	}

	relationFindings := make([]struct {
		name, description, fromType, toType string
		confidence                          float64
	}, 0, len(analysis.MissingRelationTypes)+len(analysis.SuggestedRelations))
	for _, missing := range analysis.MissingRelationTypes {
		relationFindings = append(relationFindings, struct {
			name, description, fromType, toType string
			confidence                          float64
		}{missing.Name, missing.Description, firstOrEmpty(missing.FromTypes), firstOrEmpty(missing.ToTypes), missing.Confidence})
	}
	for _, suggested := range analysis.SuggestedRelations {
		relationFindings = append(relationFindings, struct {
			name, description, fromType, toType string
			confidence                          float64
		}{suggested.Name, suggested.Description, suggested.FromType, suggested.ToType, suggested.Confidence})
	}

	for _, finding := range relationFindings {
		if finding.name == "" {
			result.Skipped++
			continue
		}
		key := strings.ToLower(finding.name)
		a.mu.Lock()
		dup := seenRelations[key] || current.HasRelationType(finding.name) || a.hasPendingDuplicateLocked(domain.SuggestionNewRelation, finding.name)
		if dup {
			a.mu.Unlock()
			result.Skipped++
			continue
		}
		seenRelations[key] = true
		s := a.createLocked(ctx, &domain.Suggestion{
			Type:        domain.SuggestionNewRelation,
			Name:        finding.name,
			Description: finding.description,
			Confidence:  confidenceOrDefault(finding.confidence),
			Source:      domain.SourceLLMAnalysis,
			FromType:    finding.fromType,
			ToType:      finding.toType,
		})
		id := s.ID
		conf := s.Confidence
		a.mu.Unlock()

		if a.autoApprove && conf >= a.autoApproveThreshold {
			if _, err := a.Approve(ctx, id, nil); err != nil {
				a.logger.Warn("inline auto-approval failed", zap.String("name", finding.name), zap.Error(err))
			} else {
				result.AutoApproved = append(result.AutoApproved, finding.name)
				continue
			}
		}
		result.Created = append(result.Created, *s)
	}

	return result, nil
}

func buildAnalysisPrompt(current *domain.Schema, stats *domain.GraphStats) string {
	var b strings.Builder
	b.WriteString("You maintain the ontology of a knowledge graph. Current schema vocabulary:\n")
	b.WriteString("Entity types: ")
	b.WriteString(strings.Join(sortedEntityNames(current), ", "))
	b.WriteString("\nRelation types: ")
	b.WriteString(strings.Join(sortedRelationNames(current), ", "))

	b.WriteString("\n\nMost common observed node labels (label: count):\n")
	for _, lc := range topLabels(stats.Labels, topObservedLimit) {
		fmt.Fprintf(&b, "- %s: %d\n", lc.Label, lc.Count)
	}
	b.WriteString("Most common observed relationship types (type: count):\n")
	for _, rc := range topRelations(stats.RelationTypes, topObservedLimit) {
		fmt.Fprintf(&b, "- %s: %d\n", rc.Type, rc.Count)
	}

	b.WriteString(`
Identify schema gaps. Respond with exactly one JSON object:
{
  "missing_entity_types": [{"name": "", "description": "", "confidence": 0.0, "properties": {"prop": "string"}}],
  "missing_relation_types": [{"name": "", "description": "", "from_types": [], "to_types": [], "confidence": 0.0}],
  "suggested_relations": [{"name": "", "from_type": "", "to_type": "", "description": "", "confidence": 0.0}]
}`)
	return b.String()
}

// llmEnrichment is the structured shape requested when improving one
// suggestion.
type llmEnrichment struct {
	Description  string            `json:"description"`
	Properties   map[string]string `json:"properties"`
	RelatedTypes []string          `json:"related_types"`
}

// EnrichSuggestion asks the model for a better description and property list
// for one pending suggestion and merges them in place. Status is unchanged.
func (a *Agent) EnrichSuggestion(ctx context.Context, id uuid.UUID) error {
	if a.llm == nil {
		return fmt.Errorf("no completion client configured")
	}

	a.mu.Lock()
	idx := a.findPendingLocked(id)
	if idx < 0 {
		a.mu.Unlock()
		return ErrSuggestionNotFound
	}
	snapshot := *a.pending[idx]
	a.mu.Unlock()

	prompt := fmt.Sprintf(`A knowledge-graph schema suggestion needs enrichment.
Kind: %s
Name: %s
Current description: %s

Respond with exactly one JSON object:
{"description": "", "properties": {"prop": "string"}, "related_types": []}`,
		snapshot.Type, snapshot.Name, snapshot.Description)

	response, err := a.llm.Complete(ctx, domain.CompletionRequest{Prompt: prompt, Temperature: 0.3, MaxTokens: 800})
	if err != nil {
		return fmt.Errorf("enrichment call failed: %w", err)
	}
	raw, err := llm.ExtractJSONObject(response)
	if err != nil {
		return fmt.Errorf("enrichment response unparsable: %w", err)
	}
	var enrichment llmEnrichment
	if err := json.Unmarshal(raw, &enrichment); err != nil {
		return fmt.Errorf("enrichment response malformed: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	idx = a.findPendingLocked(id)
	if idx < 0 {
		return ErrSuggestionNotFound
	}
	s := a.pending[idx]
	if enrichment.Description != "" {
		s.Description = enrichment.Description
	}
	for name, propType := range enrichment.Properties {
		if s.Properties == nil {
			s.Properties = make(map[string]domain.PropertyDef)
		}
		if _, exists := s.Properties[name]; !exists {
			s.Properties[name] = domain.PropertyDef{Type: normalizePropertyType(propType)}
		}
	}
	a.persistLocked(ctx, s)
	return nil
}

// Overrides adjusts suggestion fields at approval time.
type Overrides struct {
	Name        string                        `json:"name,omitempty"`
	Description string                        `json:"description,omitempty"`
	Properties  map[string]domain.PropertyDef `json:"properties,omitempty"`
	FromType    string                        `json:"from_type,omitempty"`
	ToType      string                        `json:"to_type,omitempty"`
}

// Approve applies a pending suggestion to the schema and moves it to
// history. Approving an id not in the pending queue (including one already
// resolved) returns ErrSuggestionNotFound.
func (a *Agent) Approve(ctx context.Context, id uuid.UUID, overrides *Overrides) (*domain.Suggestion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.findPendingLocked(id)
	if idx < 0 {
		return nil, ErrSuggestionNotFound
	}
	s := a.pending[idx]
	applyOverrides(s, overrides)

	if err := a.applySuggestionLocked(ctx, s); err != nil {
		return nil, err
	}

	a.pending = append(a.pending[:idx], a.pending[idx+1:]...)
	now := time.Now().UTC()
	s.Status = domain.SuggestionApproved
	s.ApprovedAt = &now
	a.history = append(a.history, s)
	a.persistLocked(ctx, s)

	a.logger.Info("suggestion approved",
		zap.String("id", s.ID.String()),
		zap.String("type", string(s.Type)),
		zap.String("name", s.Name))
	out := *s
	return &out, nil
}

// applySuggestionLocked mutates the schema through the manager according to
// the suggestion type.
func (a *Agent) applySuggestionLocked(ctx context.Context, s *domain.Suggestion) error {
	reason := fmt.Sprintf("approved suggestion %s", s.ID)

	switch s.Type {
	case domain.SuggestionNewEntity:
		props := map[string]domain.PropertyDef{
			"name": {Type: domain.PropertyString, Required: true},
		}
		for propName, def := range s.Properties {
			if _, exists := props[propName]; exists {
				continue
			}
			props[propName] = domain.PropertyDef{Type: domain.PropertyString, Description: def.Description}
		}
		return a.manager.AddEntityType(ctx, s.Name, domain.EntityType{
			Label:       s.Name,
			Description: s.Description,
			Properties:  props,
		}, "", reason)

	case domain.SuggestionNewRelation:
		fromTypes := []string{domain.WildcardType}
		if s.FromType != "" {
			fromTypes = []string{s.FromType}
		}
		toTypes := []string{domain.WildcardType}
		if s.ToType != "" {
			toTypes = []string{s.ToType}
		}
		return a.manager.AddRelationType(ctx, s.Name, domain.RelationType{
			Description: s.Description,
			FromTypes:   fromTypes,
			ToTypes:     toTypes,
		}, "", reason)

	case domain.SuggestionNewProperty:
		current, err := a.manager.Schema(ctx)
		if err != nil {
			return err
		}
		canonical, ok := current.LookupEntityType(s.EntityType)
		if !ok {
			// Entity type disappeared since the suggestion was raised;
			// approving is a no-op on the schema.
			a.logger.Warn("property suggestion targets missing entity type",
				zap.String("entity_type", s.EntityType),
				zap.String("property", s.Name))
			return nil
		}
		et := current.EntityTypes[canonical]
		if et.Properties == nil {
			et.Properties = make(map[string]domain.PropertyDef)
		}
		if _, exists := et.Properties[s.Name]; !exists {
			et.Properties[s.Name] = domain.PropertyDef{Type: domain.PropertyString, Description: s.Description}
		}
		return a.manager.AddEntityType(ctx, canonical, et, "", reason)

	default:
		return fmt.Errorf("unknown suggestion type: %s", s.Type)
	}
}

// Reject moves a pending suggestion to history without touching the schema.
func (a *Agent) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.Suggestion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.findPendingLocked(id)
	if idx < 0 {
		return nil, ErrSuggestionNotFound
	}
	s := a.pending[idx]

	a.pending = append(a.pending[:idx], a.pending[idx+1:]...)
	now := time.Now().UTC()
	s.Status = domain.SuggestionRejected
	s.RejectedAt = &now
	s.RejectionReason = reason
	a.history = append(a.history, s)
	a.persistLocked(ctx, s)

	out := *s
	return &out, nil
}

// AutoApproveHighConfidence batch-approves pending suggestions at or above
// the threshold whose source is graph or LLM analysis. Document-extraction
// suggestions are excluded regardless of confidence.
func (a *Agent) AutoApproveHighConfidence(ctx context.Context, threshold float64) ([]domain.Suggestion, error) {
	if threshold <= 0 {
		threshold = DefaultAutoApproveThreshold
	}

	a.mu.Lock()
	var candidates []uuid.UUID
	for _, s := range a.pending {
		if s.Confidence < threshold {
			continue
		}
		if s.Source != domain.SourceGraphAnalysis && s.Source != domain.SourceLLMAnalysis {
			continue
		}
		candidates = append(candidates, s.ID)
	}
	a.mu.Unlock()

	var approved []domain.Suggestion
	for _, id := range candidates {
		s, err := a.Approve(ctx, id, nil)
		if err != nil {
			a.logger.Warn("batch auto-approval failed",
				zap.String("id", id.String()), zap.Error(err))
			continue
		}
		approved = append(approved, *s)
	}
	return approved, nil
}

// TypeUsageStats cross-references schema types against live graph counts.
type TypeUsageStats struct {
	UnusedEntityTypes          []string `json:"unused_entity_types"`
	UnusedRelationTypes        []string `json:"unused_relation_types"`
	EntityTypesNotInOntology   []string `json:"entity_types_not_in_ontology"`
	RelationTypesNotInOntology []string `json:"relation_types_not_in_ontology"`
	CompliancePct              int      `json:"compliance_pct"`
}

// GetTypeUsageStats reports schema-only types, graph-only types and the
// overall share of live data covered by the schema.
func (a *Agent) GetTypeUsageStats(ctx context.Context) (*TypeUsageStats, error) {
	current, err := a.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	liveLabels := make(map[string]int64)
	for _, lc := range stats.Labels {
		liveLabels[lc.Label] = lc.Count
	}
	liveRelations := make(map[string]int64)
	for _, rc := range stats.RelationTypes {
		liveRelations[rc.Type] = rc.Count
	}

	usage := &TypeUsageStats{}
	for _, name := range sortedEntityNames(current) {
		if liveLabels[name] == 0 {
			usage.UnusedEntityTypes = append(usage.UnusedEntityTypes, name)
		}
	}
	for _, name := range sortedRelationNames(current) {
		if liveRelations[name] == 0 {
			usage.UnusedRelationTypes = append(usage.UnusedRelationTypes, name)
		}
	}

	var known, total int64
	for _, lc := range stats.Labels {
		total += lc.Count
		if current.HasEntityType(lc.Label) {
			known += lc.Count
		} else {
			usage.EntityTypesNotInOntology = append(usage.EntityTypesNotInOntology, lc.Label)
		}
	}
	for _, rc := range stats.RelationTypes {
		total += rc.Count
		if current.HasRelationType(rc.Type) {
			known += rc.Count
		} else {
			usage.RelationTypesNotInOntology = append(usage.RelationTypesNotInOntology, rc.Type)
		}
	}
	if total > 0 {
		usage.CompliancePct = int(float64(known)/float64(total)*100 + 0.5)
	} else {
		usage.CompliancePct = 100
	}
	return usage, nil
}

func (a *Agent) findPendingLocked(id uuid.UUID) int {
	for i, s := range a.pending {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (a *Agent) hasPendingDuplicateLocked(typ domain.SuggestionType, name string) bool {
	for _, s := range a.pending {
		if s.Type == typ && strings.EqualFold(s.Name, name) {
			return true
		}
	}
	return false
}

func (a *Agent) createLocked(ctx context.Context, s *domain.Suggestion) *domain.Suggestion {
	s.ID = uuid.New()
	s.Status = domain.SuggestionPending
	s.CreatedAt = time.Now().UTC()
	a.pending = append(a.pending, s)

	if a.store != nil {
		if err := a.store.Save(ctx, s); err != nil {
			a.logger.Warn("failed to persist suggestion",
				zap.String("name", s.Name), zap.Error(err))
		}
	}
	return s
}

func (a *Agent) persistLocked(ctx context.Context, s *domain.Suggestion) {
	if a.store == nil {
		return
	}
	if err := a.store.Update(ctx, s); err != nil {
		a.logger.Warn("failed to persist suggestion transition",
			zap.String("id", s.ID.String()), zap.Error(err))
	}
}

func applyOverrides(s *domain.Suggestion, o *Overrides) {
	if o == nil {
		return
	}
	if o.Name != "" {
		s.Name = o.Name
	}
	if o.Description != "" {
		s.Description = o.Description
	}
	if o.Properties != nil {
		s.Properties = o.Properties
	}
	if o.FromType != "" {
		s.FromType = o.FromType
	}
	if o.ToType != "" {
		s.ToType = o.ToType
	}
}

func confidenceOrDefault(c float64) float64 {
	if c <= 0 || c > 1 {
		return defaultLLMConfidence
	}
	return c
}

func propertiesFromTypes(types map[string]string) map[string]domain.PropertyDef {
	if len(types) == 0 {
		return nil
	}
	out := make(map[string]domain.PropertyDef, len(types))
	for name, propType := range types {
		out[name] = domain.PropertyDef{Type: normalizePropertyType(propType)}
	}
	return out
}

func normalizePropertyType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case domain.PropertyNumber, "integer", "float":
		return domain.PropertyNumber
	case domain.PropertyBoolean, "bool":
		return domain.PropertyBoolean
	case domain.PropertyArray, "list":
		return domain.PropertyArray
	default:
		return domain.PropertyString
	}
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func topLabels(labels []domain.LabelCount, limit int) []domain.LabelCount {
	out := append([]domain.LabelCount{}, labels...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topRelations(relations []domain.RelationCount, limit int) []domain.RelationCount {
	out := append([]domain.RelationCount{}, relations...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > limit {
		out = out[:limit]
	}
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
