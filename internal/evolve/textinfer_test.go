package evolve

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/llm"
	"github.com/ontoloom/ontoloom/internal/schema"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, s *domain.Schema, completions domain.CompletionClient) *Engine {
	t.Helper()
	manager := schema.NewManager(&staticSchemaStore{schema: s}, nil, nil, zap.NewNop())
	return NewEngine(manager, nil, completions, zap.NewNop())
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func findEntity(entities []domain.ExtractedEntity, typ, name string) *domain.ExtractedEntity {
	for i := range entities {
		if entities[i].Type == typ && entities[i].Name == name {
			return &entities[i]
		}
	}
	return nil
}

func TestExtractEmail(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	result, err := engine.Extract(context.Background(), "Reach alice@example.com for a review.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	person := findEntity(result.Entities, "Person", "alice")
	if person == nil {
		t.Fatalf("expected Person alice, got %+v", result.Entities)
	}
	if !closeTo(person.Confidence, 0.9) {
		t.Errorf("expected confidence 0.9, got %v", person.Confidence)
	}
	if person.Properties["email"] != "alice@example.com" {
		t.Errorf("expected email property, got %+v", person.Properties)
	}
}

func TestExtractProjectCodeAndDate(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	result, err := engine.Extract(context.Background(), "PROJ-42 ships on 2026-01-15.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	project := findEntity(result.Entities, "Project", "PROJ-42")
	if project == nil || !closeTo(project.Confidence, 0.8) {
		t.Errorf("expected Project PROJ-42 at 0.8, got %+v", project)
	}
	date := findEntity(result.Entities, "Date", "2026-01-15")
	if date == nil || !closeTo(date.Confidence, 0.8) {
		t.Errorf("expected Date at 0.8, got %+v", date)
	}
}

func TestExtractTechnologyWordBoundary(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	result, err := engine.Extract(context.Background(), "The service is written in Go.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if findEntity(result.Entities, "Technology", "Go") == nil {
		t.Errorf("expected Technology Go, got %+v", result.Entities)
	}

	result, err = engine.Extract(context.Background(), "Going forward we ship weekly.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if findEntity(result.Entities, "Technology", "Go") != nil {
		t.Error("Go must not match inside Going")
	}
}

func TestExtractMention(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	result, err := engine.Extract(context.Background(), "Ping @carol when the draft lands.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	carol := findEntity(result.Entities, "Person", "carol")
	if carol == nil || !closeTo(carol.Confidence, 0.7) {
		t.Errorf("expected Person carol at 0.7, got %+v", carol)
	}
}

func TestExtractDedupesKeepingHigherConfidence(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	// alice appears twice: email pattern (0.9, with property) and mention (0.7).
	result, err := engine.Extract(context.Background(), "alice@example.com filed it. Thanks @alice.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	for _, entity := range result.Entities {
		if entity.Type == "Person" && entity.Name == "alice" {
			count++
			if !closeTo(entity.Confidence, 0.9) {
				t.Errorf("dedupe must keep the higher confidence, got %v", entity.Confidence)
			}
			if entity.Properties["email"] != "alice@example.com" {
				t.Errorf("dedupe must keep the richer candidate, got %+v", entity.Properties)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one alice, got %d", count)
	}
}

func TestInferWorksOnRelation(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	result, err := engine.Extract(context.Background(), "@alice works on PROJ-42.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %+v", result.Relationships)
	}
	rel := result.Relationships[0]
	if rel.Type != "WORKS_ON" || rel.FromName != "alice" || rel.ToName != "PROJ-42" {
		t.Errorf("unexpected relationship: %+v", rel)
	}
	if !closeTo(rel.Confidence, 0.7) {
		t.Errorf("expected 0.7, got %v", rel.Confidence)
	}
}

func TestInferManagesRelation(t *testing.T) {
	engine := newTestEngine(t, baseSchema(), nil)

	result, err := engine.Extract(context.Background(), "@alice manages @bob every sprint.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %+v", result.Relationships)
	}
	rel := result.Relationships[0]
	if rel.Type != "MANAGES" || rel.FromName != "alice" || rel.ToName != "bob" {
		t.Errorf("unexpected relationship: %+v", rel)
	}
}

func TestMatchRuleTriesBothOrders(t *testing.T) {
	tech := domain.ExtractedEntity{Type: "Technology", Name: "Redis"}
	project := domain.ExtractedEntity{Type: "Project", Name: "PROJ-7"}

	// Pair arrives (Technology, Project); the rule wants Project -> Technology.
	rel, ok := matchRule("proj-7 uses redis", "PROJ-7 uses Redis", tech, project)
	if !ok {
		t.Fatal("expected a match")
	}
	if rel.Type != "USES" || rel.FromName != "PROJ-7" || rel.ToName != "Redis" {
		t.Errorf("expected swapped endpoints, got %+v", rel)
	}
}

func TestRelatedToFallback(t *testing.T) {
	s := baseSchema()
	s.RelationTypes["RELATED_TO"] = domain.RelationType{
		FromTypes: []string{domain.WildcardType},
		ToTypes:   []string{domain.WildcardType},
	}
	engine := newTestEngine(t, s, nil)
	engine.SetMinConfidence(0.3)

	result, err := engine.Extract(context.Background(), "@alice and PROJ-9 were listed side by side.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Relationships) != 1 {
		t.Fatalf("expected 1 fallback relationship, got %+v", result.Relationships)
	}
	rel := result.Relationships[0]
	if rel.Type != "RELATED_TO" || !closeTo(rel.Confidence, 0.4) {
		t.Errorf("unexpected fallback relationship: %+v", rel)
	}
}

func TestRelatedToFallbackRequiresSchemaDefinition(t *testing.T) {
	// baseSchema defines no RELATED_TO, so the fallback must stay silent.
	engine := newTestEngine(t, baseSchema(), nil)
	engine.SetMinConfidence(0.3)

	result, err := engine.Extract(context.Background(), "@alice and PROJ-9 were listed side by side.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Relationships) != 0 {
		t.Errorf("expected no relationships, got %+v", result.Relationships)
	}
}

func TestMinConfidenceFiltersFallback(t *testing.T) {
	s := baseSchema()
	s.RelationTypes["RELATED_TO"] = domain.RelationType{
		FromTypes: []string{domain.WildcardType},
		ToTypes:   []string{domain.WildcardType},
	}
	engine := newTestEngine(t, s, nil)

	// Default floor is 0.5; the 0.4 fallback edge must be dropped.
	result, err := engine.Extract(context.Background(), "@alice and PROJ-9 were listed side by side.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Relationships) != 0 {
		t.Errorf("expected fallback filtered out, got %+v", result.Relationships)
	}
}

func TestExtractWithAIDegradesOnFailure(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("backend down")}
	engine := newTestEngine(t, baseSchema(), mock)

	result, err := engine.ExtractWithAI(context.Background(), "Reach alice@example.com about PROJ-42.")
	if err != nil {
		t.Fatalf("model failure must degrade, not error: %v", err)
	}
	if findEntity(result.Entities, "Person", "alice") == nil {
		t.Errorf("heuristic result expected, got %+v", result.Entities)
	}
}

func TestExtractWithAIMergesModelFindings(t *testing.T) {
	mock := &llm.MockClient{Response: `{
		"entities": [
			{"type": "Person", "name": "alice", "confidence": 0.7, "properties": {"role": "engineer"}},
			{"type": "Organization", "name": "Acme", "confidence": 0.85}
		],
		"relationships": [
			{"type": "WORKS_ON", "from_name": "alice", "from_type": "Person", "to_name": "PROJ-42", "to_type": "Project", "confidence": 0.8}
		]
	}`}
	engine := newTestEngine(t, baseSchema(), mock)

	result, err := engine.ExtractWithAI(context.Background(), "Reach alice@example.com about PROJ-42.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alice := findEntity(result.Entities, "Person", "alice")
	if alice == nil {
		t.Fatal("expected alice in merged result")
	}
	// Found by both: (0.9 + 0.7)/2 + 0.1
	if !closeTo(alice.Confidence, 0.9) {
		t.Errorf("expected boosted confidence 0.9, got %v", alice.Confidence)
	}
	if alice.Properties["email"] != "alice@example.com" || alice.Properties["role"] != "engineer" {
		t.Errorf("expected merged properties, got %+v", alice.Properties)
	}

	acme := findEntity(result.Entities, "Organization", "Acme")
	if acme == nil || acme.Source != "llm" {
		t.Errorf("model-only entity must carry llm source, got %+v", acme)
	}

	var worksOn int
	for _, rel := range result.Relationships {
		if rel.Type == "WORKS_ON" && rel.FromName == "alice" {
			worksOn++
		}
	}
	if worksOn != 1 {
		t.Errorf("expected WORKS_ON exactly once after merge, got %+v", result.Relationships)
	}
}

func TestMergeExtractionsDefaultsBadConfidence(t *testing.T) {
	heuristic := &domain.ExtractionResult{}
	model := &llmExtraction{}
	model.Entities = append(model.Entities, struct {
		Type       string         `json:"type"`
		Name       string         `json:"name"`
		Confidence float64        `json:"confidence"`
		Properties map[string]any `json:"properties"`
	}{Type: "Person", Name: "dave", Confidence: 1.5})

	merged := mergeExtractions(heuristic, model)
	if len(merged.Entities) != 1 || !closeTo(merged.Entities[0].Confidence, 0.8) {
		t.Errorf("out-of-range confidence must default to 0.8, got %+v", merged.Entities)
	}
}

func TestRelationStrength(t *testing.T) {
	tests := []struct {
		name string
		in   StrengthInput
		want float64
	}{
		{"baseline", StrengthInput{}, 0.1},
		{"contexts", StrengthInput{SharedContexts: 2}, 0.3},
		{"contexts capped", StrengthInput{SharedContexts: 10}, 0.5},
		{"organization", StrengthInput{SameOrganization: true}, 0.3},
		{"projects capped", StrengthInput{SharedProjects: 5}, 0.3},
		{"meetings capped", StrengthInput{SharedMeetings: 4}, 0.2},
		{"everything", StrengthInput{SharedContexts: 10, SameOrganization: true, SharedProjects: 5, SharedMeetings: 4}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelationStrength(tt.in); !closeTo(got, tt.want) {
				t.Errorf("RelationStrength(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
