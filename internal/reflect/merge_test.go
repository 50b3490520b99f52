package reflect

import (
	"context"
	"testing"

	"github.com/ontoloom/ontoloom/internal/domain"
	"go.uber.org/zap"
)

func TestMergeOntologiesAddsAbsentTypes(t *testing.T) {
	r := NewReflector(newMockGraph(), managerWith(t, personSchema()), zap.NewNop())

	incoming := domain.NewSchema()
	incoming.EntityTypes["Meeting"] = domain.EntityType{
		Label:      "Meeting",
		Properties: map[string]domain.PropertyDef{"topic": {Type: domain.PropertyString}},
	}
	incoming.RelationTypes["ATTENDED"] = domain.RelationType{
		FromTypes: []string{"Person"},
		ToTypes:   []string{"Meeting"},
	}

	result, err := r.MergeOntologies(context.Background(), incoming, MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	et, ok := result.Schema.EntityTypes["Meeting"]
	if !ok {
		t.Fatal("expected Meeting added")
	}
	if et.AddedFrom != AddedFromMerge {
		t.Errorf("expected added_from %q, got %q", AddedFromMerge, et.AddedFrom)
	}
	rt, ok := result.Schema.RelationTypes["ATTENDED"]
	if !ok {
		t.Fatal("expected ATTENDED added")
	}
	if rt.AddedFrom != AddedFromMerge {
		t.Errorf("expected added_from %q, got %q", AddedFromMerge, rt.AddedFrom)
	}

	if len(result.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(result.Changes), result.Changes)
	}
	if result.Changes[0].Action != "added" || result.Changes[0].Kind != "entity" {
		t.Errorf("unexpected first change: %+v", result.Changes[0])
	}
}

func TestMergeOntologiesNeverOverwritesProperties(t *testing.T) {
	r := NewReflector(newMockGraph(), managerWith(t, personSchema()), zap.NewNop())

	incoming := domain.NewSchema()
	incoming.EntityTypes["Person"] = domain.EntityType{
		Label: "Person",
		Properties: map[string]domain.PropertyDef{
			"name":  {Type: domain.PropertyNumber}, // conflicts with existing
			"email": {Type: domain.PropertyString},
		},
	}

	result, err := r.MergeOntologies(context.Background(), incoming, MergeOptions{MergeProperties: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	et := result.Schema.EntityTypes["Person"]
	if et.Properties["name"].Type != domain.PropertyString || !et.Properties["name"].Required {
		t.Errorf("existing property must win: %+v", et.Properties["name"])
	}
	if _, ok := et.Properties["email"]; !ok {
		t.Error("new property should be merged in")
	}

	if len(result.Changes) != 1 || result.Changes[0].Detail != "email" {
		t.Errorf("expected single added_property change for email, got %+v", result.Changes)
	}
}

func TestMergeOntologiesPropertiesIgnoredWithoutFlag(t *testing.T) {
	r := NewReflector(newMockGraph(), managerWith(t, personSchema()), zap.NewNop())

	incoming := domain.NewSchema()
	incoming.EntityTypes["Person"] = domain.EntityType{
		Label:      "Person",
		Properties: map[string]domain.PropertyDef{"email": {Type: domain.PropertyString}},
	}

	result, err := r.MergeOntologies(context.Background(), incoming, MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Schema.EntityTypes["Person"].Properties["email"]; ok {
		t.Error("properties must not merge without MergeProperties")
	}
	if len(result.Changes) != 0 {
		t.Errorf("expected no changes, got %+v", result.Changes)
	}
}

func TestMergeOntologiesEndpointUnion(t *testing.T) {
	r := NewReflector(newMockGraph(), managerWith(t, personSchema()), zap.NewNop())

	incoming := domain.NewSchema()
	incoming.RelationTypes["WORKS_ON"] = domain.RelationType{
		FromTypes: []string{"Person", "Team"},
		ToTypes:   []string{"Project"},
	}

	result, err := r.MergeOntologies(context.Background(), incoming, MergeOptions{MergeEndpoints: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rt := result.Schema.RelationTypes["WORKS_ON"]
	if len(rt.FromTypes) != 2 || rt.FromTypes[0] != "Person" || rt.FromTypes[1] != "Team" {
		t.Errorf("expected from types extended in order, got %v", rt.FromTypes)
	}
	if len(rt.ToTypes) != 1 {
		t.Errorf("identical to types must not grow, got %v", rt.ToTypes)
	}

	if len(result.Changes) != 1 || result.Changes[0].Action != "extended_endpoints" || result.Changes[0].Detail != "from_types" {
		t.Errorf("unexpected changes: %+v", result.Changes)
	}
}

func TestDiscardEntitiesWithoutRelations(t *testing.T) {
	s := domain.NewSchema()
	s.EntityTypes["Person"] = domain.EntityType{Label: "Person"}
	s.EntityTypes["Orphan"] = domain.EntityType{Label: "Orphan"}
	s.EntityTypes["Loner"] = domain.EntityType{Label: "Loner"}
	s.RelationTypes["KNOWS"] = domain.RelationType{
		FromTypes: []string{"Person"},
		ToTypes:   []string{"Person"},
	}
	// Wildcard does not protect Loner from pruning.
	s.RelationTypes["RELATED_TO"] = domain.RelationType{
		FromTypes: []string{domain.WildcardType},
		ToTypes:   []string{domain.WildcardType},
	}

	pruned, discards := DiscardEntitiesWithoutRelations(s)

	if _, ok := pruned.EntityTypes["Person"]; !ok {
		t.Error("referenced entity must survive")
	}
	if _, ok := pruned.EntityTypes["Orphan"]; ok {
		t.Error("unreferenced entity must be pruned")
	}
	if len(discards) != 2 {
		t.Fatalf("expected 2 discards, got %+v", discards)
	}
	// Discards come out in sorted name order.
	if discards[0].Name != "Loner" || discards[1].Name != "Orphan" {
		t.Errorf("unexpected discard order: %+v", discards)
	}

	// Input untouched.
	if len(s.EntityTypes) != 3 {
		t.Error("input ontology must not be mutated")
	}
}

func TestDiscardRelationsWithoutEntities(t *testing.T) {
	s := domain.NewSchema()
	s.EntityTypes["Person"] = domain.EntityType{Label: "Person"}
	s.RelationTypes["KNOWS"] = domain.RelationType{
		FromTypes: []string{"Person"},
		ToTypes:   []string{"Person"},
	}
	s.RelationTypes["USES"] = domain.RelationType{
		FromTypes: []string{"Project"},
		ToTypes:   []string{"Technology"},
	}
	// Wildcard endpoints are always satisfied.
	s.RelationTypes["RELATED_TO"] = domain.RelationType{
		FromTypes: []string{domain.WildcardType},
		ToTypes:   []string{domain.WildcardType},
	}

	pruned, discards := DiscardRelationsWithoutEntities(s)

	if _, ok := pruned.RelationTypes["KNOWS"]; !ok {
		t.Error("satisfied relation must survive")
	}
	if _, ok := pruned.RelationTypes["RELATED_TO"]; !ok {
		t.Error("wildcard relation must survive")
	}
	if _, ok := pruned.RelationTypes["USES"]; ok {
		t.Error("dangling relation must be pruned")
	}
	if len(discards) != 1 || discards[0].Name != "USES" {
		t.Errorf("unexpected discards: %+v", discards)
	}
}

func TestDiffOntologies(t *testing.T) {
	a := domain.NewSchema()
	a.EntityTypes["Person"] = domain.EntityType{Label: "Person"}
	a.EntityTypes["Project"] = domain.EntityType{Label: "Project"}
	a.RelationTypes["WORKS_ON"] = domain.RelationType{}

	b := domain.NewSchema()
	b.EntityTypes["Person"] = domain.EntityType{Label: "Person"}
	b.EntityTypes["Meeting"] = domain.EntityType{Label: "Meeting"}
	b.RelationTypes["ATTENDED"] = domain.RelationType{}

	diff := DiffOntologies(a, b)

	if len(diff.Entities.InBoth) != 1 || diff.Entities.InBoth[0] != "Person" {
		t.Errorf("unexpected in_both: %v", diff.Entities.InBoth)
	}
	if len(diff.Entities.OnlyInA) != 1 || diff.Entities.OnlyInA[0] != "Project" {
		t.Errorf("unexpected only_in_a: %v", diff.Entities.OnlyInA)
	}
	if len(diff.Entities.OnlyInB) != 1 || diff.Entities.OnlyInB[0] != "Meeting" {
		t.Errorf("unexpected only_in_b: %v", diff.Entities.OnlyInB)
	}
	if len(diff.Relations.OnlyInA) != 1 || diff.Relations.OnlyInA[0] != "WORKS_ON" {
		t.Errorf("unexpected relation diff: %+v", diff.Relations)
	}
}
