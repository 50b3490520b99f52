package reflect

import (
	"context"
	"fmt"
	"sort"

	"github.com/ontoloom/ontoloom/internal/domain"
)

// AddedFromMerge tags definitions adopted wholesale from a merged ontology.
const AddedFromMerge = "merge"

// MergeOptions controls how overlapping definitions combine. Merging is
// strictly additive: existing properties are never overwritten and endpoint
// sets never shrink.
type MergeOptions struct {
	MergeProperties bool
	MergeEndpoints  bool
}

// MergeChange records one merge operation in application order.
type MergeChange struct {
	Action string `json:"action"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// MergeResult is the merged schema plus the ordered change list. The merged
// schema is returned to the caller; it is not written back to the manager.
type MergeResult struct {
	Schema  *domain.Schema `json:"schema"`
	Changes []MergeChange  `json:"changes"`
}

// MergeOntologies combines an extracted or imported ontology into a copy of
// the current schema.
func (r *Reflector) MergeOntologies(ctx context.Context, incoming *domain.Schema, opts MergeOptions) (*MergeResult, error) {
	current, err := r.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}
	result := &MergeResult{Schema: current}

	for _, name := range sortedEntityNames(incoming) {
		in := incoming.EntityTypes[name]
		existing, present := current.EntityTypes[name]
		if !present {
			in.AddedFrom = AddedFromMerge
			current.EntityTypes[name] = in
			result.Changes = append(result.Changes, MergeChange{
				Action: "added", Kind: "entity", Name: name,
			})
			continue
		}
		if !opts.MergeProperties {
			continue
		}

		propNames := make([]string, 0, len(in.Properties))
		for propName := range in.Properties {
			propNames = append(propNames, propName)
		}
		sort.Strings(propNames)

		for _, propName := range propNames {
			if _, exists := existing.Properties[propName]; exists {
				continue
			}
			if existing.Properties == nil {
				existing.Properties = make(map[string]domain.PropertyDef)
			}
			existing.Properties[propName] = in.Properties[propName]
			result.Changes = append(result.Changes, MergeChange{
				Action: "added_property", Kind: "entity", Name: name, Detail: propName,
			})
		}
		current.EntityTypes[name] = existing
	}

	for _, name := range sortedRelationNames(incoming) {
		in := incoming.RelationTypes[name]
		existing, present := current.RelationTypes[name]
		if !present {
			in.AddedFrom = AddedFromMerge
			current.RelationTypes[name] = in
			result.Changes = append(result.Changes, MergeChange{
				Action: "added", Kind: "relation", Name: name,
			})
			continue
		}
		if !opts.MergeEndpoints {
			continue
		}

		var grew bool
		existing.FromTypes, grew = unionEndpoints(existing.FromTypes, in.FromTypes)
		if grew {
			result.Changes = append(result.Changes, MergeChange{
				Action: "extended_endpoints", Kind: "relation", Name: name, Detail: "from_types",
			})
		}
		existing.ToTypes, grew = unionEndpoints(existing.ToTypes, in.ToTypes)
		if grew {
			result.Changes = append(result.Changes, MergeChange{
				Action: "extended_endpoints", Kind: "relation", Name: name, Detail: "to_types",
			})
		}
		current.RelationTypes[name] = existing
	}

	return result, nil
}

// unionEndpoints appends incoming endpoint values absent from the existing
// set, preserving existing order.
func unionEndpoints(existing, incoming []string) ([]string, bool) {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	grew := false
	for _, t := range incoming {
		if !seen[t] {
			existing = append(existing, t)
			seen[t] = true
			grew = true
		}
	}
	return existing, grew
}

// Discard records one pruned type and why it was removed.
type Discard struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// DiscardEntitiesWithoutRelations prunes entity types named in no relation's
// endpoint sets. Wildcard endpoints do not count as references.
func DiscardEntitiesWithoutRelations(ontology *domain.Schema) (*domain.Schema, []Discard) {
	pruned := ontology.Clone()

	referenced := make(map[string]bool)
	for _, rt := range pruned.RelationTypes {
		for _, t := range rt.FromTypes {
			if t != domain.WildcardType {
				referenced[t] = true
			}
		}
		for _, t := range rt.ToTypes {
			if t != domain.WildcardType {
				referenced[t] = true
			}
		}
	}

	var discards []Discard
	for _, name := range sortedEntityNames(pruned) {
		if referenced[name] {
			continue
		}
		delete(pruned.EntityTypes, name)
		discards = append(discards, Discard{
			Type:   "entity",
			Name:   name,
			Reason: "not referenced by any relation",
		})
	}
	return pruned, discards
}

// DiscardRelationsWithoutEntities prunes relation types whose endpoint sets
// reference no entity type still present. A wildcard endpoint always counts
// as satisfied.
func DiscardRelationsWithoutEntities(ontology *domain.Schema) (*domain.Schema, []Discard) {
	pruned := ontology.Clone()

	var discards []Discard
	for _, name := range sortedRelationNames(pruned) {
		rt := pruned.RelationTypes[name]
		fromOK := anyEndpointDefined(rt.FromTypes, pruned)
		toOK := anyEndpointDefined(rt.ToTypes, pruned)
		if fromOK && toOK {
			continue
		}

		side := "from_types"
		if fromOK {
			side = "to_types"
		}
		delete(pruned.RelationTypes, name)
		discards = append(discards, Discard{
			Type:   "relation",
			Name:   name,
			Reason: fmt.Sprintf("%s reference no defined entity type", side),
		})
	}
	return pruned, discards
}

func anyEndpointDefined(endpoints []string, s *domain.Schema) bool {
	for _, t := range endpoints {
		if t == domain.WildcardType {
			return true
		}
		if _, ok := s.EntityTypes[t]; ok {
			return true
		}
	}
	return false
}

// SetDiff is a symmetric difference over type names.
type SetDiff struct {
	OnlyInA []string `json:"only_in_a"`
	OnlyInB []string `json:"only_in_b"`
	InBoth  []string `json:"in_both"`
}

// OntologyDiff compares two ontologies by entity and relation names.
type OntologyDiff struct {
	Entities  SetDiff `json:"entities"`
	Relations SetDiff `json:"relations"`
}

// DiffOntologies computes name-level set differences between two ontologies.
func DiffOntologies(a, b *domain.Schema) *OntologyDiff {
	return &OntologyDiff{
		Entities:  diffNames(sortedEntityNames(a), sortedEntityNames(b)),
		Relations: diffNames(sortedRelationNames(a), sortedRelationNames(b)),
	}
}

func diffNames(a, b []string) SetDiff {
	inA := make(map[string]bool, len(a))
	for _, n := range a {
		inA[n] = true
	}
	inB := make(map[string]bool, len(b))
	for _, n := range b {
		inB[n] = true
	}

	var diff SetDiff
	for _, n := range a {
		if inB[n] {
			diff.InBoth = append(diff.InBoth, n)
		} else {
			diff.OnlyInA = append(diff.OnlyInA, n)
		}
	}
	for _, n := range b {
		if !inA[n] {
			diff.OnlyInB = append(diff.OnlyInB, n)
		}
	}
	return diff
}
