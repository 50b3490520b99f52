package domain

import (
	"strings"
	"time"
)

// Property value types understood by the validator.
const (
	PropertyString  = "string"
	PropertyNumber  = "number"
	PropertyBoolean = "boolean"
	PropertyArray   = "array"
)

// WildcardType in a relation endpoint set matches any entity type.
const WildcardType = "*"

// PropertyDef describes a single typed property on an entity or relation type.
type PropertyDef struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Searchable  bool     `json:"searchable,omitempty"`
	Unique      bool     `json:"unique,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// EntityType is a node label with typed property definitions.
// Identity is the map key in Schema.EntityTypes.
type EntityType struct {
	Label             string                 `json:"label"`
	Description       string                 `json:"description,omitempty"`
	Properties        map[string]PropertyDef `json:"properties"`
	Icon              string                 `json:"icon,omitempty"`
	Color             string                 `json:"color,omitempty"`
	SharedEntity      bool                   `json:"shared_entity,omitempty"`
	EmbeddingTemplate string                 `json:"embedding_template,omitempty"`
	AddedFrom         string                 `json:"added_from,omitempty"`
}

// RelationType is a directed edge type with allowed endpoint label sets.
// WildcardType in FromTypes or ToTypes means "any type".
type RelationType struct {
	Description       string                 `json:"description,omitempty"`
	FromTypes         []string               `json:"from_types"`
	ToTypes           []string               `json:"to_types"`
	Properties        map[string]PropertyDef `json:"properties,omitempty"`
	CrossGraph        bool                   `json:"cross_graph,omitempty"`
	EmbeddingTemplate string                 `json:"embedding_template,omitempty"`
	AddedFrom         string                 `json:"added_from,omitempty"`
}

// Allows reports whether an instance of this relation may connect the given
// endpoint types.
func (rt RelationType) Allows(fromType, toType string) bool {
	return containsType(rt.FromTypes, fromType) && containsType(rt.ToTypes, toType)
}

func containsType(set []string, t string) bool {
	for _, s := range set {
		if s == WildcardType || s == t {
			return true
		}
	}
	return false
}

// QueryPattern is a natural-language template compiled against user queries.
// Template uses {placeholder} tokens; Query uses $placeholder tokens.
type QueryPattern struct {
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
	Query       string `json:"query"`
}

// InferenceRule is a named backend query pair run during synchronization.
type InferenceRule struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Condition   string `json:"condition,omitempty"`
	Action      string `json:"action"`
	Enabled     bool   `json:"enabled"`
}

// Schema is the canonical typed vocabulary governing a knowledge graph.
// It is mutated only through the schema manager; Version is monotonically
// non-decreasing.
type Schema struct {
	Version        string                  `json:"version"`
	EntityTypes    map[string]EntityType   `json:"entity_types"`
	RelationTypes  map[string]RelationType `json:"relation_types"`
	QueryPatterns  map[string]QueryPattern `json:"query_patterns"`
	InferenceRules []InferenceRule         `json:"inference_rules"`
	LastUpdated    *time.Time              `json:"last_updated,omitempty"`
}

// NewSchema returns an empty schema at version 1.0 with all collections
// initialized.
func NewSchema() *Schema {
	return &Schema{
		Version:        "1.0",
		EntityTypes:    make(map[string]EntityType),
		RelationTypes:  make(map[string]RelationType),
		QueryPatterns:  make(map[string]QueryPattern),
		InferenceRules: []InferenceRule{},
	}
}

// Normalize fills nil collections so that a loaded schema always has non-nil
// maps and slices.
func (s *Schema) Normalize() {
	if s.EntityTypes == nil {
		s.EntityTypes = make(map[string]EntityType)
	}
	if s.RelationTypes == nil {
		s.RelationTypes = make(map[string]RelationType)
	}
	if s.QueryPatterns == nil {
		s.QueryPatterns = make(map[string]QueryPattern)
	}
	if s.InferenceRules == nil {
		s.InferenceRules = []InferenceRule{}
	}
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		Version:       s.Version,
		EntityTypes:   make(map[string]EntityType, len(s.EntityTypes)),
		RelationTypes: make(map[string]RelationType, len(s.RelationTypes)),
		QueryPatterns: make(map[string]QueryPattern, len(s.QueryPatterns)),
	}
	for name, et := range s.EntityTypes {
		out.EntityTypes[name] = et.clone()
	}
	for name, rt := range s.RelationTypes {
		out.RelationTypes[name] = rt.clone()
	}
	for name, qp := range s.QueryPatterns {
		out.QueryPatterns[name] = qp
	}
	out.InferenceRules = append([]InferenceRule{}, s.InferenceRules...)
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		out.LastUpdated = &t
	}
	return out
}

func (et EntityType) clone() EntityType {
	out := et
	out.Properties = cloneProperties(et.Properties)
	return out
}

func (rt RelationType) clone() RelationType {
	out := rt
	out.FromTypes = append([]string{}, rt.FromTypes...)
	out.ToTypes = append([]string{}, rt.ToTypes...)
	out.Properties = cloneProperties(rt.Properties)
	return out
}

func cloneProperties(props map[string]PropertyDef) map[string]PropertyDef {
	if props == nil {
		return nil
	}
	out := make(map[string]PropertyDef, len(props))
	for name, def := range props {
		d := def
		if def.Enum != nil {
			d.Enum = append([]string{}, def.Enum...)
		}
		if def.Minimum != nil {
			v := *def.Minimum
			d.Minimum = &v
		}
		if def.Maximum != nil {
			v := *def.Maximum
			d.Maximum = &v
		}
		out[name] = d
	}
	return out
}

// HasEntityType reports whether name is defined, ignoring case.
func (s *Schema) HasEntityType(name string) bool {
	_, ok := s.LookupEntityType(name)
	return ok
}

// LookupEntityType finds an entity type by case-insensitive name and returns
// its canonical name.
func (s *Schema) LookupEntityType(name string) (string, bool) {
	if _, ok := s.EntityTypes[name]; ok {
		return name, true
	}
	for canonical := range s.EntityTypes {
		if strings.EqualFold(canonical, name) {
			return canonical, true
		}
	}
	return "", false
}

// HasRelationType reports whether name is defined, ignoring case.
func (s *Schema) HasRelationType(name string) bool {
	if _, ok := s.RelationTypes[name]; ok {
		return true
	}
	for canonical := range s.RelationTypes {
		if strings.EqualFold(canonical, name) {
			return true
		}
	}
	return false
}

