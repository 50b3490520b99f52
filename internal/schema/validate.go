package schema

import (
	"context"
	"fmt"

	"github.com/ontoloom/ontoloom/internal/domain"
)

// ValidationResult is the structured outcome of an entity or relation check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func invalid(errs ...string) *ValidationResult {
	return &ValidationResult{Valid: false, Errors: errs}
}

// ValidateEntity checks an entity instance against its type definition.
// Unknown extra fields are permitted: the schema is additive, not closed.
// In strict mode an unknown type is a hard error.
func (m *Manager) ValidateEntity(ctx context.Context, typeName string, entity map[string]any) (*ValidationResult, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	et, ok := m.schema.EntityTypes[typeName]
	if !ok {
		if m.strict {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, typeName)
		}
		return invalid(fmt.Sprintf("Unknown entity type: %s", typeName)), nil
	}

	var errs []string
	for propName, def := range et.Properties {
		if def.Required {
			if _, present := entity[propName]; !present {
				errs = append(errs, fmt.Sprintf("missing required property: %s", propName))
			}
		}
	}
	for field, value := range entity {
		def, defined := et.Properties[field]
		if !defined {
			continue
		}
		errs = append(errs, checkPropertyValue(field, def, value)...)
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// ValidateRelation checks a relation instance: type existence, endpoint
// legality and per-property conformance.
func (m *Manager) ValidateRelation(ctx context.Context, name, fromType, toType string, properties map[string]any) (*ValidationResult, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rt, ok := m.schema.RelationTypes[name]
	if !ok {
		if m.strict {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRelationType, name)
		}
		return invalid(fmt.Sprintf("Unknown relation type: %s", name)), nil
	}

	var errs []string
	if !rt.Allows(fromType, toType) {
		errs = append(errs, fmt.Sprintf("relation %s does not allow %s -> %s", name, fromType, toType))
	}

	for propName, def := range rt.Properties {
		if def.Required {
			if _, present := properties[propName]; !present {
				errs = append(errs, fmt.Sprintf("missing required property: %s", propName))
			}
		}
	}
	for field, value := range properties {
		def, defined := rt.Properties[field]
		if !defined {
			continue
		}
		errs = append(errs, checkPropertyValue(field, def, value)...)
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// IsValidRelation reports endpoint legality for a relation type. Unknown
// relation types are invalid.
func (m *Manager) IsValidRelation(ctx context.Context, name, fromType, toType string) (bool, error) {
	if err := m.ready(ctx); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rt, ok := m.schema.RelationTypes[name]
	if !ok {
		return false, nil
	}
	return rt.Allows(fromType, toType), nil
}

func checkPropertyValue(field string, def domain.PropertyDef, value any) []string {
	var errs []string
	switch def.Type {
	case domain.PropertyString:
		s, ok := value.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("property %s must be a string", field))
			break
		}
		if len(def.Enum) > 0 && !containsString(def.Enum, s) {
			errs = append(errs, fmt.Sprintf("property %s must be one of %v", field, def.Enum))
		}

	case domain.PropertyNumber:
		n, ok := asNumber(value)
		if !ok {
			errs = append(errs, fmt.Sprintf("property %s must be a number", field))
			break
		}
		if def.Minimum != nil && n < *def.Minimum {
			errs = append(errs, fmt.Sprintf("property %s below minimum %v", field, *def.Minimum))
		}
		if def.Maximum != nil && n > *def.Maximum {
			errs = append(errs, fmt.Sprintf("property %s above maximum %v", field, *def.Maximum))
		}

	case domain.PropertyBoolean:
		if _, ok := value.(bool); !ok {
			errs = append(errs, fmt.Sprintf("property %s must be a boolean", field))
		}

	case domain.PropertyArray:
		if !isArray(value) {
			errs = append(errs, fmt.Sprintf("property %s must be an array", field))
		}
	}
	return errs
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func isArray(value any) bool {
	switch value.(type) {
	case []any, []string, []float64, []int, []map[string]any:
		return true
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
