package domain

// ExtractedEntity is a candidate entity detected in free text or live graph
// data.
type ExtractedEntity struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Confidence float64        `json:"confidence"`
	Properties map[string]any `json:"properties,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// ExtractedRelationship is a candidate relationship between two detected
// entities.
type ExtractedRelationship struct {
	Type       string  `json:"type"`
	FromName   string  `json:"from_name"`
	FromType   string  `json:"from_type"`
	ToName     string  `json:"to_name"`
	ToType     string  `json:"to_type"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context,omitempty"`
}

// ExtractedProperty is a candidate property for an entity type already known
// to the schema.
type ExtractedProperty struct {
	EntityType  string `json:"entity_type"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ExtractionResult aggregates everything one analysis pass detected.
type ExtractionResult struct {
	Entities      []ExtractedEntity      `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
	Properties    []ExtractedProperty    `json:"properties,omitempty"`
}

// LabelCount is a live node-label count from the graph backend.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// RelationCount is a live relationship-type count from the graph backend.
type RelationCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// GraphStats summarizes what currently exists in the graph backend.
type GraphStats struct {
	Labels             []LabelCount    `json:"labels"`
	RelationTypes      []RelationCount `json:"relation_types"`
	TotalNodes         int64           `json:"total_nodes"`
	TotalRelationships int64           `json:"total_relationships"`
}

// GraphNode is one sampled node from the graph backend.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// GraphRelationship is one sampled edge from the graph backend, carrying its
// endpoint labels.
type GraphRelationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	FromLabel  string         `json:"from_label"`
	ToLabel    string         `json:"to_label"`
	Properties map[string]any `json:"properties,omitempty"`
}
