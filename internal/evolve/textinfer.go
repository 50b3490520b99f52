package evolve

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/llm"
	"github.com/ontoloom/ontoloom/internal/schema"
	"go.uber.org/zap"
)

// DefaultMinConfidence filters extraction output unless overridden.
const DefaultMinConfidence = 0.5

const (
	emailConfidence        = 0.9
	mentionConfidence      = 0.7
	dateConfidence         = 0.8
	projectCodeConfidence  = 0.8
	technologyConfidence   = 0.6
	knownEntityConfidence  = 0.95
	fallbackRelConfidence  = 0.4
	knownEntitySampleLimit = 50
)

var (
	emailRe       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	mentionRe     = regexp.MustCompile(`(^|\s)@([A-Za-z][A-Za-z0-9_]{1,30})`)
	isoDateRe     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDateRe   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	projectCodeRe = regexp.MustCompile(`\b[A-Z]{2,5}-\d{1,6}\b`)
	sentenceRe    = regexp.MustCompile(`[.!?\n]+`)
)

// knownTechnologies feeds the technology keyword pattern. Matching is
// case-insensitive on word boundaries.
var knownTechnologies = []string{
	"Go", "Python", "TypeScript", "JavaScript", "Rust", "Java",
	"PostgreSQL", "Redis", "Kafka", "Kubernetes", "Docker",
	"React", "GraphQL", "gRPC", "Terraform",
}

// cooccurrenceRule maps a keyword in a sentence to a typed relationship
// between two entities mentioned in the same sentence.
type cooccurrenceRule struct {
	keywords   *regexp.Regexp
	fromType   string
	toType     string
	relType    string
	confidence float64
}

var cooccurrenceRules = []cooccurrenceRule{
	{regexp.MustCompile(`\b(works?|working|assigned)\b`), "Person", "Project", "WORKS_ON", 0.7},
	{regexp.MustCompile(`\b(manages?|managing|leads?|leading|reports to)\b`), "Person", "Person", "MANAGES", 0.7},
	{regexp.MustCompile(`\b(uses?|using|built (with|on)|runs? on)\b`), "Project", "Technology", "USES", 0.6},
	{regexp.MustCompile(`\b(knows?|learn(s|ing)?|experienced (in|with))\b`), "Person", "Technology", "KNOWS", 0.6},
	{regexp.MustCompile(`\b(met|meeting|discussed|attended|spoke)\b`), "Person", "Person", "COLLABORATES_WITH", 0.5},
}

// Engine extracts schema-typed entities and relationships from free text.
// Pattern heuristics and known-entity matching work without the completion
// client; ExtractWithAI layers the model on top and degrades back to
// heuristics when the backend is unavailable.
type Engine struct {
	manager       *schema.Manager
	graph         domain.GraphBackend
	llm           domain.CompletionClient
	logger        *zap.Logger
	minConfidence float64
}

// NewEngine creates an inference engine. graph and completions may be nil.
func NewEngine(manager *schema.Manager, graph domain.GraphBackend, completions domain.CompletionClient, logger *zap.Logger) *Engine {
	return &Engine{
		manager:       manager,
		graph:         graph,
		llm:           completions,
		logger:        logger,
		minConfidence: DefaultMinConfidence,
	}
}

// SetMinConfidence overrides the extraction confidence floor.
func (e *Engine) SetMinConfidence(min float64) {
	if min > 0 {
		e.minConfidence = min
	}
}

// Extract runs pattern heuristics, known-entity matching and sentence
// co-occurrence relation inference over text.
func (e *Engine) Extract(ctx context.Context, text string) (*domain.ExtractionResult, error) {
	current, err := e.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}

	entities := e.extractPatterns(text)
	entities = append(entities, e.matchKnownEntities(ctx, text)...)
	entities = dedupeEntities(entities)

	result := &domain.ExtractionResult{
		Entities:      entities,
		Relationships: inferRelations(current, text, entities),
	}
	e.filterByConfidence(result)
	return result, nil
}

// extractPatterns applies the fixed pattern library.
func (e *Engine) extractPatterns(text string) []domain.ExtractedEntity {
	var out []domain.ExtractedEntity

	for _, email := range emailRe.FindAllString(text, -1) {
		local := email[:strings.Index(email, "@")]
		out = append(out, domain.ExtractedEntity{
			Type:       "Person",
			Name:       local,
			Confidence: emailConfidence,
			Properties: map[string]any{"email": email},
			Source:     "pattern:email",
		})
	}

	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		out = append(out, domain.ExtractedEntity{
			Type:       "Person",
			Name:       m[2],
			Confidence: mentionConfidence,
			Source:     "pattern:mention",
		})
	}

	for _, date := range isoDateRe.FindAllString(text, -1) {
		out = append(out, domain.ExtractedEntity{
			Type:       "Date",
			Name:       date,
			Confidence: dateConfidence,
			Source:     "pattern:date",
		})
	}
	for _, date := range slashDateRe.FindAllString(text, -1) {
		out = append(out, domain.ExtractedEntity{
			Type:       "Date",
			Name:       date,
			Confidence: dateConfidence,
			Source:     "pattern:date",
		})
	}

	for _, code := range projectCodeRe.FindAllString(text, -1) {
		out = append(out, domain.ExtractedEntity{
			Type:       "Project",
			Name:       code,
			Confidence: projectCodeConfidence,
			Source:     "pattern:project_code",
		})
	}

	lower := strings.ToLower(text)
	for _, tech := range knownTechnologies {
		if containsWord(lower, strings.ToLower(tech)) {
			out = append(out, domain.ExtractedEntity{
				Type:       "Technology",
				Name:       tech,
				Confidence: technologyConfidence,
				Source:     "pattern:technology",
			})
		}
	}
	return out
}

// matchKnownEntities scans text for names of entities already stored in the
// graph. Matches carry the highest heuristic confidence since the entity is
// verified to exist.
func (e *Engine) matchKnownEntities(ctx context.Context, text string) []domain.ExtractedEntity {
	if e.graph == nil {
		return nil
	}
	current, err := e.manager.Schema(ctx)
	if err != nil {
		return nil
	}

	lower := strings.ToLower(text)
	var out []domain.ExtractedEntity
	for _, label := range sortedEntityNames(current) {
		nodes, err := e.graph.FindNodes(ctx, label, knownEntitySampleLimit)
		if err != nil {
			e.logger.Warn("known-entity sampling failed", zap.String("label", label), zap.Error(err))
			continue
		}
		for _, node := range nodes {
			name, _ := node.Properties["name"].(string)
			if len(name) < 3 {
				continue
			}
			if strings.Contains(lower, strings.ToLower(name)) {
				out = append(out, domain.ExtractedEntity{
					Type:       label,
					Name:       name,
					Confidence: knownEntityConfidence,
					Source:     "known_entity",
				})
			}
		}
	}
	return out
}

// dedupeEntities collapses duplicates by (type, lowercased name), keeping
// the higher confidence and, on ties, the candidate with more properties.
func dedupeEntities(entities []domain.ExtractedEntity) []domain.ExtractedEntity {
	best := make(map[string]domain.ExtractedEntity, len(entities))
	var order []string
	for _, entity := range entities {
		key := strings.ToLower(entity.Type) + "\x00" + strings.ToLower(entity.Name)
		existing, seen := best[key]
		if !seen {
			best[key] = entity
			order = append(order, key)
			continue
		}
		if entity.Confidence > existing.Confidence ||
			(entity.Confidence == existing.Confidence && len(entity.Properties) > len(existing.Properties)) {
			best[key] = entity
		}
	}
	out := make([]domain.ExtractedEntity, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// inferRelations applies co-occurrence rules sentence by sentence, falling
// back to RELATED_TO when the schema permits it for the pair.
func inferRelations(current *domain.Schema, text string, entities []domain.ExtractedEntity) []domain.ExtractedRelationship {
	if len(entities) < 2 {
		return nil
	}

	var out []domain.ExtractedRelationship
	seen := make(map[string]bool)
	add := func(rel domain.ExtractedRelationship) {
		key := rel.Type + "\x00" + strings.ToLower(rel.FromName) + "\x00" + strings.ToLower(rel.ToName)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, rel)
	}

	for _, sentence := range sentenceRe.Split(text, -1) {
		lower := strings.ToLower(sentence)
		if strings.TrimSpace(lower) == "" {
			continue
		}

		var present []domain.ExtractedEntity
		for _, entity := range entities {
			if strings.Contains(lower, strings.ToLower(entity.Name)) {
				present = append(present, entity)
			}
		}
		if len(present) < 2 {
			continue
		}

		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				a, b := present[i], present[j]
				if strings.EqualFold(a.Name, b.Name) {
					continue
				}
				if rel, ok := matchRule(lower, sentence, a, b); ok {
					add(rel)
					continue
				}
				if rel, ok := relatedToFallback(current, sentence, a, b); ok {
					add(rel)
				}
			}
		}
	}
	return out
}

// matchRule tries every co-occurrence rule against an entity pair in either
// order; the first rule whose keyword and types both match wins.
func matchRule(lowerSentence, sentence string, a, b domain.ExtractedEntity) (domain.ExtractedRelationship, bool) {
	for _, rule := range cooccurrenceRules {
		if !rule.keywords.MatchString(lowerSentence) {
			continue
		}
		from, to := a, b
		if !(strings.EqualFold(from.Type, rule.fromType) && strings.EqualFold(to.Type, rule.toType)) {
			from, to = b, a
			if !(strings.EqualFold(from.Type, rule.fromType) && strings.EqualFold(to.Type, rule.toType)) {
				continue
			}
		}
		return domain.ExtractedRelationship{
			Type:       rule.relType,
			FromName:   from.Name,
			FromType:   from.Type,
			ToName:     to.Name,
			ToType:     to.Type,
			Confidence: rule.confidence,
			Context:    strings.TrimSpace(sentence),
		}, true
	}
	return domain.ExtractedRelationship{}, false
}

// relatedToFallback emits a weak RELATED_TO edge when the schema defines one
// that legally connects the pair.
func relatedToFallback(current *domain.Schema, sentence string, a, b domain.ExtractedEntity) (domain.ExtractedRelationship, bool) {
	rt, ok := current.RelationTypes["RELATED_TO"]
	if !ok {
		return domain.ExtractedRelationship{}, false
	}
	from, to := a, b
	if !rt.Allows(from.Type, to.Type) {
		from, to = b, a
		if !rt.Allows(from.Type, to.Type) {
			return domain.ExtractedRelationship{}, false
		}
	}
	return domain.ExtractedRelationship{
		Type:       "RELATED_TO",
		FromName:   from.Name,
		FromType:   from.Type,
		ToName:     to.Name,
		ToType:     to.Type,
		Confidence: fallbackRelConfidence,
		Context:    strings.TrimSpace(sentence),
	}, true
}

// llmExtraction is the structured shape requested from the model.
type llmExtraction struct {
	Entities []struct {
		Type       string         `json:"type"`
		Name       string         `json:"name"`
		Confidence float64        `json:"confidence"`
		Properties map[string]any `json:"properties"`
	} `json:"entities"`
	Relationships []struct {
		Type       string  `json:"type"`
		FromName   string  `json:"from_name"`
		FromType   string  `json:"from_type"`
		ToName     string  `json:"to_name"`
		ToType     string  `json:"to_type"`
		Confidence float64 `json:"confidence"`
	} `json:"relationships"`
}

// ExtractWithAI runs the heuristic pass, asks the model for a
// schema-constrained extraction and merges the two. Backend or parse
// failures degrade to the heuristic result.
func (e *Engine) ExtractWithAI(ctx context.Context, text string) (*domain.ExtractionResult, error) {
	current, err := e.manager.Schema(ctx)
	if err != nil {
		return nil, err
	}

	heuristic := &domain.ExtractionResult{
		Entities: dedupeEntities(append(e.extractPatterns(text), e.matchKnownEntities(ctx, text)...)),
	}
	heuristic.Relationships = inferRelations(current, text, heuristic.Entities)

	if e.llm == nil {
		e.filterByConfidence(heuristic)
		return heuristic, nil
	}

	prompt := buildExtractionPrompt(current, text)
	response, err := e.llm.Complete(ctx, domain.CompletionRequest{Prompt: prompt, Temperature: 0.1, MaxTokens: 2000})
	if err != nil {
		e.logger.Warn("model extraction failed, using heuristics only", zap.Error(err))
		e.filterByConfidence(heuristic)
		return heuristic, nil
	}

	raw, err := llm.ExtractJSONObject(response)
	if err != nil {
		e.logger.Warn("model extraction unparsable, using heuristics only", zap.Error(err))
		e.filterByConfidence(heuristic)
		return heuristic, nil
	}
	var parsed llmExtraction
	if err := json.Unmarshal(raw, &parsed); err != nil {
		e.logger.Warn("model extraction malformed, using heuristics only", zap.Error(err))
		e.filterByConfidence(heuristic)
		return heuristic, nil
	}

	merged := mergeExtractions(heuristic, &parsed)
	e.filterByConfidence(merged)
	return merged, nil
}

func buildExtractionPrompt(current *domain.Schema, text string) string {
	var b strings.Builder
	b.WriteString("Extract entities and relationships from the text below. Use ONLY these types.\n\nEntity types:\n")
	for _, name := range sortedEntityNames(current) {
		et := current.EntityTypes[name]
		props := make([]string, 0, len(et.Properties))
		for propName := range et.Properties {
			props = append(props, propName)
		}
		sort.Strings(props)
		fmt.Fprintf(&b, "- %s (%s): properties %s\n", name, et.Description, strings.Join(props, ", "))
	}
	b.WriteString("Relation types:\n")
	for _, name := range sortedRelationNames(current) {
		rt := current.RelationTypes[name]
		fmt.Fprintf(&b, "- %s: %s -> %s\n", name, strings.Join(rt.FromTypes, "|"), strings.Join(rt.ToTypes, "|"))
	}
	fmt.Fprintf(&b, `
Text:
%s

Respond with exactly one JSON object:
{"entities": [{"type": "", "name": "", "confidence": 0.0, "properties": {}}], "relationships": [{"type": "", "from_name": "", "from_type": "", "to_name": "", "to_type": "", "confidence": 0.0}]}`, text)
	return b.String()
}

// mergeExtractions combines heuristic and model findings. Entities found by
// both get their confidences averaged then boosted by 0.1, capped at 1.0.
func mergeExtractions(heuristic *domain.ExtractionResult, model *llmExtraction) *domain.ExtractionResult {
	out := &domain.ExtractionResult{
		Entities:      append([]domain.ExtractedEntity{}, heuristic.Entities...),
		Relationships: append([]domain.ExtractedRelationship{}, heuristic.Relationships...),
	}

	index := make(map[string]int, len(out.Entities))
	for i, entity := range out.Entities {
		index[strings.ToLower(entity.Type)+"\x00"+strings.ToLower(entity.Name)] = i
	}

	for _, me := range model.Entities {
		if me.Type == "" || me.Name == "" {
			continue
		}
		conf := me.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultLLMConfidence
		}
		key := strings.ToLower(me.Type) + "\x00" + strings.ToLower(me.Name)
		if i, seen := index[key]; seen {
			existing := &out.Entities[i]
			boosted := (existing.Confidence+conf)/2 + 0.1
			if boosted > 1 {
				boosted = 1
			}
			existing.Confidence = boosted
			for propName, value := range me.Properties {
				if existing.Properties == nil {
					existing.Properties = make(map[string]any)
				}
				if _, has := existing.Properties[propName]; !has {
					existing.Properties[propName] = value
				}
			}
			continue
		}
		index[key] = len(out.Entities)
		out.Entities = append(out.Entities, domain.ExtractedEntity{
			Type:       me.Type,
			Name:       me.Name,
			Confidence: conf,
			Properties: me.Properties,
			Source:     "llm",
		})
	}

	relSeen := make(map[string]bool, len(out.Relationships))
	for _, rel := range out.Relationships {
		relSeen[rel.Type+"\x00"+strings.ToLower(rel.FromName)+"\x00"+strings.ToLower(rel.ToName)] = true
	}
	for _, mr := range model.Relationships {
		if mr.Type == "" || mr.FromName == "" || mr.ToName == "" {
			continue
		}
		key := mr.Type + "\x00" + strings.ToLower(mr.FromName) + "\x00" + strings.ToLower(mr.ToName)
		if relSeen[key] {
			continue
		}
		relSeen[key] = true
		conf := mr.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultLLMConfidence
		}
		out.Relationships = append(out.Relationships, domain.ExtractedRelationship{
			Type:       mr.Type,
			FromName:   mr.FromName,
			FromType:   mr.FromType,
			ToName:     mr.ToName,
			ToType:     mr.ToType,
			Confidence: conf,
		})
	}
	return out
}

func (e *Engine) filterByConfidence(result *domain.ExtractionResult) {
	min := e.minConfidence
	entities := result.Entities[:0]
	for _, entity := range result.Entities {
		if entity.Confidence >= min {
			entities = append(entities, entity)
		}
	}
	result.Entities = entities

	relationships := result.Relationships[:0]
	for _, rel := range result.Relationships {
		if rel.Confidence >= min {
			relationships = append(relationships, rel)
		}
	}
	result.Relationships = relationships
}

// StrengthInput feeds the relationship-strength score between two people.
type StrengthInput struct {
	SharedContexts   int  `json:"shared_contexts"`
	SameOrganization bool `json:"same_organization"`
	SharedProjects   int  `json:"shared_projects"`
	SharedMeetings   int  `json:"shared_meetings"`
}

// RelationStrength scores how strongly two people are connected, in [0.1, 1.0].
func RelationStrength(in StrengthInput) float64 {
	strength := 0.1
	strength += minFloat(0.4, 0.1*float64(in.SharedContexts))
	if in.SameOrganization {
		strength += 0.2
	}
	strength += minFloat(0.2, 0.1*float64(in.SharedProjects))
	strength += minFloat(0.1, 0.05*float64(in.SharedMeetings))
	if strength > 1.0 {
		strength = 1.0
	}
	return strength
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// containsWord reports whether lower contains word at word boundaries.
func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
