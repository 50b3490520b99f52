package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/schema"
)

type SchemaHandler struct {
	manager   *schema.Manager
	changeLog domain.ChangeLogStore
}

func NewSchemaHandler(manager *schema.Manager, changeLog domain.ChangeLogStore) *SchemaHandler {
	return &SchemaHandler{manager: manager, changeLog: changeLog}
}

// Get returns the full current schema.
// GET /v1/schema
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	current, err := h.manager.Schema(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "schema unavailable")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// Version returns just the current version string.
// GET /v1/schema/version
func (h *SchemaHandler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := h.manager.Version(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "schema unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

// Stats returns counts of the schema's type definitions.
// GET /v1/schema/stats
func (h *SchemaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "schema unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type updateSchemaRequest struct {
	Entities       map[string]domain.EntityType   `json:"entities,omitempty"`
	Relations      map[string]domain.RelationType `json:"relations,omitempty"`
	QueryPatterns  map[string]domain.QueryPattern `json:"query_patterns,omitempty"`
	InferenceRules []domain.InferenceRule         `json:"inference_rules,omitempty"`
	Reason         string                         `json:"reason,omitempty"`
	ChangedBy      string                         `json:"changed_by,omitempty"`
}

// Update merges a partial schema update and returns the new schema.
// PUT /v1/schema
func (h *SchemaHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.manager.UpdateSchema(r.Context(), schema.SchemaPatch{
		Entities:       req.Entities,
		Relations:      req.Relations,
		QueryPatterns:  req.QueryPatterns,
		InferenceRules: req.InferenceRules,
	}, req.ChangedBy, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update schema")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type upsertTypeRequest struct {
	Entity    *domain.EntityType   `json:"entity,omitempty"`
	Relation  *domain.RelationType `json:"relation,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	ChangedBy string               `json:"changed_by,omitempty"`
}

// UpsertEntityType adds or replaces one entity type.
// PUT /v1/schema/entity-types/{name}
func (h *SchemaHandler) UpsertEntityType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req upsertTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Entity == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def := *req.Entity
	if def.Label == "" {
		def.Label = name
	}
	if err := h.manager.AddEntityType(r.Context(), name, def, req.ChangedBy, req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add entity type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
}

// DeleteEntityType removes one entity type.
// DELETE /v1/schema/entity-types/{name}
func (h *SchemaHandler) DeleteEntityType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.manager.RemoveEntityType(r.Context(), name, "", r.URL.Query().Get("reason"))
	if err != nil {
		if errors.Is(err, schema.ErrUnknownEntityType) {
			writeError(w, http.StatusNotFound, "entity type not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove entity type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
}

// UpsertRelationType adds or replaces one relation type.
// PUT /v1/schema/relation-types/{name}
func (h *SchemaHandler) UpsertRelationType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req upsertTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Relation == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.manager.AddRelationType(r.Context(), name, *req.Relation, req.ChangedBy, req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add relation type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
}

// DeleteRelationType removes one relation type.
// DELETE /v1/schema/relation-types/{name}
func (h *SchemaHandler) DeleteRelationType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.manager.RemoveRelationType(r.Context(), name, "", r.URL.Query().Get("reason"))
	if err != nil {
		if errors.Is(err, schema.ErrUnknownRelationType) {
			writeError(w, http.StatusNotFound, "relation type not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove relation type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
}

type changeLogResponse struct {
	Changes []domain.ChangeLogEntry `json:"changes"`
	Count   int                     `json:"count"`
}

// ChangeLog returns the most recent schema changes.
// GET /v1/schema/changelog?limit=50
func (h *SchemaHandler) ChangeLog(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	changes, err := h.changeLog.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	writeJSON(w, http.StatusOK, changeLogResponse{Changes: changes, Count: len(changes)})
}

type validateEntityRequest struct {
	Type   string         `json:"type"`
	Entity map[string]any `json:"entity"`
}

// ValidateEntity checks an entity against the schema.
// POST /v1/schema/validate/entity
func (h *SchemaHandler) ValidateEntity(w http.ResponseWriter, r *http.Request) {
	var req validateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	result, err := h.manager.ValidateEntity(r.Context(), req.Type, req.Entity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type validateRelationRequest struct {
	Type       string         `json:"type"`
	FromType   string         `json:"from_type"`
	ToType     string         `json:"to_type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ValidateRelation checks a relationship against the schema.
// POST /v1/schema/validate/relation
func (h *SchemaHandler) ValidateRelation(w http.ResponseWriter, r *http.Request) {
	var req validateRelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	result, err := h.manager.ValidateRelation(r.Context(), req.Type, req.FromType, req.ToType, req.Properties)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type matchQueryRequest struct {
	Query string `json:"query"`
}

type matchQueryResponse struct {
	Matched bool                 `json:"matched"`
	Match   *schema.PatternMatch `json:"match,omitempty"`
}

// MatchQuery matches a natural-language query against the schema's query
// patterns.
// POST /v1/schema/query/match
func (h *SchemaHandler) MatchQuery(w http.ResponseWriter, r *http.Request) {
	var req matchQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	match, err := h.manager.MatchQueryPattern(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "pattern matching failed")
		return
	}
	writeJSON(w, http.StatusOK, matchQueryResponse{Matched: match != nil, Match: match})
}
