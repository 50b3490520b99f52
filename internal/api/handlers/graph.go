package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/evolve"
	"github.com/ontoloom/ontoloom/internal/reflect"
)

type GraphHandler struct {
	reflector *reflect.Reflector
	agent     *evolve.Agent
}

func NewGraphHandler(reflector *reflect.Reflector, agent *evolve.Agent) *GraphHandler {
	return &GraphHandler{reflector: reflector, agent: agent}
}

// Compliance validates live graph data against the schema.
// GET /v1/graph/compliance
func (h *GraphHandler) Compliance(w http.ResponseWriter, r *http.Request) {
	report, err := h.reflector.ValidateCompliance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "compliance validation failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Extract derives a candidate ontology from live graph data.
// GET /v1/graph/extract?sample_size=100&include_meta=false
func (h *GraphHandler) Extract(w http.ResponseWriter, r *http.Request) {
	opts := reflect.ExtractOptions{}
	if size, err := strconv.Atoi(r.URL.Query().Get("sample_size")); err == nil && size > 0 {
		opts.SampleSize = size
	}
	opts.IncludeMetaNodes = r.URL.Query().Get("include_meta") == "true"

	report, err := h.reflector.ExtractFromGraph(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Unused lists schema types with no live data.
// GET /v1/graph/unused
func (h *GraphHandler) Unused(w http.ResponseWriter, r *http.Request) {
	unused, err := h.reflector.FindUnusedTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unused type scan failed")
		return
	}
	writeJSON(w, http.StatusOK, unused)
}

// Usage cross-references schema types against live counts.
// GET /v1/graph/usage
func (h *GraphHandler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.agent.GetTypeUsageStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "usage stats failed")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

type mergeRequest struct {
	Ontology        *domain.Schema `json:"ontology"`
	MergeProperties bool           `json:"merge_properties"`
	MergeEndpoints  bool           `json:"merge_endpoints"`
}

// Merge previews merging a candidate ontology into the current schema. The
// result is returned; nothing is written back.
// POST /v1/graph/merge
func (h *GraphHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ontology == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.reflector.MergeOntologies(r.Context(), req.Ontology, reflect.MergeOptions{
		MergeProperties: req.MergeProperties,
		MergeEndpoints:  req.MergeEndpoints,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "merge failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
