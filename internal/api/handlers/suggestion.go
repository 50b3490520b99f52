package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/evolve"
)

type SuggestionHandler struct {
	agent  *evolve.Agent
	engine *evolve.Engine
}

func NewSuggestionHandler(agent *evolve.Agent, engine *evolve.Engine) *SuggestionHandler {
	return &SuggestionHandler{agent: agent, engine: engine}
}

type suggestionsResponse struct {
	Suggestions []domain.Suggestion `json:"suggestions"`
	Count       int                 `json:"count"`
}

// ListPending returns the pending suggestion queue.
// GET /v1/suggestions
func (h *SuggestionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.agent.Pending()
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: pending, Count: len(pending)})
}

// History returns resolved suggestions.
// GET /v1/suggestions/history
func (h *SuggestionHandler) History(w http.ResponseWriter, r *http.Request) {
	history := h.agent.History()
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: history, Count: len(history)})
}

type analyzeTextRequest struct {
	Text  string `json:"text"`
	UseAI bool   `json:"use_ai,omitempty"`
}

type analyzeTextResponse struct {
	Extraction *domain.ExtractionResult `json:"extraction"`
	Report     *evolve.AnalysisReport   `json:"report"`
}

// AnalyzeText extracts entities and relationships from text and raises
// suggestions for unknown types.
// POST /v1/suggestions/analyze/text
func (h *SuggestionHandler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req analyzeTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	var extraction *domain.ExtractionResult
	var err error
	if req.UseAI {
		extraction, err = h.engine.ExtractWithAI(r.Context(), req.Text)
	} else {
		extraction, err = h.engine.Extract(r.Context(), req.Text)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}

	report, err := h.agent.AnalyzeExtraction(r.Context(), extraction, domain.SourceDocumentExtraction)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, analyzeTextResponse{Extraction: extraction, Report: report})
}

// AnalyzeGraph raises suggestions from live graph vocabulary.
// POST /v1/suggestions/analyze/graph
func (h *SuggestionHandler) AnalyzeGraph(w http.ResponseWriter, r *http.Request) {
	report, err := h.agent.AnalyzeGraph(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AnalyzeLLM runs the model-backed schema gap analysis.
// POST /v1/suggestions/analyze/llm
func (h *SuggestionHandler) AnalyzeLLM(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.agent.AnalyzeWithLLM(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// Approve applies one pending suggestion to the schema.
// POST /v1/suggestions/{id}/approve
func (h *SuggestionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suggestion id")
		return
	}

	var overrides evolve.Overrides
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	suggestion, err := h.agent.Approve(r.Context(), id, &overrides)
	if err != nil {
		if errors.Is(err, evolve.ErrSuggestionNotFound) {
			writeError(w, http.StatusNotFound, "suggestion not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to approve suggestion")
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Reject resolves one pending suggestion without touching the schema.
// POST /v1/suggestions/{id}/reject
func (h *SuggestionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suggestion id")
		return
	}

	var req rejectRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	suggestion, err := h.agent.Reject(r.Context(), id, req.Reason)
	if err != nil {
		if errors.Is(err, evolve.ErrSuggestionNotFound) {
			writeError(w, http.StatusNotFound, "suggestion not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reject suggestion")
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

// Enrich improves one pending suggestion with the model.
// POST /v1/suggestions/{id}/enrich
func (h *SuggestionHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid suggestion id")
		return
	}

	if err := h.agent.EnrichSuggestion(r.Context(), id); err != nil {
		if errors.Is(err, evolve.ErrSuggestionNotFound) {
			writeError(w, http.StatusNotFound, "suggestion not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type autoApproveRequest struct {
	Threshold float64 `json:"threshold,omitempty"`
}

// AutoApprove batch-approves high-confidence analysis suggestions.
// POST /v1/suggestions/auto-approve
func (h *SuggestionHandler) AutoApprove(w http.ResponseWriter, r *http.Request) {
	var req autoApproveRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	approved, err := h.agent.AutoApproveHighConfidence(r.Context(), req.Threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "auto-approval failed")
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: approved, Count: len(approved)})
}
