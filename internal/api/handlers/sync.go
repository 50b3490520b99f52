package handlers

import (
	"errors"
	"net/http"

	"github.com/ontoloom/ontoloom/internal/graphsync"
)

type SyncHandler struct {
	coordinator *graphsync.Coordinator
}

func NewSyncHandler(coordinator *graphsync.Coordinator) *SyncHandler {
	return &SyncHandler{coordinator: coordinator}
}

type syncStatusResponse struct {
	graphsync.Status
	NeedsSync bool `json:"needs_sync"`
}

// Status reports coordinator state and whether the graph lags the schema.
// GET /v1/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.coordinator.Status()
	needsSync, err := h.coordinator.NeedsSync(r.Context())
	if err != nil {
		// Status is still useful when the graph check fails.
		needsSync = false
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{Status: status, NeedsSync: needsSync})
}

// Force runs one sync immediately, bypassing the debounce window.
// POST /v1/sync/force
func (h *SyncHandler) Force(w http.ResponseWriter, r *http.Request) {
	report, err := h.coordinator.ForceSync(r.Context())
	if err != nil {
		if errors.Is(err, graphsync.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "sync already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
