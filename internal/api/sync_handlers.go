package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	fabsync "github.com/fabriksoft/fabrikd/internal/sync"
	"github.com/fabriksoft/fabrikd/internal/types"
)

// RegisterChange handles POST /api/sync in hub mode: clients report a change
// they made so other clients can pick it up by polling.
func (h *Handler) RegisterChange(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Type == "" || req.BatchNumber == "" {
		writeError(w, http.StatusBadRequest, "Type and batch number are required")
		return
	}

	now := time.Now().UTC()
	id, err := h.changes.Append(r.Context(), types.ChangeRecord{
		Kind:        req.Type,
		BatchNumber: req.BatchNumber,
		Data:        req.Data,
		Source:      req.Source,
		Timestamp:   now,
	})
	if err != nil {
		slog.Error("change register failed", "error", err, "batch_number", req.BatchNumber)
		h.writeServerError(w, "Failed to register change", err)
		return
	}

	writeJSON(w, http.StatusOK, types.RegisterChangeResponse{
		Success:   true,
		Message:   "Change registered",
		ChangeID:  id,
		Timestamp: now,
	})
}

// GetChanges handles GET /api/sync in hub mode. ?since= is a strict cursor:
// only records newer than it are returned. ?batchNumber= narrows to one
// batch. Results are newest first.
func (h *Handler) GetChanges(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since, expected RFC 3339")
			return
		}
		since = &parsed
	}

	batchNumber := r.URL.Query().Get("batchNumber")

	changes, err := h.changes.Query(r.Context(), since, batchNumber)
	if err != nil {
		h.writeServerError(w, "Failed to read changes", err)
		return
	}

	lastUpdate, err := h.changes.LastUpdate(r.Context())
	if err != nil {
		h.writeServerError(w, "Failed to read changes", err)
		return
	}

	writeJSON(w, http.StatusOK, types.ChangesResponse{
		Success:    true,
		LastUpdate: lastUpdate,
		Changes:    changes,
		Count:      len(changes),
	})
}

// SyncStatus handles GET /api/sync/status in local mode.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.SyncStatus(r.Context())
	if err != nil {
		h.writeServerError(w, "Failed to read sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TriggerSync handles POST /api/sync in local mode: it runs one drain cycle
// and reports what moved. A cycle already in flight yields 409; an
// unreachable remote is not an error, the queue just waits.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.drainer.Drain(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, fabsync.ErrDrainInProgress):
			writeError(w, http.StatusConflict, "Sync already in progress")
		case errors.Is(err, fabsync.ErrRemoteUnavailable):
			writeJSON(w, http.StatusOK, struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}{Success: false, Message: "Remote store unavailable, changes remain queued"})
		default:
			h.writeServerError(w, "Sync failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool                `json:"success"`
		Synced  int                 `json:"synced"`
		Failed  int                 `json:"failed"`
		Dead    int                 `json:"dead"`
		Errors  []fabsync.ItemError `json:"errors,omitempty"`
	}{
		Success: result.Failed == 0,
		Synced:  result.Synced,
		Failed:  result.Failed,
		Dead:    result.Dead,
		Errors:  result.Errors,
	})
}
