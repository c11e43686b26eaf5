package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fabriksoft/fabrikd/internal/store"
	"github.com/fabriksoft/fabrikd/internal/types"
)

type qualityData struct {
	BatchNumber string `json:"batchNumber"`
	types.QualityRecord
}

// UpdateQuality handles POST /api/quality. The stored record is a full
// replacement for the batch; a change entry is appended best-effort.
func (h *Handler) UpdateQuality(w http.ResponseWriter, r *http.Request) {
	var req types.QualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.BatchNumber == "" || req.Status == "" {
		writeError(w, http.StatusBadRequest, "Batch number and status are required")
		return
	}

	now := time.Now().UTC()
	rec := types.QualityRecord{
		Status:      req.Status,
		Notes:       req.Notes,
		CheckedBy:   req.CheckedBy,
		CheckedDate: now,
		UpdatedAt:   now,
	}

	if err := h.mirror.SetQuality(r.Context(), req.BatchNumber, rec); err != nil {
		slog.Error("quality update failed", "error", err, "batch_number", req.BatchNumber)
		h.writeServerError(w, "Failed to update quality status", err)
		return
	}

	h.appendChange(r.Context(), types.KindQuality, req.BatchNumber, rec, req.Source)

	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Message string      `json:"message"`
		Data    qualityData `json:"data"`
	}{
		Success: true,
		Message: "Quality status updated",
		Data:    qualityData{BatchNumber: req.BatchNumber, QualityRecord: rec},
	})
}

// GetQuality handles GET /api/quality. With ?batchNumber= it returns one
// batch (null when unknown); without it, the full map.
func (h *Handler) GetQuality(w http.ResponseWriter, r *http.Request) {
	batchNumber := r.URL.Query().Get("batchNumber")

	if batchNumber != "" {
		rec, err := h.mirror.Quality(r.Context(), batchNumber)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.writeServerError(w, "Failed to read quality status", err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success     bool                 `json:"success"`
			BatchNumber string               `json:"batchNumber"`
			Quality     *types.QualityRecord `json:"quality"`
		}{Success: true, BatchNumber: batchNumber, Quality: rec})
		return
	}

	all, err := h.mirror.QualityAll(r.Context())
	if err != nil {
		h.writeServerError(w, "Failed to read quality status", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool                           `json:"success"`
		Quality map[string]types.QualityRecord `json:"quality"`
	}{Success: true, Quality: all})
}

// appendChange records a mirror write in the change log. The append is
// best-effort: the mirror write already succeeded, so a change-log failure
// is logged and the request still succeeds.
func (h *Handler) appendChange(ctx context.Context, kind types.ChangeKind, batchNumber string, data any, source string) {
	if source == "" {
		source = "web"
	}

	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("change append skipped", "error", err, "batch_number", batchNumber)
		return
	}

	_, err = h.changes.Append(ctx, types.ChangeRecord{
		Kind:        kind,
		BatchNumber: batchNumber,
		Data:        raw,
		Source:      source,
	})
	if err != nil {
		slog.Warn("change append failed",
			"error", err,
			"kind", string(kind),
			"batch_number", batchNumber,
		)
	}
}
