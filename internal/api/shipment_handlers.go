package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fabriksoft/fabrikd/internal/store"
	"github.com/fabriksoft/fabrikd/internal/types"
)

type shipmentData struct {
	BatchNumber string `json:"batchNumber"`
	types.ShipmentRecord
}

// UpdateShipment handles POST /api/shipment. Shipped defaults to true and
// shippedDate to now, so marking a batch shipped only needs its number.
func (h *Handler) UpdateShipment(w http.ResponseWriter, r *http.Request) {
	var req types.ShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.BatchNumber == "" {
		writeError(w, http.StatusBadRequest, "Batch number is required")
		return
	}

	now := time.Now().UTC()

	shipped := true
	if req.Shipped != nil {
		shipped = *req.Shipped
	}

	shippedDate := now
	if req.ShippedDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.ShippedDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid shippedDate, expected RFC 3339")
			return
		}
		shippedDate = parsed
	}

	rec := types.ShipmentRecord{
		Shipped:     shipped,
		ShippedDate: shippedDate,
		ShippedBy:   req.ShippedBy,
		Notes:       req.Notes,
		UpdatedAt:   now,
	}

	if err := h.mirror.SetShipment(r.Context(), req.BatchNumber, rec); err != nil {
		slog.Error("shipment update failed", "error", err, "batch_number", req.BatchNumber)
		h.writeServerError(w, "Failed to update shipment status", err)
		return
	}

	h.appendChange(r.Context(), types.KindShipment, req.BatchNumber, rec, req.Source)

	writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		Data    shipmentData `json:"data"`
	}{
		Success: true,
		Message: "Shipment status updated",
		Data:    shipmentData{BatchNumber: req.BatchNumber, ShipmentRecord: rec},
	})
}

// GetShipment handles GET /api/shipment. With ?batchNumber= it returns one
// batch (null when unknown); without it, the full map.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	batchNumber := r.URL.Query().Get("batchNumber")

	if batchNumber != "" {
		rec, err := h.mirror.Shipment(r.Context(), batchNumber)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.writeServerError(w, "Failed to read shipment status", err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success     bool                  `json:"success"`
			BatchNumber string                `json:"batchNumber"`
			Shipment    *types.ShipmentRecord `json:"shipment"`
		}{Success: true, BatchNumber: batchNumber, Shipment: rec})
		return
	}

	all, err := h.mirror.ShipmentAll(r.Context())
	if err != nil {
		h.writeServerError(w, "Failed to read shipment status", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success   bool                            `json:"success"`
		Shipments map[string]types.ShipmentRecord `json:"shipments"`
	}{Success: true, Shipments: all})
}
