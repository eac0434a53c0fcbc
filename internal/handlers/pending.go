package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

// PendingResponse lists the handoff queue for the responder process.
type PendingResponse struct {
	Pending []models.PendingEnvelope `json:"pending"`
	Count   int                      `json:"count"`
}

// RemovedResponse reports how many envelopes a removal affected.
// Removal is idempotent, so removed may be zero.
type RemovedResponse struct {
	Removed int64 `json:"removed"`
}

// RespondRequest is the responder's reply. ReplyTo, when set, names the
// pending envelope this reply acknowledges.
type RespondRequest struct {
	Message string `json:"message"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// RespondResponse confirms a persisted responder message.
type RespondResponse struct {
	Success bool           `json:"success"`
	Message models.Message `json:"message"`
}

// Pending handles the responder's poll of the handoff queue.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	envelopes, err := h.coord.Pending(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read pending queue")
		return
	}
	if envelopes == nil {
		envelopes = []models.PendingEnvelope{}
	}
	h.JSON(w, http.StatusOK, PendingResponse{Pending: envelopes, Count: len(envelopes)})
}

// RemovePending handles single-envelope removal by id.
func (h *Handler) RemovePending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.coord.RemovePending(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to remove pending entry")
		return
	}
	h.JSON(w, http.StatusOK, RemovedResponse{Removed: removed})
}

// ClearPending handles bulk removal of the handoff queue.
func (h *Handler) ClearPending(w http.ResponseWriter, r *http.Request) {
	removed, err := h.coord.ClearPending(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to clear pending queue")
		return
	}
	h.JSON(w, http.StatusOK, RemovedResponse{Removed: removed})
}

// Respond handles a responder-originated message.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.coord.AcceptResponse(r.Context(), req.Message, req.ReplyTo)
	if err != nil {
		if status, text, ok := h.validationStatus(err); ok {
			h.Error(w, status, text)
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to store response")
		return
	}

	h.JSON(w, http.StatusCreated, RespondResponse{Success: true, Message: *msg})
}
