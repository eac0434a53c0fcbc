package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/delivery"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	coord *delivery.Coordinator
	store store.Store
}

// New creates a Handler. The store is only used for health pings; all
// mutation goes through the coordinator.
func New(coord *delivery.Coordinator, st store.Store) *Handler {
	return &Handler{coord: coord, store: st}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// validationStatus maps a store/coordinator error to an HTTP response.
// Empty input is a plain bad request; over-length input is a 422 so
// clients can distinguish "fix your payload" from "shorten the text".
func (h *Handler) validationStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, models.ErrEmptyContent):
		return http.StatusBadRequest, "message is required", true
	case errors.Is(err, models.ErrContentTooLong):
		return http.StatusUnprocessableEntity, "message too long (max 5000 characters)", true
	default:
		return 0, "", false
	}
}
