package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/store"
)

// SendRequest is the stateless send request body.
type SendRequest struct {
	Message string `json:"message"`
}

// SendResponse acknowledges an accepted send with the materialized
// message, including its assigned id.
type SendResponse struct {
	Success   bool           `json:"success"`
	Message   models.Message `json:"message"`
	Timestamp int64          `json:"timestamp"`
}

// HistoryResponse is the history read response.
type HistoryResponse struct {
	Messages []models.Message `json:"messages"`
	Total    int              `json:"total"`
	Returned int              `json:"returned"`
	HasMore  bool             `json:"has_more"`
}

// ClearResponse reports a destructive operation's effect.
type ClearResponse struct {
	Cleared int64 `json:"cleared"`
}

// Send handles the stateless fallback transport for user sends.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.coord.AcceptUserMessage(r.Context(), req.Message, "")
	if err != nil {
		if status, text, ok := h.validationStatus(err); ok {
			h.Error(w, status, text)
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	h.JSON(w, http.StatusCreated, SendResponse{
		Success:   true,
		Message:   *msg,
		Timestamp: time.Now().UnixMilli(),
	})
}

// History handles windowed history reads.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := store.HistoryQuery{
		BeforeID: r.URL.Query().Get("before"),
		AfterID:  r.URL.Query().Get("after"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	page, err := h.coord.History(r.Context(), q)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	messages := page.Messages
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, HistoryResponse{
		Messages: messages,
		Total:    page.Total,
		Returned: len(messages),
		HasMore:  page.HasMore,
	})
}

// ClearHistory handles the explicit user-triggered history reset.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	count, err := h.coord.ClearHistory(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	h.JSON(w, http.StatusOK, ClearResponse{Cleared: count})
}
