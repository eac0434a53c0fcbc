// Package hub tracks live websocket sessions and mediates fan-out.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/metrics"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

// Dispatcher accepts user sends on behalf of the hub. Implemented by
// the delivery coordinator.
type Dispatcher interface {
	AcceptUserMessage(ctx context.Context, content, originSessionID string) (*models.Message, error)
}

// Hub owns the set of currently-open sessions. Created once at server
// start and injected into the websocket handler; tests create their own
// instances.
type Hub struct {
	logger         zerolog.Logger
	allowedOrigins map[string]bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty hub. allowedOrigins may be nil to accept any
// Origin header.
func New(logger zerolog.Logger, allowedOrigins []string) *Hub {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		logger:         logger.With().Str("component", "hub").Logger(),
		allowedOrigins: origins,
		sessions:       make(map[string]*Session),
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	h.logger.Info().Str("session_id", s.ID).Int("total", n).Msg("session opened")

	s.Send(models.EventConnected, models.ConnectedPayload{SessionID: s.ID})
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	n := len(h.sessions)
	h.mu.Unlock()

	s.close()
	metrics.SessionsActive.Set(float64(n))
	h.logger.Info().Str("session_id", s.ID).Int("total", n).Msg("session closed")
}

// BroadcastToAll serializes an event once and sends it to every open
// session. A failed session is dropped without aborting the rest.
func (h *Hub) BroadcastToAll(eventType string, payload any) {
	h.broadcast(eventType, payload, "")
}

// BroadcastToOthers sends to every open session except the origin.
func (h *Hub) BroadcastToOthers(originID string, eventType string, payload any) {
	h.broadcast(eventType, payload, originID)
}

func (h *Hub) broadcast(eventType string, payload any, skipID string) {
	env, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("broadcast payload marshal failed")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("broadcast envelope marshal failed")
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.ID != skipID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(eventType).Inc()

	for _, s := range targets {
		if !s.enqueue(data) {
			metrics.SessionsDropped.Inc()
			h.logger.Warn().Str("session_id", s.ID).Msg("dropping stalled session")
			h.unregister(s)
		}
	}
}

// broadcastRaw relays pre-serialized bytes to all sessions but the origin.
// Used for typing indicators, which pass through verbatim.
func (h *Hub) broadcastRaw(originID string, eventType string, data []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.ID != originID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(eventType).Inc()

	for _, s := range targets {
		if !s.enqueue(data) {
			metrics.SessionsDropped.Inc()
			h.unregister(s)
		}
	}
}

// ServeWS returns the websocket endpoint handler. Inbound sends are
// dispatched to d; everything else is hub-local.
func (h *Hub) ServeWS(d Dispatcher) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		s := newSession(uuid.New().String(), conn)
		h.register(s)
		go s.writePump()

		defer h.unregister(s)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("session_id", s.ID).Msg("websocket read error")
				}
				return
			}
			h.handleEnvelope(r.Context(), s, raw, d)
		}
	}
}

// handleEnvelope parses one inbound frame and dispatches it. Malformed
// or unknown input produces an error event for the sender only, never a
// broadcast; the connection stays open.
func (h *Hub) handleEnvelope(ctx context.Context, s *Session, raw []byte, d Dispatcher) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		s.Send(models.EventError, models.ErrorPayload{Error: "malformed envelope: expected {type, payload}"})
		return
	}

	switch env.Type {
	case models.EventChatMessage:
		var payload models.ChatMessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.Send(models.EventError, models.ErrorPayload{Error: "malformed chat:message payload"})
			return
		}

		msg, err := d.AcceptUserMessage(ctx, payload.Message, s.ID)
		if err != nil {
			s.Send(models.EventError, models.ErrorPayload{Error: acceptErrorText(err), Ref: payload.Ref})
			return
		}
		s.Send(models.EventChatAck, models.AckPayload{Message: *msg, Ref: payload.Ref})

	case models.EventChatTyping:
		// Relayed verbatim to everyone else.
		h.broadcastRaw(s.ID, models.EventChatTyping, raw)

	case models.EventPing:
		s.Send(models.EventPong, nil)

	default:
		s.Send(models.EventError, models.ErrorPayload{Error: "unknown event type: " + env.Type})
	}
}

func acceptErrorText(err error) string {
	switch {
	case errors.Is(err, models.ErrEmptyContent):
		return "message is empty"
	case errors.Is(err, models.ErrContentTooLong):
		return "message too long"
	default:
		return "failed to store message"
	}
}
