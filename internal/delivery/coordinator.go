// Package delivery binds network input to the store: it is the only
// component that mutates durable state as a result of client or
// responder traffic.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/metrics"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/store"
)

// Broadcaster fans events out to live sessions. Implemented by hub.Hub.
type Broadcaster interface {
	BroadcastToAll(eventType string, payload any)
	BroadcastToOthers(originID string, eventType string, payload any)
}

// Coordinator orchestrates Store and Broadcaster. It performs no file
// or socket I/O of its own.
type Coordinator struct {
	store  store.Store
	bcast  Broadcaster
	logger zerolog.Logger

	// Serializes the append+enqueue pair so write-ahead ordering
	// (history first, then pending) holds across both transports.
	mu sync.Mutex
}

// New creates a coordinator.
func New(st store.Store, b Broadcaster, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  st,
		bcast:  b,
		logger: logger.With().Str("component", "delivery").Logger(),
	}
}

// AcceptUserMessage accepts a human-originated send from either
// transport: validates, appends to history, enqueues for the responder,
// and broadcasts the message to every session except the originator.
// The returned message is the acknowledgment payload; the caller
// delivers it (websocket ack or HTTP response body).
func (c *Coordinator) AcceptUserMessage(ctx context.Context, content, originSessionID string) (*models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	msg, err := c.store.Append(ctx, models.RoleUser, content)
	if err != nil {
		c.observeReject(err)
		return nil, err
	}

	if err := c.store.EnqueuePending(ctx, msg); err != nil {
		// History already holds the message; surface the queue failure
		// rather than hiding potential data loss.
		c.logger.Error().Err(err).Str("id", msg.ID).Msg("enqueue after append failed")
		return nil, err
	}
	metrics.StoreLatency.WithLabelValues("accept_user").Observe(time.Since(start).Seconds())

	transport := "http"
	if originSessionID != "" {
		transport = "ws"
	}
	metrics.MessagesAccepted.WithLabelValues(models.RoleUser, transport).Inc()
	c.refreshPendingDepth(ctx)

	c.logger.Info().Str("id", msg.ID).Str("transport", transport).Msg("user message accepted")

	// Second devices see the message without double-submission.
	c.bcast.BroadcastToOthers(originSessionID, models.EventChatMessage, models.MessagePayload{Message: *msg})
	c.bcast.BroadcastToAll(models.EventStatusUpdate, models.StatusPayload{Status: "awaiting-response"})

	return msg, nil
}

// AcceptResponse accepts a responder-originated send: validates,
// appends to history, clears the matching pending envelope when replyTo
// is set (idempotent), and broadcasts the response to all sessions.
func (c *Coordinator) AcceptResponse(ctx context.Context, content, replyTo string) (*models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.store.Append(ctx, models.RoleAssistant, content)
	if err != nil {
		c.observeReject(err)
		return nil, err
	}

	if replyTo != "" {
		if _, err := c.store.RemovePending(ctx, replyTo); err != nil {
			// The response is already durable; a failed dequeue only
			// means the responder may see the entry again.
			c.logger.Warn().Err(err).Str("reply_to", replyTo).Msg("pending removal failed")
		}
	}

	metrics.MessagesAccepted.WithLabelValues(models.RoleAssistant, "http").Inc()
	c.refreshPendingDepth(ctx)

	c.logger.Info().Str("id", msg.ID).Str("reply_to", replyTo).Msg("response accepted")

	c.bcast.BroadcastToAll(models.EventChatResponse, models.MessagePayload{Message: *msg})

	return msg, nil
}

// History is a read-only pass-through.
func (c *Coordinator) History(ctx context.Context, q store.HistoryQuery) (*store.HistoryPage, error) {
	return c.store.History(ctx, q)
}

// ClearHistory wipes the log and tells live sessions about it.
func (c *Coordinator) ClearHistory(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, err := c.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	c.refreshPendingDepth(ctx)
	c.bcast.BroadcastToAll(models.EventStatusUpdate, models.StatusPayload{Status: "history-cleared"})
	return count, nil
}

// Pending lists the handoff queue for the responder process.
func (c *Coordinator) Pending(ctx context.Context) ([]models.PendingEnvelope, error) {
	return c.store.ListPending(ctx)
}

// RemovePending removes a single envelope. Idempotent.
func (c *Coordinator) RemovePending(ctx context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.store.RemovePending(ctx, id)
	if err != nil {
		return 0, err
	}
	c.refreshPendingDepth(ctx)
	return removed, nil
}

// ClearPending empties the handoff queue.
func (c *Coordinator) ClearPending(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.store.ClearPending(ctx)
	if err != nil {
		return 0, err
	}
	c.refreshPendingDepth(ctx)
	return removed, nil
}

func (c *Coordinator) observeReject(err error) {
	switch {
	case errors.Is(err, models.ErrEmptyContent):
		metrics.MessagesRejected.WithLabelValues("empty").Inc()
	case errors.Is(err, models.ErrContentTooLong):
		metrics.MessagesRejected.WithLabelValues("too_long").Inc()
	default:
		metrics.MessagesRejected.WithLabelValues("io").Inc()
	}
}

func (c *Coordinator) refreshPendingDepth(ctx context.Context) {
	envelopes, err := c.store.ListPending(ctx)
	if err != nil {
		return
	}
	metrics.PendingDepth.Set(float64(len(envelopes)))
}
