package skipper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryState tracks a transcript entry through its delivery lifecycle.
type EntryState string

const (
	// EntryPending: accepted locally, not yet transmitted.
	EntryPending EntryState = "pending"
	// EntrySent: transmitted, awaiting server confirmation.
	EntrySent EntryState = "sent"
	// EntryDelivered: server-confirmed with a durable id.
	EntryDelivered EntryState = "delivered"
	// EntryFailed: all transports exhausted; eligible for Retry.
	EntryFailed EntryState = "failed"
)

// Entry is one transcript line: a message plus its delivery state. For
// locally originated messages Ref carries the provisional id until the
// server confirms. Err holds the cause while State is EntryFailed.
type Entry struct {
	Message Message
	State   EntryState
	Ref     string
	Err     error
}

// ErrAckTimeout means the live session accepted the write but no
// confirmation arrived in time.
var ErrAckTimeout = errors.New("ack timeout")

// ErrNotRetryable is returned by Retry for entries that are not failed.
var ErrNotRetryable = errors.New("entry is not in a failed state")

// ErrRejected means the server refused the message outright; retrying
// the same content will not help.
var ErrRejected = errors.New("message rejected")

const (
	defaultAckTimeout   = 3 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Reconciler merges optimistic local sends with server-confirmed state
// into a single ordered transcript. Sends go websocket-first with an
// HTTP fallback; while the socket is down it polls history forward from
// the last confirmed id so nothing is missed and nothing shows twice.
type Reconciler struct {
	client *Client
	socket *Socket

	AckTimeout   time.Duration
	PollInterval time.Duration

	mu            sync.Mutex
	entries       []Entry
	byID          map[string]int // server id -> entries index
	byRef         map[string]int // provisional ref -> entries index
	acks          map[string]chan ackResult
	lastConfirmed string // highest confirmed id; ids sort chronologically
	sessionID     string
	status        string

	updates chan struct{}
}

// NewReconciler wires a reconciler over both transports. Call Run to
// start consuming socket events.
func NewReconciler(client *Client, socket *Socket) *Reconciler {
	return &Reconciler{
		client:       client,
		socket:       socket,
		AckTimeout:   defaultAckTimeout,
		PollInterval: defaultPollInterval,
		byID:         make(map[string]int),
		byRef:        make(map[string]int),
		acks:         make(map[string]chan ackResult),
		updates:      make(chan struct{}, 1),
	}
}

// Updates signals that the transcript changed. Coalesced: one pending
// notification at most.
func (r *Reconciler) Updates() <-chan struct{} {
	return r.updates
}

// Entries returns a snapshot of the transcript.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Status returns the most recent server status update, if any.
func (r *Reconciler) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Submit accepts a user message, shows it immediately as pending, and
// delivers it in the background. Returns the provisional ref.
func (r *Reconciler) Submit(ctx context.Context, content string) string {
	ref := "local-" + uuid.NewString()

	r.mu.Lock()
	r.byRef[ref] = len(r.entries)
	r.entries = append(r.entries, Entry{
		Message: Message{
			ID:        ref,
			Role:      RoleUser,
			Content:   content,
			CreatedAt: time.Now().UnixMilli(),
		},
		State: EntryPending,
		Ref:   ref,
	})
	r.mu.Unlock()
	r.notify()

	go r.deliver(ctx, ref, content)
	return ref
}

// Retry re-delivers a failed entry in place.
func (r *Reconciler) Retry(ctx context.Context, ref string) error {
	r.mu.Lock()
	idx, ok := r.byRef[ref]
	if !ok || r.entries[idx].State != EntryFailed {
		r.mu.Unlock()
		return ErrNotRetryable
	}
	r.entries[idx].State = EntryPending
	r.entries[idx].Err = nil
	content := r.entries[idx].Message.Content
	r.mu.Unlock()
	r.notify()

	go r.deliver(ctx, ref, content)
	return nil
}

// deliver pushes one message through: live session first, falling back
// to the stateless transport when the session is down or the ack never
// arrives. Either path ends in a confirmed or failed entry.
func (r *Reconciler) deliver(ctx context.Context, ref, content string) {
	handled, timedOut := r.trySocket(ctx, ref, content)
	if handled {
		return
	}

	msg, err := r.client.Send(ctx, content)
	if err != nil {
		if timedOut {
			err = errors.Join(ErrAckTimeout, err)
		}
		r.markFailed(ref, err)
		return
	}
	r.confirm(ref, *msg)
}

// ackResult resolves one in-flight socket send: either the server's
// materialized message or its rejection.
type ackResult struct {
	msg Message
	err error
}

// trySocket attempts delivery over the live session. handled means the
// entry reached a final state here; timedOut means the write went out
// but no ack came back before the deadline.
func (r *Reconciler) trySocket(ctx context.Context, ref, content string) (handled, timedOut bool) {
	ackCh := make(chan ackResult, 1)
	r.mu.Lock()
	r.acks[ref] = ackCh
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.acks, ref)
		r.mu.Unlock()
	}()

	if !r.socket.Send(content, ref) {
		return false, false
	}
	r.setState(ref, EntrySent)

	timer := time.NewTimer(r.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ackCh:
		if res.err != nil {
			// The server refused the content; the fallback would only
			// hear the same answer.
			r.markFailed(ref, res.err)
			return true, false
		}
		r.confirm(ref, res.msg)
		return true, false
	case <-timer.C:
		// Ack lost or late. The fallback send may duplicate the message
		// server-side only if the socket write actually landed and the
		// ack alone was lost; ingest dedup by id keeps the transcript
		// clean either way.
		return false, true
	case <-ctx.Done():
		r.markFailed(ref, ctx.Err())
		return true, false
	}
}

// Run consumes socket events and polls history while disconnected. It
// returns when ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-r.socket.Events():
			if !ok {
				return
			}
			r.handleEvent(env)

		case <-ticker.C:
			if r.socket.State() == StateConnected {
				continue
			}
			r.catchUp(ctx)
		}
	}
}

func (r *Reconciler) handleEvent(env Envelope) {
	switch env.Type {
	case EventConnected:
		var p ConnectedPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			r.mu.Lock()
			r.sessionID = p.SessionID
			r.mu.Unlock()
		}
		// Events broadcast during the outage are gone; the history gap
		// since the last confirmed id fills them in.
		r.catchUp(context.Background())

	case EventChatAck:
		var p AckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		r.mu.Lock()
		ackCh, waiting := r.acks[p.Ref]
		r.mu.Unlock()
		if waiting {
			select {
			case ackCh <- ackResult{msg: p.Message}:
			default:
			}
			return
		}
		// Late ack after the fallback already ran.
		r.confirm(p.Ref, p.Message)

	case EventError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Ref == "" {
			return
		}
		// Fail the rejected send now instead of waiting out the ack
		// timer and an HTTP round trip that would hear the same answer.
		r.mu.Lock()
		ackCh, waiting := r.acks[p.Ref]
		r.mu.Unlock()
		if waiting {
			select {
			case ackCh <- ackResult{err: fmt.Errorf("%w: %s", ErrRejected, p.Error)}:
			default:
			}
		}

	case EventChatMessage, EventChatResponse:
		var p MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		r.ingest(p.Message, false)

	case EventStatusUpdate:
		var p StatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		r.mu.Lock()
		r.status = p.Status
		r.mu.Unlock()
		r.notify()
	}
}

// catchUp pulls everything confirmed after the last known id.
func (r *Reconciler) catchUp(ctx context.Context) {
	r.mu.Lock()
	after := r.lastConfirmed
	r.mu.Unlock()

	for {
		page, err := r.client.History(ctx, 0, "", after)
		if err != nil {
			return
		}
		for _, msg := range page.Messages {
			r.ingest(msg, true)
			after = msg.ID
		}
		if !page.HasMore || len(page.Messages) == 0 {
			return
		}
	}
}

// confirm replaces the provisional entry in place with the server's
// materialized message. The entry keeps its transcript position.
func (r *Reconciler) confirm(ref string, msg Message) {
	r.mu.Lock()
	idx, ok := r.byRef[ref]
	if !ok {
		r.mu.Unlock()
		r.ingest(msg, false)
		return
	}
	if _, seen := r.byID[msg.ID]; seen && r.byID[msg.ID] != idx {
		// Already ingested via broadcast or polling; drop the provisional
		// duplicate by collapsing it onto the confirmed entry.
		r.removeAt(idx)
		r.mu.Unlock()
		r.notify()
		return
	}
	r.entries[idx].Message = msg
	r.entries[idx].State = EntryDelivered
	r.entries[idx].Err = nil
	r.byID[msg.ID] = idx
	r.advanceConfirmed(msg.ID)
	r.mu.Unlock()
	r.notify()
}

// ingest adds a server-confirmed message, deduplicating by id.
// adoptLocal additionally lets a history-polled copy of an unconfirmed
// local send replace its provisional entry. Broadcast frames must never
// set it: a broadcast is by construction another session's send, and
// adopting one would swallow that message for good once the local ack
// lands.
func (r *Reconciler) ingest(msg Message, adoptLocal bool) {
	r.mu.Lock()
	if _, seen := r.byID[msg.ID]; seen {
		r.advanceConfirmed(msg.ID)
		r.mu.Unlock()
		return
	}

	if adoptLocal && msg.Role == RoleUser {
		for i := range r.entries {
			e := &r.entries[i]
			if e.Ref != "" && e.State != EntryDelivered && e.State != EntryFailed && e.Message.Content == msg.Content {
				e.Message = msg
				e.State = EntryDelivered
				r.byID[msg.ID] = i
				r.advanceConfirmed(msg.ID)
				r.mu.Unlock()
				r.notify()
				return
			}
		}
	}

	r.byID[msg.ID] = len(r.entries)
	r.entries = append(r.entries, Entry{Message: msg, State: EntryDelivered})
	r.advanceConfirmed(msg.ID)
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) setState(ref string, state EntryState) {
	r.mu.Lock()
	if idx, ok := r.byRef[ref]; ok && r.entries[idx].State != EntryDelivered {
		r.entries[idx].State = state
		if state != EntryFailed {
			r.entries[idx].Err = nil
		}
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) markFailed(ref string, cause error) {
	r.mu.Lock()
	if idx, ok := r.byRef[ref]; ok && r.entries[idx].State != EntryDelivered {
		r.entries[idx].State = EntryFailed
		r.entries[idx].Err = cause
	}
	r.mu.Unlock()
	r.notify()
}

// advanceConfirmed tracks the poll cursor. Ids sort chronologically, so
// a plain string comparison suffices. Caller holds the lock.
func (r *Reconciler) advanceConfirmed(id string) {
	if id > r.lastConfirmed {
		r.lastConfirmed = id
	}
}

// removeAt drops one entry and reindexes. Caller holds the lock.
func (r *Reconciler) removeAt(idx int) {
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	for id, i := range r.byID {
		if i == idx {
			delete(r.byID, id)
		} else if i > idx {
			r.byID[id] = i - 1
		}
	}
	for ref, i := range r.byRef {
		if i == idx {
			delete(r.byRef, ref)
		} else if i > idx {
			r.byRef[ref] = i - 1
		}
	}
}

func (r *Reconciler) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
