package skipper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newOfflineReconciler(client *Client) *Reconciler {
	// A socket that is never dialed: Send always reports false, so every
	// delivery takes the HTTP fallback path.
	return NewReconciler(client, NewSocket(SocketConfig{URL: "ws://localhost:1/ws"}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func TestSubmitShowsPendingImmediately(t *testing.T) {
	// The server hangs, so the entry stays in flight.
	block := make(chan struct{})
	defer close(block)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	rec := newOfflineReconciler(NewClient(srv.URL))
	ref := rec.Submit(context.Background(), "optimistic")
	require.True(t, len(ref) > len("local-"))

	entries := rec.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, EntryPending, entries[0].State)
	require.Equal(t, ref, entries[0].Message.ID)
	require.Equal(t, "optimistic", entries[0].Message.Content)
}

func TestSubmitFallsBackToHTTPAndConfirmsInPlace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/send", r.URL.Path)
		var req struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SendResult{
			Success: true,
			Message: Message{ID: "01SERVERID", Role: RoleUser, Content: req.Message, CreatedAt: time.Now().UnixMilli()},
		})
	}))
	defer srv.Close()

	rec := newOfflineReconciler(NewClient(srv.URL))
	ref := rec.Submit(context.Background(), "over http")

	waitFor(t, func() bool {
		entries := rec.Entries()
		return len(entries) == 1 && entries[0].State == EntryDelivered
	})

	entries := rec.Entries()
	require.Equal(t, "01SERVERID", entries[0].Message.ID)
	require.Equal(t, ref, entries[0].Ref)
}

func TestSubmitFailureAndRetry(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"down"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SendResult{
			Success: true,
			Message: Message{ID: "01RETRYID", Role: RoleUser, Content: "take two", CreatedAt: time.Now().UnixMilli()},
		})
	}))
	defer srv.Close()

	rec := newOfflineReconciler(NewClient(srv.URL))
	ref := rec.Submit(context.Background(), "take two")

	waitFor(t, func() bool {
		e := rec.Entries()
		return len(e) == 1 && e[0].State == EntryFailed
	})
	require.Error(t, rec.Entries()[0].Err)

	// Retrying a non-failed entry is rejected.
	require.ErrorIs(t, rec.Retry(context.Background(), "no-such-ref"), ErrNotRetryable)

	healthy.Store(true)
	require.NoError(t, rec.Retry(context.Background(), ref))

	waitFor(t, func() bool {
		e := rec.Entries()
		return len(e) == 1 && e[0].State == EntryDelivered && e[0].Message.ID == "01RETRYID"
	})
}

func TestIngestDeduplicatesByID(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	msg := Message{ID: "01DUPID", Role: RoleAssistant, Content: "once", CreatedAt: 1}
	rec.ingest(msg, false)
	rec.ingest(msg, false)

	require.Len(t, rec.Entries(), 1)
}

func TestPolledCopyAdoptsInflightLocalEntry(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	// A local send whose confirmation was lost, then the same message
	// arrives via history polling.
	rec.mu.Lock()
	rec.byRef["local-abc"] = 0
	rec.entries = append(rec.entries, Entry{
		Message: Message{ID: "local-abc", Role: RoleUser, Content: "same words"},
		State:   EntrySent,
		Ref:     "local-abc",
	})
	rec.mu.Unlock()

	rec.ingest(Message{ID: "01POLLEDID", Role: RoleUser, Content: "same words", CreatedAt: 2}, true)

	entries := rec.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "01POLLEDID", entries[0].Message.ID)
	require.Equal(t, EntryDelivered, entries[0].State)
}

func TestBroadcastWithMatchingContentIsNotAdopted(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	rec.mu.Lock()
	rec.byRef["local-ok"] = 0
	rec.entries = append(rec.entries, Entry{
		Message: Message{ID: "local-ok", Role: RoleUser, Content: "ok"},
		State:   EntrySent,
		Ref:     "local-ok",
	})
	rec.mu.Unlock()

	// Another device sends the same text while ours is still in flight;
	// its broadcast copy must stay a distinct entry.
	peer, _ := json.Marshal(MessagePayload{
		Message: Message{ID: "01PEERID", Role: RoleUser, Content: "ok", CreatedAt: 5},
	})
	rec.handleEvent(Envelope{Type: EventChatMessage, Payload: peer})

	// Then our own ack lands.
	ack, _ := json.Marshal(AckPayload{
		Message: Message{ID: "01MINEID", Role: RoleUser, Content: "ok", CreatedAt: 6},
		Ref:     "local-ok",
	})
	rec.handleEvent(Envelope{Type: EventChatAck, Payload: ack})

	entries := rec.Entries()
	require.Len(t, entries, 2)
	require.ElementsMatch(t,
		[]string{"01PEERID", "01MINEID"},
		[]string{entries[0].Message.ID, entries[1].Message.ID},
	)
	for _, e := range entries {
		require.Equal(t, EntryDelivered, e.State)
	}
}

func TestServerErrorFailsInflightSendFast(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	ackCh := make(chan ackResult, 1)
	rec.mu.Lock()
	rec.acks["local-bad"] = ackCh
	rec.mu.Unlock()

	payload, _ := json.Marshal(ErrorPayload{Error: "message too long", Ref: "local-bad"})
	rec.handleEvent(Envelope{Type: EventError, Payload: payload})

	select {
	case res := <-ackCh:
		require.ErrorIs(t, res.err, ErrRejected)
		require.Contains(t, res.err.Error(), "message too long")
	default:
		t.Fatal("rejection never reached the in-flight send")
	}

	// An error without a ref answers no particular send and changes
	// nothing.
	payload, _ = json.Marshal(ErrorPayload{Error: "unknown event type: x"})
	rec.handleEvent(Envelope{Type: EventError, Payload: payload})
	require.Empty(t, rec.Entries())
}

func TestLateAckConfirms(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	rec.mu.Lock()
	rec.byRef["local-late"] = 0
	rec.entries = append(rec.entries, Entry{
		Message: Message{ID: "local-late", Role: RoleUser, Content: "slow ack"},
		State:   EntrySent,
		Ref:     "local-late",
	})
	rec.mu.Unlock()

	payload, _ := json.Marshal(AckPayload{
		Message: Message{ID: "01LATEID", Role: RoleUser, Content: "slow ack", CreatedAt: 3},
		Ref:     "local-late",
	})
	rec.handleEvent(Envelope{Type: EventChatAck, Payload: payload})

	entries := rec.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, EntryDelivered, entries[0].State)
	require.Equal(t, "01LATEID", entries[0].Message.ID)
}

func TestStatusUpdateSurfaces(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	payload, _ := json.Marshal(StatusPayload{Status: "awaiting-response"})
	rec.handleEvent(Envelope{Type: EventStatusUpdate, Payload: payload})

	require.Equal(t, "awaiting-response", rec.Status())
}

func TestResponseEventAppends(t *testing.T) {
	rec := newOfflineReconciler(NewClient("http://localhost:1"))

	payload, _ := json.Marshal(MessagePayload{
		Message: Message{ID: "01RESPID", Role: RoleAssistant, Content: "here you go", CreatedAt: 4},
	})
	rec.handleEvent(Envelope{Type: EventChatResponse, Payload: payload})

	entries := rec.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, RoleAssistant, entries[0].Message.Role)
	require.Equal(t, EntryDelivered, entries[0].State)
}

func TestCatchUpWalksForwardFromLastConfirmed(t *testing.T) {
	// Three messages; page size forces two requests.
	all := []Message{
		{ID: "01AAA", Role: RoleUser, Content: "one", CreatedAt: 1},
		{ID: "01BBB", Role: RoleAssistant, Content: "two", CreatedAt: 2},
		{ID: "01CCC", Role: RoleAssistant, Content: "three", CreatedAt: 3},
	}
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		after := r.URL.Query().Get("after")
		var window []Message
		for _, m := range all {
			if m.ID > after {
				window = append(window, m)
			}
		}
		hasMore := len(window) > 2
		if hasMore {
			window = window[:2]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(HistoryResult{
			Messages: window,
			Total:    len(all),
			Returned: len(window),
			HasMore:  hasMore,
		})
	}))
	defer srv.Close()

	rec := newOfflineReconciler(NewClient(srv.URL))
	rec.catchUp(context.Background())

	entries := rec.Entries()
	require.Len(t, entries, 3)
	for i, want := range []string{"01AAA", "01BBB", "01CCC"} {
		require.Equal(t, want, entries[i].Message.ID)
	}
	require.GreaterOrEqual(t, requests.Load(), int32(2))

	// A second pass starts past the tail and finds nothing new.
	rec.catchUp(context.Background())
	require.Len(t, rec.Entries(), 3)

	rec.mu.Lock()
	last := rec.lastConfirmed
	rec.mu.Unlock()
	require.Equal(t, "01CCC", last)
}
