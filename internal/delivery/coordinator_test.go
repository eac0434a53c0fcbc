package delivery

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/store"
)

type broadcastCall struct {
	eventType string
	originID  string
	toAll     bool
	payload   any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) BroadcastToAll(eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{eventType: eventType, toAll: true, payload: payload})
}

func (f *fakeBroadcaster) BroadcastToOthers(originID, eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{eventType: eventType, originID: originID, payload: payload})
}

func (f *fakeBroadcaster) byType(eventType string) []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastCall
	for _, c := range f.calls {
		if c.eventType == eventType {
			out = append(out, c)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, store.Store, *fakeBroadcaster) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	bcast := &fakeBroadcaster{}
	return New(st, bcast, zerolog.Nop()), st, bcast
}

func TestAcceptUserMessagePersistsBeforeQueueing(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	msg, err := coord.AcceptUserMessage(ctx, "hello", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, models.RoleUser, msg.Role)

	// Both the history entry and the queue envelope exist, and the
	// envelope points at the history row.
	page, err := st.History(ctx, store.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, msg.ID, page.Messages[0].ID)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, msg.ID, pending[0].Message.ID)
}

func TestAcceptUserMessageFanOut(t *testing.T) {
	coord, _, bcast := newTestCoordinator(t)

	msg, err := coord.AcceptUserMessage(context.Background(), "hello", "sess-1")
	require.NoError(t, err)

	// The message copy excludes the originator; the status update does not.
	copies := bcast.byType(models.EventChatMessage)
	require.Len(t, copies, 1)
	require.Equal(t, "sess-1", copies[0].originID)
	require.False(t, copies[0].toAll)
	require.Equal(t, msg.ID, copies[0].payload.(models.MessagePayload).Message.ID)

	statuses := bcast.byType(models.EventStatusUpdate)
	require.Len(t, statuses, 1)
	require.True(t, statuses[0].toAll)
	require.Equal(t, "awaiting-response", statuses[0].payload.(models.StatusPayload).Status)
}

func TestAcceptUserMessageRejectsInvalid(t *testing.T) {
	coord, st, bcast := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.AcceptUserMessage(ctx, "", "sess-1")
	require.ErrorIs(t, err, models.ErrEmptyContent)

	// Nothing persisted, nothing broadcast.
	page, err := st.History(ctx, store.HistoryQuery{})
	require.NoError(t, err)
	require.Empty(t, page.Messages)
	require.Empty(t, bcast.calls)
}

func TestAcceptResponseClearsPending(t *testing.T) {
	coord, st, bcast := newTestCoordinator(t)
	ctx := context.Background()

	question, err := coord.AcceptUserMessage(ctx, "what time is it", "")
	require.NoError(t, err)

	reply, err := coord.AcceptResponse(ctx, "half past nine", question.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleAssistant, reply.Role)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Responses reach every session, originator included.
	responses := bcast.byType(models.EventChatResponse)
	require.Len(t, responses, 1)
	require.True(t, responses[0].toAll)
	require.Equal(t, reply.ID, responses[0].payload.(models.MessagePayload).Message.ID)
}

func TestAcceptResponseUnknownReplyToIsNotFatal(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	reply, err := coord.AcceptResponse(ctx, "unprompted", "01JUNKNOWNID")
	require.NoError(t, err)

	page, err := st.History(ctx, store.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, reply.ID, page.Messages[0].ID)
}

func TestAcceptResponseWithoutReplyToKeepsQueue(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.AcceptUserMessage(ctx, "still waiting", "")
	require.NoError(t, err)

	_, err = coord.AcceptResponse(ctx, "a broadcast, not an answer", "")
	require.NoError(t, err)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestClearHistoryBroadcastsStatus(t *testing.T) {
	coord, _, bcast := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.AcceptUserMessage(ctx, "soon gone", "")
	require.NoError(t, err)

	cleared, err := coord.ClearHistory(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, cleared)

	statuses := bcast.byType(models.EventStatusUpdate)
	require.Equal(t, "history-cleared", statuses[len(statuses)-1].payload.(models.StatusPayload).Status)
}

func TestOrderingUnderConcurrentSends(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.AcceptUserMessage(ctx, "concurrent", "")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	page, err := coord.History(ctx, store.HistoryQuery{Limit: n})
	require.NoError(t, err)
	require.Len(t, page.Messages, n)
	for i := 1; i < n; i++ {
		require.Less(t, page.Messages[i-1].ID, page.Messages[i].ID)
	}
}
