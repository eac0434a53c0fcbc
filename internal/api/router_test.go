package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/api"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/delivery"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/handlers"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/hub"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/store"
)

func newTestServer(t *testing.T, responderToken string) *httptest.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	h := hub.New(zerolog.Nop(), nil)
	coord := delivery.New(st, h, zerolog.Nop())

	router, err := api.NewRouter(api.Deps{
		Logger:         zerolog.Nop(),
		Store:          st,
		Hub:            h,
		Coordinator:    coord,
		ResponderToken: responderToken,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSendAndHistoryRoundTrip(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: "hello there"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sent handlers.SendResponse
	decode(t, resp, &sent)
	require.True(t, sent.Success)
	require.NotEmpty(t, sent.Message.ID)
	require.Equal(t, models.RoleUser, sent.Message.Role)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hist handlers.HistoryResponse
	decode(t, resp, &hist)
	require.Equal(t, 1, hist.Total)
	require.Len(t, hist.Messages, 1)
	require.Equal(t, sent.Message.ID, hist.Messages[0].ID)
	require.False(t, hist.HasMore)
}

func TestSendValidation(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	long := strings.Repeat("x", models.MaxContentLength+1)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: long})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	require.Contains(t, body["error"], "5000")
}

func TestSendRejectsNonJSONContentType(t *testing.T) {
	srv := newTestServer(t, "")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat/send", strings.NewReader("message=hi"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHistoryPagination(t *testing.T) {
	srv := newTestServer(t, "")

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: fmt.Sprintf("m%d", i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var sent handlers.SendResponse
		decode(t, resp, &sent)
		ids = append(ids, sent.Message.ID)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/chat/history?limit=2", "", nil)
	var page handlers.HistoryResponse
	decode(t, resp, &page)
	require.Equal(t, 2, page.Returned)
	require.True(t, page.HasMore)
	require.Equal(t, ids[5], page.Messages[1].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/history?after="+ids[3], "", nil)
	decode(t, resp, &page)
	require.Equal(t, 2, page.Returned)
	require.Equal(t, ids[4], page.Messages[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/history?limit=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearHistory(t *testing.T) {
	srv := newTestServer(t, "")

	doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: "ephemeral"})

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/chat/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared handlers.ClearResponse
	decode(t, resp, &cleared)
	require.EqualValues(t, 1, cleared.Cleared)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/history", "", nil)
	var page handlers.HistoryResponse
	decode(t, resp, &page)
	require.Zero(t, page.Total)
	require.NotNil(t, page.Messages)
}

func TestRespondDrainsPending(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: "anyone home?"})
	var sent handlers.SendResponse
	decode(t, resp, &sent)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/pending", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending handlers.PendingResponse
	decode(t, resp, &pending)
	require.Equal(t, 1, pending.Count)
	require.Equal(t, sent.Message.ID, pending.Pending[0].Message.ID)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chat/respond", "", handlers.RespondRequest{
		Message: "yes, hello",
		ReplyTo: sent.Message.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reply handlers.RespondResponse
	decode(t, resp, &reply)
	require.Equal(t, models.RoleAssistant, reply.Message.Role)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/pending", "", nil)
	decode(t, resp, &pending)
	require.Zero(t, pending.Count)
	require.NotNil(t, pending.Pending)
}

func TestRemovePendingIdempotent(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/send", "", handlers.SendRequest{Message: "queued"})
	var sent handlers.SendResponse
	decode(t, resp, &sent)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/chat/pending/"+sent.Message.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var removed handlers.RemovedResponse
	decode(t, resp, &removed)
	require.EqualValues(t, 1, removed.Removed)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/chat/pending/"+sent.Message.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &removed)
	require.Zero(t, removed.Removed)
}

func TestResponderSurfaceRequiresToken(t *testing.T) {
	srv := newTestServer(t, "sekrit")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/chat/pending", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/pending", "wrong", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/pending", "sekrit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The user surface stays open.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/chat/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}
