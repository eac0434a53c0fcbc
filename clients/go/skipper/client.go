// Package skipper provides the Go client for the skipper chat relay:
// a stateless HTTP client, a reconnecting websocket, and a reconciler
// that merges optimistic local state with server-confirmed state.
package skipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the stateless HTTP client. It is the fallback transport
// when the websocket is down, and the primary transport for the
// responder process.
type Client struct {
	BaseURL    string
	Token      string // responder bearer token, optional
	HTTPClient *http.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = string(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// SendResult is the response to a stateless send.
type SendResult struct {
	Success   bool    `json:"success"`
	Message   Message `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

// Send submits a user message over the stateless transport and returns
// the materialized message synchronously.
func (c *Client) Send(ctx context.Context, message string) (*Message, error) {
	var result SendResult
	err := c.doRequest(ctx, http.MethodPost, "/api/chat/send", map[string]string{"message": message}, &result)
	if err != nil {
		return nil, err
	}
	return &result.Message, nil
}

// HistoryResult is a windowed history read.
type HistoryResult struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Returned int       `json:"returned"`
	HasMore  bool      `json:"has_more"`
}

// History fetches messages in chronological order. limit 0 means the
// server default; beforeID/afterID are exclusive cursors.
func (c *Client) History(ctx context.Context, limit int, beforeID, afterID string) (*HistoryResult, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		params.Set("before", beforeID)
	}
	if afterID != "" {
		params.Set("after", afterID)
	}

	path := "/api/chat/history"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var result HistoryResult
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearHistory wipes the server-side history and returns the count
// removed.
func (c *Client) ClearHistory(ctx context.Context) (int64, error) {
	var result struct {
		Cleared int64 `json:"cleared"`
	}
	if err := c.doRequest(ctx, http.MethodDelete, "/api/chat/history", nil, &result); err != nil {
		return 0, err
	}
	return result.Cleared, nil
}

// Pending lists the handoff queue. Responder-token guarded.
func (c *Client) Pending(ctx context.Context) ([]PendingEnvelope, error) {
	var result struct {
		Pending []PendingEnvelope `json:"pending"`
		Count   int               `json:"count"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/chat/pending", nil, &result); err != nil {
		return nil, err
	}
	return result.Pending, nil
}

// RemovePending removes one envelope by message id. Idempotent.
func (c *Client) RemovePending(ctx context.Context, id string) (int64, error) {
	var result struct {
		Removed int64 `json:"removed"`
	}
	if err := c.doRequest(ctx, http.MethodDelete, "/api/chat/pending/"+url.PathEscape(id), nil, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}

// ClearPending empties the handoff queue.
func (c *Client) ClearPending(ctx context.Context) (int64, error) {
	var result struct {
		Removed int64 `json:"removed"`
	}
	if err := c.doRequest(ctx, http.MethodDelete, "/api/chat/pending", nil, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}

// Respond posts a responder message. replyTo, when set, acknowledges
// and removes the matching pending envelope.
func (c *Client) Respond(ctx context.Context, message, replyTo string) (*Message, error) {
	body := map[string]string{"message": message}
	if replyTo != "" {
		body["replyTo"] = replyTo
	}

	var result struct {
		Success bool    `json:"success"`
		Message Message `json:"message"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/chat/respond", body, &result); err != nil {
		return nil, err
	}
	return &result.Message, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
}
