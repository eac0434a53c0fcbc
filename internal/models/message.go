package models

import (
	"errors"
	"strings"
)

// Roles for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxContentLength is the maximum accepted message length in bytes.
const MaxContentLength = 5000

// Validation errors returned before anything is persisted.
var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

// Message is a chat message. Immutable once stored.
type Message struct {
	ID        string `json:"id"`         // ULID, lexicographically time-sortable
	Role      string `json:"role"`       // "user" or "assistant"
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"` // Unix ms
}

// PendingEnvelope wraps a user message awaiting consumption by the
// out-of-band responder process.
type PendingEnvelope struct {
	Message    Message `json:"message"`
	EnqueuedAt int64   `json:"enqueued_at"` // Unix ms
}

// ValidateContent checks a message body against the acceptance rules.
// The trimmed text must be non-empty and the raw text at most
// MaxContentLength bytes.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
