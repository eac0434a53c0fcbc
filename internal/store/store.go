package store

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

// History pagination bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryQuery windows a history read. BeforeID and AfterID are exclusive
// ULID cursors; ULIDs sort lexicographically in creation order.
type HistoryQuery struct {
	Limit    int
	BeforeID string
	AfterID  string
}

// HistoryPage is the result of a history read, in chronological order.
type HistoryPage struct {
	Messages []models.Message
	Total    int
	HasMore  bool
}

// Store is the durable message store: an append-only history plus a
// separate pending handoff queue for the out-of-band responder.
//
// Concurrency contract: implementations are safe for concurrent use.
// Callers that need write-ahead ordering between Append and
// EnqueuePending (persist history first, then enqueue) must serialize
// the pair themselves; the Delivery Coordinator does.
//
// Failure semantics: I/O errors are returned to the caller and never
// retried internally. Validation failures on Append wrap
// models.ErrEmptyContent or models.ErrContentTooLong.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	// Append validates content, assigns a ULID and timestamp, and
	// durably appends to history.
	Append(ctx context.Context, role, content string) (*models.Message, error)
	History(ctx context.Context, q HistoryQuery) (*HistoryPage, error)
	Clear(ctx context.Context) (int64, error)

	// Pending queue. Every enqueued envelope corresponds to a message
	// already present in history. RemovePending is idempotent: removing
	// an unknown id affects zero rows and is not an error.
	EnqueuePending(ctx context.Context, msg *models.Message) error
	ListPending(ctx context.Context) ([]models.PendingEnvelope, error)
	RemovePending(ctx context.Context, id string) (int64, error)
	ClearPending(ctx context.Context) (int64, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a ULID for the given creation time. Monotonic
// within this process so ids assigned in the same millisecond still
// sort in acceptance order.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// normalizeLimit applies the default and hard cap to a requested limit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
