package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

const (
	historyKey = "chat:history"
	pendingKey = "chat:pending"
)

// RedisStore keeps history in a sorted set scored by creation time and
// the pending queue in a hash keyed by message id. Intended for
// deployments that already run Redis and can accept its persistence
// settings as the durability story; SQLite is the default otherwise.
//
// Cursor windowing resolves a ULID cursor to its embedded millisecond
// timestamp, so two messages created in the same millisecond are
// windowed together.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying connection for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() {
	s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Append validates and appends a message to history.
func (s *RedisStore) Append(ctx context.Context, role, content string) (*models.Message, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &models.Message{
		ID:        NewMessageID(now),
		Role:      role,
		Content:   content,
		CreatedAt: now.UnixMilli(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	err = s.client.ZAdd(ctx, historyKey, redis.Z{
		Score:  float64(msg.CreatedAt),
		Member: string(data),
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

// cursorScore converts a ULID cursor into an inclusive score bound; the
// exact cursor id is filtered out after fetch.
func cursorScore(id string) (string, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid cursor %q: %w", id, err)
	}
	return fmt.Sprintf("%d", parsed.Time()), nil
}

// decodeWindow unmarshals fetched members and applies the exclusive id
// cursor that the millisecond score bound cannot express.
func decodeWindow(raw []string, q HistoryQuery) []models.Message {
	messages := make([]models.Message, 0, len(raw))
	for _, data := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		if q.AfterID != "" && m.ID <= q.AfterID {
			continue
		}
		if q.BeforeID != "" && m.ID >= q.BeforeID {
			continue
		}
		messages = append(messages, m)
	}
	return messages
}

// History returns messages in chronological order, windowed by the query.
func (s *RedisStore) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	limit := normalizeLimit(q.Limit)

	total, err := s.client.ZCard(ctx, historyKey).Result()
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	minScore, maxScore := "-inf", "+inf"
	newestFirst := true
	switch {
	case q.AfterID != "":
		newestFirst = false
		bound, err := cursorScore(q.AfterID)
		if err != nil {
			return nil, err
		}
		minScore = bound
	case q.BeforeID != "":
		bound, err := cursorScore(q.BeforeID)
		if err != nil {
			return nil, err
		}
		maxScore = bound
	}

	fetch := func(count int64) ([]string, error) {
		rangeBy := &redis.ZRangeBy{Min: minScore, Max: maxScore, Count: count}
		if newestFirst {
			return s.client.ZRevRangeByScore(ctx, historyKey, rangeBy).Result()
		}
		return s.client.ZRangeByScore(ctx, historyKey, rangeBy).Result()
	}

	// The score bound is inclusive at millisecond granularity, so any
	// number of same-millisecond neighbors can sort on the cursor's
	// score and be filtered out by id below. Grow the fetch until the
	// window holds limit+1 survivors or the set is exhausted.
	count := int64(limit + 2)
	var messages []models.Message
	for {
		raw, err := fetch(count)
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		messages = decodeWindow(raw, q)
		if len(messages) > limit || len(raw) < int(count) {
			break
		}
		count *= 2
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if newestFirst {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return &HistoryPage{Messages: messages, Total: int(total), HasMore: hasMore}, nil
}

// Clear removes all history and the pending queue with it.
func (s *RedisStore) Clear(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, historyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, historyKey)
	pipe.Del(ctx, pendingKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return count, nil
}

// EnqueuePending adds a message to the handoff queue.
func (s *RedisStore) EnqueuePending(ctx context.Context, msg *models.Message) error {
	env := models.PendingEnvelope{Message: *msg, EnqueuedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, pendingKey, msg.ID, string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

// ListPending returns all queued envelopes in enqueue order.
func (s *RedisStore) ListPending(ctx context.Context) ([]models.PendingEnvelope, error) {
	raw, err := s.client.HGetAll(ctx, pendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	envelopes := make([]models.PendingEnvelope, 0, len(raw))
	for _, data := range raw {
		var env models.PendingEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			continue
		}
		envelopes = append(envelopes, env)
	}
	sort.Slice(envelopes, func(i, j int) bool {
		return envelopes[i].Message.ID < envelopes[j].Message.ID
	})
	return envelopes, nil
}

// RemovePending removes one envelope by message id. Idempotent.
func (s *RedisStore) RemovePending(ctx context.Context, id string) (int64, error) {
	removed, err := s.client.HDel(ctx, pendingKey, id).Result()
	if err != nil {
		return 0, fmt.Errorf("remove pending: %w", err)
	}
	return removed, nil
}

// ClearPending empties the handoff queue.
func (s *RedisStore) ClearPending(ctx context.Context) (int64, error) {
	count, err := s.client.HLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	if err := s.client.Del(ctx, pendingKey).Err(); err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	return count, nil
}
