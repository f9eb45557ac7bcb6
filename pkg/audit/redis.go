package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamKey is the Redis stream audit records are appended to.
const DefaultStreamKey = "beacon:audit"

// RedisStore appends audit records to a Redis stream. Streams give the
// audit trail an ordered, append-only shape that downstream compliance
// consumers read with XRANGE/XREAD.
type RedisStore struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithStreamKey overrides the stream key.
func WithStreamKey(key string) RedisStoreOption {
	return func(s *RedisStore) { s.streamKey = key }
}

// WithMaxLen caps the stream length (approximate trimming). Zero keeps
// the stream unbounded.
func WithMaxLen(n int64) RedisStoreOption {
	return func(s *RedisStore) { s.maxLen = n }
}

// NewRedisStore creates a store over an existing client and verifies
// connectivity.
func NewRedisStore(ctx context.Context, client *redis.Client, opts ...RedisStoreOption) (*RedisStore, error) {
	s := &RedisStore{client: client, streamKey: DefaultStreamKey}
	for _, opt := range opts {
		opt(s)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return s, nil
}

// Append adds the record to the stream. The record body travels as one
// JSON field so the schema can evolve without changing stream fields.
func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]interface{}{
			"kind":    string(rec.Kind),
			"user_id": rec.UserID,
			"record":  string(body),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
