package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, opts ...RedisStoreOption) (*RedisStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisStore(context.Background(), client, opts...)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, client
}

func TestRedisStoreAppend(t *testing.T) {
	store, client := newTestRedisStore(t)
	ctx := context.Background()

	rec := NewRecord(KindTransition, "u1", "s1", map[string]string{"from": "monitoring", "to": "elevated"})
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(ctx, NewRecord(KindSignal, "u2", "s2", nil)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	msgs, err := client.XRange(ctx, DefaultStreamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stream entries, got %d", len(msgs))
	}

	first := msgs[0].Values
	if first["kind"] != string(KindTransition) {
		t.Errorf("kind field = %v, want transition", first["kind"])
	}
	if first["user_id"] != "u1" {
		t.Errorf("user_id field = %v, want u1", first["user_id"])
	}

	body, ok := first["record"].(string)
	if !ok {
		t.Fatalf("record field should be a string, got %T", first["record"])
	}
	var decoded Record
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("record body should be JSON: %v", err)
	}
	if decoded.ID != rec.ID || decoded.Detail["to"] != "elevated" {
		t.Errorf("decoded record mismatch: %+v", decoded)
	}
}

func TestRedisStoreCustomKey(t *testing.T) {
	store, client := newTestRedisStore(t, WithStreamKey("audit:test"))
	ctx := context.Background()
	if err := store.Append(ctx, NewRecord(KindAction, "u1", "a1", nil)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	n, err := client.Exists(ctx, "audit:test").Result()
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if n != 1 {
		t.Error("record should land on the configured stream key")
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	if _, err := NewRedisStore(context.Background(), client); err == nil {
		t.Error("constructing against a dead redis should error")
	}
}
