package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 需要真实 Redis，设置 QUEUE_TEST_REDIS_ADDR 后运行。
func TestRedisBackendPushPop(t *testing.T) {
	addr := os.Getenv("QUEUE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUEUE_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	prefix := "test:" + uuid.NewString()
	backend := NewRedisBackendWithClient(client, prefix)
	backend.pollTimeout = 100 * time.Millisecond
	t.Cleanup(func() {
		client.Del(context.Background(), backend.readyKey, backend.delayedKey)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := backend.Push(ctx, Envelope{ID: "later", Class: "c", AvailableAt: time.Now().Add(200 * time.Millisecond)}); err != nil {
		t.Fatalf("Push error: %v", err)
	}
	if err := backend.Push(ctx, Envelope{ID: "now", Class: "c"}); err != nil {
		t.Fatalf("Push error: %v", err)
	}

	first, err := backend.Pop(ctx)
	if err != nil || first.ID != "now" {
		t.Fatalf("expected immediate job, got %q %v", first.ID, err)
	}
	second, err := backend.Pop(ctx)
	if err != nil || second.ID != "later" {
		t.Fatalf("expected delayed job, got %q %v", second.ID, err)
	}
}

func TestRedisBackendKeys(t *testing.T) {
	t.Parallel()

	b := NewRedisBackendWithClient(nil, "")
	if b.readyKey != "listing-desk:jobs:ready" || b.delayedKey != "listing-desk:jobs:delayed" {
		t.Fatalf("unexpected keys %s %s", b.readyKey, b.delayedKey)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close on borrowed client must be a no-op: %v", err)
	}
}
