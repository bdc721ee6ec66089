package segmentation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisCache_PutGet(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client)
	ctx := context.Background()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	if _, ok := cache.Get(ctx, "miss"); ok {
		t.Error("Get() on empty cache should miss")
	}

	cache.Put(ctx, "deadbeef", ids, time.Minute)
	got, ok := cache.Get(ctx, "deadbeef")
	if !ok {
		t.Fatal("Get() after Put() should hit")
	}
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Errorf("Get() = %v, want %v", got, ids)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := cache.Get(ctx, "deadbeef"); ok {
		t.Error("Get() after TTL expiry should miss")
	}
}

func TestRedisCache_UnavailableIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	cache := NewRedisCache(client)
	if _, ok := cache.Get(context.Background(), "any"); ok {
		t.Error("Get() against a down Redis should miss, not error")
	}
	// Put against a down Redis is a silent no-op.
	cache.Put(context.Background(), "any", []uuid.UUID{uuid.New()}, time.Minute)
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	ids := []uuid.UUID{uuid.New()}

	cache.Put(ctx, "k", ids, 10*time.Millisecond)
	if got, ok := cache.Get(ctx, "k"); !ok || len(got) != 1 {
		t.Fatalf("Get() = (%v, %v), want fresh entry", got, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("Get() after expiry should miss")
	}
}
