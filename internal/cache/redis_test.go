package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(mr.Addr(), ttl)
	if err != nil {
		t.Fatalf("Failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func TestRedisCache_GetSet(t *testing.T) {
	c, _ := newTestRedisCache(t, time.Minute)
	ctx := context.Background()

	got, err := c.Get(ctx, "unknown")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Expected a miss for an unknown fingerprint")
	}

	build := &CachedBuild{Outputs: map[string]string{
		"index.html":   "/proj/index.html",
		"api/hello.js": "/proj/api/hello.js",
	}}
	if err := c.Set(ctx, "abc123", build); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err = c.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a hit")
	}
	if len(got.Outputs) != 2 || got.Outputs["index.html"] != "/proj/index.html" {
		t.Errorf("Unexpected cached outputs: %v", got.Outputs)
	}
}

func TestRedisCache_KeyPrefix(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "fp", &CachedBuild{Outputs: map[string]string{"a": "/a"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !mr.Exists("build:fp") {
		t.Errorf("Expected key build:fp, have %v", mr.Keys())
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Second)
	ctx := context.Background()

	if err := c.Set(ctx, "fp", &CachedBuild{Outputs: map[string]string{"a": "/a"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(2 * time.Second)

	got, err := c.Get(ctx, "fp")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Expected the entry to expire after the TTL")
	}
}

func TestRedisCache_CorruptValue(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Minute)

	mr.Set("build:bad", "{not json")

	if _, err := c.Get(context.Background(), "bad"); err == nil {
		t.Error("Expected an unmarshal error for a corrupt value")
	}
}

func TestNewRedisCache_ConnectionFailure(t *testing.T) {
	if _, err := NewRedisCache("127.0.0.1:1", time.Minute); err == nil {
		t.Error("Expected a connection error")
	}
}
