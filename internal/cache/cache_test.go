package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderSetNX(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()

	ok, err := c.SetNX(ctx, "replay:d:1", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, got %v %v", ok, err)
	}
	ok, _ = c.SetNX(ctx, "replay:d:1", []byte("2"), time.Minute)
	if ok {
		t.Fatalf("expected second SetNX to lose")
	}
	value, _ := c.Get(ctx, "replay:d:1")
	if string(value) != "1" {
		t.Fatalf("expected original value, got %q", value)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryProvider()
	c.clock = func() time.Time { return now }

	_ = c.Set(ctx, "k", []byte("v"), time.Second)
	_ = c.Set(ctx, "forever", []byte("v"), 0)
	now = now.Add(2 * time.Second)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	if ok, _ := c.SetNX(ctx, "k", []byte("w"), time.Second); !ok {
		t.Fatalf("expected SetNX to succeed on expired key")
	}
	now = now.Add(2 * time.Second)
	if dropped := c.Sweep(); dropped != 1 {
		t.Fatalf("expected 1 expired entry swept, got %d", dropped)
	}
	if _, err := c.Get(ctx, "forever"); err != nil {
		t.Fatalf("expected key without TTL to survive: %v", err)
	}
}

func TestMemoryProviderDel(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()
	_ = c.Set(ctx, "k", []byte("v"), 0)
	_ = c.Del(ctx, "k")
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestPrefixedProviderNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryProvider()
	a := WithPrefix(inner, "site-a:")
	b := WithPrefix(inner, "site-b:")

	if ok, _ := a.SetNX(ctx, "replay:d:1", []byte("1"), time.Minute); !ok {
		t.Fatalf("expected site-a to claim the key")
	}
	if ok, _ := b.SetNX(ctx, "replay:d:1", []byte("1"), time.Minute); !ok {
		t.Fatalf("expected site-b to be independent of site-a")
	}
	if _, err := inner.Get(ctx, "site-a:replay:d:1"); err != nil {
		t.Fatalf("expected prefixed key in the backing store: %v", err)
	}
	_ = a.Del(ctx, "replay:d:1")
	if _, err := a.Get(ctx, "replay:d:1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
	if WithPrefix(inner, "") != Provider(inner) {
		t.Fatalf("empty prefix should return the provider unchanged")
	}
}

func TestNewRedisProviderRequiresAddr(t *testing.T) {
	if _, err := NewRedisProvider(RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestNewRedisProviderFailsFast(t *testing.T) {
	_, err := NewRedisProvider(RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected ping failure against closed port")
	}
}
