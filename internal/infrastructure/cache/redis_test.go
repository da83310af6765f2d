package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis_Success(t *testing.T) {
	// Start in-memory Redis
	s := miniredis.RunT(t)
	defer s.Close()

	// Use a non-zero DB to verify it's set
	c, err := OpenRedis(s.Addr(), 2)
	if err != nil {
		t.Fatalf("OpenRedis returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	// Check the client actually works and uses the right DB
	if got := c.Options().DB; got != 2 {
		t.Fatalf("client DB = %d, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("SET err: %v", err)
	}
	v, err := c.Get(ctx, "k").Result()
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	if v != "v" {
		t.Fatalf("GET value = %q, want %q", v, "v")
	}
}

func TestOpenRedis_Failure(t *testing.T) {
	// Unresolvable host → Ping should fail immediately (no 5s delay)
	if _, err := OpenRedis("not-a-real-host:6379", 0); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestIdempotencyCache(t *testing.T) {
	s := miniredis.RunT(t)
	rdb, err := OpenRedis(s.Addr(), 0)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewIdempotencyCache(rdb, "")
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "checkout:k1"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "checkout:k1", []byte(`{"contract_id":"c1"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, "checkout:k1")
	if err != nil || !ok || string(v) != `{"contract_id":"c1"}` {
		t.Fatalf("hit: v=%s ok=%v err=%v", v, ok, err)
	}
	if ttl := s.TTL("bnpl:idem:checkout:k1"); ttl != 24*time.Hour {
		t.Fatalf("ttl = %v, want floor of 24h", ttl)
	}

	if err := c.Set(ctx, "checkout:k2", []byte("x"), 48*time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := s.TTL("bnpl:idem:checkout:k2"); ttl != 48*time.Hour {
		t.Fatalf("ttl = %v, want 48h", ttl)
	}

	s.Close()
	if _, _, err := c.Get(ctx, "checkout:k1"); err == nil {
		t.Fatal("expected error with redis down")
	}
}
