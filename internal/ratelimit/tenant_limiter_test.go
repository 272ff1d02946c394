package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, capacity int, refill float64) *TenantLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewTenantLimiter(client, capacity, refill, time.Minute)
}

func TestAllowExhaustsBucket(t *testing.T) {
	l := newTestLimiter(t, 2, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := l.Allow(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be within capacity", i)
		}
	}

	allowed, tokens, err := l.Allow(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("third request should exceed capacity")
	}
	if tokens >= 1 {
		t.Fatalf("expected empty bucket, got %.2f tokens", tokens)
	}
}

func TestTenantsIsolated(t *testing.T) {
	l := newTestLimiter(t, 1, 0)
	ctx := context.Background()

	if allowed, _, _ := l.Allow(ctx, "tenant-a"); !allowed {
		t.Fatal("tenant-a first request should pass")
	}
	if allowed, _, _ := l.Allow(ctx, "tenant-a"); allowed {
		t.Fatal("tenant-a second request should be rejected")
	}
	if allowed, _, _ := l.Allow(ctx, "tenant-b"); !allowed {
		t.Fatal("tenant-b has its own bucket")
	}
}

func TestBucketRefills(t *testing.T) {
	l := newTestLimiter(t, 1, 100) // refills fast enough to observe in-test
	ctx := context.Background()

	if allowed, _, _ := l.Allow(ctx, "tenant-a"); !allowed {
		t.Fatal("first request should pass")
	}
	time.Sleep(50 * time.Millisecond)
	if allowed, _, _ := l.Allow(ctx, "tenant-a"); !allowed {
		t.Fatal("bucket should have refilled")
	}
}
