package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRedis struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: make(map[string]int64), expires: make(map[string]time.Duration)}
}

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	f.expires[key] = expiration
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRateLimiterAllow(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	rl := NewRateLimiter(client)

	for i := 1; i <= 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d denied below the limit", i)
		}
	}

	ok, err := rl.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("call over the limit was allowed")
	}

	if client.expires["k"] != time.Minute {
		t.Fatalf("expiry = %v, want set once to the window", client.expires["k"])
	}
}

func TestRateLimiterPropagatesRedisError(t *testing.T) {
	client := newFakeRedis()
	client.incrErr = errors.New("connection refused")
	rl := NewRateLimiter(client)

	if _, err := rl.Allow(context.Background(), "k", 3, time.Minute); err == nil {
		t.Fatal("expected redis error to surface")
	}
}

func TestProviderKeyBucketsByWindow(t *testing.T) {
	window := time.Minute
	base := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)

	same := ProviderKey("openai", window, base.Add(40*time.Second))
	if got := ProviderKey("openai", window, base); got != same {
		t.Fatalf("same window produced different keys: %s vs %s", got, same)
	}
	if got := ProviderKey("openai", window, base.Add(window)); got == same {
		t.Fatal("next window reused the key")
	}
	if got := ProviderKey("gemini", window, base); got == same {
		t.Fatal("providers share a key")
	}
}
