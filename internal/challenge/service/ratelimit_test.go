package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, window time.Duration, limit int) *RedisWindowLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWindowLimiter(client, "test:challenge", window, limit)
}

func TestRedisWindowLimiter_AllowsUnderLimit(t *testing.T) {
	l := newTestLimiter(t, time.Hour, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow %d = false, want true", i)
		}
	}
}

func TestRedisWindowLimiter_DeniesOverLimit(t *testing.T) {
	l := newTestLimiter(t, time.Hour, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, err := l.Allow(ctx, "u1"); err != nil || !ok {
			t.Fatalf("Allow %d = (%v, %v), want (true, nil)", i, ok, err)
		}
	}
	ok, err := l.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("Allow = true over the limit, want false")
	}
}

func TestRedisWindowLimiter_KeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t, time.Hour, 1)
	ctx := context.Background()
	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatal("first u1 Allow = false")
	}
	if ok, _ := l.Allow(ctx, "u2"); !ok {
		t.Error("u2 should not be limited by u1 usage")
	}
}

func TestRedisWindowLimiter_NilClient(t *testing.T) {
	l := NewRedisWindowLimiter(nil, "", time.Hour, 1)
	if _, err := l.Allow(context.Background(), "u1"); err == nil {
		t.Error("Allow with nil client should fail")
	}
}
