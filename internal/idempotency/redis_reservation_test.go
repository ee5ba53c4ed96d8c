package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTryReserveFirstCallerWins(t *testing.T) {
	client := setupTestRedis(t)
	r := NewRedisReservation(client, "test", time.Minute)

	ctx := context.Background()
	reserved, err := r.TryReserve(ctx, "project-1/transcribe")
	if err != nil {
		t.Fatal(err)
	}
	if !reserved {
		t.Fatal("expected first caller to win the reservation")
	}

	reserved, err = r.TryReserve(ctx, "project-1/transcribe")
	if err != nil {
		t.Fatal(err)
	}
	if reserved {
		t.Fatal("expected second caller to be told the key is already reserved")
	}
}

func TestReleaseAllowsRereservation(t *testing.T) {
	client := setupTestRedis(t)
	r := NewRedisReservation(client, "test", time.Minute)
	ctx := context.Background()

	if _, err := r.TryReserve(ctx, "project-1/render"); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(ctx, "project-1/render"); err != nil {
		t.Fatal(err)
	}

	reserved, err := r.TryReserve(ctx, "project-1/render")
	if err != nil {
		t.Fatal(err)
	}
	if !reserved {
		t.Fatal("expected reservation to be available again after release")
	}
}

func TestDistinctKeysDoNotCollide(t *testing.T) {
	client := setupTestRedis(t)
	r := NewRedisReservation(client, "test", time.Minute)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		reserved, err := r.TryReserve(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !reserved {
			t.Fatalf("expected independent key %q to reserve cleanly", key)
		}
	}
}
