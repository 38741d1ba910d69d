package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

func TestDispatcher_DedupKeyIsStableForSameTask(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	d := &Dispatcher{redis: client, dedupTTL: time.Minute}

	taskID := uuid.New().String()
	if d.dedupKey(taskID) != d.dedupKey(taskID) {
		t.Fatal("expected dedup key to be deterministic for the same task id")
	}
}

func TestDispatcher_ClearDedupRemovesLock(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	d := &Dispatcher{redis: client, dedupTTL: time.Minute}

	taskID := uuid.New().String()
	ctx := context.Background()
	if _, err := client.SetNX(ctx, d.dedupKey(taskID), "1", time.Minute).Result(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if err := d.ClearDedup(ctx, taskID); err != nil {
		t.Fatalf("ClearDedup: %v", err)
	}
	exists, err := client.Exists(ctx, d.dedupKey(taskID)).Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists != 0 {
		t.Fatal("expected dedup lock to be removed")
	}
}
