package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	redis "github.com/redis/go-redis/v9"
)

// Dispatcher publishes call-task dispatch events to Kafka, guarding
// against duplicate in-flight dispatches for the same task with a
// Redis SETNX-style lock: DispatchTask is a no-op (returns ok=false) if
// a dispatch for this task is already outstanding.
type Dispatcher struct {
	writer   *kafka.Writer
	redis    *redis.Client
	dedupTTL time.Duration
}

// NewDispatcher constructs a dispatcher for the given topic.
func NewDispatcher(k *Kafka, topic string, redisClient *redis.Client, dedupTTL time.Duration) *Dispatcher {
	if dedupTTL <= 0 {
		dedupTTL = 10 * time.Minute
	}
	return &Dispatcher{
		writer:   k.NewWriter(topic),
		redis:    redisClient,
		dedupTTL: dedupTTL,
	}
}

// DispatchTask writes the dispatch message to Kafka, unless a dispatch
// for msg.TaskID is already in flight. Returns ok=false without an
// error when deduplicated.
func (d *Dispatcher) DispatchTask(ctx context.Context, msg DispatchMessage) (bool, error) {
	dedupKey := d.dedupKey(msg.TaskID.String())
	acquired, err := d.redis.SetNX(ctx, dedupKey, "1", d.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dispatcher: dedup check: %w", err)
	}
	if !acquired {
		return false, nil
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("dispatcher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.TaskID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := d.writer.WriteMessages(ctx, record); err != nil {
		// Roll back the dedup lock so a subsequent dispatch attempt for
		// this task is not spuriously blocked by a write that never
		// actually reached the queue.
		d.redis.Del(ctx, dedupKey)
		return false, fmt.Errorf("dispatcher: write message: %w", err)
	}
	return true, nil
}

// ClearDedup releases the in-flight marker for a task, called once the
// outcome of its placement attempt (completed, failed, or rescheduled
// for retry) has been recorded so the task's next dispatch is not
// blocked by a stale lock.
func (d *Dispatcher) ClearDedup(ctx context.Context, taskID string) error {
	if err := d.redis.Del(ctx, d.dedupKey(taskID)).Err(); err != nil {
		return fmt.Errorf("dispatcher: clear dedup: %w", err)
	}
	return nil
}

func (d *Dispatcher) dedupKey(taskID string) string {
	return fmt.Sprintf("outbound:dispatch:inflight:%s", taskID)
}

// Close closes the underlying writer.
func (d *Dispatcher) Close() error {
	return d.writer.Close()
}
