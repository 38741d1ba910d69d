package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetterMessage reports a call task that exhausted its configured
// retries, for operator consumption off the dead-letter topic.
type DeadLetterMessage struct {
	DispatchMessage
	Reason string `json:"reason"`
}

// DeadLetterPublisher publishes to a dedicated topic the tasks that
// exhausted their retries: tasks failed after their last placement
// attempt, and dispatches whose pre-placement steps exhausted the
// worker's bounded transient retry. The Schedule Evaluator and State
// Store Gateway already own retry delay and redelivery (a failed task is
// rescheduled with a future scheduled_at and the Scheduler Loop's next
// poll re-claims it), so this exists purely as an operator-facing
// feed, not a delivery mechanism.
type DeadLetterPublisher struct {
	writer *kafka.Writer
}

// NewDeadLetterPublisher constructs a publisher for the given topic.
func NewDeadLetterPublisher(k *Kafka, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{writer: k.NewWriter(topic)}
}

// Publish emits a dead-letter record for a task that exhausted its
// retries.
func (p *DeadLetterPublisher) Publish(ctx context.Context, msg DispatchMessage, reason string) error {
	record := DeadLetterMessage{DispatchMessage: msg, Reason: reason}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("dead letter publisher: marshal message: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   msg.TaskID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("dead letter publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}
