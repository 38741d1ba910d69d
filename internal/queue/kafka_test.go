package queue

import (
	"testing"
	"time"

	"github.com/acme/outbound-dialer/internal/config"
)

func TestNewKafka_DefaultsRetryConfig(t *testing.T) {
	k, err := NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, config.BullMQConfig{})
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	if got := k.RetryMaxAttempts(); got != defaultRetryMaxAttempts {
		t.Errorf("expected default max attempts %d, got %d", defaultRetryMaxAttempts, got)
	}
	if got := k.RetryBaseDelay(); got != defaultRetryBaseDelay {
		t.Errorf("expected default base delay %v, got %v", defaultRetryBaseDelay, got)
	}
}

func TestNewKafka_HonorsConfiguredRetry(t *testing.T) {
	k, err := NewKafka(
		config.KafkaConfig{Brokers: []string{"localhost:9092"}},
		config.BullMQConfig{MaxRetries: 5, RetryDelay: 2 * time.Second},
	)
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	if got := k.RetryMaxAttempts(); got != 5 {
		t.Errorf("expected max attempts 5, got %d", got)
	}
	if got := k.RetryBaseDelay(); got != 2*time.Second {
		t.Errorf("expected base delay 2s, got %v", got)
	}
}

func TestNewKafka_RequiresBrokers(t *testing.T) {
	if _, err := NewKafka(config.KafkaConfig{}, config.BullMQConfig{}); err == nil {
		t.Fatal("expected an error when no brokers are configured")
	}
}

func TestKafka_NewWriterWiresRetryIntoBackoff(t *testing.T) {
	k, err := NewKafka(
		config.KafkaConfig{Brokers: []string{"localhost:9092"}},
		config.BullMQConfig{MaxRetries: 4, RetryDelay: time.Second},
	)
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	writer := k.NewWriter("dispatch")
	defer writer.Close()

	if writer.MaxAttempts != 4 {
		t.Errorf("expected MaxAttempts 4, got %d", writer.MaxAttempts)
	}
	if writer.WriteBackoffMin != time.Second {
		t.Errorf("expected WriteBackoffMin 1s, got %v", writer.WriteBackoffMin)
	}
	if writer.WriteBackoffMax != 4*time.Second {
		t.Errorf("expected WriteBackoffMax 4s, got %v", writer.WriteBackoffMax)
	}
}
