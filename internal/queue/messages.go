package queue

import (
	"time"

	"github.com/google/uuid"
)

// DispatchMessage instructs a worker to place a call for a claimed task.
type DispatchMessage struct {
	TaskID            uuid.UUID `json:"task_id"`
	CampaignID        uuid.UUID `json:"campaign_id"`
	PhoneNumberID     uuid.UUID `json:"phone_number_id"`
	Attempt           int       `json:"attempt"`
	MaxRetries        int       `json:"max_retries"`
	RetryDelaySeconds int       `json:"retry_delay_seconds"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
}

// StatusMessage reports the outcome of a single placement attempt.
type StatusMessage struct {
	TaskID            uuid.UUID  `json:"task_id"`
	CampaignID        uuid.UUID  `json:"campaign_id"`
	Status            string     `json:"status"`
	Attempt           int        `json:"attempt"`
	MaxRetries        int        `json:"max_retries"`
	RetryDelaySeconds int        `json:"retry_delay_seconds"`
	Retryable         bool       `json:"retryable"`
	DurationMs        int64      `json:"duration_ms"`
	Error             string     `json:"error,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
	NextAttempt       *time.Time `json:"next_attempt,omitempty"`
}
