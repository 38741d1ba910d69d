// Package domain models the entities of the outbound-call execution plane:
// users, phone numbers, schedules, campaigns, tasks, and call logs.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PhoneNumberStatus enumerates the reachability state of a phone number.
type PhoneNumberStatus string

const (
	PhoneNumberStatusValid      PhoneNumberStatus = "valid"
	PhoneNumberStatusInvalid    PhoneNumberStatus = "invalid"
	PhoneNumberStatusDoNotCall  PhoneNumberStatus = "do_not_call"
)

// TaskStatus enumerates the lifecycle of a call task. The hyphenated
// spelling of in-progress is canonical: the schema value wins per the
// status-enum open question.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// CallLogStatus enumerates the lifecycle of a single placement attempt.
type CallLogStatus string

const (
	CallLogStatusInitiated  CallLogStatus = "initiated"
	CallLogStatusInProgress CallLogStatus = "in-progress"
	CallLogStatusCompleted  CallLogStatus = "completed"
	CallLogStatusFailed     CallLogStatus = "failed"
)

// CampaignStatus is the derived, non-stored status computed by the
// campaign status aggregator (see internal/campaignstatus).
type CampaignStatus string

const (
	CampaignStatusPaused     CampaignStatus = "paused"
	CampaignStatusInProgress CampaignStatus = "in-progress"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// User is the tenant root; every other row hangs off user_id.
type User struct {
	ID    uuid.UUID
	Email string
}

// PhoneNumber is a dialable number owned by a user.
type PhoneNumber struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Number string
	Status PhoneNumberStatus
}

// Schedule is a recurring business-hours window in a specific IANA zone.
type Schedule struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TimeZone string
	Rules    ScheduleRules
}

// ScheduleRules is the typed, boundary-validated shape behind the
// schedule_rules JSON column. See internal/schedule for validation and
// the next-valid-slot algorithm.
type ScheduleRules struct {
	Days            []string `json:"days"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	ExcludeHolidays bool     `json:"exclude_holidays"`
}

// RetryPolicy captures a campaign's bounded-retry configuration.
type RetryPolicy struct {
	MaxRetries       int
	RetryDelaySeconds int
}

// CampaignCounters are the monotonically non-decreasing counters owned
// by a campaign row.
type CampaignCounters struct {
	TotalTasks       int64
	CompletedTasks   int64
	FailedTasks      int64
	RetriesAttempted int64
}

// Campaign groups phone numbers under a shared schedule and execution
// parameters.
type Campaign struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	ScheduleID         uuid.UUID
	IsPaused           bool
	MaxConcurrentCalls int
	Retry              RetryPolicy
	Counters           CampaignCounters
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Task is the per-phone-number unit of work within a campaign.
type Task struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	CampaignID    uuid.UUID
	PhoneNumberID uuid.UUID
	Status        TaskStatus
	ScheduledAt   time.Time
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CallLog is the audit record of a single placement attempt.
type CallLog struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	CallTaskID     uuid.UUID
	PhoneNumberID  uuid.UUID
	DialedNumber   string
	ExternalCallID string
	Status         CallLogStatus
	StartedAt      time.Time
	EndedAt        *time.Time
}

// TaskSnapshot is the joined task/campaign/schedule/phone-number view the
// worker pool's LOAD step consumes. Keeping the join at the gateway layer
// avoids overlapping queries from individual components (spec design
// note on eager loads).
type TaskSnapshot struct {
	Task        Task
	Campaign    Campaign
	Schedule    Schedule
	PhoneNumber PhoneNumber
}

// CampaignTaskCounts is the per-status tally the aggregator consumes.
type CampaignTaskCounts struct {
	Total      int64
	Pending    int64
	InProgress int64
	Completed  int64
	Failed     int64
}
