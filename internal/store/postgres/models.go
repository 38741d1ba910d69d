package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-dialer/internal/domain"
)

type campaignRecord struct {
	ID                 uuid.UUID `db:"id"`
	UserID             uuid.UUID `db:"user_id"`
	ScheduleID         uuid.UUID `db:"schedule_id"`
	IsPaused           bool      `db:"is_paused"`
	MaxConcurrentCalls int       `db:"max_concurrent_calls"`
	MaxRetries         int       `db:"max_retries"`
	RetryDelaySeconds  int       `db:"retry_delay_seconds"`
	TotalTasks         int64     `db:"total_tasks"`
	CompletedTasks     int64     `db:"completed_tasks"`
	FailedTasks        int64     `db:"failed_tasks"`
	RetriesAttempted   int64     `db:"retries_attempted"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	return domain.Campaign{
		ID:                 r.ID,
		UserID:             r.UserID,
		ScheduleID:         r.ScheduleID,
		IsPaused:           r.IsPaused,
		MaxConcurrentCalls: r.MaxConcurrentCalls,
		Retry: domain.RetryPolicy{
			MaxRetries:        r.MaxRetries,
			RetryDelaySeconds: r.RetryDelaySeconds,
		},
		Counters: domain.CampaignCounters{
			TotalTasks:       r.TotalTasks,
			CompletedTasks:   r.CompletedTasks,
			FailedTasks:      r.FailedTasks,
			RetriesAttempted: r.RetriesAttempted,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type scheduleRecord struct {
	ID            uuid.UUID `db:"id"`
	UserID        uuid.UUID `db:"user_id"`
	TimeZone      string    `db:"time_zone"`
	ScheduleRules []byte    `db:"schedule_rules"`
}

func (r scheduleRecord) toDomain() (domain.Schedule, error) {
	var rules domain.ScheduleRules
	if err := json.Unmarshal(r.ScheduleRules, &rules); err != nil {
		return domain.Schedule{}, err
	}
	return domain.Schedule{
		ID:       r.ID,
		UserID:   r.UserID,
		TimeZone: r.TimeZone,
		Rules:    rules,
	}, nil
}

type phoneNumberRecord struct {
	ID     uuid.UUID `db:"id"`
	UserID uuid.UUID `db:"user_id"`
	Number string    `db:"number"`
	Status string    `db:"status"`
}

func (r phoneNumberRecord) toDomain() domain.PhoneNumber {
	return domain.PhoneNumber{
		ID:     r.ID,
		UserID: r.UserID,
		Number: r.Number,
		Status: domain.PhoneNumberStatus(r.Status),
	}
}

type taskRecord struct {
	ID            uuid.UUID `db:"id"`
	UserID        uuid.UUID `db:"user_id"`
	CampaignID    uuid.UUID `db:"campaign_id"`
	PhoneNumberID uuid.UUID `db:"phone_number_id"`
	Status        string    `db:"status"`
	ScheduledAt   time.Time `db:"scheduled_at"`
	RetryCount    int       `db:"retry_count"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r taskRecord) toDomain() domain.Task {
	return domain.Task{
		ID:            r.ID,
		UserID:        r.UserID,
		CampaignID:    r.CampaignID,
		PhoneNumberID: r.PhoneNumberID,
		Status:        domain.TaskStatus(r.Status),
		ScheduledAt:   r.ScheduledAt,
		RetryCount:    r.RetryCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// snapshotRow is the flattened result of the four-way join LoadSnapshot
// runs; it is scanned directly then split into the four domain types.
type snapshotRow struct {
	TaskID            uuid.UUID `db:"task_id"`
	TaskUserID        uuid.UUID `db:"task_user_id"`
	TaskCampaignID    uuid.UUID `db:"task_campaign_id"`
	TaskPhoneNumberID uuid.UUID `db:"task_phone_number_id"`
	TaskStatus        string    `db:"task_status"`
	TaskScheduledAt   time.Time `db:"task_scheduled_at"`
	TaskRetryCount    int       `db:"task_retry_count"`
	TaskCreatedAt     time.Time `db:"task_created_at"`
	TaskUpdatedAt     time.Time `db:"task_updated_at"`

	CampaignID                 uuid.UUID `db:"campaign_id"`
	CampaignUserID             uuid.UUID `db:"campaign_user_id"`
	CampaignScheduleID         uuid.UUID `db:"campaign_schedule_id"`
	CampaignIsPaused           bool      `db:"campaign_is_paused"`
	CampaignMaxConcurrentCalls int       `db:"campaign_max_concurrent_calls"`
	CampaignMaxRetries         int       `db:"campaign_max_retries"`
	CampaignRetryDelaySeconds  int       `db:"campaign_retry_delay_seconds"`
	CampaignTotalTasks         int64     `db:"campaign_total_tasks"`
	CampaignCompletedTasks     int64     `db:"campaign_completed_tasks"`
	CampaignFailedTasks        int64     `db:"campaign_failed_tasks"`
	CampaignRetriesAttempted   int64     `db:"campaign_retries_attempted"`
	CampaignCreatedAt          time.Time `db:"campaign_created_at"`
	CampaignUpdatedAt          time.Time `db:"campaign_updated_at"`

	ScheduleID            uuid.UUID `db:"schedule_id"`
	ScheduleUserID        uuid.UUID `db:"schedule_user_id"`
	ScheduleTimeZone      string    `db:"schedule_time_zone"`
	ScheduleRulesJSON     []byte    `db:"schedule_rules"`

	PhoneNumberID     uuid.UUID `db:"phone_number_id"`
	PhoneNumberUserID uuid.UUID `db:"phone_number_user_id"`
	PhoneNumberNumber string    `db:"phone_number_number"`
	PhoneNumberStatus string    `db:"phone_number_status"`
}

func (r snapshotRow) toDomain() (domain.TaskSnapshot, error) {
	var rules domain.ScheduleRules
	if err := json.Unmarshal(r.ScheduleRulesJSON, &rules); err != nil {
		return domain.TaskSnapshot{}, err
	}
	return domain.TaskSnapshot{
		Task: domain.Task{
			ID:            r.TaskID,
			UserID:        r.TaskUserID,
			CampaignID:    r.TaskCampaignID,
			PhoneNumberID: r.TaskPhoneNumberID,
			Status:        domain.TaskStatus(r.TaskStatus),
			ScheduledAt:   r.TaskScheduledAt,
			RetryCount:    r.TaskRetryCount,
			CreatedAt:     r.TaskCreatedAt,
			UpdatedAt:     r.TaskUpdatedAt,
		},
		Campaign: domain.Campaign{
			ID:                 r.CampaignID,
			UserID:             r.CampaignUserID,
			ScheduleID:         r.CampaignScheduleID,
			IsPaused:           r.CampaignIsPaused,
			MaxConcurrentCalls: r.CampaignMaxConcurrentCalls,
			Retry: domain.RetryPolicy{
				MaxRetries:        r.CampaignMaxRetries,
				RetryDelaySeconds: r.CampaignRetryDelaySeconds,
			},
			Counters: domain.CampaignCounters{
				TotalTasks:       r.CampaignTotalTasks,
				CompletedTasks:   r.CampaignCompletedTasks,
				FailedTasks:      r.CampaignFailedTasks,
				RetriesAttempted: r.CampaignRetriesAttempted,
			},
			CreatedAt: r.CampaignCreatedAt,
			UpdatedAt: r.CampaignUpdatedAt,
		},
		Schedule: domain.Schedule{
			ID:       r.ScheduleID,
			UserID:   r.ScheduleUserID,
			TimeZone: r.ScheduleTimeZone,
			Rules:    rules,
		},
		PhoneNumber: domain.PhoneNumber{
			ID:     r.PhoneNumberID,
			UserID: r.PhoneNumberUserID,
			Number: r.PhoneNumberNumber,
			Status: domain.PhoneNumberStatus(r.PhoneNumberStatus),
		},
	}, nil
}

type callLogRecord struct {
	ID             uuid.UUID    `db:"id"`
	UserID         uuid.UUID    `db:"user_id"`
	CallTaskID     uuid.UUID    `db:"call_task_id"`
	PhoneNumberID  uuid.UUID    `db:"phone_number_id"`
	DialedNumber   string       `db:"dialed_number"`
	ExternalCallID string       `db:"external_call_id"`
	Status         string       `db:"status"`
	StartedAt      time.Time    `db:"started_at"`
	EndedAt        sql.NullTime `db:"ended_at"`
}

func (r callLogRecord) toDomain() domain.CallLog {
	log := domain.CallLog{
		ID:             r.ID,
		UserID:         r.UserID,
		CallTaskID:     r.CallTaskID,
		PhoneNumberID:  r.PhoneNumberID,
		DialedNumber:   r.DialedNumber,
		ExternalCallID: r.ExternalCallID,
		Status:         domain.CallLogStatus(r.Status),
		StartedAt:      r.StartedAt,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		log.EndedAt = &t
	}
	return log
}
