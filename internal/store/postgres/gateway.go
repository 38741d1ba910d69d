// Package postgres is the State Store Gateway: the only component
// permitted to touch campaign/task/call_log rows, and the boundary
// across which every status transition is made atomic.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-dialer/internal/domain"
	apperrors "github.com/acme/outbound-dialer/pkg/errors"
)

// Gateway is the State Store Gateway. All task/campaign mutation goes
// through its methods so that status transitions stay atomic and the
// rest of the system never issues SQL directly.
type Gateway struct {
	db *sqlx.DB
}

// New constructs a Gateway over an already-connected sqlx handle.
func New(db *sqlx.DB) *Gateway {
	return &Gateway{db: db}
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("gateway: tx begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("gateway: tx rollback: %v (original err: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("gateway: tx commit: %w", err)
	}
	return nil
}

// ClaimDue atomically selects up to limit pending tasks for campaigns
// that are not paused, whose scheduled_at has arrived, and flips them to
// in-progress in the same transaction. FOR UPDATE SKIP LOCKED lets
// multiple scheduler-loop replicas run against the same table without
// stepping on each other's claims.
func (g *Gateway) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	var claimed []taskRecord
	err := withTx(ctx, g.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, `
			SELECT t.id, t.user_id, t.campaign_id, t.phone_number_id, t.status,
			       t.scheduled_at, t.retry_count, t.created_at, t.updated_at
			FROM call_tasks t
			JOIN campaigns c ON c.id = t.campaign_id
			WHERE t.status = 'pending'
			  AND t.scheduled_at <= $1
			  AND c.is_paused = false
			ORDER BY t.scheduled_at ASC
			LIMIT $2
			FOR UPDATE OF t SKIP LOCKED`, now, limit)
		if err != nil {
			return fmt.Errorf("claim due: select: %w", err)
		}
		var ids []uuid.UUID
		for rows.Next() {
			var rec taskRecord
			if err := rows.StructScan(&rec); err != nil {
				rows.Close()
				return fmt.Errorf("claim due: scan: %w", err)
			}
			claimed = append(claimed, rec)
			ids = append(ids, rec.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("claim due: rows: %w", err)
		}
		rows.Close()
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE call_tasks SET status = 'in-progress', updated_at = $1
			WHERE id = ANY($2)`, now, ids)
		if err != nil {
			return fmt.Errorf("claim due: update: %w", err)
		}
		for i := range claimed {
			claimed[i].Status = "in-progress"
			claimed[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(claimed))
	for _, rec := range claimed {
		tasks = append(tasks, rec.toDomain())
	}
	return tasks, nil
}

// LoadSnapshot fetches the joined task/campaign/schedule/phone-number
// view the worker pool needs to place a call, in one round trip.
func (g *Gateway) LoadSnapshot(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	row := g.db.QueryRowxContext(ctx, `
		SELECT
			t.id AS task_id, t.user_id AS task_user_id, t.campaign_id AS task_campaign_id,
			t.phone_number_id AS task_phone_number_id, t.status AS task_status,
			t.scheduled_at AS task_scheduled_at, t.retry_count AS task_retry_count,
			t.created_at AS task_created_at, t.updated_at AS task_updated_at,
			c.id AS campaign_id, c.user_id AS campaign_user_id, c.schedule_id AS campaign_schedule_id,
			c.is_paused AS campaign_is_paused, c.max_concurrent_calls AS campaign_max_concurrent_calls,
			c.max_retries AS campaign_max_retries, c.retry_delay_seconds AS campaign_retry_delay_seconds,
			c.total_tasks AS campaign_total_tasks, c.completed_tasks AS campaign_completed_tasks,
			c.failed_tasks AS campaign_failed_tasks, c.retries_attempted AS campaign_retries_attempted,
			c.created_at AS campaign_created_at, c.updated_at AS campaign_updated_at,
			s.id AS schedule_id, s.user_id AS schedule_user_id, s.time_zone AS schedule_time_zone,
			s.schedule_rules AS schedule_rules,
			p.id AS phone_number_id, p.user_id AS phone_number_user_id,
			p.number AS phone_number_number, p.status AS phone_number_status
		FROM call_tasks t
		JOIN campaigns c ON c.id = t.campaign_id
		JOIN schedules s ON s.id = c.schedule_id
		JOIN phone_numbers p ON p.id = t.phone_number_id
		WHERE t.id = $1`, taskID)

	var rec snapshotRow
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TaskSnapshot{}, apperrors.ErrNotFound
		}
		return domain.TaskSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return rec.toDomain()
}

// CompleteTask marks a task completed and increments the campaign's
// completed_tasks counter atomically.
func (g *Gateway) CompleteTask(ctx context.Context, taskID uuid.UUID, now time.Time) error {
	return withTx(ctx, g.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE call_tasks SET status = 'completed', updated_at = $1
			WHERE id = $2 AND status = 'in-progress'`, now, taskID)
		if err != nil {
			return fmt.Errorf("complete task: update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.ErrConflict
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET completed_tasks = completed_tasks + 1, updated_at = $1
			WHERE id = (SELECT campaign_id FROM call_tasks WHERE id = $2)`, now, taskID)
		if err != nil {
			return fmt.Errorf("complete task: update campaign: %w", err)
		}
		return nil
	})
}

// RescheduleTask returns an in-progress task to pending at nextAttempt,
// bumps its retry_count, and increments the campaign's
// retries_attempted counter. Used when a placement attempt fails but
// the task has not yet exhausted max_retries.
func (g *Gateway) RescheduleTask(ctx context.Context, taskID uuid.UUID, nextAttempt, now time.Time) error {
	return withTx(ctx, g.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE call_tasks
			SET status = 'pending', scheduled_at = $1, retry_count = retry_count + 1, updated_at = $2
			WHERE id = $3 AND status = 'in-progress'`, nextAttempt, now, taskID)
		if err != nil {
			return fmt.Errorf("reschedule task: update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.ErrConflict
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET retries_attempted = retries_attempted + 1, updated_at = $1
			WHERE id = (SELECT campaign_id FROM call_tasks WHERE id = $2)`, now, taskID)
		if err != nil {
			return fmt.Errorf("reschedule task: update campaign: %w", err)
		}
		return nil
	})
}

// FailTask marks a task permanently failed (retries exhausted) and
// increments the campaign's failed_tasks counter.
func (g *Gateway) FailTask(ctx context.Context, taskID uuid.UUID, now time.Time) error {
	return withTx(ctx, g.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE call_tasks SET status = 'failed', updated_at = $1
			WHERE id = $2 AND status = 'in-progress'`, now, taskID)
		if err != nil {
			return fmt.Errorf("fail task: update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.ErrConflict
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET failed_tasks = failed_tasks + 1, updated_at = $1
			WHERE id = (SELECT campaign_id FROM call_tasks WHERE id = $2)`, now, taskID)
		if err != nil {
			return fmt.Errorf("fail task: update campaign: %w", err)
		}
		return nil
	})
}

// ReclaimOrphans resets in-progress tasks whose updated_at is older than
// olderThan back to pending, for the orphan sweeper to pick up tasks
// abandoned by a worker that crashed mid-call.
func (g *Gateway) ReclaimOrphans(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := g.db.ExecContext(ctx, `
		UPDATE call_tasks SET status = 'pending', updated_at = $1
		WHERE status = 'in-progress' AND updated_at < $2`, now, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reclaim orphans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim orphans: rows affected: %w", err)
	}
	return n, nil
}

// CreateCallLog inserts a new call log row, typically in the
// "initiated" state at the moment a placement attempt begins.
func (g *Gateway) CreateCallLog(ctx context.Context, log domain.CallLog) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO call_logs (id, user_id, call_task_id, phone_number_id, dialed_number, external_call_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.UserID, log.CallTaskID, log.PhoneNumberID, log.DialedNumber,
		log.ExternalCallID, log.Status, log.StartedAt)
	if err != nil {
		return fmt.Errorf("create call log: %w", err)
	}
	return nil
}

// UpdateCallLogStatus transitions a call log to its terminal status and
// stamps ended_at.
func (g *Gateway) UpdateCallLogStatus(ctx context.Context, logID uuid.UUID, status domain.CallLogStatus, endedAt time.Time) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE call_logs SET status = $1, ended_at = $2 WHERE id = $3`, status, endedAt, logID)
	if err != nil {
		return fmt.Errorf("update call log status: %w", err)
	}
	return nil
}

// CampaignCounts returns the per-status task tally used by the campaign
// status aggregator.
func (g *Gateway) CampaignCounts(ctx context.Context, campaignID uuid.UUID) (domain.CampaignTaskCounts, error) {
	var counts domain.CampaignTaskCounts
	row := g.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'in-progress') AS in_progress,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM call_tasks WHERE campaign_id = $1`, campaignID)
	if err := row.Scan(&counts.Total, &counts.Pending, &counts.InProgress, &counts.Completed, &counts.Failed); err != nil {
		return domain.CampaignTaskCounts{}, fmt.Errorf("campaign counts: %w", err)
	}
	return counts, nil
}

// Campaign fetches a campaign by id.
func (g *Gateway) Campaign(ctx context.Context, id uuid.UUID) (domain.Campaign, error) {
	row := g.db.QueryRowxContext(ctx, `
		SELECT id, user_id, schedule_id, is_paused, max_concurrent_calls, max_retries,
		       retry_delay_seconds, total_tasks, completed_tasks, failed_tasks,
		       retries_attempted, created_at, updated_at
		FROM campaigns WHERE id = $1`, id)
	var rec campaignRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Campaign{}, apperrors.ErrNotFound
		}
		return domain.Campaign{}, fmt.Errorf("campaign: %w", err)
	}
	return rec.toDomain(), nil
}

// SetCampaignPaused flips a campaign's is_paused flag.
func (g *Gateway) SetCampaignPaused(ctx context.Context, id uuid.UUID, paused bool, now time.Time) error {
	res, err := g.db.ExecContext(ctx, `
		UPDATE campaigns SET is_paused = $1, updated_at = $2 WHERE id = $3`, paused, now, id)
	if err != nil {
		return fmt.Errorf("set campaign paused: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
