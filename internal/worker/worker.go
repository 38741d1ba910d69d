// Package worker implements the Worker Pool: the per-task state machine
// that turns a dispatched task into a placed call, honoring the
// concurrency gate and a global rate cap, and reporting the outcome
// back through the dispatch queue's status topic.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/acme/outbound-dialer/internal/concurrency"
	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/observability"
	"github.com/acme/outbound-dialer/internal/queue"
	"github.com/acme/outbound-dialer/internal/schedule"
	"github.com/acme/outbound-dialer/internal/store/postgres"
	"github.com/acme/outbound-dialer/internal/telephony"
	"github.com/acme/outbound-dialer/pkg/logger"
)

// Gateway is the subset of the State Store Gateway the worker pool
// needs: loading the joined snapshot for a claimed task and recording
// its outcome.
type Gateway interface {
	LoadSnapshot(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID, now time.Time) error
	RescheduleTask(ctx context.Context, taskID uuid.UUID, nextAttempt, now time.Time) error
	FailTask(ctx context.Context, taskID uuid.UUID, now time.Time) error
	CreateCallLog(ctx context.Context, log domain.CallLog) error
	UpdateCallLogStatus(ctx context.Context, logID uuid.UUID, status domain.CallLogStatus, endedAt time.Time) error
}

var _ Gateway = (*postgres.Gateway)(nil)

// Gate is the subset of the Concurrency Gate the worker pool needs.
type Gate interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID) error
}

var _ Gate = (*concurrency.Gate)(nil)

// Dispatcher is the subset of the Dispatch Queue the worker pool needs
// for clearing a task's in-flight dedup marker once its outcome lands.
type Dispatcher interface {
	ClearDedup(ctx context.Context, taskID string) error
}

var _ Dispatcher = (*queue.Dispatcher)(nil)

// StatusPublisher is the subset of the status-topic publisher the
// worker pool needs to report each placement attempt's outcome.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg queue.StatusMessage) error
}

var _ StatusPublisher = (*queue.StatusPublisher)(nil)

// DeadLetter is the subset of the dead-letter publisher the worker
// pool needs to report a task that permanently exhausted its retries.
type DeadLetter interface {
	Publish(ctx context.Context, msg queue.DispatchMessage, reason string) error
}

var _ DeadLetter = (*queue.DeadLetterPublisher)(nil)

// Pool consumes dispatch messages and drives each task through
// LOAD -> gate -> PLACE -> RECORD -> release.
type Pool struct {
	gateway    Gateway
	gate       Gate
	dispatcher Dispatcher
	status     StatusPublisher
	deadLetter DeadLetter
	kafka      *queue.Kafka
	provider   telephony.Provider
	limiter    *rate.Limiter
	cfg        config.WorkerConfig
	log        *logger.Logger
}

// New constructs a worker pool. status and deadLetter may be nil, in
// which case outcomes are recorded in the state store but not
// mirrored onto Kafka (used by unit tests that don't exercise those
// paths).
func New(gateway Gateway, gate Gate, dispatcher Dispatcher, status StatusPublisher, deadLetter DeadLetter, k *queue.Kafka, provider telephony.Provider, cfg config.WorkerConfig, log *logger.Logger) *Pool {
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 50
	}
	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)

	return &Pool{
		gateway:    gateway,
		gate:       gate,
		dispatcher: dispatcher,
		status:     status,
		deadLetter: deadLetter,
		kafka:      k,
		provider:   provider,
		limiter:    limiter,
		cfg:        cfg,
		log:        log,
	}
}

// Run consumes the dispatch topic until ctx is canceled. A run of
// consecutive FetchMessage failures is bounded transient retry with
// exponential backoff (BULLMQ_MAX_RETRIES attempts, BULLMQ_RETRY_DELAY
// base): once exhausted, Run returns an error for its supervisor to
// restart the process against, since a connection-level failure has no
// message to dead-letter.
func (p *Pool) Run(ctx context.Context, dispatchTopic, consumerGroup string) error {
	reader := p.kafka.NewReader(dispatchTopic, consumerGroup)
	defer reader.Close()

	maxAttempts := p.kafka.RetryMaxAttempts()
	baseDelay := p.kafka.RetryBaseDelay()
	fetchFailures := 0

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fetchFailures++
			p.log.Error("worker pool: fetch message", zap.Error(err), zap.Int("attempt", fetchFailures))
			if fetchFailures >= maxAttempts {
				return fmt.Errorf("worker pool: fetch message: exhausted %d transient attempts: %w", maxAttempts, err)
			}
			if sleepErr := sleepBackoff(ctx, baseDelay, fetchFailures); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		fetchFailures = 0

		if err := p.processMessage(ctx, reader, m); err != nil {
			p.log.Error("worker pool: process message", zap.Error(err))
		}
	}
}

// sleepBackoff waits an exponentially growing delay (base * 2^(attempt-1))
// or returns early if ctx is canceled.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base * time.Duration(uint64(1)<<uint(attempt-1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pool) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var dispatch queue.DispatchMessage
	if err := json.Unmarshal(m.Value, &dispatch); err != nil {
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal dispatch message: %w", err)
	}

	tracer := otel.Tracer("outbound.worker")
	sctx, span := tracer.Start(ctx, "worker.place_call", trace.WithAttributes(
		attribute.String("task.id", dispatch.TaskID.String()),
		attribute.String("campaign.id", dispatch.CampaignID.String()),
		attribute.Int("attempt", dispatch.Attempt),
	))
	defer span.End()

	if err := p.limiter.Wait(sctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	snapshot, err := p.loadSnapshotWithRetry(sctx, dispatch.TaskID)
	if err != nil {
		span.RecordError(err)
		p.deadLetterExhausted(ctx, dispatch, err)
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snapshot.Task.Status != domain.TaskStatusInProgress {
		// Orphaned delivery: the task already left in-progress (finished,
		// or reclaimed back to pending), so ack without touching its state.
		p.log.Warn("worker pool: task not in-progress, skipping",
			zap.String("task_id", dispatch.TaskID.String()),
			zap.String("status", string(snapshot.Task.Status)))
		_ = reader.CommitMessages(ctx, m)
		return nil
	}

	acquired, err := p.acquireWithRetry(sctx, dispatch.CampaignID, snapshot.Campaign.MaxConcurrentCalls)
	if err != nil {
		span.RecordError(err)
		p.deadLetterExhausted(ctx, dispatch, err)
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("acquire concurrency slot: %w", err)
	}
	if !acquired {
		// No slot available right now. Nothing is requeued and no
		// reschedule is written: the message is left uncommitted and the
		// task stays in-progress, retry_count unchanged, until the orphan
		// sweeper returns it to pending. Kafka redelivers the message only
		// if the consumer group rebalances before a later offset on the
		// partition is committed.
		observability.ConcurrencyGateRejections.WithLabelValues(dispatch.CampaignID.String()).Inc()
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	defer func() {
		if err := p.gate.Release(context.Background(), dispatch.CampaignID); err != nil {
			p.log.Warn("worker pool: release concurrency slot", zap.Error(err))
		}
	}()

	now := time.Now().UTC()
	externalCallID := uuid.NewString()
	callLog := domain.CallLog{
		ID:             uuid.New(),
		UserID:         snapshot.Task.UserID,
		CallTaskID:     snapshot.Task.ID,
		PhoneNumberID:  snapshot.PhoneNumber.ID,
		DialedNumber:   snapshot.PhoneNumber.Number,
		ExternalCallID: externalCallID,
		Status:         domain.CallLogStatusInitiated,
		StartedAt:      now,
	}
	if err := p.createCallLogWithRetry(sctx, callLog); err != nil {
		span.RecordError(err)
		p.deadLetterExhausted(ctx, dispatch, err)
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("create call log: %w", err)
	}

	result, callErr := p.provider.PlaceCall(sctx, telephony.Request{
		Task:           snapshot.Task,
		PhoneNumber:    snapshot.PhoneNumber,
		ExternalCallID: externalCallID,
	})

	endedAt := time.Now().UTC()
	logStatus := result.Status
	if logStatus == "" {
		logStatus = domain.CallLogStatusFailed
	}
	if err := p.gateway.UpdateCallLogStatus(sctx, callLog.ID, logStatus, endedAt); err != nil {
		span.RecordError(err)
		p.log.Error("worker pool: update call log", zap.Error(err))
	}

	if err := p.recordOutcome(sctx, dispatch, snapshot, result, callErr, endedAt); err != nil {
		span.RecordError(err)
		return err
	}

	if err := reader.CommitMessages(ctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (p *Pool) recordOutcome(ctx context.Context, dispatch queue.DispatchMessage, snapshot domain.TaskSnapshot, result telephony.Result, callErr error, now time.Time) error {
	statusMsg := queue.StatusMessage{
		TaskID:            dispatch.TaskID,
		CampaignID:        dispatch.CampaignID,
		Status:            string(result.Status),
		Attempt:           dispatch.Attempt,
		MaxRetries:        snapshot.Campaign.Retry.MaxRetries,
		RetryDelaySeconds: snapshot.Campaign.Retry.RetryDelaySeconds,
		DurationMs:        int64(result.Duration / time.Millisecond),
		Error:             result.Error,
		OccurredAt:        now,
	}

	if callErr != nil && statusMsg.Error == "" {
		statusMsg.Error = callErr.Error()
	}

	succeeded := callErr == nil && result.Status == domain.CallLogStatusCompleted
	if succeeded {
		observability.TaskOutcomes.WithLabelValues("completed").Inc()
		if err := p.gateway.CompleteTask(ctx, dispatch.TaskID, now); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		p.publishStatus(ctx, statusMsg)
		if err := p.dispatcher.ClearDedup(ctx, dispatch.TaskID.String()); err != nil {
			p.log.Warn("worker pool: clear dedup", zap.Error(err))
		}
		return nil
	}

	exhausted := snapshot.Task.RetryCount >= snapshot.Campaign.Retry.MaxRetries
	if exhausted {
		observability.TaskOutcomes.WithLabelValues("failed").Inc()
		if err := p.gateway.FailTask(ctx, dispatch.TaskID, now); err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		p.publishStatus(ctx, statusMsg)
		if p.deadLetter != nil {
			if err := p.deadLetter.Publish(ctx, dispatch, statusMsg.Error); err != nil {
				p.log.Warn("worker pool: publish dead letter", zap.Error(err))
			}
		}
		if err := p.dispatcher.ClearDedup(ctx, dispatch.TaskID.String()); err != nil {
			p.log.Warn("worker pool: clear dedup", zap.Error(err))
		}
		return nil
	}

	observability.TaskOutcomes.WithLabelValues("retry").Inc()
	next, err := p.nextAttempt(snapshot)
	if err != nil {
		return fmt.Errorf("compute next attempt: %w", err)
	}
	statusMsg.Retryable = true
	statusMsg.NextAttempt = &next
	if err := p.gateway.RescheduleTask(ctx, dispatch.TaskID, next, now); err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	p.publishStatus(ctx, statusMsg)
	if err := p.dispatcher.ClearDedup(ctx, dispatch.TaskID.String()); err != nil {
		p.log.Warn("worker pool: clear dedup", zap.Error(err))
	}
	return nil
}

func (p *Pool) publishStatus(ctx context.Context, msg queue.StatusMessage) {
	if p.status == nil {
		return
	}
	if err := p.status.PublishStatus(ctx, msg); err != nil {
		p.log.Warn("worker pool: publish status", zap.Error(err))
	}
}

// loadSnapshotWithRetry retries a transient snapshot load with bounded
// exponential backoff. This runs strictly before any call is placed, so
// retrying here never risks placing a duplicate outbound call.
func (p *Pool) loadSnapshotWithRetry(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	maxAttempts := p.kafka.RetryMaxAttempts()
	baseDelay := p.kafka.RetryBaseDelay()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snapshot, err := p.gateway.LoadSnapshot(ctx, taskID)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		p.log.Warn("worker pool: retrying load snapshot", zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepBackoff(ctx, baseDelay, attempt); sleepErr != nil {
			return domain.TaskSnapshot{}, sleepErr
		}
	}
	return domain.TaskSnapshot{}, lastErr
}

// acquireWithRetry retries a transient concurrency-gate error (e.g. a
// Redis hiccup) with bounded exponential backoff. A clean "no slot
// available" response (ok=false, err=nil) is capacity backpressure, not
// a transient failure, and is never retried here.
func (p *Pool) acquireWithRetry(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	maxAttempts := p.kafka.RetryMaxAttempts()
	baseDelay := p.kafka.RetryBaseDelay()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, err := p.gate.Acquire(ctx, campaignID, limit)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		p.log.Warn("worker pool: retrying acquire concurrency slot", zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepBackoff(ctx, baseDelay, attempt); sleepErr != nil {
			return false, sleepErr
		}
	}
	return false, lastErr
}

// createCallLogWithRetry retries a transient call-log write with
// bounded exponential backoff. This also runs before PlaceCall, so no
// duplicate call risk.
func (p *Pool) createCallLogWithRetry(ctx context.Context, log domain.CallLog) error {
	maxAttempts := p.kafka.RetryMaxAttempts()
	baseDelay := p.kafka.RetryBaseDelay()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.gateway.CreateCallLog(ctx, log)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		p.log.Warn("worker pool: retrying create call log", zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepBackoff(ctx, baseDelay, attempt); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

// deadLetterExhausted reports a dispatch message whose pre-placement
// infra steps exhausted bounded transient retry, per spec.md §4.4's
// dead-letter-on-exhaustion requirement.
func (p *Pool) deadLetterExhausted(ctx context.Context, dispatch queue.DispatchMessage, cause error) {
	if p.deadLetter == nil {
		return
	}
	if err := p.deadLetter.Publish(ctx, dispatch, fmt.Sprintf("transient retries exhausted: %v", cause)); err != nil {
		p.log.Warn("worker pool: publish dead letter after exhausted transient retries", zap.Error(err))
	}
}

// nextAttempt computes the retry time honoring both the campaign's
// configured retry_delay_seconds and the schedule's business-hours
// window: the task is never rescheduled earlier than
// now+retry_delay_seconds, nor outside an allowed window.
func (p *Pool) nextAttempt(snapshot domain.TaskSnapshot) (time.Time, error) {
	earliest := time.Now().UTC().Add(time.Duration(snapshot.Campaign.Retry.RetryDelaySeconds) * time.Second)
	next, err := schedule.NextValidSlot(snapshot.Schedule.Rules, snapshot.Schedule.TimeZone, earliest)
	if err != nil {
		return time.Time{}, err
	}
	return next, nil
}
