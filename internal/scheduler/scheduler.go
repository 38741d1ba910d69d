// Package scheduler implements the Scheduler Loop: it periodically
// claims due tasks from the State Store Gateway and hands them to the
// Dispatch Queue.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/observability"
	"github.com/acme/outbound-dialer/internal/queue"
	"github.com/acme/outbound-dialer/pkg/logger"
)

// Gateway is the subset of the State Store Gateway the scheduler loop
// needs.
type Gateway interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Task, error)
	Campaign(ctx context.Context, id uuid.UUID) (domain.Campaign, error)
}

// Dispatcher is the subset of the Dispatch Queue the scheduler loop needs.
type Dispatcher interface {
	DispatchTask(ctx context.Context, msg queue.DispatchMessage) (bool, error)
}

var _ Dispatcher = (*queue.Dispatcher)(nil)

// Loop periodically claims due tasks and dispatches them.
type Loop struct {
	gateway    Gateway
	dispatcher Dispatcher
	cfg        config.SchedulerConfig
	log        *logger.Logger
}

// New constructs a scheduler loop.
func New(gateway Gateway, dispatcher Dispatcher, cfg config.SchedulerConfig, log *logger.Logger) *Loop {
	return &Loop{gateway: gateway, dispatcher: dispatcher, cfg: cfg, log: log}
}

// Run executes the scheduling loop until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.cfg.TickInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := l.tick(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("scheduler: tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	tracer := otel.Tracer("outbound.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	timer := prometheusTimer()
	defer timer()

	limit := l.cfg.ClaimBatchSize
	if limit <= 0 {
		limit = 50
	}

	tasks, err := l.gateway.ClaimDue(sctx, time.Now().UTC(), limit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("tasks.claimed", len(tasks)))
	observability.TasksClaimed.Add(float64(len(tasks)))
	if len(tasks) == 0 {
		return nil
	}

	for _, task := range tasks {
		campaign, err := l.gateway.Campaign(sctx, task.CampaignID)
		if err != nil {
			l.log.Error("scheduler: load campaign", zap.String("task_id", task.ID.String()), zap.Error(err))
			continue
		}

		msg := queue.DispatchMessage{
			TaskID:            task.ID,
			CampaignID:        task.CampaignID,
			PhoneNumberID:     task.PhoneNumberID,
			Attempt:           task.RetryCount + 1,
			MaxRetries:        campaign.Retry.MaxRetries,
			RetryDelaySeconds: campaign.Retry.RetryDelaySeconds,
			EnqueuedAt:        time.Now().UTC(),
		}

		ok, err := l.dispatcher.DispatchTask(sctx, msg)
		if err != nil {
			l.log.Error("scheduler: dispatch task", zap.String("task_id", task.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			observability.DispatchDeduped.Inc()
			continue
		}
	}

	return nil
}

func prometheusTimer() func() {
	start := time.Now()
	return func() {
		observability.SchedulerLoopDuration.Observe(time.Since(start).Seconds())
	}
}
