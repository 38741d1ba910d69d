package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/queue"
	"github.com/acme/outbound-dialer/pkg/logger"
)

type fakeGateway struct {
	tasks     []domain.Task
	campaigns map[uuid.UUID]domain.Campaign
	claimErr  error
}

func (f *fakeGateway) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.tasks, nil
}

func (f *fakeGateway) Campaign(ctx context.Context, id uuid.UUID) (domain.Campaign, error) {
	return f.campaigns[id], nil
}

type fakeDispatcher struct {
	dispatched []queue.DispatchMessage
	dedupeNext bool
}

func (f *fakeDispatcher) DispatchTask(ctx context.Context, msg queue.DispatchMessage) (bool, error) {
	if f.dedupeNext {
		f.dedupeNext = false
		return false, nil
	}
	f.dispatched = append(f.dispatched, msg)
	return true, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestLoop_TickDispatchesClaimedTasks(t *testing.T) {
	campaignID := uuid.New()
	taskID := uuid.New()
	gw := &fakeGateway{
		tasks: []domain.Task{{ID: taskID, CampaignID: campaignID, RetryCount: 1}},
		campaigns: map[uuid.UUID]domain.Campaign{
			campaignID: {ID: campaignID, Retry: domain.RetryPolicy{MaxRetries: 5, RetryDelaySeconds: 60}},
		},
	}
	disp := &fakeDispatcher{}
	loop := New(gw, disp, config.SchedulerConfig{ClaimBatchSize: 10}, newTestLogger(t))

	if err := loop.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(disp.dispatched) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(disp.dispatched))
	}
	got := disp.dispatched[0]
	if got.TaskID != taskID {
		t.Errorf("expected task id %s, got %s", taskID, got.TaskID)
	}
	if got.Attempt != 2 {
		t.Errorf("expected attempt 2 (retry_count+1), got %d", got.Attempt)
	}
	if got.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", got.MaxRetries)
	}
}

func TestLoop_TickSkipsDedupedDispatch(t *testing.T) {
	campaignID := uuid.New()
	gw := &fakeGateway{
		tasks:     []domain.Task{{ID: uuid.New(), CampaignID: campaignID}},
		campaigns: map[uuid.UUID]domain.Campaign{campaignID: {ID: campaignID}},
	}
	disp := &fakeDispatcher{dedupeNext: true}
	loop := New(gw, disp, config.SchedulerConfig{}, newTestLogger(t))

	if err := loop.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(disp.dispatched) != 0 {
		t.Fatalf("expected deduped dispatch to be skipped, got %d dispatched", len(disp.dispatched))
	}
}

func TestLoop_TickNoTasksIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	disp := &fakeDispatcher{}
	loop := New(gw, disp, config.SchedulerConfig{}, newTestLogger(t))

	if err := loop.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(disp.dispatched) != 0 {
		t.Fatalf("expected no dispatch, got %d", len(disp.dispatched))
	}
}

func TestLoop_TickPropagatesClaimError(t *testing.T) {
	gw := &fakeGateway{claimErr: context.DeadlineExceeded}
	disp := &fakeDispatcher{}
	loop := New(gw, disp, config.SchedulerConfig{}, newTestLogger(t))

	if err := loop.tick(context.Background()); err == nil {
		t.Fatal("expected error to propagate from ClaimDue")
	}
}
