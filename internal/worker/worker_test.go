package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/queue"
	"github.com/acme/outbound-dialer/internal/telephony"
	"github.com/acme/outbound-dialer/pkg/logger"
)

type fakeGateway struct {
	completed   []uuid.UUID
	rescheduled map[uuid.UUID]time.Time
	failed      []uuid.UUID
}

func (f *fakeGateway) LoadSnapshot(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	return domain.TaskSnapshot{}, nil
}
func (f *fakeGateway) CompleteTask(ctx context.Context, taskID uuid.UUID, now time.Time) error {
	f.completed = append(f.completed, taskID)
	return nil
}
func (f *fakeGateway) RescheduleTask(ctx context.Context, taskID uuid.UUID, nextAttempt, now time.Time) error {
	if f.rescheduled == nil {
		f.rescheduled = make(map[uuid.UUID]time.Time)
	}
	f.rescheduled[taskID] = nextAttempt
	return nil
}
func (f *fakeGateway) FailTask(ctx context.Context, taskID uuid.UUID, now time.Time) error {
	f.failed = append(f.failed, taskID)
	return nil
}
func (f *fakeGateway) CreateCallLog(ctx context.Context, log domain.CallLog) error { return nil }
func (f *fakeGateway) UpdateCallLogStatus(ctx context.Context, logID uuid.UUID, status domain.CallLogStatus, endedAt time.Time) error {
	return nil
}

type fakeDispatcher struct{ cleared []string }

func (f *fakeDispatcher) ClearDedup(ctx context.Context, taskID string) error {
	f.cleared = append(f.cleared, taskID)
	return nil
}

// flakyGateway fails LoadSnapshot/CreateCallLog a configured number of
// times before succeeding, simulating a transient infra hiccup.
type flakyGateway struct {
	fakeGateway
	loadFailures   int
	loadCalls      int
	createFailures int
	createCalls    int
}

func (f *flakyGateway) LoadSnapshot(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	f.loadCalls++
	if f.loadCalls <= f.loadFailures {
		return domain.TaskSnapshot{}, errors.New("transient load error")
	}
	return testSnapshot(0, 3), nil
}

func (f *flakyGateway) CreateCallLog(ctx context.Context, log domain.CallLog) error {
	f.createCalls++
	if f.createCalls <= f.createFailures {
		return errors.New("transient create error")
	}
	return nil
}

// fakeGate simulates a concurrency gate whose Acquire call may fail
// transiently before returning a clean admit/reject decision.
type fakeGate struct {
	acquireFailures int
	acquireCalls    int
	acquireResult   bool
	released        []uuid.UUID
}

func (f *fakeGate) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	f.acquireCalls++
	if f.acquireCalls <= f.acquireFailures {
		return false, errors.New("transient redis error")
	}
	return f.acquireResult, nil
}

func (f *fakeGate) Release(ctx context.Context, campaignID uuid.UUID) error {
	f.released = append(f.released, campaignID)
	return nil
}

type fakeDeadLetter struct{ published []string }

func (f *fakeDeadLetter) Publish(ctx context.Context, msg queue.DispatchMessage, reason string) error {
	f.published = append(f.published, reason)
	return nil
}

func testKafka(t *testing.T, maxRetries int) *queue.Kafka {
	t.Helper()
	k, err := queue.NewKafka(
		config.KafkaConfig{Brokers: []string{"localhost:9092"}},
		config.BullMQConfig{MaxRetries: maxRetries, RetryDelay: time.Millisecond},
	)
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	return k
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testSnapshot(retryCount, maxRetries int) domain.TaskSnapshot {
	return domain.TaskSnapshot{
		Task: domain.Task{ID: uuid.New(), RetryCount: retryCount},
		Campaign: domain.Campaign{
			Retry: domain.RetryPolicy{MaxRetries: maxRetries, RetryDelaySeconds: 60},
		},
		Schedule: domain.Schedule{
			TimeZone: "UTC",
			Rules: domain.ScheduleRules{
				Days:      []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"},
				StartTime: "00:00",
				EndTime:   "23:59",
			},
		},
	}
}

func TestPool_RecordOutcome_Success(t *testing.T) {
	gw := &fakeGateway{}
	disp := &fakeDispatcher{}
	pool := New(gw, nil, disp, nil, nil, nil, nil, config.WorkerConfig{}, newTestLogger(t))

	snap := testSnapshot(0, 3)
	dispatch := queue.DispatchMessage{TaskID: snap.Task.ID, Attempt: 1}

	err := pool.recordOutcome(context.Background(), dispatch, snap, telephony.Result{Status: domain.CallLogStatusCompleted}, nil, time.Now())
	if err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}
	if len(gw.completed) != 1 || gw.completed[0] != snap.Task.ID {
		t.Fatalf("expected task completed, got %v", gw.completed)
	}
	if len(disp.cleared) != 1 {
		t.Fatalf("expected dedup cleared, got %v", disp.cleared)
	}
}

func TestPool_RecordOutcome_RetriesWhenBelowMax(t *testing.T) {
	gw := &fakeGateway{}
	disp := &fakeDispatcher{}
	pool := New(gw, nil, disp, nil, nil, nil, nil, config.WorkerConfig{}, newTestLogger(t))

	snap := testSnapshot(1, 3)
	dispatch := queue.DispatchMessage{TaskID: snap.Task.ID, Attempt: 2}

	err := pool.recordOutcome(context.Background(), dispatch, snap, telephony.Result{Status: domain.CallLogStatusFailed, Retryable: true}, nil, time.Now())
	if err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}
	if _, ok := gw.rescheduled[snap.Task.ID]; !ok {
		t.Fatal("expected task to be rescheduled")
	}
	if len(gw.failed) != 0 {
		t.Fatal("did not expect task to be failed before exhausting retries")
	}
}

func TestPool_RecordOutcome_FailsWhenRetriesExhausted(t *testing.T) {
	gw := &fakeGateway{}
	disp := &fakeDispatcher{}
	pool := New(gw, nil, disp, nil, nil, nil, nil, config.WorkerConfig{}, newTestLogger(t))

	snap := testSnapshot(3, 3)
	dispatch := queue.DispatchMessage{TaskID: snap.Task.ID, Attempt: 4}

	err := pool.recordOutcome(context.Background(), dispatch, snap, telephony.Result{Status: domain.CallLogStatusFailed}, nil, time.Now())
	if err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}
	if len(gw.failed) != 1 || gw.failed[0] != snap.Task.ID {
		t.Fatalf("expected task failed, got %v", gw.failed)
	}
	if len(gw.rescheduled) != 0 {
		t.Fatal("did not expect a reschedule once retries are exhausted")
	}
}

func TestPool_NextAttempt_HonorsRetryDelay(t *testing.T) {
	pool := New(&fakeGateway{}, nil, &fakeDispatcher{}, nil, nil, nil, nil, config.WorkerConfig{}, newTestLogger(t))
	snap := testSnapshot(0, 3)

	before := time.Now().UTC()
	next, err := pool.nextAttempt(snap)
	if err != nil {
		t.Fatalf("nextAttempt: %v", err)
	}
	minExpected := before.Add(60 * time.Second)
	if next.Before(minExpected) {
		t.Errorf("expected next attempt >= %v, got %v", minExpected, next)
	}
}

func TestPool_LoadSnapshotWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	gw := &flakyGateway{loadFailures: 2}
	pool := New(gw, nil, &fakeDispatcher{}, nil, nil, testKafka(t, 3), nil, config.WorkerConfig{}, newTestLogger(t))

	if _, err := pool.loadSnapshotWithRetry(context.Background(), uuid.New()); err != nil {
		t.Fatalf("loadSnapshotWithRetry: %v", err)
	}
	if gw.loadCalls != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", gw.loadCalls)
	}
}

func TestPool_LoadSnapshotWithRetry_ExhaustsAndDeadLetters(t *testing.T) {
	gw := &flakyGateway{loadFailures: 10}
	dl := &fakeDeadLetter{}
	pool := New(gw, nil, &fakeDispatcher{}, nil, dl, testKafka(t, 2), nil, config.WorkerConfig{}, newTestLogger(t))

	taskID := uuid.New()
	_, err := pool.loadSnapshotWithRetry(context.Background(), taskID)
	if err == nil {
		t.Fatal("expected an error once transient retries are exhausted")
	}
	if gw.loadCalls != 2 {
		t.Fatalf("expected exactly max attempts (2), got %d", gw.loadCalls)
	}

	pool.deadLetterExhausted(context.Background(), queue.DispatchMessage{TaskID: taskID}, err)
	if len(dl.published) != 1 {
		t.Fatalf("expected one dead letter publish, got %d", len(dl.published))
	}
}

func TestPool_CreateCallLogWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	gw := &flakyGateway{createFailures: 1}
	pool := New(gw, nil, &fakeDispatcher{}, nil, nil, testKafka(t, 3), nil, config.WorkerConfig{}, newTestLogger(t))

	if err := pool.createCallLogWithRetry(context.Background(), domain.CallLog{}); err != nil {
		t.Fatalf("createCallLogWithRetry: %v", err)
	}
	if gw.createCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", gw.createCalls)
	}
}

func TestPool_AcquireWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	gate := &fakeGate{acquireFailures: 1, acquireResult: true}
	pool := New(&fakeGateway{}, gate, &fakeDispatcher{}, nil, nil, testKafka(t, 3), nil, config.WorkerConfig{}, newTestLogger(t))

	ok, err := pool.acquireWithRetry(context.Background(), uuid.New(), 5)
	if err != nil {
		t.Fatalf("acquireWithRetry: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed after the transient failure clears")
	}
	if gate.acquireCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", gate.acquireCalls)
	}
}

func TestPool_AcquireWithRetry_DoesNotRetryCleanRejection(t *testing.T) {
	gate := &fakeGate{acquireResult: false}
	pool := New(&fakeGateway{}, gate, &fakeDispatcher{}, nil, nil, testKafka(t, 3), nil, config.WorkerConfig{}, newTestLogger(t))

	ok, err := pool.acquireWithRetry(context.Background(), uuid.New(), 5)
	if err != nil {
		t.Fatalf("acquireWithRetry: %v", err)
	}
	if ok {
		t.Fatal("expected acquire to report no slot available")
	}
	if gate.acquireCalls != 1 {
		t.Fatalf("a clean no-slot-available rejection must not be retried, got %d attempts", gate.acquireCalls)
	}
}
