package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/pkg/logger"
)

type fakeGateway struct {
	olderThan time.Time
	reclaimed int64
	err       error
}

func (f *fakeGateway) ReclaimOrphans(ctx context.Context, olderThan, now time.Time) (int64, error) {
	f.olderThan = olderThan
	return f.reclaimed, f.err
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestSweeper_SweepUsesConfiguredThreshold(t *testing.T) {
	gw := &fakeGateway{reclaimed: 3}
	s := New(gw, config.SweeperConfig{OrphanThreshold: 10 * time.Minute}, newTestLogger(t))

	before := time.Now().UTC()
	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	expectedCutoff := before.Add(-10 * time.Minute)
	if gw.olderThan.Before(expectedCutoff.Add(-time.Second)) || gw.olderThan.After(expectedCutoff.Add(time.Second)) {
		t.Errorf("expected cutoff near %v, got %v", expectedCutoff, gw.olderThan)
	}
}

func TestSweeper_SweepPropagatesError(t *testing.T) {
	gw := &fakeGateway{err: context.DeadlineExceeded}
	s := New(gw, config.SweeperConfig{}, newTestLogger(t))

	if err := s.sweep(context.Background()); err == nil {
		t.Fatal("expected error to propagate")
	}
}
