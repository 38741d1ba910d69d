// Package sweeper implements the orphan sweeper: a background loop that
// reclaims tasks a crashed worker left stuck in-progress, returning
// them to pending so the scheduler loop claims them again.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/observability"
	"github.com/acme/outbound-dialer/pkg/logger"
)

// Gateway is the subset of the State Store Gateway the sweeper needs.
type Gateway interface {
	ReclaimOrphans(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// Sweeper periodically reclaims orphaned in-progress tasks.
type Sweeper struct {
	gateway Gateway
	cfg     config.SweeperConfig
	log     *logger.Logger
}

// New constructs a Sweeper.
func New(gateway Gateway, cfg config.SweeperConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{gateway: gateway, cfg: cfg, log: log}
}

// Run executes the sweep loop until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweeper: sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	threshold := s.cfg.OrphanThreshold
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}

	now := time.Now().UTC()
	reclaimed, err := s.gateway.ReclaimOrphans(ctx, now.Add(-threshold), now)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		observability.OrphansReclaimed.Add(float64(reclaimed))
		s.log.Info("sweeper: reclaimed orphaned tasks", zap.Int64("count", reclaimed))
	}
	return nil
}
