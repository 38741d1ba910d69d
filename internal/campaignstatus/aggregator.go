// Package campaignstatus implements the Campaign Status Aggregator: it
// derives a campaign's externally visible status from its live task
// counts rather than storing status as its own column.
package campaignstatus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/observability"
)

// Gateway is the subset of the State Store Gateway the aggregator needs.
type Gateway interface {
	Campaign(ctx context.Context, id uuid.UUID) (domain.Campaign, error)
	CampaignCounts(ctx context.Context, campaignID uuid.UUID) (domain.CampaignTaskCounts, error)
}

// Aggregator computes derived campaign status.
type Aggregator struct {
	gateway Gateway
}

// New constructs an Aggregator.
func New(gateway Gateway) *Aggregator {
	return &Aggregator{gateway: gateway}
}

// Status computes the derived status of a campaign, in precedence order:
//   - paused:      the campaign's is_paused flag is set
//   - paused:      no task has been claimed yet (total == 0)
//   - failed:      at least one task has failed, visible even while others
//     are still pending or in-progress ("fail-visible")
//   - in-progress: at least one task is pending or in-progress
//   - completed:   every task reached completed with no failures
func Status(campaign domain.Campaign, counts domain.CampaignTaskCounts) domain.CampaignStatus {
	if campaign.IsPaused {
		return domain.CampaignStatusPaused
	}
	if counts.Total == 0 {
		return domain.CampaignStatusPaused
	}
	if counts.Failed > 0 {
		return domain.CampaignStatusFailed
	}
	if counts.Pending > 0 || counts.InProgress > 0 {
		return domain.CampaignStatusInProgress
	}
	return domain.CampaignStatusCompleted
}

// Compute fetches a campaign's live counts and returns its derived
// status, also refreshing the per-campaign metrics gauge.
func (a *Aggregator) Compute(ctx context.Context, campaignID uuid.UUID) (domain.CampaignStatus, domain.CampaignTaskCounts, error) {
	campaign, err := a.gateway.Campaign(ctx, campaignID)
	if err != nil {
		return "", domain.CampaignTaskCounts{}, fmt.Errorf("campaign status: load campaign: %w", err)
	}
	counts, err := a.gateway.CampaignCounts(ctx, campaignID)
	if err != nil {
		return "", domain.CampaignTaskCounts{}, fmt.Errorf("campaign status: load counts: %w", err)
	}

	id := campaignID.String()
	observability.CampaignTaskGauge.WithLabelValues(id, "pending").Set(float64(counts.Pending))
	observability.CampaignTaskGauge.WithLabelValues(id, "in-progress").Set(float64(counts.InProgress))
	observability.CampaignTaskGauge.WithLabelValues(id, "completed").Set(float64(counts.Completed))
	observability.CampaignTaskGauge.WithLabelValues(id, "failed").Set(float64(counts.Failed))

	return Status(campaign, counts), counts, nil
}
