// Package observability exposes the Prometheus metrics surface for the
// scheduler loop, worker pool, and orphan sweeper.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksClaimed tracks tasks claimed by the scheduler loop per tick.
	TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbound_tasks_claimed_total",
		Help: "Total number of tasks claimed by the scheduler loop",
	})

	// TaskOutcomes tracks terminal and retry outcomes recorded by the
	// worker pool, labeled by outcome: completed, failed, retry.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_task_outcomes_total",
		Help: "Total number of task outcomes recorded by the worker pool",
	}, []string{"outcome"})

	// DispatchDeduped tracks dispatch attempts skipped because a
	// dispatch for the task was already in flight.
	DispatchDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbound_dispatch_deduped_total",
		Help: "Total number of dispatch attempts skipped due to an in-flight duplicate",
	})

	// ConcurrencyGateRejections tracks acquire attempts rejected because
	// a campaign was already at its concurrency limit.
	ConcurrencyGateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_concurrency_gate_rejections_total",
		Help: "Total number of concurrency gate acquires rejected at the campaign limit",
	}, []string{"campaign_id"})

	// OrphansReclaimed tracks tasks the sweeper returns to pending after
	// finding them stuck in-progress past the orphan threshold.
	OrphansReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbound_orphans_reclaimed_total",
		Help: "Total number of in-progress tasks reclaimed by the orphan sweeper",
	})

	// CampaignTaskGauge tracks the live per-status task counts for each
	// campaign, refreshed by the campaign status aggregator.
	CampaignTaskGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbound_campaign_tasks",
		Help: "Current task counts per campaign by status",
	}, []string{"campaign_id", "status"})

	// SchedulerLoopDuration tracks the duration of one scheduler loop tick.
	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbound_scheduler_loop_duration_seconds",
		Help:    "Duration of one scheduler loop tick",
		Buckets: prometheus.DefBuckets,
	})
)
