// Package mock implements a telephony.Provider that simulates call
// placement for local development and tests: fixed 2s call duration,
// 90% success rate.
package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/telephony"
)

const simulatedCallDuration = 2 * time.Second

// Provider simulates outbound call behavior.
type Provider struct {
	successRate float64
	rng         *rand.Rand
}

// NewProvider constructs a mock provider with deterministic randomness
// seeded from a config-supplied value so simulation runs are
// reproducible when the seed is pinned.
func NewProvider(cfg config.CallBridgeConfig) *Provider {
	seed := cfg.SimulationSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Provider{
		successRate: 0.9,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// PlaceCall simulates a call attempt of fixed duration.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.Request) (telephony.Result, error) {
	select {
	case <-ctx.Done():
		return telephony.Result{Status: "failed", Duration: simulatedCallDuration, Retryable: true, Error: ctx.Err().Error()}, ctx.Err()
	case <-time.After(simulatedCallDuration):
	}

	if p.rng.Float64() <= p.successRate {
		return telephony.Result{Status: "completed", Duration: simulatedCallDuration}, nil
	}

	retryable := p.rng.Float64() < 0.7
	return telephony.Result{Status: "failed", Duration: simulatedCallDuration, Retryable: retryable, Error: "simulated failure"}, nil
}
