// Package telephony abstracts the call-placement bridge the worker
// pool's PLACE step invokes.
package telephony

import (
	"context"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
)

// Request is the minimal information a provider needs to place a call.
type Request struct {
	Task           domain.Task
	PhoneNumber    domain.PhoneNumber
	ExternalCallID string
}

// Result captures the outcome of a telephony attempt.
type Result struct {
	Status    domain.CallLogStatus
	Duration  time.Duration
	Retryable bool
	Error     string
}

// Provider abstracts the telephony integration the worker pool's PLACE
// step calls into.
type Provider interface {
	PlaceCall(ctx context.Context, req Request) (Result, error)
}
