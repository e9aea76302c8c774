package model

import (
	"time"

	"github.com/ntorque/ntorque/pkg/backoff"
)

// Backoff algorithm names accepted by DuePolicy.
const (
	AlgorithmLinear      = "linear"
	AlgorithmExponential = "exponential"
)

// DuePolicy maps a task's (timeout, retry_count) to its next due instant
// and its next status. The zero value is not usable; construct with
// NewDuePolicy.
type DuePolicy struct {
	// MinDelay and MaxDelay bound the retry delay, in seconds.
	MinDelay int
	MaxDelay int

	// MaxRetries is the retry budget beyond which a task fails.
	MaxRetries int

	// Algorithm selects how the delay grows per retry.
	Algorithm string

	now func() time.Time
}

// NewDuePolicy returns a policy with the given bounds. An unrecognised
// algorithm falls back to exponential.
func NewDuePolicy(minDelay, maxDelay, maxRetries int, algorithm string) *DuePolicy {
	if algorithm != AlgorithmLinear {
		algorithm = AlgorithmExponential
	}
	return &DuePolicy{
		MinDelay:   minDelay,
		MaxDelay:   maxDelay,
		MaxRetries: maxRetries,
		Algorithm:  algorithm,
		now:        time.Now,
	}
}

// Due returns the instant at which the task should next be eligible for
// execution: now plus min(B(retryCount) + max(timeout, 0), MaxDelay)
// seconds, where B starts at MinDelay and is advanced once per retry by
// the configured algorithm, saturating at MaxDelay.
func (p *DuePolicy) Due(timeout, retryCount int) time.Time {
	if timeout < 0 {
		timeout = 0
	}

	b := backoff.New(float64(p.MinDelay), backoff.WithMax(float64(p.MaxDelay)))
	for i := 0; i < retryCount; i++ {
		if p.Algorithm == AlgorithmLinear {
			b.Linear(0)
		} else {
			b.Exponential(0)
		}
	}

	delay := b.Value() + float64(timeout)
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return p.now().UTC().Add(time.Duration(delay * float64(time.Second)))
}

// Status returns FAILED once the retry budget is exhausted, PENDING
// otherwise. Consulted only on updates where retry_count has advanced.
func (p *DuePolicy) Status(retryCount int) Status {
	if retryCount > p.MaxRetries {
		return StatusFailed
	}
	return StatusPending
}
