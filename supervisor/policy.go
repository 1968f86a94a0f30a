package supervisor

import (
	"fmt"
	"time"
)

// TimeoutPolicy holds the soft and hard deadlines applied to one execution.
//
// The soft deadline triggers a graceful termination request; the interval
// between the two is the grace period the worker gets to exit on its own
// before the hard deadline forces an unconditional kill. Both deadlines are
// measured as monotonic wall time elapsed since the worker started.
type TimeoutPolicy struct {
	Soft time.Duration
	Hard time.Duration
}

// Grace returns the interval between the soft and hard deadlines.
func (p TimeoutPolicy) Grace() time.Duration {
	return p.Hard - p.Soft
}

// Validate checks that the policy is internally consistent.
func (p TimeoutPolicy) Validate() error {
	if p.Soft <= 0 {
		return fmt.Errorf("soft timeout must be positive, got %s", p.Soft)
	}
	if p.Hard <= p.Soft {
		return fmt.Errorf("hard timeout %s must exceed soft timeout %s", p.Hard, p.Soft)
	}
	return nil
}

// withSoftOverride returns a policy whose soft deadline is replaced by the
// requested override while preserving the original grace period.
func (p TimeoutPolicy) withSoftOverride(soft time.Duration) TimeoutPolicy {
	return TimeoutPolicy{Soft: soft, Hard: soft + p.Grace()}
}
