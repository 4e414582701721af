package cqlpool

import "sync/atomic"

// ConvictionPolicy records failures against a host and decides when the
// host should be considered down ("convicted"). Implementations must be
// safe for concurrent use; HealthMonitor may call AddFailure from many
// goroutines at once.
type ConvictionPolicy interface {
	// AddFailure records a failure and reports whether the host is now
	// convicted.
	AddFailure(err error) bool
	// Reset clears accumulated failure state, e.g. after a successful
	// reconnection.
	Reset()
}

// ConvictionPolicyFactory builds a ConvictionPolicy for a single host.
type ConvictionPolicyFactory func() ConvictionPolicy

// ThresholdConvictionPolicy convicts a host once it has accumulated
// Threshold consecutive failures. A Threshold of 1 convicts on the first
// failure, matching spec.md §8 scenario 4.
type ThresholdConvictionPolicy struct {
	Threshold int32

	count atomic.Int32
}

// NewThresholdConvictionPolicy builds a ConvictionPolicy that convicts
// after threshold consecutive failures. threshold < 1 is treated as 1.
func NewThresholdConvictionPolicy(threshold int) *ThresholdConvictionPolicy {
	if threshold < 1 {
		threshold = 1
	}
	return &ThresholdConvictionPolicy{Threshold: int32(threshold)}
}

// AddFailure implements ConvictionPolicy.
func (p *ThresholdConvictionPolicy) AddFailure(_ error) bool {
	return p.count.Add(1) >= p.Threshold
}

// Reset implements ConvictionPolicy.
func (p *ThresholdConvictionPolicy) Reset() {
	p.count.Store(0)
}
