package runtime

import "time"

// RetryPolicy controls how activity attempts are spaced and bounded.
type RetryPolicy struct {
	InitialInterval    time.Duration
	MaximumInterval    time.Duration
	BackoffCoefficient float64
	MaximumAttempts    int
	// NonRetryable lists error classes that stop retrying immediately.
	NonRetryable []string
}

// ActivityPolicy is the per-activity-class invocation policy. Policies are
// plain values passed into workflow constructors; there are no package-level
// proxies.
type ActivityPolicy struct {
	StartToCloseTimeout time.Duration
	HeartbeatTimeout    time.Duration
	Retry               RetryPolicy
}

func (p RetryPolicy) attempts() int {
	if p.MaximumAttempts < 1 {
		return 1
	}
	return p.MaximumAttempts
}

// delay returns the backoff before the given retry (attempt numbers start at 1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialInterval
	if d <= 0 {
		return 0
	}
	coeff := p.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * coeff)
		if p.MaximumInterval > 0 && d >= p.MaximumInterval {
			return p.MaximumInterval
		}
	}
	if p.MaximumInterval > 0 && d > p.MaximumInterval {
		d = p.MaximumInterval
	}
	return d
}

func (p RetryPolicy) nonRetryable(err error) bool {
	class := ErrorClass(err)
	if class == "" {
		return false
	}
	for _, c := range p.NonRetryable {
		if c == class {
			return true
		}
	}
	return false
}
