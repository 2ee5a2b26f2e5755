// Package core holds the error contracts shared by remote-service adapters
// and the worker pool.
package core

// TransientError marks an error as retryable by the worker pool
// (rate limits, 5xx responses, timeouts).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable but caps its own retry budget below
// the run-wide maximum. Used for errors where repeated retries are known
// to be wasteful (e.g. a provider that rate-limits per minute).
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MaxExtraRetries implements the worker pool's per-error retry cap.
func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil {
		return 0
	}
	return e.ExtraRetries
}
