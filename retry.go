package dalma

import "time"

// RetryBuilder assembles the RetryPolicy of a program step. A failing
// step is re-run inside the same segment, so the delays below are slept
// on a worker and should stay short; waits measured in minutes belong in
// a Sleep step.
//
//	dalma.NewProgram("charge").
//	    StepWithRetry("call-gateway", callGateway,
//	        dalma.Retry(5).WithExponentialBackoff(50*time.Millisecond, 2, time.Second).Policy())
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a policy allowing maxAttempts runs of the step in total.
// Values below one mean a single run.
func Retry(maxAttempts int) RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: max(maxAttempts, 1)}}
}

func (r RetryBuilder) with(initial, maxBackoff time.Duration, multiplier float64) RetryBuilder {
	p := r.policy
	p.InitialBackoff = initial
	p.MaxBackoff = maxBackoff
	p.BackoffMultiplier = multiplier
	return RetryBuilder{policy: p}
}

// WithExponentialBackoff waits initial before the first retry and
// multiplies the wait by multiplier (2 when not positive) after each
// further failure, up to maxBackoff (unbounded when not positive).
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, maxBackoff time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2
	}
	return r.with(initial, maxBackoff, multiplier)
}

// WithConstantBackoff waits delay between every two attempts.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	return r.with(delay, 0, 1)
}

// Immediate retries without waiting.
func (r RetryBuilder) Immediate() RetryBuilder {
	return r.with(0, 0, 0)
}

// Policy returns the policy for ProgramBuilder.StepWithRetry.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
