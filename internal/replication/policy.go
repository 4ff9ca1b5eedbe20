package replication

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

const (
	DefaultDelay    = 10 * time.Second
	DefaultMaxDelay = 5 * time.Minute
)

// Policy decides when a failed delivery is tried again and when to give up.
// MaxAttempts of zero never gives up.
type Policy struct {
	Delay       time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff
	MaxAttempts int
	// Jitter spreads exponential delays by +/- this fraction.
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		Delay:    DefaultDelay,
		MaxDelay: DefaultMaxDelay,
		Backoff:  BackoffFixed,
	}
}

func ParseBackoff(raw string) Backoff {
	if strings.EqualFold(strings.TrimSpace(raw), string(BackoffExponential)) {
		return BackoffExponential
	}
	return BackoffFixed
}

// Next returns the delay before the attempt following attempt, or exhausted
// once attempt reached MaxAttempts.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, true
	}
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	if p.Backoff != BackoffExponential || attempt <= 1 {
		return delay, false
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	backoff := float64(delay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	if p.Jitter > 0 {
		spread := p.Jitter * backoff
		backoff += (rand.Float64() - 0.5) * 2 * spread
	}
	return time.Duration(backoff), false
}

// Decide turns a transient failure into a redelivery, or a dead letter once
// the policy is exhausted.
func (p Policy) Decide(reason error, attempt int) Outcome {
	delay, exhausted := p.Next(attempt)
	if exhausted {
		return DeadLetter(reason)
	}
	return Retry(reason, delay)
}
