package replication

import (
	"errors"
	"testing"
	"time"
)

func TestFixedPolicyNeverExhaustsByDefault(t *testing.T) {
	p := DefaultPolicy()
	for _, attempt := range []int{1, 2, 50, 10000} {
		delay, exhausted := p.Next(attempt)
		if exhausted || delay != 10*time.Second {
			t.Fatalf("attempt %d: got %s exhausted=%v", attempt, delay, exhausted)
		}
	}
}

func TestExponentialPolicyDoublesUpToCap(t *testing.T) {
	p := Policy{Delay: time.Second, MaxDelay: 5 * time.Second, Backoff: BackoffExponential}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		got, _ := p.Next(i + 1)
		if got != w {
			t.Fatalf("attempt %d: want %s got %s", i+1, w, got)
		}
	}
}

func TestExponentialJitterStaysInBand(t *testing.T) {
	p := Policy{Delay: time.Second, MaxDelay: time.Minute, Backoff: BackoffExponential, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		got, _ := p.Next(3)
		if got < 3200*time.Millisecond || got > 4800*time.Millisecond {
			t.Fatalf("jittered delay out of band: %s", got)
		}
	}
}

func TestDecideDeadLettersAtCap(t *testing.T) {
	reason := errors.New("stuck")
	p := Policy{Delay: time.Second, MaxAttempts: 2}

	if out := p.Decide(reason, 1); out.Kind != Redelivered || out.Delay != time.Second {
		t.Fatalf("attempt 1 should be redelivered, got %+v", out)
	}
	out := p.Decide(reason, 2)
	if out.Kind != DeadLettered || !errors.Is(out.Reason, reason) {
		t.Fatalf("attempt 2 should be dead-lettered, got %+v", out)
	}
}

func TestParseBackoff(t *testing.T) {
	if ParseBackoff(" Exponential ") != BackoffExponential {
		t.Fatalf("expected exponential")
	}
	if ParseBackoff("linear") != BackoffFixed {
		t.Fatalf("unknown curves fall back to fixed")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		"none":          nil,
		"poison":        ErrPoisonMessage,
		"not_yet_known": ErrNotYetKnown,
		"duplicate":     ErrDuplicate,
		"out_of_order":  ErrOutOfOrder,
		"conflict":      ErrConcurrentWrite,
		"persistence":   Persistence(errors.New("x")),
		"other":         errors.New("x"),
	}
	for want, err := range cases {
		if got := Classify(err); got != want {
			t.Fatalf("Classify(%v) = %s want %s", err, got, want)
		}
	}
}
