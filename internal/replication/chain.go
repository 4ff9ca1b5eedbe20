package replication

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Then runs follow after h has acknowledged a well-formed message. A failing
// follow-up turns the delivery into a redelivery under policy, so the
// follow-up must be idempotent: the redelivered message is a duplicate for h
// and only follow runs again.
func Then(h Handler, policy Policy, logger *log.Entry, follow func(ctx context.Context, msg Message) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) Outcome {
		out := h.Handle(ctx, msg)
		if !out.Acknowledged() || errors.Is(out.Reason, ErrPoisonMessage) {
			return out
		}
		err := follow(ctx, msg)
		if err == nil {
			return out
		}
		next := policy.Decide(err, msg.Attempt)
		defaultLogger(logger).WithError(err).WithFields(log.Fields{
			"subject": msg.Subject,
			"attempt": msg.Attempt,
			"outcome": next.Kind.String(),
			"reason":  Classify(err),
		}).Warn("follow-up failed")
		return next
	})
}
