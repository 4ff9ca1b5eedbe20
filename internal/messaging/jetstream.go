package messaging

import (
	"errors"
	"strings"
	"time"

	"github.com/cashflow/platform/internal/sharding"
	"github.com/nats-io/nats.go"
)

const (
	EventsStream     = "EVENTS"
	DeadLetterStream = "DEADLETTER"

	DefaultAckWait   = 30 * time.Second
	DefaultPrefetch  = 16
	DefaultFetchWait = 2 * time.Second
)

const (
	eventSubjects      = "app.event.>"
	deadLetterPrefix   = "app.deadletter."
	deadLetterSubjects = deadLetterPrefix + ">"
	duplicateWindow    = 2 * time.Minute
)

// Headers attached to dead-lettered messages.
const (
	HeaderReason   = "Replication-Reason"
	HeaderAttempts = "Replication-Attempts"
	HeaderSubject  = "Replication-Subject"
)

// EnsureStreams creates (or validates) the streams required by every service:
// - app.event.> with a publish de-duplication window
// - app.deadletter.>
func EnsureStreams(js nats.JetStreamContext) error {
	if err := ensureStream(js, &nats.StreamConfig{
		Name:       EventsStream,
		Subjects:   []string{eventSubjects},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		Replicas:   1,
		Duplicates: duplicateWindow,
	}); err != nil {
		return err
	}
	return ensureStream(js, &nats.StreamConfig{
		Name:      DeadLetterStream,
		Subjects:  []string{deadLetterSubjects},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
}

func ensureStream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	if _, err := js.StreamInfo(cfg.Name); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(cfg); addErr != nil {
			return addErr
		}
	}
	return nil
}

// DurableName is the consumer name for one (service, event type) pair,
// e.g. tasks-user-updated.
func DurableName(service, eventType string) string {
	r := strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-")
	return r.Replace(service + "-" + eventType)
}

func FilterSubject(eventType string) string {
	return sharding.EventFilter(eventType)
}

func DeadLetterSubject(durable string) string {
	return deadLetterPrefix + durable
}

type SubscribeOptions struct {
	Prefetch int
	AckWait  time.Duration
}

// PullSubscribe binds a durable pull consumer for one event type. Redelivery
// is unbounded at the broker; the redelivery policy decides when to give up.
func PullSubscribe(js nats.JetStreamContext, service, eventType string, opts SubscribeOptions) (*nats.Subscription, error) {
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}
	if opts.AckWait <= 0 {
		opts.AckWait = DefaultAckWait
	}
	return js.PullSubscribe(
		FilterSubject(eventType),
		DurableName(service, eventType),
		nats.BindStream(EventsStream),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxAckPending(opts.Prefetch),
		nats.MaxDeliver(-1),
		nats.AckWait(opts.AckWait),
	)
}
