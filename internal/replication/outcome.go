package replication

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPoisonMessage    = errors.New("poison message")
	ErrNotYetKnown      = errors.New("entity not yet known locally")
	ErrOutOfOrder       = errors.New("event version out of order")
	ErrDuplicate        = errors.New("duplicate event")
	ErrConcurrentWrite  = errors.New("concurrent write on entity")
	ErrPersistence      = errors.New("persistence failure")
	ErrRetriesExhausted = errors.New("redelivery attempts exhausted")
)

// Kind is the terminal state of one delivery.
type Kind int

const (
	Applied Kind = iota
	Dropped
	Redelivered
	DeadLettered
)

func (k Kind) String() string {
	switch k {
	case Applied:
		return "applied"
	case Dropped:
		return "dropped"
	case Redelivered:
		return "redelivered"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Outcome tells the transport what to do with a delivery. Applied and Dropped
// are acknowledged, Redelivered is re-queued after Delay, DeadLettered is
// parked on the dead-letter subject.
type Outcome struct {
	Kind   Kind
	Reason error
	Delay  time.Duration
}

func Accept() Outcome {
	return Outcome{Kind: Applied}
}

func Drop(reason error) Outcome {
	return Outcome{Kind: Dropped, Reason: reason}
}

func Retry(reason error, delay time.Duration) Outcome {
	return Outcome{Kind: Redelivered, Reason: reason, Delay: delay}
}

func DeadLetter(reason error) Outcome {
	return Outcome{Kind: DeadLettered, Reason: reason}
}

// Acknowledged reports whether the delivery leaves the queue for good.
func (o Outcome) Acknowledged() bool {
	return o.Kind == Applied || o.Kind == Dropped
}

// Classify maps a reason onto a low-cardinality label.
func Classify(reason error) string {
	switch {
	case reason == nil:
		return "none"
	case errors.Is(reason, ErrPoisonMessage):
		return "poison"
	case errors.Is(reason, ErrNotYetKnown):
		return "not_yet_known"
	case errors.Is(reason, ErrDuplicate):
		return "duplicate"
	case errors.Is(reason, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(reason, ErrConcurrentWrite):
		return "conflict"
	case errors.Is(reason, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}

// Message is one delivery of an event. Attempt starts at 1.
type Message struct {
	Subject string
	Data    []byte
	Attempt int
}

type Handler interface {
	Handle(ctx context.Context, msg Message) Outcome
}

type HandlerFunc func(ctx context.Context, msg Message) Outcome

func (f HandlerFunc) Handle(ctx context.Context, msg Message) Outcome {
	return f(ctx, msg)
}

// Route binds a handler to the event type it consumes.
type Route struct {
	EventType string
	Handler   Handler
}
