// Package replicationtest provides an in-process bus for exercising
// publishers and consumers without a broker.
package replicationtest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cashflow/platform/internal/replication"
	"github.com/cashflow/platform/internal/sharding"
)

type Published struct {
	Subject string
	MsgID   string
	Payload []byte
}

// EventType is empty for subjects outside the event stream.
func (p Published) EventType() string {
	eventType, _ := sharding.EventTypeFromSubject(p.Subject)
	return eventType
}

// Bus records publishes. Err, when set, fails every publish.
type Bus struct {
	mu   sync.Mutex
	msgs []Published
	Err  error
}

func (b *Bus) Publish(_ context.Context, subject, msgID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.msgs = append(b.msgs, Published{Subject: subject, MsgID: msgID, Payload: payload})
	return nil
}

func (b *Bus) Messages() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.msgs...)
}

func (b *Bus) OfType(eventType string) []Published {
	var out []Published
	for _, msg := range b.Messages() {
		if msg.EventType() == eventType {
			out = append(out, msg)
		}
	}
	return out
}

// Drain returns the recorded messages and forgets them.
func (b *Bus) Drain() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}

// Decode unmarshals a payload or fails the test.
func Decode[E any](t testing.TB, p Published) E {
	t.Helper()
	var ev E
	if err := json.Unmarshal(p.Payload, &ev); err != nil {
		t.Fatalf("decode %s: %v", p.Subject, err)
	}
	return ev
}

type pending struct {
	msg     Published
	route   replication.Route
	attempt int
}

// Relay feeds everything published on bus to the routes consuming it, and
// keeps going with whatever those handlers publish in turn. Redelivered
// messages are retried in the next round. It stops when the bus is quiet or
// after maxRounds and returns every outcome in handling order.
func Relay(ctx context.Context, bus *Bus, maxRounds int, routes ...replication.Route) []replication.Outcome {
	var (
		outcomes []replication.Outcome
		queue    []pending
	)
	enqueue := func() {
		for _, msg := range bus.Drain() {
			for _, route := range routes {
				if route.EventType == msg.EventType() {
					queue = append(queue, pending{msg: msg, route: route, attempt: 1})
				}
			}
		}
	}

	enqueue()
	for round := 0; round < maxRounds && len(queue) > 0; round++ {
		current := queue
		queue = nil
		for _, p := range current {
			out := p.route.Handler.Handle(ctx, replication.Message{
				Subject: p.msg.Subject,
				Data:    p.msg.Payload,
				Attempt: p.attempt,
			})
			outcomes = append(outcomes, out)
			if out.Kind == replication.Redelivered {
				p.attempt++
				queue = append(queue, p)
			}
		}
		enqueue()
	}
	return outcomes
}
