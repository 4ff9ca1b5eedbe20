package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/store"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Intent is an unversioned request from another service to mutate an entity
// owned here, e.g. a moderator banning a user.
type Intent interface {
	TargetID() string
	IntentID() string
}

type IntentBinding[E Intent, T any] struct {
	EventType string
	// Done reports whether the target already reflects the intent.
	Done  func(E, T) bool
	Apply func(E, *T)
	// Actor attributes the owned write. Defaults to entity.SystemActor.
	Actor func(E) entity.Actor
}

// IntentHandler applies intents to owned entities through the owned
// repository, so each application bumps the version and is republished by
// After.
type IntentHandler[E Intent, T any] struct {
	Binding IntentBinding[E, T]
	Store   *store.Repository[T, entity.Owned]
	Policy  Policy
	Log     *log.Entry
	Tracer  trace.Tracer
	After   func(ctx context.Context, rec store.Record[T]) error
}

func NewIntentHandler[E Intent, T any](
	binding IntentBinding[E, T],
	repo *store.Repository[T, entity.Owned],
	policy Policy,
	logger *log.Entry,
) *IntentHandler[E, T] {
	return &IntentHandler[E, T]{
		Binding: binding,
		Store:   repo,
		Policy:  policy,
		Log:     logger,
	}
}

func (h *IntentHandler[E, T]) Handle(ctx context.Context, msg Message) Outcome {
	ctx, obs := startObservation(ctx, defaultTracer(h.Tracer), h.Binding.EventType, msg)
	out := h.handle(ctx, msg, obs)
	obs.finish(defaultLogger(h.Log), out)
	return out
}

func (h *IntentHandler[E, T]) handle(ctx context.Context, msg Message, obs *observation) Outcome {
	ev, err := decode[E](msg.Data)
	if err != nil {
		return Drop(err)
	}
	target := ev.TargetID()
	obs.fields["intent_id"] = ev.IntentID()
	obs.fields["public_id"] = target

	actor := entity.SystemActor
	if h.Binding.Actor != nil {
		if a := h.Binding.Actor(ev); !a.IsZero() {
			actor = a
		}
	}

	// One reload is allowed when a local writer wins the compare-and-swap.
	for try := 0; try < 2; try++ {
		rec, err := h.Store.Find(ctx, target)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return h.Policy.Decide(fmt.Errorf("%w: %s", ErrNotYetKnown, target), msg.Attempt)
		case err != nil:
			return h.Policy.Decide(Persistence(err), msg.Attempt)
		}
		obs.local(rec.Meta.Version)

		if h.Binding.Done(ev, rec.State) {
			return Drop(fmt.Errorf("%w: intent %s already applied to %s", ErrDuplicate, ev.IntentID(), target))
		}
		h.Binding.Apply(ev, &rec.State)

		saved, err := h.Store.Save(ctx, actor, rec)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return h.Policy.Decide(Persistence(err), msg.Attempt)
		}
		obs.local(saved.Meta.Version)
		if h.After != nil {
			if err := h.After(ctx, saved); err != nil {
				defaultLogger(h.Log).WithError(err).WithField("public_id", target).Error("post-apply hook failed")
			}
		}
		return Accept()
	}
	return h.Policy.Decide(fmt.Errorf("%w: %s", ErrConcurrentWrite, target), msg.Attempt)
}
