package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cashflow/platform/internal/contracts"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/store"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Binding describes how one event type maps onto a replica of T.
type Binding[E contracts.Event, T any] struct {
	EventType string
	// Creates marks creation events, the only ones allowed to establish a
	// replica for an unknown public id.
	Creates bool
	Project func(E) T
}

// Synchronizer applies versioned snapshots of another service's entity to
// the local replica. An event is applied only when it is exactly one version
// ahead of the replica.
type Synchronizer[E contracts.Event, T any] struct {
	Binding Binding[E, T]
	Store   *store.Repository[T, entity.Replica]
	Policy  Policy
	Log     *log.Entry
	Tracer  trace.Tracer
	// After runs once a snapshot has been committed. Failures are logged; the
	// delivery still counts as applied.
	After func(ctx context.Context, rec store.Record[T]) error
}

func NewSynchronizer[E contracts.Event, T any](
	binding Binding[E, T],
	repo *store.Repository[T, entity.Replica],
	policy Policy,
	logger *log.Entry,
) *Synchronizer[E, T] {
	return &Synchronizer[E, T]{
		Binding: binding,
		Store:   repo,
		Policy:  policy,
		Log:     logger,
	}
}

func (s *Synchronizer[E, T]) Handle(ctx context.Context, msg Message) Outcome {
	ctx, obs := startObservation(ctx, defaultTracer(s.Tracer), s.Binding.EventType, msg)
	out := s.handle(ctx, msg, obs)
	obs.finish(defaultLogger(s.Log), out)
	return out
}

func (s *Synchronizer[E, T]) handle(ctx context.Context, msg Message, obs *observation) Outcome {
	ev, err := decode[E](msg.Data)
	if err != nil {
		return Drop(err)
	}
	h := ev.EventHeader()
	obs.entity(h.PublicID, h.Version)

	local, err := s.Store.Find(ctx, h.PublicID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !s.Binding.Creates {
			return s.Policy.Decide(fmt.Errorf("%w: %s", ErrNotYetKnown, h.PublicID), msg.Attempt)
		}
		return s.create(ctx, ev, msg, obs)
	case err != nil:
		return s.Policy.Decide(Persistence(err), msg.Attempt)
	}
	return s.apply(ctx, ev, local, msg, obs, true)
}

func (s *Synchronizer[E, T]) create(ctx context.Context, ev E, msg Message, obs *observation) Outcome {
	inserted, err := s.Store.Create(ctx, entity.SystemActor, s.record(ev))
	if err == nil {
		obs.local(inserted.Meta.Version)
		s.after(ctx, inserted)
		return Accept()
	}
	if !errors.Is(err, store.ErrConflict) {
		return s.Policy.Decide(Persistence(err), msg.Attempt)
	}

	// Another worker established the replica first.
	local, err := s.Store.Find(ctx, ev.EventHeader().PublicID)
	if err != nil {
		return s.Policy.Decide(Persistence(err), msg.Attempt)
	}
	return s.apply(ctx, ev, local, msg, obs, false)
}

func (s *Synchronizer[E, T]) apply(ctx context.Context, ev E, local store.Record[T], msg Message, obs *observation, reload bool) Outcome {
	h := ev.EventHeader()
	obs.local(local.Meta.Version)

	if h.Version <= local.Meta.Version {
		return Drop(fmt.Errorf("%w: event version %d, local version %d", ErrDuplicate, h.Version, local.Meta.Version))
	}
	if h.Version-1 != local.Meta.Version {
		return s.Policy.Decide(fmt.Errorf("%w: event version %d, local version %d", ErrOutOfOrder, h.Version, local.Meta.Version), msg.Attempt)
	}

	next := s.record(ev)
	next.ID = local.ID
	saved, err := s.Store.Save(ctx, entity.SystemActor, next)
	switch {
	case err == nil:
		obs.local(saved.Meta.Version)
		s.after(ctx, saved)
		return Accept()
	case errors.Is(err, store.ErrConflict):
		if !reload {
			return s.Policy.Decide(fmt.Errorf("%w: %s", ErrConcurrentWrite, h.PublicID), msg.Attempt)
		}
		current, findErr := s.Store.Find(ctx, h.PublicID)
		if findErr != nil {
			return s.Policy.Decide(Persistence(findErr), msg.Attempt)
		}
		return s.apply(ctx, ev, current, msg, obs, false)
	default:
		return s.Policy.Decide(Persistence(err), msg.Attempt)
	}
}

func (s *Synchronizer[E, T]) record(ev E) store.Record[T] {
	return store.Record[T]{
		Meta:  ev.EventHeader().Meta(),
		State: s.Binding.Project(ev),
	}
}

func (s *Synchronizer[E, T]) after(ctx context.Context, rec store.Record[T]) {
	if s.After == nil {
		return
	}
	if err := s.After(ctx, rec); err != nil {
		defaultLogger(s.Log).WithError(err).WithFields(log.Fields{
			"event_type": s.Binding.EventType,
			"public_id":  rec.Meta.PublicID,
			"version":    rec.Meta.Version,
		}).Error("post-apply hook failed")
	}
}

type validator interface {
	Validate() error
}

func decode[E any](data []byte) (E, error) {
	var ev E
	if len(bytes.TrimSpace(data)) == 0 {
		return ev, fmt.Errorf("%w: empty payload", ErrPoisonMessage)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}
	if v, ok := any(ev).(validator); ok {
		if err := v.Validate(); err != nil {
			return ev, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
		}
	}
	return ev, nil
}

// Persistence marks a store failure as transient.
func Persistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
