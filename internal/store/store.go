package store

import (
	"context"
	"errors"
	"time"

	"github.com/cashflow/platform/internal/entity"
)

var (
	ErrNotFound     = errors.New("entity not found")
	ErrConflict     = errors.New("entity version conflict")
	ErrMissingID    = errors.New("public id is required")
	ErrMissingActor = errors.New("actor is required")
)

// Record is one stored entity. ID is a local surrogate key and never leaves
// the service.
type Record[T any] struct {
	ID    int64
	Meta  entity.Meta
	State T
}

func (r Record[T]) PublicID() string { return r.Meta.PublicID }
func (r Record[T]) Version() int64   { return r.Meta.Version }

// Backend is a persistence technology able to hold records of T.
//
// Insert fails with ErrConflict when the public id already exists.
// CompareAndSwap replaces the stored record only if its version equals
// expected, as one atomic operation, and fails with ErrConflict otherwise.
// Delete follows the same rule.
type Backend[T any] interface {
	FindByPublicID(ctx context.Context, publicID string) (Record[T], error)
	Insert(ctx context.Context, rec Record[T]) (Record[T], error)
	CompareAndSwap(ctx context.Context, rec Record[T], expected int64) error
	Delete(ctx context.Context, publicID string, expected int64) error
	Ping(ctx context.Context) error
}

// Repository stamps metadata according to P and delegates to a Backend.
type Repository[T any, P entity.Policy] struct {
	Backend Backend[T]
	Now     func() time.Time
	policy  P
}

func NewRepository[T any, P entity.Policy](backend Backend[T]) *Repository[T, P] {
	return &Repository[T, P]{
		Backend: backend,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository[T, P]) Find(ctx context.Context, publicID string) (Record[T], error) {
	if publicID == "" {
		return Record[T]{}, ErrMissingID
	}
	return r.Backend.FindByPublicID(ctx, publicID)
}

func (r *Repository[T, P]) Create(ctx context.Context, actor entity.Actor, rec Record[T]) (Record[T], error) {
	if actor.IsZero() {
		return Record[T]{}, ErrMissingActor
	}
	if rec.Meta.PublicID == "" {
		return Record[T]{}, ErrMissingID
	}
	r.policy.StampCreate(&rec.Meta, actor, r.Now())
	return r.Backend.Insert(ctx, rec)
}

// Save stamps rec and persists it with a single compare-and-swap on Version.
func (r *Repository[T, P]) Save(ctx context.Context, actor entity.Actor, rec Record[T]) (Record[T], error) {
	if actor.IsZero() {
		return Record[T]{}, ErrMissingActor
	}
	if rec.Meta.PublicID == "" {
		return Record[T]{}, ErrMissingID
	}
	expected := r.policy.StampUpdate(&rec.Meta, actor, r.Now())
	if expected < 0 {
		return Record[T]{}, ErrConflict
	}
	if err := r.Backend.CompareAndSwap(ctx, rec, expected); err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

// Delete removes rec if nobody wrote it since it was loaded. Only owned
// records are ever removed; replicas are never deleted.
func (r *Repository[T, P]) Delete(ctx context.Context, rec Record[T]) error {
	if rec.Meta.PublicID == "" {
		return ErrMissingID
	}
	return r.Backend.Delete(ctx, rec.Meta.PublicID, rec.Meta.Version)
}

func (r *Repository[T, P]) Ping(ctx context.Context) error {
	return r.Backend.Ping(ctx)
}

// MaxUpdateAttempts bounds how often Update reloads after losing a
// compare-and-swap.
const MaxUpdateAttempts = 3

// Update loads publicID, applies fn and saves, reloading when another writer
// got there first. An error from fn aborts without writing.
func (r *Repository[T, P]) Update(ctx context.Context, actor entity.Actor, publicID string, fn func(*Record[T]) error) (Record[T], error) {
	var lastErr error
	for attempt := 0; attempt < MaxUpdateAttempts; attempt++ {
		rec, err := r.Find(ctx, publicID)
		if err != nil {
			return Record[T]{}, err
		}
		if err := fn(&rec); err != nil {
			return Record[T]{}, err
		}
		saved, err := r.Save(ctx, actor, rec)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Record[T]{}, err
		}
		lastErr = err
	}
	return Record[T]{}, lastErr
}
