package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cashflow/platform/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by Table.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
  id bigserial PRIMARY KEY,
  public_id text NOT NULL UNIQUE,
  version bigint NOT NULL CHECK (version >= 0),
  created_at timestamptz NOT NULL,
  created_by_user_id text NOT NULL,
  last_updated_at timestamptz,
  last_updated_by_user_id text,
  state jsonb NOT NULL
)`

const selectSQL = `
SELECT id, public_id, version, created_at, created_by_user_id,
       last_updated_at, last_updated_by_user_id, state
FROM %[1]s
WHERE public_id = $1`

const insertSQL = `
INSERT INTO %[1]s (
  public_id, version, created_at, created_by_user_id,
  last_updated_at, last_updated_by_user_id, state
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (public_id) DO NOTHING
RETURNING id`

const compareAndSwapSQL = `
UPDATE %[1]s
SET version = $2,
    created_at = $3,
    created_by_user_id = $4,
    last_updated_at = $5,
    last_updated_by_user_id = $6,
    state = $7
WHERE public_id = $1 AND version = $8`

const deleteSQL = `
DELETE FROM %[1]s
WHERE public_id = $1 AND version = $2`

// Table stores records of T in one table, entity fields as a jsonb document.
type Table[T any] struct {
	DB   DB
	Name string
}

func NewTable[T any](db DB, name string) *Table[T] {
	return &Table[T]{DB: db, Name: name}
}

func (t *Table[T]) ident() string {
	return pgx.Identifier{t.Name}.Sanitize()
}

func (t *Table[T]) EnsureSchema(ctx context.Context) error {
	_, err := t.DB.Exec(ctx, fmt.Sprintf(createTableSQL, t.ident()))
	return err
}

func (t *Table[T]) FindByPublicID(ctx context.Context, publicID string) (store.Record[T], error) {
	var (
		rec   store.Record[T]
		state []byte
	)
	err := t.DB.QueryRow(ctx, fmt.Sprintf(selectSQL, t.ident()), publicID).Scan(
		&rec.ID,
		&rec.Meta.PublicID,
		&rec.Meta.Version,
		&rec.Meta.CreatedAt,
		&rec.Meta.CreatedByUserID,
		&rec.Meta.LastUpdatedAt,
		&rec.Meta.LastUpdatedByUserID,
		&state,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record[T]{}, store.ErrNotFound
		}
		return store.Record[T]{}, err
	}
	if err := json.Unmarshal(state, &rec.State); err != nil {
		return store.Record[T]{}, fmt.Errorf("decode %s state: %w", t.Name, err)
	}
	return rec, nil
}

func (t *Table[T]) Insert(ctx context.Context, rec store.Record[T]) (store.Record[T], error) {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return store.Record[T]{}, err
	}
	m := rec.Meta
	err = t.DB.QueryRow(ctx, fmt.Sprintf(insertSQL, t.ident()),
		m.PublicID,
		m.Version,
		m.CreatedAt,
		m.CreatedByUserID,
		m.LastUpdatedAt,
		m.LastUpdatedByUserID,
		state,
	).Scan(&rec.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record[T]{}, store.ErrConflict
		}
		return store.Record[T]{}, err
	}
	return rec, nil
}

func (t *Table[T]) CompareAndSwap(ctx context.Context, rec store.Record[T], expected int64) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return err
	}
	m := rec.Meta
	tag, err := t.DB.Exec(ctx, fmt.Sprintf(compareAndSwapSQL, t.ident()),
		m.PublicID,
		m.Version,
		m.CreatedAt,
		m.CreatedByUserID,
		m.LastUpdatedAt,
		m.LastUpdatedByUserID,
		state,
		expected,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *Table[T]) Delete(ctx context.Context, publicID string, expected int64) error {
	tag, err := t.DB.Exec(ctx, fmt.Sprintf(deleteSQL, t.ident()), publicID, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *Table[T]) Ping(ctx context.Context) error {
	return t.DB.Ping(ctx)
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// WaitReady pings and ensures the schema, retrying until timeout.
func WaitReady(ctx context.Context, db DB, timeout time.Duration, log func(error), tables ...SchemaEnsurer) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = db.Ping(attemptCtx)
		for _, table := range tables {
			if lastErr != nil {
				break
			}
			lastErr = table.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		if log != nil {
			log(lastErr)
		}
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

var _ store.Backend[struct{}] = (*Table[struct{}])(nil)
