package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cashflow/platform/internal/entity"
	"github.com/cashflow/platform/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	Email    string `json:"email"`
	IsBanned bool   `json:"is_banned"`
}

func newHash(t *testing.T) (*Hash[user], *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHash[user](client, "tasks:user_replicas"), m
}

func TestHashInsertAndFind(t *testing.T) {
	ctx := context.Background()
	h, m := newHash(t)
	created := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	rec, err := h.Insert(ctx, store.Record[user]{
		Meta:  entity.Meta{PublicID: "u-1", Version: 2, CreatedAt: created, CreatedByUserID: "u-1"},
		State: user{Email: "a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.True(t, m.Exists("tasks:user_replicas:u-1"))

	got, err := h.FindByPublicID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, int64(2), got.Meta.Version)
	assert.True(t, created.Equal(got.Meta.CreatedAt))
	assert.Equal(t, "a@example.com", got.State.Email)

	_, err = h.Insert(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1"}})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestHashFindMissing(t *testing.T) {
	h, _ := newHash(t)
	_, err := h.FindByPublicID(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHashCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	h, _ := newHash(t)
	_, err := h.Insert(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1", Version: 3}})
	require.NoError(t, err)

	err = h.CompareAndSwap(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1", Version: 5}}, 4)
	assert.ErrorIs(t, err, store.ErrConflict)

	err = h.CompareAndSwap(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1", Version: 4}, State: user{IsBanned: true}}, 3)
	require.NoError(t, err)

	got, err := h.FindByPublicID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Meta.Version)
	assert.True(t, got.State.IsBanned)

	err = h.CompareAndSwap(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "ghost", Version: 1}}, 0)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestHashDelete(t *testing.T) {
	ctx := context.Background()
	h, m := newHash(t)
	_, err := h.Insert(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1", Version: 2}})
	require.NoError(t, err)

	assert.ErrorIs(t, h.Delete(ctx, "u-1", 1), store.ErrConflict)
	assert.True(t, m.Exists("tasks:user_replicas:u-1"))

	require.NoError(t, h.Delete(ctx, "u-1", 2))
	_, err = h.FindByPublicID(ctx, "u-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, h.Delete(ctx, "u-1", 2), store.ErrConflict)
}

func TestHashConcurrentCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	h, _ := newHash(t)
	_, err := h.Insert(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1", Version: 5}})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.CompareAndSwap(ctx, store.Record[user]{Meta: entity.Meta{PublicID: "u-1", Version: 6}}, 5) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestHashWithReplicaRepository(t *testing.T) {
	ctx := context.Background()
	h, _ := newHash(t)
	repo := store.NewRepository[user, entity.Replica](h)

	_, err := repo.Create(ctx, entity.SystemActor, store.Record[user]{Meta: entity.Meta{PublicID: "u-9", Version: 0}})
	require.NoError(t, err)
	saved, err := repo.Save(ctx, entity.SystemActor, store.Record[user]{Meta: entity.Meta{PublicID: "u-9", Version: 1}, State: user{Email: "new@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Meta.Version)
	require.NoError(t, repo.Ping(ctx))
}
