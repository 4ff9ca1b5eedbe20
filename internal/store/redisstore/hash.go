package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cashflow/platform/internal/store"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] record hash, KEYS[2] id sequence. ARGV: version, meta, state.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local id = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'id', id, 'version', ARGV[1], 'meta', ARGV[2], 'state', ARGV[3])
return id
`)

// KEYS[1] record hash. ARGV: expected version, new version, meta, state.
var compareAndSwapScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current or tonumber(current) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'meta', ARGV[3], 'state', ARGV[4])
return 1
`)

// KEYS[1] record hash. ARGV: expected version.
var deleteScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current or tonumber(current) ~= tonumber(ARGV[1]) then
  return 0
end
return redis.call('DEL', KEYS[1])
`)

// Hash stores each record as a redis hash under <prefix>:<public id>.
type Hash[T any] struct {
	Client redis.UniversalClient
	Prefix string
}

func NewHash[T any](client redis.UniversalClient, prefix string) *Hash[T] {
	return &Hash[T]{Client: client, Prefix: prefix}
}

func (h *Hash[T]) key(publicID string) string {
	return h.Prefix + ":" + publicID
}

func (h *Hash[T]) seqKey() string {
	return h.Prefix + ":__seq"
}

func (h *Hash[T]) FindByPublicID(ctx context.Context, publicID string) (store.Record[T], error) {
	fields, err := h.Client.HMGet(ctx, h.key(publicID), "id", "meta", "state").Result()
	if err != nil {
		return store.Record[T]{}, err
	}
	if fields[0] == nil {
		return store.Record[T]{}, store.ErrNotFound
	}

	var rec store.Record[T]
	idRaw, _ := fields[0].(string)
	rec.ID, err = strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		return store.Record[T]{}, fmt.Errorf("decode id for %s: %w", publicID, err)
	}
	metaRaw, _ := fields[1].(string)
	if err := json.Unmarshal([]byte(metaRaw), &rec.Meta); err != nil {
		return store.Record[T]{}, fmt.Errorf("decode meta for %s: %w", publicID, err)
	}
	stateRaw, _ := fields[2].(string)
	if err := json.Unmarshal([]byte(stateRaw), &rec.State); err != nil {
		return store.Record[T]{}, fmt.Errorf("decode state for %s: %w", publicID, err)
	}
	return rec, nil
}

func (h *Hash[T]) Insert(ctx context.Context, rec store.Record[T]) (store.Record[T], error) {
	meta, state, err := encode(rec)
	if err != nil {
		return store.Record[T]{}, err
	}
	id, err := insertScript.Run(ctx, h.Client,
		[]string{h.key(rec.Meta.PublicID), h.seqKey()},
		rec.Meta.Version, meta, state,
	).Int64()
	if err != nil {
		return store.Record[T]{}, err
	}
	if id == 0 {
		return store.Record[T]{}, store.ErrConflict
	}
	rec.ID = id
	return rec, nil
}

func (h *Hash[T]) CompareAndSwap(ctx context.Context, rec store.Record[T], expected int64) error {
	meta, state, err := encode(rec)
	if err != nil {
		return err
	}
	swapped, err := compareAndSwapScript.Run(ctx, h.Client,
		[]string{h.key(rec.Meta.PublicID)},
		expected, rec.Meta.Version, meta, state,
	).Int64()
	if err != nil {
		return err
	}
	if swapped == 0 {
		return store.ErrConflict
	}
	return nil
}

func (h *Hash[T]) Delete(ctx context.Context, publicID string, expected int64) error {
	deleted, err := deleteScript.Run(ctx, h.Client, []string{h.key(publicID)}, expected).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return store.ErrConflict
	}
	return nil
}

func (h *Hash[T]) Ping(ctx context.Context) error {
	return h.Client.Ping(ctx).Err()
}

func encode[T any](rec store.Record[T]) (string, string, error) {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return "", "", err
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return "", "", err
	}
	return string(meta), string(state), nil
}

// NewClient parses a redis:// url. An empty url means localhost.
func NewClient(url string) (*redis.Client, error) {
	if url == "" {
		return redis.NewClient(&redis.Options{Addr: "localhost:6379"}), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

var _ store.Backend[struct{}] = (*Hash[struct{}])(nil)
