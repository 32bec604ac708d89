package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
)

const redisPrefix = "dossier"

// Redis keeps records as JSON strings and tracks insertion order in a sorted
// set scored by creation time.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client, used by tests.
func NewRedisFromClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// Client exposes the underlying connection for callers that need redis
// primitives beyond the repository, such as scheduler locks.
func (r *Redis) Client() *redis.Client { return r.rdb }

func taskKey(id string) string  { return redisPrefix + ":task:" + id }
func batchKey(id string) string { return redisPrefix + ":batch:" + id }

const taskIndexKey = redisPrefix + ":tasks"

func (r *Redis) SaveTask(ctx context.Context, t *research.Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(t.ID), payload, 0)
	pipe.ZAddNX(ctx, taskIndexKey, redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (r *Redis) GetTask(ctx context.Context, id string) (*research.Task, error) {
	payload, err := r.rdb.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var t research.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (r *Redis) ListTasks(ctx context.Context, f TaskFilter) ([]*research.Task, error) {
	ids, err := r.rdb.ZRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	var out []*research.Task
	for _, id := range ids {
		t, err := r.GetTask(ctx, id)
		if errors.Is(err, research.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return page(out, f.Offset, f.Limit), nil
}

func (r *Redis) SaveBatch(ctx context.Context, b *research.Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if err := r.rdb.Set(ctx, batchKey(b.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	return nil
}

func (r *Redis) GetBatch(ctx context.Context, id string) (*research.Batch, error) {
	payload, err := r.rdb.Get(ctx, batchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	var b research.Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return &b, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
