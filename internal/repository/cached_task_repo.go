package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskapi/internal/model"
	"taskapi/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL = 5 * time.Minute
	// Version keys outlive any cache entry so a fill can never see a recycled version.
	versionTTL = 24 * time.Hour
)

// CachedTaskRepository puts a Redis read-through cache in front of Get.
// Cache failures never fail a request; the backend stays authoritative.
//
// Every write bumps task:<id>:v. A fill only lands if that version is the
// one observed before the backend read, so a read racing a write cannot put
// the older copy back.
type CachedTaskRepository struct {
	next   TaskRepository
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ TaskRepository = (*CachedTaskRepository)(nil)

func NewCachedTaskRepository(next TaskRepository, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedTaskRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedTaskRepository{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func taskCacheKey(id int64) string {
	return fmt.Sprintf("task:%d", id)
}

func taskVersionKey(id int64) string {
	return fmt.Sprintf("task:%d:v", id)
}

func (r *CachedTaskRepository) Insert(ctx context.Context, t model.Task) (*model.Task, error) {
	return r.next.Insert(ctx, t)
}

func (r *CachedTaskRepository) Get(ctx context.Context, id int64) (*model.Task, error) {
	key := taskCacheKey(id)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	cacheUp := true
	switch {
	case err == nil:
		var t model.Task
		if jsonErr := json.Unmarshal(raw, &t); jsonErr == nil {
			metrics.IncrementCacheLookup("hit")
			return &t, nil
		}
		r.logger.Warn("Dropping undecodable cache entry", zap.String("key", key))
		r.invalidate(ctx, id)
		metrics.IncrementCacheLookup("error")
	case errors.Is(err, redis.Nil):
		metrics.IncrementCacheLookup("miss")
	default:
		r.logger.Warn("Task cache read failed, using backend", zap.String("key", key), zap.Error(err))
		metrics.IncrementCacheLookup("error")
		cacheUp = false
	}

	var version int64
	if cacheUp {
		if version, err = r.version(ctx, id); err != nil {
			cacheUp = false
		}
	}

	t, err := r.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cacheUp {
		r.fill(ctx, t, version)
	}
	return t, nil
}

func (r *CachedTaskRepository) List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	return r.next.List(ctx, filter)
}

func (r *CachedTaskRepository) Update(ctx context.Context, id int64, mutate func(*model.Task) error) (*model.Task, error) {
	t, err := r.next.Update(ctx, id, mutate)
	r.invalidate(ctx, id)
	return t, err
}

func (r *CachedTaskRepository) Delete(ctx context.Context, id int64) error {
	err := r.next.Delete(ctx, id)
	r.invalidate(ctx, id)
	return err
}

// Ping reports the backend first; a cache outage is reported too so
// readiness reflects a degraded deployment.
func (r *CachedTaskRepository) Ping(ctx context.Context) error {
	if err := r.next.Ping(ctx); err != nil {
		return err
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// version returns the current write version of id; a missing key is 0.
func (r *CachedTaskRepository) version(ctx context.Context, id int64) (int64, error) {
	v, err := r.rdb.Get(ctx, taskVersionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		r.logger.Warn("Task cache version read failed", zap.Int64("task_id", id), zap.Error(err))
	}
	return v, err
}

// fill caches t unless a write has moved the version past seen.
func (r *CachedTaskRepository) fill(ctx context.Context, t *model.Task, seen int64) {
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	key, verKey := taskCacheKey(t.ID), taskVersionKey(t.ID)

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != seen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}, verKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		r.logger.Debug("Skipping task cache fill, task changed during read", zap.Int64("task_id", t.ID))
	default:
		r.logger.Warn("Task cache write failed", zap.Int64("task_id", t.ID), zap.Error(err))
	}
}

var errStaleFill = errors.New("task changed during read")

// invalidate bumps the version and drops the cached copy in one transaction.
func (r *CachedTaskRepository) invalidate(ctx context.Context, id int64) {
	verKey := taskVersionKey(id)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, versionTTL)
		pipe.Del(ctx, taskCacheKey(id))
		return nil
	})
	if err != nil {
		r.logger.Warn("Task cache invalidation failed", zap.Int64("task_id", id), zap.Error(err))
	}
}
