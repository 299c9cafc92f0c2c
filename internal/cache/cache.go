// Package cache keeps each project's task list in Redis between mutations.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskboard/internal/domain"
)

// Lister loads the authoritative task list for a project.
type Lister interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
}

type ListerFunc func(ctx context.Context, projectID string) ([]domain.Task, error)

func (f ListerFunc) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return f(ctx, projectID)
}

// Tasks is a read-through cache over a Lister. A nil client or zero TTL
// passes every call to the base.
//
// Each project has a generation counter that Invalidate bumps. A fill only
// lands if the generation it read before asking the base is still current,
// so a slow reader cannot put back a list older than the last invalidation.
type Tasks struct {
	base  Lister
	redis *redis.Client
	ttl   time.Duration
	log   logrus.FieldLogger
}

func New(base Lister, client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Tasks {
	if base == nil {
		panic("cache.New: base lister is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tasks{base: base, redis: client, ttl: ttl, log: log}
}

// Enabled reports whether reads are served from Redis.
func (c *Tasks) Enabled() bool {
	return c.redis != nil && c.ttl > 0
}

func (c *Tasks) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	if !c.Enabled() {
		return c.base.ListTasks(ctx, projectID)
	}
	if tasks, ok := c.load(ctx, projectID); ok {
		return tasks, nil
	}
	gen, genErr := c.generation(ctx, c.redis, projectID)
	tasks, err := c.base.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		c.store(ctx, projectID, gen, tasks)
	}
	return tasks, nil
}

// Invalidate drops the cached list after a confirmed mutation and makes any
// fill started before it a no-op.
func (c *Tasks) Invalidate(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(projectID))
		p.Del(ctx, tasksKey(projectID))
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("project_id", projectID).Warn("cache: invalidate failed")
	}
}

func (c *Tasks) load(ctx context.Context, projectID string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, tasksKey(projectID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("project_id", projectID).Warn("cache: read failed, using store")
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		c.log.WithError(err).WithField("project_id", projectID).Warn("cache: dropping corrupt entry")
		if err := c.redis.Del(ctx, tasksKey(projectID)).Err(); err != nil {
			c.log.WithError(err).WithField("project_id", projectID).Warn("cache: delete failed")
		}
		return nil, false
	}
	return tasks, true
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// generation returns the project's counter; "" means never invalidated.
func (c *Tasks) generation(ctx context.Context, g getter, projectID string) (string, error) {
	gen, err := g.Get(ctx, genKey(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		c.log.WithError(err).WithField("project_id", projectID).Warn("cache: read generation failed")
	}
	return gen, err
}

func (c *Tasks) store(ctx context.Context, projectID, gen string, tasks []domain.Task) {
	log := c.log.WithField("project_id", projectID)
	data, err := json.Marshal(tasks)
	if err != nil {
		log.WithError(err).Warn("cache: encode failed")
		return
	}
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := c.generation(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if cur != gen {
			log.Debug("cache: list changed while loading, not storing")
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, tasksKey(projectID), data, c.ttl)
			return nil
		})
		return err
	}, genKey(projectID))
	switch {
	case errors.Is(err, redis.TxFailedErr):
		log.Debug("cache: invalidated during fill, not storing")
	case err != nil:
		log.WithError(err).Warn("cache: write failed")
	}
}

func tasksKey(projectID string) string {
	return "tasks:" + projectID
}

func genKey(projectID string) string {
	return "tasks:" + projectID + ":gen"
}
