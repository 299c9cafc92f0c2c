package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/domain"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func quiet() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

func countingLister(calls *int, tasks []domain.Task) ListerFunc {
	return func(ctx context.Context, projectID string) ([]domain.Task, error) {
		*calls++
		return append([]domain.Task(nil), tasks...), nil
	}
}

func TestListTasksMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Name: "Write code", Status: domain.InReview, Position: 1000}}

	var calls int
	c := New(countingLister(&calls, expected), client, time.Minute, quiet())

	tasks, err := c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, expected, tasks)

	tasks, err = c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, expected, tasks)
	assert.Equal(t, 1, calls)

	ttl := mr.TTL(tasksKey("p-1"))
	assert.True(t, ttl > 0 && ttl <= time.Minute, "unexpected ttl %v", ttl)
}

func TestInvalidateForcesReload(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	var calls int
	c := New(countingLister(&calls, []domain.Task{{ID: "t1", Status: domain.Todo, Position: 1000}}), client, time.Minute, quiet())

	_, err := c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	c.Invalidate(ctx, "p-1")
	assert.False(t, mr.Exists(tasksKey("p-1")))

	_, err = c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCorruptEntryFallsBack(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(tasksKey("p-1"), "{not json"))

	var calls int
	c := New(countingLister(&calls, []domain.Task{{ID: "t1", Status: domain.Done, Position: 1000}}), client, time.Minute, quiet())
	tasks, err := c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, 1, calls)
}

func TestRedisDownFallsBack(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	log, hook := logtest.NewNullLogger()
	var calls int
	c := New(countingLister(&calls, []domain.Task{{ID: "t1"}}), client, time.Minute, log)
	tasks, err := c.ListTasks(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, 1, calls)

	c.Invalidate(context.Background(), "p-1")

	var warned []string
	for _, e := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, e.Level)
		assert.Equal(t, "p-1", e.Data["project_id"])
		warned = append(warned, e.Message)
	}
	assert.Contains(t, warned, "cache: read failed, using store")
	assert.Contains(t, warned, "cache: invalidate failed")
}

func TestFillDoesNotOverwriteInvalidation(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	var mu sync.Mutex
	position := 1000
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	lister := ListerFunc(func(ctx context.Context, projectID string) ([]domain.Task, error) {
		mu.Lock()
		calls++
		first := calls == 1
		snapshot := []domain.Task{{ID: "t1", Status: domain.Todo, Position: position}}
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return snapshot, nil
	})
	c := New(lister, client, time.Minute, quiet())

	slow := make(chan []domain.Task, 1)
	go func() {
		tasks, err := c.ListTasks(ctx, "p-1")
		assert.NoError(t, err)
		slow <- tasks
	}()
	<-started

	// A write commits and invalidates while the first read is in flight.
	mu.Lock()
	position = 2000
	mu.Unlock()
	c.Invalidate(ctx, "p-1")
	close(release)

	assert.Equal(t, 1000, (<-slow)[0].Position)

	tasks, err := c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2000, tasks[0].Position, "list from before the invalidation was cached")

	tasks, err = c.ListTasks(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2000, tasks[0].Position)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestDisabledPassesThrough(t *testing.T) {
	var calls int
	c := New(countingLister(&calls, nil), nil, time.Minute, quiet())
	assert.False(t, c.Enabled())
	for i := 0; i < 3; i++ {
		_, err := c.ListTasks(context.Background(), "p-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	c.Invalidate(context.Background(), "p-1")
}

func TestBaseErrorIsReturned(t *testing.T) {
	_, client := newRedis(t)
	boom := errors.New("boom")
	c := New(ListerFunc(func(context.Context, string) ([]domain.Task, error) { return nil, boom }), client, time.Minute, quiet())
	_, err := c.ListTasks(context.Background(), "p-1")
	assert.ErrorIs(t, err, boom)
}
