package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shelfbot/internal/task/engine"
	logx "shelfbot/pkg/logx"
)

type recordingEngine struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (r *recordingEngine) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingEngine) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestAddIntervalFiresIntoEngine(t *testing.T) {
	t.Parallel()
	eng := &recordingEngine{}
	s := New(eng, logx.Nop(), WithStartupSpread(false))
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	_, err := s.AddInterval("new-book-check", time.Second, 500*time.Millisecond, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return eng.count() >= 1 }, 3*time.Second, 10*time.Millisecond)

	eng.mu.Lock()
	task := eng.tasks[0]
	eng.mu.Unlock()
	assert.Equal(t, "new-book-check", task.Name)
	assert.Equal(t, 500*time.Millisecond, task.Timeout)
	assert.Equal(t, engine.OverlapSkipIfRunning, task.Opt.Overlap)
	assert.NotNil(t, task.State)
}

func TestAddReplacesAndRemove(t *testing.T) {
	t.Parallel()
	s := New(&recordingEngine{}, logx.Nop())
	job := func(context.Context) error { return nil }

	_, err := s.AddInterval("a", time.Minute, 0, job)
	require.NoError(t, err)
	_, err = s.AddInterval("a", 2*time.Minute, 0, job)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 2*time.Minute, snap[0].Every)
	assert.True(t, s.Has("a"))

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.False(t, s.Has("a"))
}

func TestAddIntervalValidates(t *testing.T) {
	t.Parallel()
	s := New(&recordingEngine{}, logx.Nop())
	_, err := s.AddInterval("", time.Minute, 0, func(context.Context) error { return nil })
	require.Error(t, err)
	_, err = s.AddInterval("x", 0, 0, func(context.Context) error { return nil })
	require.Error(t, err)
	_, err = s.AddInterval("x", time.Minute, 0, nil)
	require.Error(t, err)
}

func TestSpreadDelaysFirstFire(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(5*time.Minute, now, "tag")
	assert.GreaterOrEqual(t, jitter, time.Duration(0))
	assert.Less(t, jitter, maxStartupSpread)
	assert.Zero(t, jitter%time.Second, "jitter is whole seconds")

	first := sched.Next(now)
	assert.Equal(t, now.Add(5*time.Minute+jitter), first)
	assert.Equal(t, first.Add(5*time.Minute), sched.Next(first))
}

func TestSpreadKeepsWholeSecondsAcrossSeeds(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		now := base.Add(time.Duration(i) * 7919 * time.Microsecond).Truncate(time.Second)
		sched, jitter := makeIntervalScheduleWithSpread(time.Minute, now, "new-book-check")
		first := sched.Next(now)
		require.Equal(t, now.Add(time.Minute+jitter), first)
		require.Equal(t, first.Add(time.Minute), sched.Next(first), "seed %d", i)
	}
}
