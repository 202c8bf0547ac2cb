package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsUntilStopped(t *testing.T) {
	s := New(quiet())
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "escalation",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop returns")
	assert.False(t, s.Status().Running)
}

func TestSchedulerFailuresAreRetried(t *testing.T) {
	s := New(quiet())
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:      "flaky",
		Interval:  5 * time.Millisecond,
		Immediate: true,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				return errors.New("db locked")
			}
			return nil
		},
	}))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	st := s.Status()
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, int64(1), st.Tasks[0].Failures)
	assert.True(t, st.Running)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := New(quiet())
	done := make(chan struct{})
	var runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:      "panicky",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(ctx context.Context) error {
			defer close(done)
			runs.Add(1)
			panic("boom")
		},
	}))
	s.Start()
	<-done
	s.Stop()
	st := s.Status()
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, int64(1), st.Tasks[0].Failures)
	assert.Contains(t, st.Tasks[0].LastError, "boom")
}

func TestSchedulerRunsDoNotOverlap(t *testing.T) {
	s := New(quiet())
	var active, maxActive, runs atomic.Int64
	require.NoError(t, s.Add(Task{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			runs.Add(1)
			return nil
		},
	}))
	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	assert.Equal(t, int64(1), maxActive.Load())
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	s := New(quiet())
	started := make(chan struct{})
	require.NoError(t, s.Add(Task{
		Name:      "blocking",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	s.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSchedulerAddValidation(t *testing.T) {
	s := New(quiet())
	assert.Error(t, s.Add(Task{Name: "x", Interval: time.Second}))
	assert.Error(t, s.Add(Task{Name: "x", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Task{Name: "x", Interval: time.Second, Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Task{Name: "x", Interval: time.Second, Run: func(context.Context) error { return nil }}))
	s.Stop()
	assert.Error(t, s.Add(Task{Name: "y", Interval: time.Second, Run: func(context.Context) error { return nil }}))
}
