package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoopRunsInPostOrder(t *testing.T) {
	t.Parallel()

	l := New(nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := range 100 {
		require.NoError(t, l.Post(func() {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
		}))
	}
	l.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after close")
	}
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLoopPostAfterClose(t *testing.T) {
	t.Parallel()

	l := New(nil)
	l.Close()
	l.Close()
	require.True(t, l.Closed())
	require.ErrorIs(t, l.Post(func() {}), ErrClosed)
	require.NoError(t, l.Post(nil))
}

func TestLoopSurvivesPanics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	l := New(zap.New(core))
	ran := false
	require.NoError(t, l.Post(func() { panic("observer gone") }))
	require.NoError(t, l.Post(func() { ran = true }))

	require.Equal(t, 2, l.Drain())
	require.True(t, ran)
	require.Equal(t, 1, logs.FilterMessage("loop function panicked").Len())
}

func TestLoopDrainRunsNestedPosts(t *testing.T) {
	t.Parallel()

	l := New(nil)
	var order []string
	require.NoError(t, l.Post(func() {
		order = append(order, "outer")
		_ = l.Post(func() { order = append(order, "inner") })
	}))
	require.Equal(t, 1, l.Len())
	require.Equal(t, 2, l.Drain())
	require.Equal(t, []string{"outer", "inner"}, order)
	require.Zero(t, l.Drain())
}

func TestLoopRunStopsOnContext(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
}

func TestLoopCloseDrainsQueuedWork(t *testing.T) {
	t.Parallel()

	l := New(nil)
	count := 0
	for range 5 {
		require.NoError(t, l.Post(func() { count++ }))
	}
	l.Close()
	require.NoError(t, l.Run(context.Background()))
	require.Equal(t, 5, count)
}
