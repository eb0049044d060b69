package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/common/logger"
)

func TestSubmitRunsFIFOPerKey(t *testing.T) {
	s := New(logger.Default())
	defer s.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		s.Submit("claude:s1", func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDistinctKeysRunInParallel(t *testing.T) {
	s := New(logger.Default())
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan string, 2)

	s.Submit("claude:a", func(context.Context) {
		started <- "a"
		<-release
	})
	s.Submit("claude:b", func(context.Context) {
		started <- "b"
		<-release
	})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-started:
			got[k] = true
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not run in parallel")
		}
	}
	close(release)
	assert.True(t, got["a"] && got["b"])
}

func TestWorkerRestartsAfterDrain(t *testing.T) {
	s := New(logger.Default())
	defer s.Shutdown(context.Background())

	run := func() {
		done := make(chan struct{})
		ok := s.Submit("k", func(context.Context) { close(done) })
		require.True(t, ok)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}
	run()
	// Give the worker a moment to drain and remove the key.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, s.Pending("k"))
	run()
}

func TestBusyGate(t *testing.T) {
	s := New(logger.Default())
	defer s.Shutdown(context.Background())

	_, busy := s.Busy("claude:s1")
	assert.False(t, busy)

	release := s.NoteBusy("claude:s1")
	done, busy := s.Busy("claude:s1")
	require.True(t, busy)

	select {
	case <-done:
		t.Fatal("done closed before release")
	default:
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after release")
	}
	_, busy = s.Busy("claude:s1")
	assert.False(t, busy)

	// Double release is safe.
	release()
}

func TestBusyGateBlocksQueuedJobs(t *testing.T) {
	s := New(logger.Default())
	defer s.Shutdown(context.Background())

	release := s.NoteBusy("claude:s1")
	ran := make(chan struct{})
	s.Submit("claude:s1", func(context.Context) { close(ran) })

	select {
	case <-ran:
		t.Fatal("job started while gate was held")
	case <-time.After(100 * time.Millisecond):
	}

	release()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start after gate release")
	}
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	s := New(logger.Default())
	require.NoError(t, s.Shutdown(context.Background()))
	assert.False(t, s.Submit("k", func(context.Context) {}))
}

func TestShutdownWaitsForInflight(t *testing.T) {
	s := New(logger.Default())

	entered := make(chan struct{})
	finished := make(chan struct{})
	s.Submit("k", func(context.Context) {
		close(entered)
		time.Sleep(100 * time.Millisecond)
		close(finished)
	})
	<-entered
	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case <-finished:
	default:
		t.Fatal("shutdown returned before job finished")
	}
}
