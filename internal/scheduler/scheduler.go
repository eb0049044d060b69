// Package scheduler runs jobs FIFO per thread key while distinct keys run
// in parallel. A thread key names a conversation thread, typically
// "engine:session".
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/model"
)

// Job is one unit of work. The context is the scheduler's run context and
// is canceled on shutdown.
type Job func(ctx context.Context)

// ThreadKey builds the canonical key for an engine session.
func ThreadKey(engine model.EngineID, value string) string {
	return string(engine) + ":" + value
}

// Scheduler owns one worker goroutine per active thread key. Workers exit
// when their queue drains; submitting to a drained key starts a fresh one.
type Scheduler struct {
	log *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string][]Job
	active  map[string]bool
	busy    map[string]chan struct{}
	closed  bool
}

// New creates a scheduler. Shutdown stops accepting jobs and waits for
// in-flight work.
func New(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		queues: make(map[string][]Job),
		active: make(map[string]bool),
		busy:   make(map[string]chan struct{}),
	}
}

// Submit enqueues a job on the thread key. Jobs on the same key run one at
// a time in submission order. Returns false after Shutdown.
func (s *Scheduler) Submit(key string, job Job) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queues[key] = append(s.queues[key], job)
	start := !s.active[key]
	if start {
		s.active[key] = true
		s.wg.Add(1)
	}
	depth := len(s.queues[key])
	s.mu.Unlock()

	if start {
		go s.worker(key)
	} else if depth > 1 {
		s.log.Debug("thread queue backlog", zap.String("key", key), zap.Int("depth", depth))
	}
	return true
}

func (s *Scheduler) worker(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[key]
		if len(queue) == 0 {
			// Drained: remove the key so an idle scheduler holds no state.
			delete(s.queues, key)
			delete(s.active, key)
			s.mu.Unlock()
			return
		}
		job := queue[0]
		s.queues[key] = queue[1:]
		gate := s.busy[key]
		s.mu.Unlock()

		// An externally registered turn owns the key; queued jobs wait
		// for it to finish before starting.
		if gate != nil {
			select {
			case <-gate:
			case <-s.ctx.Done():
			}
		}

		job(s.ctx)
	}
}

// NoteBusy marks a thread key as having a running turn and returns a
// release func. Callers that want to queue behind the turn use Busy to get
// a wait channel.
func (s *Scheduler) NoteBusy(key string) func() {
	done := make(chan struct{})
	s.mu.Lock()
	s.busy[key] = done
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.busy[key] == done {
				delete(s.busy, key)
			}
			s.mu.Unlock()
			close(done)
		})
	}
}

// Busy reports whether a thread key has a running turn; the returned
// channel closes when the turn finishes.
func (s *Scheduler) Busy(key string) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, ok := s.busy[key]
	return done, ok
}

// Pending returns the number of queued jobs for a key, counting the one a
// worker may be running.
func (s *Scheduler) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queues[key])
	if s.active[key] {
		n++
	}
	return n
}

// Shutdown rejects new jobs, cancels the run context, and waits for
// workers until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
