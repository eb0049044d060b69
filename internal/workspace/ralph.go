package workspace

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/events/bus"
	"github.com/pochihq/pochi/internal/model"
)

// RalphIteration is one pass of a ralph loop handed to the turn runner.
type RalphIteration struct {
	LoopID    string
	TopicID   int64
	Iteration int
	Prompt    string
	Resume    *model.ResumeToken
}

// RalphTurn executes one loop iteration and reports the resume token for
// the next pass and whether the loop should stop early.
type RalphTurn func(ctx context.Context, it RalphIteration) (resume *model.ResumeToken, done bool, err error)

// RalphManager runs at most one iterating loop per topic. Loops rerun the
// same prompt against the engine session until done, max iterations, or a
// cancel button press.
type RalphManager struct {
	log *logger.Logger
	bus bus.EventBus

	mu    sync.Mutex
	loops map[int64]*ralphLoop
}

type ralphLoop struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRalphManager creates the manager. The bus may be nil in tests.
func NewRalphManager(log *logger.Logger, eventBus bus.EventBus) *RalphManager {
	return &RalphManager{
		log:   log.WithFields(zap.String("component", "ralph")),
		bus:   eventBus,
		loops: make(map[int64]*ralphLoop),
	}
}

// CancelData renders the inline button payload for a loop.
func CancelData(topicID int64, loopID string) string {
	return fmt.Sprintf("ralph:cancel:%d:%s", topicID, loopID)
}

// ParseCancelData extracts the topic and loop ID from a button payload.
func ParseCancelData(data string) (topicID int64, loopID string, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 || parts[0] != "ralph" || parts[1] != "cancel" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, parts[3], true
}

// Start launches a loop in the topic. Returns the loop ID, or an error if
// the topic already has one running.
func (m *RalphManager) Start(ctx context.Context, topicID int64, prompt string, maxIterations int, turn RalphTurn) (string, error) {
	if maxIterations <= 0 {
		return "", fmt.Errorf("ralph: max iterations must be positive")
	}
	m.mu.Lock()
	if _, running := m.loops[topicID]; running {
		m.mu.Unlock()
		return "", fmt.Errorf("ralph: a loop is already running in this topic")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &ralphLoop{id: uuid.New().String(), cancel: cancel, done: make(chan struct{})}
	m.loops[topicID] = loop
	m.mu.Unlock()

	go m.run(loopCtx, loop, topicID, prompt, maxIterations, turn)
	return loop.id, nil
}

func (m *RalphManager) run(ctx context.Context, loop *ralphLoop, topicID int64, prompt string, maxIterations int, turn RalphTurn) {
	defer func() {
		m.mu.Lock()
		if m.loops[topicID] == loop {
			delete(m.loops, topicID)
		}
		m.mu.Unlock()
		close(loop.done)
	}()

	var resume *model.ResumeToken
	for i := 1; i <= maxIterations; i++ {
		if ctx.Err() != nil {
			m.log.Info("ralph loop cancelled",
				zap.String("loop", loop.id),
				zap.Int64("topic", topicID),
				zap.Int("iteration", i))
			return
		}
		m.publishIteration(ctx, loop.id, topicID, i, maxIterations)

		next, done, err := turn(ctx, RalphIteration{
			LoopID:    loop.id,
			TopicID:   topicID,
			Iteration: i,
			Prompt:    prompt,
			Resume:    resume,
		})
		if err != nil {
			m.log.Error("ralph iteration failed",
				zap.String("loop", loop.id),
				zap.Int64("topic", topicID),
				zap.Int("iteration", i),
				zap.Error(err))
			return
		}
		resume = next
		if done {
			m.log.Info("ralph loop finished",
				zap.String("loop", loop.id),
				zap.Int64("topic", topicID),
				zap.Int("iterations", i))
			return
		}
	}
	m.log.Info("ralph loop hit iteration cap",
		zap.String("loop", loop.id),
		zap.Int64("topic", topicID),
		zap.Int("iterations", maxIterations))
}

func (m *RalphManager) publishIteration(ctx context.Context, loopID string, topicID int64, iteration, max int) {
	if m.bus == nil {
		return
	}
	ev := bus.NewEvent(bus.SubjectRalphIteration, "ralph", map[string]any{
		"loop_id":   loopID,
		"topic_id":  topicID,
		"iteration": iteration,
		"max":       max,
	})
	if err := m.bus.Publish(ctx, bus.SubjectRalphIteration, ev); err != nil {
		m.log.Warn("publish ralph iteration", zap.Error(err))
	}
}

// Cancel stops the loop in a topic when the loop ID matches. A stale
// button press from an earlier loop is ignored.
func (m *RalphManager) Cancel(topicID int64, loopID string) bool {
	m.mu.Lock()
	loop, running := m.loops[topicID]
	m.mu.Unlock()
	if !running || loop.id != loopID {
		return false
	}
	loop.cancel()
	return true
}

// CancelTopic stops whatever loop runs in the topic, regardless of its
// loop ID. Used by /cancel.
func (m *RalphManager) CancelTopic(topicID int64) bool {
	m.mu.Lock()
	loop, running := m.loops[topicID]
	m.mu.Unlock()
	if !running {
		return false
	}
	loop.cancel()
	return true
}

// Running reports whether a loop is active in the topic.
func (m *RalphManager) Running(topicID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.loops[topicID]
	return running
}

// Wait blocks until the topic's loop exits. Used by tests and shutdown.
func (m *RalphManager) Wait(topicID int64) {
	m.mu.Lock()
	loop, running := m.loops[topicID]
	m.mu.Unlock()
	if running {
		<-loop.done
	}
}
