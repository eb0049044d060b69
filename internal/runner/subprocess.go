package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/model"
)

const (
	// Engine output lines can carry whole file diffs.
	maxLineBytes = 10 * 1024 * 1024

	// stderr is kept only as a tail for error reporting.
	stderrTailBytes = 4 * 1024

	defaultKillGrace = 5 * time.Second
)

// Executor runs one engine turn as a subprocess and streams translated
// events to the caller. The stream always terminates with exactly one
// CompletedEvent, synthesized when the engine exits without one.
type Executor struct {
	runner    Runner
	locks     *SessionLocks
	log       *logger.Logger
	killGrace time.Duration
}

// NewExecutor creates an executor for one engine adapter.
func NewExecutor(r Runner, locks *SessionLocks, log *logger.Logger) *Executor {
	if locks == nil {
		locks = NewSessionLocks()
	}
	return &Executor{
		runner:    r,
		locks:     locks,
		log:       log,
		killGrace: defaultKillGrace,
	}
}

// SetKillGrace overrides the SIGTERM-to-SIGKILL grace period.
func (e *Executor) SetKillGrace(d time.Duration) { e.killGrace = d }

// Run executes the request and calls emit for every translated event, in
// order, from a single goroutine. It returns the terminal CompletedEvent.
// Cancelling ctx sends SIGTERM to the engine, then SIGKILL after the grace
// period, and yields a failed CompletedEvent rather than an error.
func (e *Executor) Run(ctx context.Context, req Request, emit func(model.Event)) (model.CompletedEvent, error) {
	engine := e.runner.Engine()

	release, err := e.locks.Acquire(ctx, engine, req.Resume)
	if err != nil {
		return model.CompletedEvent{}, fmt.Errorf("acquire session lock: %w", err)
	}
	defer release()

	// runCtx lets a session-drift abort kill the subprocess without the
	// caller's ctx looking cancelled.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	name, args := e.runner.Command(req)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.killGrace

	payload, err := e.runner.Stdin(req)
	if err != nil {
		return model.CompletedEvent{}, fmt.Errorf("build stdin payload: %w", err)
	}
	if payload != nil {
		cmd.Stdin = bytes.NewReader(payload)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return model.CompletedEvent{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return model.CompletedEvent{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return model.CompletedEvent{}, fmt.Errorf("start %s: %w", name, err)
	}
	e.log.Info("engine started",
		zap.String("engine", engine.String()),
		zap.String("command", name),
		zap.String("dir", req.Dir),
		zap.Bool("resume", req.Resume != nil),
	)

	factory := model.NewEventFactory(engine)
	if req.Resume != nil {
		factory.ExpectResume(*req.Resume)
	}
	translator := e.runner.NewTranslator()

	var completed *model.CompletedEvent
	var driftErr *model.SessionDriftError
	var stderrTail []byte

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		stderrTail = drainTail(stderr, stderrTailBytes)
		return nil
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		warnSeq := 0
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			events, terr := translator.Translate(line, factory)
			if terr != nil {
				// The engine switched sessions mid-run; adopting the new
				// token would hand future turns a session the user never
				// saw. Kill the run instead.
				if errors.As(terr, &driftErr) {
					e.log.Error("engine session drift",
						zap.String("engine", engine.String()),
						zap.Error(terr),
					)
					cancelRun()
					return nil
				}
				warnSeq++
				e.log.Warn("engine line not translated",
					zap.String("engine", engine.String()),
					zap.Error(terr),
				)
				warn := factory.Warning(
					fmt.Sprintf("translate-%d", warnSeq),
					"unparseable engine output",
					truncateLine(terr.Error(), 200),
				)
				warn.Action.Detail = map[string]any{"line": truncateLine(string(line), 200)}
				emit(warn)
				continue
			}
			for _, ev := range events {
				if completed != nil {
					// Nothing after the terminal event is forwarded.
					continue
				}
				if c, ok := ev.(model.CompletedEvent); ok {
					cc := c
					completed = &cc
				}
				emit(ev)
			}
		}
		if serr := scanner.Err(); serr != nil && !strings.Contains(serr.Error(), "file already closed") {
			return fmt.Errorf("read engine output: %w", serr)
		}
		return nil
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()

	if completed != nil && driftErr == nil {
		return *completed, nil
	}

	// The engine exited without a terminal event; synthesize one.
	var final model.CompletedEvent
	switch {
	case driftErr != nil:
		final = factory.CompletedError(driftErr.Error(), "")
	case ctx.Err() != nil:
		final = factory.CompletedError("canceled", "")
	case waitErr != nil:
		msg := fmt.Sprintf("%s exited: %v", name, waitErr)
		if tail := strings.TrimSpace(string(stderrTail)); tail != "" {
			msg = fmt.Sprintf("%s\n%s", msg, tail)
		}
		emit(factory.Warning("exit", "engine exited abnormally", truncateLine(msg, 200)))
		final = factory.CompletedError(msg, "")
	case readErr != nil:
		final = factory.CompletedError(readErr.Error(), "")
	default:
		final = factory.CompletedError("engine produced no result", "")
	}
	emit(final)
	return final, nil
}

// drainTail consumes r fully, keeping only the last max bytes.
func drainTail(r io.Reader, max int) []byte {
	var tail []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			tail = append(tail, buf[:n]...)
			if len(tail) > max {
				tail = tail[len(tail)-max:]
			}
		}
		if err != nil {
			return tail
		}
	}
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
