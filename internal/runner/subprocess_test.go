package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
	"github.com/pochihq/pochi/internal/runner/mock"
)

func writeScript(t *testing.T, lines ...mock.Line) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.jsonl")
	require.NoError(t, os.WriteFile(path, mock.Script(lines...), 0o644))
	return path
}

func runScript(t *testing.T, r runner.Runner) ([]model.Event, model.CompletedEvent) {
	t.Helper()
	exec := runner.NewExecutor(r, runner.NewSessionLocks(), logger.Default())
	var events []model.Event
	final, err := exec.Run(context.Background(), runner.Request{Prompt: "go"}, func(ev model.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	return events, final
}

func TestRunStreamsScriptedEvents(t *testing.T) {
	script := writeScript(t,
		mock.Line{Type: "started", Session: "s1"},
		mock.Line{Type: "action", ID: "a1", Kind: "tool", Title: "work", Phase: "started"},
		mock.Line{Type: "action", ID: "a1", Kind: "tool", Title: "work", Phase: "completed"},
		mock.Line{Type: "completed", Answer: "done"},
	)
	events, final := runScript(t, mock.New("cat", script))

	require.Len(t, events, 4)
	started := events[0].(model.StartedEvent)
	assert.Equal(t, "s1", started.Resume.Value)

	assert.True(t, final.OK)
	assert.Equal(t, "done", final.Answer)
	require.NotNil(t, final.Resume)
	assert.Equal(t, "s1", final.Resume.Value)
}

func TestRunSynthesizesCompletedOnCleanExit(t *testing.T) {
	script := writeScript(t,
		mock.Line{Type: "started", Session: "s1"},
	)
	events, final := runScript(t, mock.New("cat", script))

	assert.False(t, final.OK)
	assert.Contains(t, final.Error, "engine produced no result")
	// The synthetic event is also emitted on the stream.
	last := events[len(events)-1].(model.CompletedEvent)
	assert.Equal(t, final.Error, last.Error)
	// The session announced by started is still carried on the terminal
	// event so the turn can be resumed.
	require.NotNil(t, final.Resume)
	assert.Equal(t, "s1", final.Resume.Value)
}

func TestRunSynthesizesCompletedOnFailure(t *testing.T) {
	r := mock.New("sh", "-c", "echo oops >&2; exit 3")
	events, final := runScript(t, r)

	assert.False(t, final.OK)
	assert.Contains(t, final.Error, "exit")
	assert.Contains(t, final.Error, "oops")

	// The abnormal exit also surfaces as a warning action ahead of the
	// terminal event.
	require.Len(t, events, 2)
	warn := events[0].(model.ActionEvent)
	assert.Equal(t, model.ActionWarning, warn.Action.Kind)
	assert.Contains(t, warn.Message, "exit")
}

func TestRunMalformedLinesBecomeWarnings(t *testing.T) {
	r := mock.New("sh", "-c", `echo not-json; echo '{"type":"completed","answer":"ok"}'`)
	events, final := runScript(t, r)

	assert.True(t, final.OK)
	require.GreaterOrEqual(t, len(events), 2)
	warn := events[0].(model.ActionEvent)
	assert.Equal(t, model.ActionWarning, warn.Action.Kind)
	// The offending raw text rides along so the user can see what the
	// engine printed.
	assert.Equal(t, "not-json", warn.Action.Detail["line"])
}

func TestRunSessionDriftFailsTheTurn(t *testing.T) {
	script := writeScript(t,
		mock.Line{Type: "started", Session: "s1"},
		mock.Line{Type: "started", Session: "s2"},
		mock.Line{Type: "completed", Answer: "done"},
	)
	events, final := runScript(t, mock.New("cat", script))

	assert.False(t, final.OK)
	assert.Contains(t, final.Error, "session drift")
	// The first announced session survives; the drifting one is never
	// adopted and the scripted completed never surfaces.
	require.NotNil(t, final.Resume)
	assert.Equal(t, "s1", final.Resume.Value)
	for _, ev := range events {
		if c, ok := ev.(model.CompletedEvent); ok {
			assert.Empty(t, c.Answer)
		}
	}
}

func TestRunResumeDriftFailsTheTurn(t *testing.T) {
	script := writeScript(t,
		mock.Line{Type: "started", Session: "s9"},
		mock.Line{Type: "completed", Answer: "done"},
	)
	exec := runner.NewExecutor(mock.New("cat", script), runner.NewSessionLocks(), logger.Default())

	resume := &model.ResumeToken{Engine: mock.EngineID, Value: "s1"}
	final, err := exec.Run(context.Background(), runner.Request{Prompt: "go", Resume: resume}, func(model.Event) {})
	require.NoError(t, err)

	assert.False(t, final.OK)
	assert.Contains(t, final.Error, "session drift")
	assert.Contains(t, final.Error, `"s1"`)
	assert.Contains(t, final.Error, `"s9"`)
	// The turn stays on the session being resumed.
	require.NotNil(t, final.Resume)
	assert.Equal(t, "s1", final.Resume.Value)
}

func TestRunIgnoresEventsAfterCompleted(t *testing.T) {
	script := writeScript(t,
		mock.Line{Type: "completed", Answer: "first"},
		mock.Line{Type: "action", ID: "late", Kind: "tool", Title: "late", Phase: "started"},
	)
	events, final := runScript(t, mock.New("cat", script))

	assert.Equal(t, "first", final.Answer)
	require.Len(t, events, 1)
}

func TestRunCancelYieldsCanceledResult(t *testing.T) {
	r := mock.New("sh", "-c", "sleep 30")
	exec := runner.NewExecutor(r, runner.NewSessionLocks(), logger.Default())
	exec.SetKillGrace(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	final, err := exec.Run(ctx, runner.Request{Prompt: "go"}, func(model.Event) {})
	require.NoError(t, err)
	assert.False(t, final.OK)
	assert.Equal(t, "canceled", final.Error)
}
