// Package codex adapts the Codex CLI (codex exec --json), which emits one
// JSON event per stdout line: thread.*, turn.*, and item.* lifecycle events.
package codex

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
)

// EngineID is the registry ID of this adapter.
const EngineID = model.EngineID("codex")

const defaultBinary = "codex"

// Runner runs the Codex CLI in non-interactive exec mode.
type Runner struct {
	binary    string
	resume    *runner.ResumeSyntax
	extraArgs []string
}

// New creates the adapter. binary defaults to "codex" when empty.
func New(binary string, extraArgs ...string) *Runner {
	if binary == "" {
		binary = defaultBinary
	}
	return &Runner{
		binary:    binary,
		resume:    runner.NewResumeSyntax(EngineID),
		extraArgs: extraArgs,
	}
}

func (r *Runner) Engine() model.EngineID       { return EngineID }
func (r *Runner) Resume() *runner.ResumeSyntax { return r.resume }

// Available reports whether the codex binary is on PATH.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

// Command builds the CLI invocation. Resumed turns use the exec resume
// subcommand with the thread ID.
func (r *Runner) Command(req runner.Request) (string, []string) {
	args := []string{"exec"}
	if req.Resume != nil {
		args = append(args, "resume", req.Resume.Value)
	}
	args = append(args, "--json")
	args = append(args, r.extraArgs...)
	args = append(args, req.Prompt)
	return r.binary, args
}

// Stdin returns nil; the prompt is passed as an argument.
func (r *Runner) Stdin(runner.Request) ([]byte, error) {
	return nil, nil
}

// NewTranslator creates the per-run event decoder.
func (r *Runner) NewTranslator() runner.Translator {
	return &translator{}
}

// event is the top-level codex exec --json envelope.
type event struct {
	Type string `json:"type"`

	// thread.started
	ThreadID string `json:"thread_id,omitempty"`

	// item.*
	Item *item `json:"item,omitempty"`

	// turn.completed
	Usage *turnUsage `json:"usage,omitempty"`

	// turn.failed
	Error *turnError `json:"error,omitempty"`
}

type item struct {
	ID       string `json:"id"`
	ItemType string `json:"item_type"`

	// command_execution
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`

	// agent_message
	Text string `json:"text,omitempty"`

	// file_change
	Changes []fileChange `json:"changes,omitempty"`

	// web_search
	Query string `json:"query,omitempty"`

	// todo_list
	Items []todoItem `json:"items,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

type fileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

type todoItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type turnUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

type turnError struct {
	Message string `json:"message"`
}

// translator accumulates the final agent message across items; codex sends
// the answer as an agent_message item, not on turn.completed.
type translator struct {
	lastMessage string
	warnSeq     int
}

func (t *translator) Translate(line []byte, factory *model.EventFactory) ([]model.Event, error) {
	var ev event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode codex event: %w", err)
	}

	switch ev.Type {
	case "thread.started":
		if ev.ThreadID == "" {
			return nil, nil
		}
		started, err := factory.Started(
			model.ResumeToken{Engine: factory.Engine(), Value: ev.ThreadID},
			"codex thread",
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("session drift: %w", err)
		}
		return []model.Event{started}, nil

	case "item.started", "item.updated", "item.completed":
		return t.translateItem(ev.Type, ev.Item, factory), nil

	case "turn.completed":
		var u model.Usage
		if ev.Usage != nil {
			u = model.Usage{
				"input_tokens":        ev.Usage.InputTokens,
				"cached_input_tokens": ev.Usage.CachedInputTokens,
				"output_tokens":       ev.Usage.OutputTokens,
			}
		}
		return []model.Event{factory.Completed(true, t.lastMessage, nil, "", u)}, nil

	case "turn.failed":
		msg := "codex turn failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []model.Event{factory.Completed(false, t.lastMessage, nil, msg, nil)}, nil

	default:
		// turn.started, thread.* extensions and unknown events carry no
		// renderable progress.
		return nil, nil
	}
}

func (t *translator) translateItem(evType string, it *item, factory *model.EventFactory) []model.Event {
	if it == nil || it.ID == "" {
		return nil
	}

	switch it.ItemType {
	case "agent_message":
		if it.Text != "" {
			t.lastMessage = it.Text
		}
		return nil
	case "reasoning":
		return nil
	case "error":
		t.warnSeq++
		return []model.Event{factory.Warning(
			fmt.Sprintf("codex-error-%d", t.warnSeq),
			"codex error",
			it.Message,
		)}
	}

	kind, title := itemSummary(it)
	switch evType {
	case "item.started":
		return []model.Event{factory.ActionStarted(it.ID, kind, title, nil)}
	case "item.updated":
		return []model.Event{factory.ActionUpdated(it.ID, kind, title, nil)}
	default:
		ok := true
		message := ""
		level := model.LevelInfo
		if it.ItemType == "command_execution" && it.ExitCode != nil && *it.ExitCode != 0 {
			ok = false
			message = fmt.Sprintf("exit code %d", *it.ExitCode)
			level = model.LevelError
		}
		return []model.Event{factory.ActionCompleted(it.ID, kind, title, ok, message, level)}
	}
}

func itemSummary(it *item) (model.ActionKind, string) {
	switch it.ItemType {
	case "command_execution":
		return model.ActionCommand, fmt.Sprintf("$ %s", truncate(it.Command, 120))
	case "file_change":
		paths := make([]string, 0, len(it.Changes))
		for _, c := range it.Changes {
			paths = append(paths, c.Path)
		}
		return model.ActionFileChange, truncate(strings.Join(paths, ", "), 120)
	case "web_search":
		return model.ActionWebSearch, truncate(it.Query, 120)
	case "todo_list":
		return model.ActionTodo, todoSummary(it.Items)
	default:
		return model.ActionTool, it.ItemType
	}
}

// todoSummary renders "todo <done>/<total>: <current>", where current is
// the first incomplete item.
func todoSummary(items []todoItem) string {
	done := 0
	current := ""
	for _, it := range items {
		if it.Completed {
			done++
		} else if current == "" {
			current = it.Text
		}
	}
	if current == "" {
		return fmt.Sprintf("todo %d/%d", done, len(items))
	}
	return fmt.Sprintf("todo %d/%d: %s", done, len(items), truncate(current, 100))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
