// Package claude adapts the Claude Code CLI, which speaks the stream-json
// protocol (one JSON message per stdout line).
package claude

import (
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
)

// EngineID is the registry ID of this adapter.
const EngineID = model.EngineID("claude")

const defaultBinary = "claude"

// Tool names reported by Claude Code.
const (
	toolBash         = "Bash"
	toolEdit         = "Edit"
	toolWrite        = "Write"
	toolNotebookEdit = "NotebookEdit"
	toolWebSearch    = "WebSearch"
	toolWebFetch     = "WebFetch"
	toolTodoWrite    = "TodoWrite"
)

// Runner runs the Claude Code CLI in non-interactive mode.
type Runner struct {
	binary string
	resume *runner.ResumeSyntax
	// ExtraArgs are appended to the fixed argument set (e.g. --model).
	extraArgs []string
}

// New creates the adapter. binary defaults to "claude" when empty.
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

// Available reports whether the claude binary is on PATH.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

// Command builds the CLI invocation. The prompt travels on stdin.
func (r *Runner) Command(req runner.Request) (string, []string) {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if req.Resume != nil {
		args = append(args, "--resume", req.Resume.Value)
	}
	args = append(args, r.extraArgs...)
	return r.binary, args
}

// Stdin returns the prompt payload.
func (r *Runner) Stdin(req runner.Request) ([]byte, error) {
	return []byte(req.Prompt), nil
}

// NewTranslator creates the per-run stream-json decoder.
func (r *Runner) NewTranslator() runner.Translator {
	return &translator{openTools: make(map[string]model.Action)}
}

// cliMessage is the top-level stream-json envelope.
type cliMessage struct {
	Type      string            `json:"type"`
	Subtype   string            `json:"subtype,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Message   *assistantMessage `json:"message,omitempty"`

	// Result fields.
	Result            json.RawMessage `json:"result,omitempty"`
	IsError           bool            `json:"is_error,omitempty"`
	NumTurns          int64           `json:"num_turns,omitempty"`
	TotalInputTokens  int64           `json:"total_input_tokens,omitempty"`
	TotalOutputTokens int64           `json:"total_output_tokens,omitempty"`
}

type assistantMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content,omitempty"`
	Usage   *usage         `json:"usage,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// translator holds per-run decode state: open tool calls and the text of
// the last assistant message, used as the answer when the result carries
// none.
type translator struct {
	openTools map[string]model.Action
	lastText  string
	started   bool
}

func (t *translator) Translate(line []byte, factory *model.EventFactory) ([]model.Event, error) {
	var msg cliMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decode stream-json line: %w", err)
	}

	switch msg.Type {
	case "system":
		return t.translateSystem(&msg, factory)
	case "assistant":
		return t.translateAssistant(&msg, factory), nil
	case "user":
		return t.translateUser(&msg, factory), nil
	case "result":
		return t.translateResult(&msg, factory), nil
	default:
		// Unknown message types are skipped, not errors; the protocol
		// grows fields and types over CLI releases.
		return nil, nil
	}
}

func (t *translator) translateSystem(msg *cliMessage, factory *model.EventFactory) ([]model.Event, error) {
	if msg.Subtype != "init" || msg.SessionID == "" {
		return nil, nil
	}
	ev, err := factory.Started(
		model.ResumeToken{Engine: factory.Engine(), Value: msg.SessionID},
		"claude code session",
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("session drift: %w", err)
	}
	if t.started {
		// Duplicate init with the same session is harmless noise.
		return nil, nil
	}
	t.started = true
	return []model.Event{ev}, nil
}

func (t *translator) translateAssistant(msg *cliMessage, factory *model.EventFactory) []model.Event {
	if msg.Message == nil {
		return nil
	}
	var events []model.Event
	for _, block := range msg.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				t.lastText = block.Text
			}
		case "tool_use":
			action := model.Action{
				ID:     block.ID,
				Kind:   toolKind(block.Name),
				Title:  toolTitle(block.Name, block.Input),
				Detail: block.Input,
			}
			t.openTools[block.ID] = action
			ev := factory.ActionStarted(action.ID, action.Kind, action.Title, action.Detail)
			events = append(events, ev)
		}
	}
	return events
}

func (t *translator) translateUser(msg *cliMessage, factory *model.EventFactory) []model.Event {
	if msg.Message == nil {
		return nil
	}
	var events []model.Event
	for _, block := range msg.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		action, ok := t.openTools[block.ToolUseID]
		if !ok {
			continue
		}
		delete(t.openTools, block.ToolUseID)
		level := model.LevelInfo
		message := ""
		if block.IsError {
			level = model.LevelError
			message = "tool failed"
		}
		events = append(events, factory.ActionCompleted(
			action.ID, action.Kind, action.Title, !block.IsError, message, level,
		))
	}
	return events
}

func (t *translator) translateResult(msg *cliMessage, factory *model.EventFactory) []model.Event {
	answer := resultText(msg.Result)
	if answer == "" {
		answer = t.lastText
	}

	var u model.Usage
	if msg.TotalInputTokens > 0 || msg.TotalOutputTokens > 0 {
		u = model.Usage{
			"input_tokens":  msg.TotalInputTokens,
			"output_tokens": msg.TotalOutputTokens,
			"turns":         msg.NumTurns,
		}
	}

	if msg.IsError {
		errMsg := answer
		if errMsg == "" {
			errMsg = fmt.Sprintf("claude result error (%s)", msg.Subtype)
		}
		return []model.Event{factory.Completed(false, "", nil, errMsg, u)}
	}
	return []model.Event{factory.Completed(true, answer, nil, "", u)}
}

// resultText accepts both the bare-string and object forms of the result
// field.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}
	return ""
}

func toolKind(name string) model.ActionKind {
	switch name {
	case toolBash:
		return model.ActionCommand
	case toolEdit, toolWrite, toolNotebookEdit:
		return model.ActionFileChange
	case toolWebSearch, toolWebFetch:
		return model.ActionWebSearch
	case toolTodoWrite:
		return model.ActionTodo
	default:
		return model.ActionTool
	}
}

// toolTitle picks the most informative argument for a one-line summary.
func toolTitle(name string, input map[string]any) string {
	for _, key := range []string{"command", "file_path", "pattern", "query", "url", "description"} {
		if v, ok := input[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", name, truncate(v, 120))
		}
	}
	return name
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
