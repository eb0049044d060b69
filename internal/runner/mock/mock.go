// Package mock provides a scriptable engine adapter for tests and setup
// dry runs. The engine binary is any command that prints the native script
// protocol: one JSON object per line with a type of started, action, or
// completed.
package mock

import (
	"encoding/json"
	"fmt"

	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
)

// EngineID is the registry ID of this adapter.
const EngineID = model.EngineID("mock")

// Runner replays scripted events from an arbitrary command, typically
// "cat <script.jsonl>".
type Runner struct {
	binary string
	args   []string
	resume *runner.ResumeSyntax
}

// New creates a mock runner that executes binary with args; the request
// prompt and resume token are ignored by the command line.
func New(binary string, args ...string) *Runner {
	return &Runner{
		binary: binary,
		args:   args,
		resume: runner.NewResumeSyntax(EngineID),
	}
}

func (r *Runner) Engine() model.EngineID       { return EngineID }
func (r *Runner) Resume() *runner.ResumeSyntax { return r.resume }

func (r *Runner) Command(runner.Request) (string, []string) {
	return r.binary, r.args
}

func (r *Runner) Stdin(req runner.Request) ([]byte, error) {
	return []byte(req.Prompt), nil
}

func (r *Runner) NewTranslator() runner.Translator {
	return &translator{}
}

// Line is one script protocol line. Marshal a slice of these to build a
// script file.
type Line struct {
	Type string `json:"type"`

	// started
	Session string `json:"session,omitempty"`

	// action
	ID    string `json:"id,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Title string `json:"title,omitempty"`
	Phase string `json:"phase,omitempty"`
	OK    *bool  `json:"ok,omitempty"`

	// completed
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

type translator struct{}

func (translator) Translate(line []byte, factory *model.EventFactory) ([]model.Event, error) {
	var l Line
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, fmt.Errorf("decode script line: %w", err)
	}

	switch l.Type {
	case "started":
		ev, err := factory.Started(
			model.ResumeToken{Engine: factory.Engine(), Value: l.Session},
			"mock session",
			nil,
		)
		if err != nil {
			return nil, err
		}
		return []model.Event{ev}, nil
	case "action":
		kind := model.ActionKind(l.Kind)
		if kind == "" {
			kind = model.ActionTool
		}
		switch model.ActionPhase(l.Phase) {
		case model.PhaseCompleted:
			ok := true
			if l.OK != nil {
				ok = *l.OK
			}
			level := model.LevelInfo
			if !ok {
				level = model.LevelError
			}
			return []model.Event{factory.ActionCompleted(l.ID, kind, l.Title, ok, l.Error, level)}, nil
		case model.PhaseUpdated:
			return []model.Event{factory.ActionUpdated(l.ID, kind, l.Title, nil)}, nil
		default:
			return []model.Event{factory.ActionStarted(l.ID, kind, l.Title, nil)}, nil
		}
	case "completed":
		ok := l.Error == ""
		if l.OK != nil {
			ok = *l.OK
		}
		return []model.Event{factory.Completed(ok, l.Answer, nil, l.Error, nil)}, nil
	default:
		return nil, fmt.Errorf("unknown script line type %q", l.Type)
	}
}

// Script marshals lines into the JSONL body a mock engine command prints.
func Script(lines ...Line) []byte {
	var out []byte
	for _, l := range lines {
		b, _ := json.Marshal(l)
		out = append(out, b...)
		out = append(out, '\n')
	}
	return out
}
