// Package runner executes coding-agent engines as subprocesses and
// translates their line-oriented JSON output into the shared event stream.
package runner

import (
	"github.com/pochihq/pochi/internal/model"
)

// Request is one engine turn: a prompt, an optional session to resume, and
// the working directory the engine runs in.
type Request struct {
	Prompt string
	Resume *model.ResumeToken
	Dir    string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Translator decodes one engine output line into zero or more events.
// A translator is created per run and may carry per-run decode state.
type Translator interface {
	Translate(line []byte, factory *model.EventFactory) ([]model.Event, error)
}

// Runner describes one engine adapter. Implementations are stateless and
// shared across runs; per-run state lives in the Translator.
type Runner interface {
	// Engine returns the engine ID this runner serves.
	Engine() model.EngineID
	// Resume returns the resume-line syntax for this engine.
	Resume() *ResumeSyntax
	// Command returns the binary name and arguments for the request.
	Command(req Request) (name string, args []string)
	// Stdin returns the payload written to the engine's stdin, or nil
	// when the prompt is passed as an argument instead.
	Stdin(req Request) ([]byte, error)
	// NewTranslator creates the per-run output decoder.
	NewTranslator() Translator
}

// Available reports whether the runner's binary can be found. Adapters that
// wrap external CLIs implement it; the router skips unavailable entries.
type Available interface {
	Available() bool
}
