// Package router selects the engine for a message: an explicit resume line
// pins the engine that owns the session, everything else goes to the
// configured default.
package router

import (
	"fmt"

	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
)

// DefaultPrompt replaces a message that contained nothing but resume lines.
const DefaultPrompt = "continue"

// UnavailableError reports that a message named an engine that is not
// registered or whose binary is missing.
type UnavailableError struct {
	Engine model.EngineID
	Reason string
}

func (e *UnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("engine %q unavailable: %s", e.Engine, e.Reason)
	}
	return fmt.Sprintf("engine %q unavailable", e.Engine)
}

// Resolution is the outcome of resolving one message: the runner to use,
// the session to resume (nil for a fresh session), and the prompt with
// resume lines stripped.
type Resolution struct {
	Runner runner.Runner
	Resume *model.ResumeToken
	Prompt string
}

// AutoRouter holds the registered engine runners and the default engine.
type AutoRouter struct {
	runners map[model.EngineID]runner.Runner
	order   []model.EngineID
	def     model.EngineID
}

// New validates and builds a router. At least one runner is required, engine
// IDs must be unique, and the default must be registered.
func New(defaultEngine model.EngineID, runners ...runner.Runner) (*AutoRouter, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("no engine runners registered")
	}
	byID := make(map[model.EngineID]runner.Runner, len(runners))
	order := make([]model.EngineID, 0, len(runners))
	for _, r := range runners {
		id := r.Engine()
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate engine runner %q", id)
		}
		byID[id] = r
		order = append(order, id)
	}
	if _, ok := byID[defaultEngine]; !ok {
		return nil, fmt.Errorf("default engine %q is not registered", defaultEngine)
	}
	return &AutoRouter{runners: byID, order: order, def: defaultEngine}, nil
}

// Default returns the default engine ID.
func (a *AutoRouter) Default() model.EngineID { return a.def }

// Engines returns registered engine IDs in registration order.
func (a *AutoRouter) Engines() []model.EngineID {
	out := make([]model.EngineID, len(a.order))
	copy(out, a.order)
	return out
}

// Runner returns the runner for an engine, or UnavailableError when the
// engine is unknown or its binary cannot be found.
func (a *AutoRouter) Runner(engine model.EngineID) (runner.Runner, error) {
	r, ok := a.runners[engine]
	if !ok {
		return nil, &UnavailableError{Engine: engine, Reason: "not registered"}
	}
	if av, ok := r.(runner.Available); ok && !av.Available() {
		return nil, &UnavailableError{Engine: engine, Reason: "binary not found"}
	}
	return r, nil
}

// For returns the runner a resume token routes to, or the default runner
// when resume is nil.
func (a *AutoRouter) For(resume *model.ResumeToken) (runner.Runner, error) {
	if resume != nil {
		return a.Runner(resume.Engine)
	}
	return a.Runner(a.def)
}

// syntaxes returns the resume syntaxes in registration order.
func (a *AutoRouter) syntaxes() []*runner.ResumeSyntax {
	out := make([]*runner.ResumeSyntax, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.runners[id].Resume())
	}
	return out
}

// extract finds a resume token in text, trying each engine's syntax in
// registration order.
func (a *AutoRouter) extract(text string) *model.ResumeToken {
	for _, s := range a.syntaxes() {
		if tok := s.Extract(text); tok != nil {
			return tok
		}
	}
	return nil
}

// Resolve routes one message. The message text is searched for a resume
// line first; when it has none, the replied-to text is searched, so
// replying to an answer continues that answer's session. Resume lines are
// stripped from the prompt; a prompt left empty becomes DefaultPrompt.
func (a *AutoRouter) Resolve(text, replyText string) (Resolution, error) {
	resume := a.extract(text)
	if resume == nil && replyText != "" {
		resume = a.extract(replyText)
	}

	r, err := a.For(resume)
	if err != nil {
		return Resolution{}, err
	}

	prompt := runner.StripAll(text, a.syntaxes())
	if prompt == "" {
		prompt = DefaultPrompt
	}

	return Resolution{Runner: r, Resume: resume, Prompt: prompt}, nil
}

// ResolveWith routes one message that named an engine explicitly, as when
// a slash command selects one. A resume token still outranks the named
// engine: the token's engine owns the session, so the selection applies
// only when the message starts a fresh one.
func (a *AutoRouter) ResolveWith(engine model.EngineID, text, replyText string) (Resolution, error) {
	resume := a.extract(text)
	if resume == nil && replyText != "" {
		resume = a.extract(replyText)
	}
	if resume != nil {
		engine = resume.Engine
	}

	r, err := a.Runner(engine)
	if err != nil {
		return Resolution{}, err
	}

	prompt := runner.StripAll(text, a.syntaxes())
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return Resolution{Runner: r, Resume: resume, Prompt: prompt}, nil
}
