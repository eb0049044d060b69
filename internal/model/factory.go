package model

import "fmt"

// SessionDriftError reports a Started event announcing a different session
// than the one this run was resuming or already announced. Drift is fatal
// for the turn: continuing would hand later turns a token for a session the
// user never saw.
type SessionDriftError struct {
	Engine   EngineID
	Expected string
	Got      string
}

func (e *SessionDriftError) Error() string {
	return fmt.Sprintf("%s session drift: expected %q, engine started %q", e.Engine, e.Expected, e.Got)
}

// EventFactory builds well-formed events for one engine run. It remembers
// the resume token announced by Started so Completed can default to it, and
// rejects tokens that belong to a different engine or session.
type EventFactory struct {
	engine EngineID
	resume *ResumeToken
}

// NewEventFactory creates a factory for the given engine.
func NewEventFactory(engine EngineID) *EventFactory {
	return &EventFactory{engine: engine}
}

// Engine returns the factory's engine ID.
func (f *EventFactory) Engine() EngineID { return f.engine }

// Resume returns the token recorded by Started, or nil.
func (f *EventFactory) Resume() *ResumeToken { return f.resume }

// ExpectResume pins the session a resumed run must stay on. A Started
// announcing any other session then fails with SessionDriftError.
func (f *EventFactory) ExpectResume(tok ResumeToken) {
	f.resume = &tok
}

// Started records the session token and builds the StartedEvent.
func (f *EventFactory) Started(resume ResumeToken, title string, meta map[string]any) (StartedEvent, error) {
	if resume.Engine != f.engine {
		return StartedEvent{}, fmt.Errorf("resume token is for engine %q, factory is %q", resume.Engine, f.engine)
	}
	if f.resume != nil && f.resume.Value != resume.Value {
		return StartedEvent{}, &SessionDriftError{Engine: f.engine, Expected: f.resume.Value, Got: resume.Value}
	}
	tok := resume
	f.resume = &tok
	return StartedEvent{Engine: f.engine, Resume: resume, Title: title, Meta: meta}, nil
}

// Action builds an ActionEvent for the given phase.
func (f *EventFactory) Action(phase ActionPhase, actionID string, kind ActionKind, title string, detail map[string]any) ActionEvent {
	return ActionEvent{
		Engine: f.engine,
		Action: Action{ID: actionID, Kind: kind, Title: title, Detail: detail},
		Phase:  phase,
	}
}

// ActionStarted builds a started-phase action event.
func (f *EventFactory) ActionStarted(actionID string, kind ActionKind, title string, detail map[string]any) ActionEvent {
	return f.Action(PhaseStarted, actionID, kind, title, detail)
}

// ActionUpdated builds an updated-phase action event.
func (f *EventFactory) ActionUpdated(actionID string, kind ActionKind, title string, detail map[string]any) ActionEvent {
	return f.Action(PhaseUpdated, actionID, kind, title, detail)
}

// ActionCompleted builds a completed-phase action event with outcome.
func (f *EventFactory) ActionCompleted(actionID string, kind ActionKind, title string, ok bool, message string, level ActionLevel) ActionEvent {
	ev := f.Action(PhaseCompleted, actionID, kind, title, nil)
	ev.OK = BoolPtr(ok)
	ev.Message = message
	ev.Level = level
	return ev
}

// Warning builds a completed warning action, used for unparseable engine
// output and translation failures.
func (f *EventFactory) Warning(actionID, title, message string) ActionEvent {
	ev := f.Action(PhaseCompleted, actionID, ActionWarning, title, nil)
	ev.OK = BoolPtr(false)
	ev.Message = message
	ev.Level = LevelWarn
	return ev
}

// Completed builds the terminal event. When resume is nil the token recorded
// by Started is used.
func (f *EventFactory) Completed(ok bool, answer string, resume *ResumeToken, errMsg string, usage Usage) CompletedEvent {
	if resume == nil {
		resume = f.resume
	}
	return CompletedEvent{
		Engine: f.engine,
		OK:     ok,
		Answer: answer,
		Resume: resume,
		Error:  errMsg,
		Usage:  usage,
	}
}

// CompletedOK builds a successful terminal event.
func (f *EventFactory) CompletedOK(answer string, usage Usage) CompletedEvent {
	return f.Completed(true, answer, nil, "", usage)
}

// CompletedError builds a failed terminal event, optionally with a partial
// answer.
func (f *EventFactory) CompletedError(errMsg, answer string) CompletedEvent {
	return f.Completed(false, answer, nil, errMsg, nil)
}
