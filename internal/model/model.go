// Package model defines the core event algebra shared by engines, the
// runner, the progress tracker, and the routing layer.
package model

import "fmt"

// EngineID is an opaque engine identifier, validated against the plugin ID
// pattern at load time and interned for the process lifetime.
type EngineID string

func (e EngineID) String() string { return string(e) }

// ResumeToken identifies a resumable engine session. The value is opaque to
// the core: engines use session UUIDs, thread IDs, or log-file paths.
// Equality is structural.
type ResumeToken struct {
	Engine EngineID
	Value  string
}

func (t ResumeToken) String() string {
	return fmt.Sprintf("%s:%s", t.Engine, t.Value)
}

// IsZero reports whether the token is unset.
func (t ResumeToken) IsZero() bool {
	return t.Engine == "" && t.Value == ""
}

// ActionKind categorizes a step the engine reports.
type ActionKind string

const (
	ActionTool       ActionKind = "tool"
	ActionCommand    ActionKind = "command"
	ActionFileChange ActionKind = "file_change"
	ActionWebSearch  ActionKind = "web_search"
	ActionTurn       ActionKind = "turn"
	ActionWarning    ActionKind = "warning"
	ActionTodo       ActionKind = "todo"
)

// ActionPhase is the lifecycle phase of an action event.
type ActionPhase string

const (
	PhaseStarted   ActionPhase = "started"
	PhaseUpdated   ActionPhase = "updated"
	PhaseCompleted ActionPhase = "completed"
)

// ActionLevel annotates warnings and errors attached to an action.
type ActionLevel string

const (
	LevelInfo  ActionLevel = "info"
	LevelWarn  ActionLevel = "warn"
	LevelError ActionLevel = "error"
)

// Action is one step the engine reports (e.g. "ran `ls -la`", "edited
// src/foo.py"). IDs are stable within a run.
type Action struct {
	ID     string
	Kind   ActionKind
	Title  string
	Detail map[string]any
}

// Usage carries engine-reported token accounting, opaque to the core.
type Usage map[string]int64

// Event is the runner-to-core contract. Exactly one StartedEvent precedes
// any CompletedEvent in a run; CompletedEvent terminates the stream.
type Event interface {
	EventEngine() EngineID
	isEvent()
}

// StartedEvent announces the engine session for this run.
type StartedEvent struct {
	Engine EngineID
	Resume ResumeToken
	Title  string
	Meta   map[string]any
}

func (e StartedEvent) EventEngine() EngineID { return e.Engine }
func (StartedEvent) isEvent()                {}

// ActionEvent reports progress on one action. OK is meaningful only for the
// completed phase; nil means unknown.
type ActionEvent struct {
	Engine  EngineID
	Action  Action
	Phase   ActionPhase
	OK      *bool
	Message string
	Level   ActionLevel
}

func (e ActionEvent) EventEngine() EngineID { return e.Engine }
func (ActionEvent) isEvent()                {}

// CompletedEvent terminates a run. Resume may be nil when the engine never
// established a session.
type CompletedEvent struct {
	Engine EngineID
	OK     bool
	Answer string
	Resume *ResumeToken
	Error  string
	Usage  Usage
}

func (e CompletedEvent) EventEngine() EngineID { return e.Engine }
func (CompletedEvent) isEvent()                {}

// BoolPtr is a convenience for ActionEvent.OK literals.
func BoolPtr(v bool) *bool { return &v }
