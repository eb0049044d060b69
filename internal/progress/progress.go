// Package progress reduces a runner event stream into immutable snapshots
// for rendering.
package progress

import (
	"sort"

	"github.com/pochihq/pochi/internal/model"
)

// ActionState is the tracked state of a single action. first_seen gives a
// stable rendering order even when actions update out of phase order.
type ActionState struct {
	Action       model.Action
	Phase        model.ActionPhase
	OK           *bool
	DisplayPhase model.ActionPhase
	Completed    bool
	FirstSeen    int
	LastUpdate   int
}

// State is an immutable snapshot of run progress.
type State struct {
	Engine      model.EngineID
	ActionCount int
	Actions     []ActionState
	Resume      *model.ResumeToken
	ResumeLine  string
}

// Tracker consumes events in order and produces State snapshots on demand.
// It is owned by one turn and discarded at turn end.
type Tracker struct {
	engine      model.EngineID
	resume      *model.ResumeToken
	actionCount int
	actions     map[string]ActionState
	seq         int
}

// NewTracker creates a tracker for one run of the given engine.
func NewTracker(engine model.EngineID) *Tracker {
	return &Tracker{
		engine:  engine,
		actions: make(map[string]ActionState),
	}
}

// NoteEvent processes one event. It reports whether the event changed
// tracker state; the driver uses this for change-driven rendering.
func (t *Tracker) NoteEvent(ev model.Event) bool {
	switch e := ev.(type) {
	case model.StartedEvent:
		tok := e.Resume
		t.resume = &tok
		return true
	case model.ActionEvent:
		return t.noteAction(e)
	default:
		// Completed does not mutate tracker state; the driver consumes
		// its answer and resume directly.
		return false
	}
}

func (t *Tracker) noteAction(e model.ActionEvent) bool {
	if e.Action.Kind == model.ActionTurn {
		return false
	}
	id := e.Action.ID
	if id == "" {
		return false
	}

	completed := e.Phase == model.PhaseCompleted
	existing, known := t.actions[id]
	hasOpen := known && !existing.Completed

	// A second "started" for an already-open action is really an update.
	isUpdate := e.Phase == model.PhaseUpdated || (e.Phase == model.PhaseStarted && hasOpen)
	displayPhase := e.Phase
	if isUpdate && !completed {
		displayPhase = model.PhaseUpdated
	}

	t.seq++
	firstSeen := t.seq
	if known {
		firstSeen = existing.FirstSeen
	} else {
		t.actionCount++
	}

	t.actions[id] = ActionState{
		Action:       e.Action,
		Phase:        e.Phase,
		OK:           e.OK,
		DisplayPhase: displayPhase,
		Completed:    completed,
		FirstSeen:    firstSeen,
		LastUpdate:   t.seq,
	}
	return true
}

// SetResume sets or updates the resume token. Nil is ignored.
func (t *Tracker) SetResume(resume *model.ResumeToken) {
	if resume != nil {
		tok := *resume
		t.resume = &tok
	}
}

// Resume returns the recorded resume token, or nil.
func (t *Tracker) Resume() *model.ResumeToken {
	return t.resume
}

// Snapshot produces an immutable State with actions in first-seen order.
// resumeFormat, when non-nil, pre-formats the resume footer line.
func (t *Tracker) Snapshot(resumeFormat func(model.ResumeToken) string) State {
	actions := make([]ActionState, 0, len(t.actions))
	for _, st := range t.actions {
		actions = append(actions, st)
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].FirstSeen < actions[j].FirstSeen
	})

	var resumeLine string
	var resume *model.ResumeToken
	if t.resume != nil {
		tok := *t.resume
		resume = &tok
		if resumeFormat != nil {
			resumeLine = resumeFormat(tok)
		}
	}

	return State{
		Engine:      t.engine,
		ActionCount: t.actionCount,
		Actions:     actions,
		Resume:      resume,
		ResumeLine:  resumeLine,
	}
}

// SyncResume reconciles the tracker's token with an external source (e.g.
// a CompletedEvent). The external token wins when set.
func SyncResume(t *Tracker, resume *model.ResumeToken) *model.ResumeToken {
	if resume == nil {
		resume = t.Resume()
	}
	t.SetResume(resume)
	return resume
}
