// Package presenter turns progress snapshots into structured message
// layouts. Platform transports render a Layout into their markup and
// enforce their own length limits.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/progress"
)

// DefaultMaxActions is how many of the most recent actions a progress body
// shows.
const DefaultMaxActions = 5

// Status labels used in headers.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunContext names the folder and branch a turn ran in. It renders as the
// context footer line so replies route back to the same working directory.
type RunContext struct {
	Folder string
	Branch string
}

// FooterLine renders `ctx: folder` or `ctx: folder @ branch`.
func (c RunContext) FooterLine() string {
	if c.Folder == "" {
		return ""
	}
	if c.Branch == "" {
		return fmt.Sprintf("`ctx: %s`", c.Folder)
	}
	return fmt.Sprintf("`ctx: %s @ %s`", c.Folder, c.Branch)
}

// Layout is a rendered message: the header and footer are never truncated,
// the body may be cut middle-out by the transport.
type Layout struct {
	Header string
	Body   string
	Footer string
}

// Join renders the layout as plain text.
func (l Layout) Join() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Header, l.Body, l.Footer} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Presenter renders layouts for one chat platform.
type Presenter interface {
	RenderProgress(state progress.State, rctx RunContext, elapsed time.Duration, status string) string
	RenderFinal(state progress.State, rctx RunContext, answer, status string) string
}

// BuildProgress lays out an in-flight progress message: status header, the
// most recent actions, and a footer with the context and resume lines so a
// reply mid-run is always routable.
func BuildProgress(state progress.State, rctx RunContext, elapsed time.Duration, status string, maxActions int) Layout {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}

	header := fmt.Sprintf("%s %s (%s, %d actions)",
		statusGlyph(status), state.Engine, formatElapsed(elapsed), state.ActionCount)

	actions := state.Actions
	if len(actions) > maxActions {
		actions = actions[len(actions)-maxActions:]
	}
	lines := make([]string, 0, len(actions))
	for _, st := range actions {
		lines = append(lines, actionLine(st))
	}

	return Layout{
		Header: header,
		Body:   strings.Join(lines, "\n"),
		Footer: footer(rctx, state.ResumeLine),
	}
}

// BuildFinal lays out the terminal message: the answer (or error) body with
// any resume lines already stripped by the caller, plus the footer.
func BuildFinal(state progress.State, rctx RunContext, answer, status string) Layout {
	header := ""
	if status != StatusDone {
		header = fmt.Sprintf("%s %s %s", statusGlyph(status), state.Engine, status)
	}
	return Layout{
		Header: header,
		Body:   strings.TrimSpace(answer),
		Footer: footer(rctx, state.ResumeLine),
	}
}

func footer(rctx RunContext, resumeLine string) string {
	parts := make([]string, 0, 2)
	if line := rctx.FooterLine(); line != "" {
		parts = append(parts, line)
	}
	if resumeLine != "" {
		parts = append(parts, resumeLine)
	}
	return strings.Join(parts, "\n")
}

func actionLine(st progress.ActionState) string {
	glyph := phaseGlyph(st)
	title := st.Action.Title
	if title == "" {
		title = string(st.Action.Kind)
	}
	return fmt.Sprintf("%s %s", glyph, title)
}

func phaseGlyph(st progress.ActionState) string {
	if st.Action.Kind == model.ActionWarning {
		return "⚠"
	}
	if st.Completed {
		if st.OK != nil && !*st.OK {
			return "✗"
		}
		return "✓"
	}
	if st.DisplayPhase == model.PhaseUpdated {
		return "↻"
	}
	return "▸"
}

func statusGlyph(status string) string {
	switch status {
	case StatusRunning:
		return "⏳"
	case StatusDone:
		return "✅"
	case StatusFailed:
		return "❌"
	case StatusCancelled:
		return "🛑"
	default:
		return "•"
	}
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}
