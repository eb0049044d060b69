package discord

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pochihq/pochi/internal/presenter"
	"github.com/pochihq/pochi/internal/progress"
)

const truncationMarker = "\n…\n"

// Presenter renders layouts as Discord markdown, cutting bodies middle-out
// to fit the 2000-char content limit. Headers and footers survive intact.
type Presenter struct{}

var _ presenter.Presenter = Presenter{}

func (Presenter) RenderProgress(state progress.State, rctx presenter.RunContext, elapsed time.Duration, status string) string {
	return render(presenter.BuildProgress(state, rctx, elapsed, status, presenter.DefaultMaxActions))
}

func (Presenter) RenderFinal(state progress.State, rctx presenter.RunContext, answer, status string) string {
	return render(presenter.BuildFinal(state, rctx, answer, status))
}

func render(l presenter.Layout) string {
	overhead := 0
	if l.Header != "" {
		overhead += len(l.Header) + 2
	}
	if l.Footer != "" {
		overhead += len(l.Footer) + 2
	}
	l.Body = truncateMiddle(l.Body, MaxMessageLen-overhead)
	return l.Join()
}

// truncateMiddle keeps the head and tail, cutting the middle on line
// boundaries where possible.
func truncateMiddle(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	budget := limit - len(truncationMarker)
	if budget <= 0 {
		return ""
	}
	head := budget * 2 / 3
	tail := budget - head

	// Snap cuts to rune boundaries so the content stays valid UTF-8.
	for head > 0 && !utf8.RuneStart(text[head]) {
		head--
	}
	start := len(text) - tail
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}

	front := text[:head]
	if i := strings.LastIndexByte(front, '\n'); i > head/2 {
		front = front[:i]
	}
	back := text[start:]
	if i := strings.IndexByte(back, '\n'); i >= 0 && i < tail/2 {
		back = back[i+1:]
	}
	return front + truncationMarker + back
}
