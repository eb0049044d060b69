package telegram

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pochihq/pochi/internal/presenter"
	"github.com/pochihq/pochi/internal/progress"
)

// MaxMessageLen is the Bot API limit on message text length.
const MaxMessageLen = 4096

const truncationMarker = "\n…\n"

// ParseMode is the parse_mode used for rendered messages.
const ParseMode = "Markdown"

// Presenter renders layouts as Telegram Markdown, truncating bodies
// middle-out so messages fit the 4096-char limit. Headers and footers are
// never cut: the footer carries the context and resume lines a reply needs.
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
	budget := MaxMessageLen - overhead
	l.Body = truncateMiddle(l.Body, budget)
	return l.Join()
}

// truncateMiddle keeps the head and tail of the text and cuts the middle,
// preferring line boundaries. Code fences that a cut leaves unbalanced are
// closed so the Markdown entities stay valid.
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

	// Snap both cuts to rune boundaries so the result stays valid UTF-8;
	// the Bot API rejects messages that are not.
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

	front = closeFences(front)
	back = stripLeadingFence(back)
	return front + truncationMarker + back
}

// closeFences appends a closing ``` when the text ends inside a fence.
func closeFences(text string) string {
	if strings.Count(text, "```")%2 == 1 {
		return text + "\n```"
	}
	return text
}

// stripLeadingFence drops text up to and including the first closing ```
// when the tail starts mid-fence, leaving valid Markdown.
func stripLeadingFence(text string) string {
	if strings.Count(text, "```")%2 == 0 {
		return text
	}
	i := strings.Index(text, "```")
	rest := text[i+3:]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		return rest[j+1:]
	}
	return rest
}
