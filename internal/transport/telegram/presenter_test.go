package telegram

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/presenter"
	"github.com/pochihq/pochi/internal/progress"
)

func TestTruncateMiddleKeepsShortText(t *testing.T) {
	assert.Equal(t, "short", truncateMiddle("short", 100))
}

func TestTruncateMiddleCutsCenter(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("line of filler text\n")
	}
	text := b.String()

	out := truncateMiddle(text, 1000)
	require.LessOrEqual(t, len(out), 1000)
	assert.True(t, strings.HasPrefix(out, "line of filler"))
	assert.True(t, strings.HasSuffix(out, "filler text\n"))
	assert.Contains(t, out, truncationMarker)
}

func TestTruncateMiddleKeepsValidUTF8(t *testing.T) {
	// Multi-byte runes everywhere, no newlines: both cuts land wherever
	// the budget says, and must not split a rune.
	for _, text := range []string{
		strings.Repeat("é", 5000),
		strings.Repeat("日本語テキスト", 1500),
		strings.Repeat("a😀", 3000),
	} {
		out := truncateMiddle(text, MaxMessageLen)
		require.LessOrEqual(t, len(out), MaxMessageLen)
		assert.True(t, utf8.ValidString(out), "truncation split a rune")
	}
}

func TestTruncateMiddleClosesOpenFence(t *testing.T) {
	head := "intro\n```go\n" + strings.Repeat("code line\n", 200)
	tail := strings.Repeat("tail line\n", 200) + "done"
	out := truncateMiddle(head+tail, 800)

	require.LessOrEqual(t, len(out), 800)
	assert.Equal(t, 0, strings.Count(out, "```")%2, "fences must balance: %q", out)
}

func TestRenderFitsLimit(t *testing.T) {
	state := progress.State{Engine: "claude", ResumeLine: "`claude resume abc123`"}
	rctx := presenter.RunContext{Folder: "backend", Branch: "dev"}
	answer := strings.Repeat("long answer paragraph with detail\n", 400)

	out := Presenter{}.RenderFinal(state, rctx, answer, presenter.StatusDone)
	require.LessOrEqual(t, len(out), MaxMessageLen)
	// Footer survives truncation intact.
	assert.Contains(t, out, "`ctx: backend @ dev`")
	assert.Contains(t, out, "`claude resume abc123`")
}

func TestRenderProgressHeaderAndFooter(t *testing.T) {
	state := progress.State{Engine: "codex", ActionCount: 3, ResumeLine: "`codex resume t1`"}
	out := Presenter{}.RenderProgress(state, presenter.RunContext{Folder: "web"}, 65*time.Second, presenter.StatusRunning)
	assert.Contains(t, out, "⏳ codex (1m05s, 3 actions)")
	assert.Contains(t, out, "`ctx: web`")
	assert.Contains(t, out, "`codex resume t1`")
}
