package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/model"
)

func TestResumeSyntaxFormat(t *testing.T) {
	rs := NewResumeSyntax("claude")
	tok := model.ResumeToken{Engine: "claude", Value: "session-123"}
	assert.Equal(t, "`claude resume session-123`", rs.Format(tok))
}

func TestResumeSyntaxExtract(t *testing.T) {
	rs := NewResumeSyntax("claude")

	cases := []struct {
		name string
		text string
		want string
	}{
		{"backticked", "Done.\n`claude resume abc-1`", "abc-1"},
		{"bare", "Done.\nclaude resume abc-2", "abc-2"},
		{"indented", "  `claude resume abc-3`  ", "abc-3"},
		{"case insensitive", "Claude resume ABC-4", "ABC-4"},
		{"last match wins", "`claude resume old`\ntext\n`claude resume new`", "new"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rs.Extract(tc.text)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.Value)
			assert.Equal(t, model.EngineID("claude"), got.Engine)
		})
	}
}

func TestResumeSyntaxExtractNoMatch(t *testing.T) {
	rs := NewResumeSyntax("claude")
	assert.Nil(t, rs.Extract("nothing here"))
	// A resume line mid-sentence does not match; the line must stand alone.
	assert.Nil(t, rs.Extract("run claude resume abc manually"))
	// Another engine's line does not match.
	assert.Nil(t, rs.Extract("`codex resume abc`"))
}

func TestResumeSyntaxStrip(t *testing.T) {
	rs := NewResumeSyntax("claude")
	got := rs.Strip("fix the bug\n`claude resume abc`\n")
	assert.Equal(t, "fix the bug", got)

	// Only resume lines: everything is stripped.
	assert.Equal(t, "", rs.Strip("`claude resume abc`"))
}

func TestStripAllRemovesEveryEngine(t *testing.T) {
	syntaxes := []*ResumeSyntax{
		NewResumeSyntax("claude"),
		NewResumeSyntax("codex"),
	}
	got := StripAll("do it\n`claude resume a`\n`codex resume b`", syntaxes)
	assert.Equal(t, "do it", got)
}
