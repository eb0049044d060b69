package runner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pochihq/pochi/internal/model"
)

// ResumeSyntax formats and recognizes the resume footer line an engine
// appends to its answers, e.g.
//
//	`claude resume session-123`
//
// The line is matched case-insensitively, with or without backticks, and
// with surrounding whitespace tolerated.
type ResumeSyntax struct {
	engine  model.EngineID
	pattern *regexp.Regexp
}

// NewResumeSyntax builds the syntax helper for one engine.
func NewResumeSyntax(engine model.EngineID) *ResumeSyntax {
	pat := fmt.Sprintf("(?im)^\\s*`?%s\\s+resume\\s+([^`\\s]+)`?\\s*$", regexp.QuoteMeta(string(engine)))
	return &ResumeSyntax{
		engine:  engine,
		pattern: regexp.MustCompile(pat),
	}
}

// Engine returns the engine this syntax belongs to.
func (r *ResumeSyntax) Engine() model.EngineID { return r.engine }

// Format renders the backticked resume line for a token value.
func (r *ResumeSyntax) Format(tok model.ResumeToken) string {
	return fmt.Sprintf("`%s resume %s`", r.engine, tok.Value)
}

// Extract returns the token from the last resume line in text, or nil.
// The last line wins so that quoted history does not shadow the current
// session.
func (r *ResumeSyntax) Extract(text string) *model.ResumeToken {
	matches := r.pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	value := matches[len(matches)-1][1]
	return &model.ResumeToken{Engine: r.engine, Value: value}
}

// IsLine reports whether a single line is a resume line for this engine.
func (r *ResumeSyntax) IsLine(line string) bool {
	return r.pattern.MatchString(line)
}

// Strip removes all resume lines for this engine from text. When nothing
// but resume lines remains, the caller substitutes a default prompt.
func (r *ResumeSyntax) Strip(text string) string {
	out := r.pattern.ReplaceAllString(text, "")
	return strings.TrimSpace(out)
}

// StripAll removes resume lines for every given syntax from text.
func StripAll(text string, syntaxes []*ResumeSyntax) string {
	for _, s := range syntaxes {
		text = s.pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
