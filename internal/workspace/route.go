package workspace

import (
	"regexp"
	"strings"
)

// Route is the outcome of routing one message by its topic and text.
type Route struct {
	IsGeneral      bool
	IsUnboundTopic bool
	FolderName     string
	Folder         *Folder

	IsSlash     bool
	Command     string
	CommandArgs string

	Branch     string
	PromptText string
}

var (
	slashPattern  = regexp.MustCompile(`^/([a-zA-Z0-9_]+)(?:@\S+)?[ \t]*(.*)$`)
	branchPattern = regexp.MustCompile(`^@([A-Za-z0-9][A-Za-z0-9/_.-]*)\s*`)
	ctxPattern    = regexp.MustCompile("`ctx:\\s*([^@`]+?)(?:\\s*@\\s*([^`]+?))?`")
)

// ParseContextFooter extracts the folder and branch from the last context
// footer in text.
func ParseContextFooter(text string) (folder, branch string, ok bool) {
	matches := ctxPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", "", false
	}
	m := matches[len(matches)-1]
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

// parseSlash splits a slash command out of the first line. Lines after the
// first append to the args.
func parseSlash(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	first, rest, _ := strings.Cut(text, "\n")
	m := slashPattern.FindStringSubmatch(first)
	if m == nil {
		return "", "", false
	}
	args = strings.TrimSpace(m[2])
	if rest != "" {
		if args == "" {
			args = rest
		} else {
			args = args + "\n" + rest
		}
	}
	return strings.ToLower(m[1]), args, true
}

// parseBranch strips a leading @branch directive.
func parseBranch(text string) (branch, rest string) {
	m := branchPattern.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	return m[1], text[len(m[0]):]
}

// Route classifies a message: General topic (orchestrator scope), a bound
// worker topic, or an unbound topic the bridge must reject. Slash commands
// and the @branch directive are parsed out of the text; an absent branch is
// inherited from the reply's context footer.
func (c *Config) Route(topicID int64, text, replyText string) Route {
	r := Route{}

	switch {
	case topicID == 0 || topicID == GeneralTopicID:
		r.IsGeneral = true
	default:
		name, folder := c.FolderByTopic(topicID)
		if folder == nil {
			r.IsUnboundTopic = true
			return r
		}
		r.FolderName = name
		r.Folder = folder
	}

	body := text
	if cmd, args, ok := parseSlash(text); ok {
		r.IsSlash = true
		r.Command = cmd
		r.CommandArgs = args
		body = args
	}

	branch, rest := parseBranch(body)
	r.Branch = branch
	r.PromptText = strings.TrimSpace(rest)

	if r.Branch == "" && replyText != "" {
		if _, replyBranch, ok := ParseContextFooter(replyText); ok && replyBranch != "" {
			r.Branch = replyBranch
		}
	}
	return r
}
