// Package ids provides plugin ID validation and reserved ID management.
//
// Plugin IDs appear in the CLI and in chat commands, so they must match the
// ID pattern and must not conflict with reserved built-in names.
package ids

import (
	"fmt"
	"regexp"
)

// Kind identifies the plugin namespace an ID belongs to.
type Kind string

const (
	KindEngine    Kind = "engine"
	KindTransport Kind = "transport"
	KindCommand   Kind = "command"
)

// IDPattern is the required shape of a plugin ID: 1-32 lowercase
// alphanumeric characters or underscores.
var IDPattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// reservedEngineIDs conflict with core chat commands or CLI commands.
var reservedEngineIDs = map[string]struct{}{
	"cancel":  {},
	"help":    {},
	"init":    {},
	"plugins": {},
	"info":    {},
	"setup":   {},
}

// reservedCommandIDs conflict with built-in workspace commands.
var reservedCommandIDs = map[string]struct{}{
	"cancel": {},
	"help":   {},
	"clone":  {},
	"create": {},
	"add":    {},
	"list":   {},
	"remove": {},
	"status": {},
	"engine": {},
	"ralph":  {},
}

// IsValid reports whether id matches the required pattern.
func IsValid(id string) bool {
	return IDPattern.MatchString(id)
}

// IsReserved reports whether id is reserved for the given plugin kind.
func IsReserved(id string, kind Kind) bool {
	switch kind {
	case KindEngine:
		_, ok := reservedEngineIDs[id]
		return ok
	case KindCommand:
		_, ok := reservedCommandIDs[id]
		return ok
	default:
		return false
	}
}

// Validate checks a plugin ID for a given kind. The context string is added
// to error messages (e.g. the registry entry name).
func Validate(id string, kind Kind, context string) error {
	ctx := ""
	if context != "" {
		ctx = fmt.Sprintf(" (%s)", context)
	}
	if !IsValid(id) {
		return fmt.Errorf("invalid %s ID %q%s: must match pattern %s", kind, id, ctx, IDPattern.String())
	}
	if IsReserved(id, kind) {
		return fmt.Errorf("reserved %s ID %q%s: conflicts with built-in", kind, id, ctx)
	}
	return nil
}

// Reserved returns the reserved IDs for a plugin kind.
func Reserved(kind Kind) []string {
	var src map[string]struct{}
	switch kind {
	case KindEngine:
		src = reservedEngineIDs
	case KindCommand:
		src = reservedCommandIDs
	default:
		return nil
	}
	out := make([]string, 0, len(src))
	for id := range src {
		out = append(out, id)
	}
	return out
}
