// Package plugin is the discovery and validation layer for engine,
// transport, and command backends. Entries register a name and a lazy
// loader; validation happens on first load and failures are isolated per
// entry.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/ids"
	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
)

// Engine builds a runner for one engine from its workspace config.
type Engine interface {
	ID() model.EngineID
	BuildRunner(cfg map[string]any) (runner.Runner, error)
}

// Transport builds a chat provider and listener from its workspace
// config. LockToken returns the credential to register for log redaction.
type Transport interface {
	ID() string
	CheckSetup(cfg map[string]any) error
	Build(cfg map[string]any, log *logger.Logger) (chat.Provider, chat.Listener, error)
	LockToken(cfg map[string]any) string
}

// CommandRequest is the input to an external command backend.
type CommandRequest struct {
	Command string
	Args    string
	Folder  string
	TopicID int64
}

// Command handles one external slash command; the returned string is sent
// as the chat reply.
type Command interface {
	ID() string
	Handle(ctx context.Context, req CommandRequest) (string, error)
}

// Loader produces a backend instance. Loaders run at most once; the
// result is cached.
type Loader func() (any, error)

type registry struct {
	mu      sync.Mutex
	entries map[ids.Kind]map[string]Loader
	cache   map[ids.Kind]map[string]any
}

var global = newRegistry()

func newRegistry() *registry {
	return &registry{
		entries: map[ids.Kind]map[string]Loader{
			ids.KindEngine:    {},
			ids.KindTransport: {},
			ids.KindCommand:   {},
		},
		cache: map[ids.Kind]map[string]any{
			ids.KindEngine:    {},
			ids.KindTransport: {},
			ids.KindCommand:   {},
		},
	}
}

// Register adds an entry. Registering a duplicate name replaces the
// previous loader and drops its cached instance.
func Register(kind ids.Kind, name string, loader Loader) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.entries[kind][name] = loader
	delete(global.cache[kind], name)
}

// Names enumerates registered entry names for a kind without loading.
func Names(kind ids.Kind) []string {
	global.mu.Lock()
	defer global.mu.Unlock()
	out := make([]string, 0, len(global.entries[kind]))
	for name := range global.entries[kind] {
		out = append(out, name)
	}
	return out
}

// ClearCache drops all cached backend instances (for tests).
func ClearCache() {
	global.mu.Lock()
	defer global.mu.Unlock()
	for kind := range global.cache {
		global.cache[kind] = map[string]any{}
	}
}

// load runs the entry's loader once and validates the backend shape.
func load(kind ids.Kind, name string) (any, error) {
	if err := ids.Validate(name, kind, "plugin entry"); err != nil {
		return nil, err
	}

	global.mu.Lock()
	if cached, ok := global.cache[kind][name]; ok {
		global.mu.Unlock()
		return cached, nil
	}
	loader, ok := global.entries[kind][name]
	global.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no %s plugin named %q", kind, name)
	}

	backend, err := loader()
	if err != nil {
		return nil, fmt.Errorf("load %s plugin %q: %w", kind, name, err)
	}
	declared, err := validateShape(kind, name, backend)
	if err != nil {
		return nil, err
	}
	if declared != name {
		return nil, fmt.Errorf("%s plugin %q declares id %q", kind, name, declared)
	}

	global.mu.Lock()
	global.cache[kind][name] = backend
	global.mu.Unlock()
	return backend, nil
}

func validateShape(kind ids.Kind, name string, backend any) (string, error) {
	switch kind {
	case ids.KindEngine:
		e, ok := backend.(Engine)
		if !ok {
			return "", fmt.Errorf("engine plugin %q does not implement the engine contract", name)
		}
		return string(e.ID()), nil
	case ids.KindTransport:
		t, ok := backend.(Transport)
		if !ok {
			return "", fmt.Errorf("transport plugin %q does not implement the transport contract", name)
		}
		return t.ID(), nil
	case ids.KindCommand:
		c, ok := backend.(Command)
		if !ok {
			return "", fmt.Errorf("command plugin %q does not implement the command contract", name)
		}
		return c.ID(), nil
	default:
		return "", fmt.Errorf("unknown plugin kind %q", kind)
	}
}

// LoadEngine loads and validates one engine backend.
func LoadEngine(name string) (Engine, error) {
	backend, err := load(ids.KindEngine, name)
	if err != nil {
		return nil, err
	}
	return backend.(Engine), nil
}

// LoadTransport loads and validates one transport backend.
func LoadTransport(name string) (Transport, error) {
	backend, err := load(ids.KindTransport, name)
	if err != nil {
		return nil, err
	}
	return backend.(Transport), nil
}

// LoadCommand loads and validates one command backend.
func LoadCommand(name string) (Command, error) {
	backend, err := load(ids.KindCommand, name)
	if err != nil {
		return nil, err
	}
	return backend.(Command), nil
}

// LoadAllEngines loads every registered engine. Failures do not prevent
// other entries from loading; each is reported under its name.
func LoadAllEngines() (map[string]Engine, map[string]error) {
	loaded := make(map[string]Engine)
	failed := make(map[string]error)
	for _, name := range Names(ids.KindEngine) {
		e, err := LoadEngine(name)
		if err != nil {
			failed[name] = err
			continue
		}
		loaded[name] = e
	}
	return loaded, failed
}
