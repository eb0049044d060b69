package plugin

import (
	"fmt"

	"github.com/pochihq/pochi/internal/ids"
	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/runner"
	"github.com/pochihq/pochi/internal/runner/claude"
	"github.com/pochihq/pochi/internal/runner/codex"
	"github.com/pochihq/pochi/internal/runner/mock"
)

// builtinEngine adapts a runner constructor to the Engine contract. The
// workspace config may override the binary and append extra args.
type builtinEngine struct {
	id    model.EngineID
	build func(binary string, extraArgs ...string) runner.Runner
}

func (b *builtinEngine) ID() model.EngineID { return b.id }

func (b *builtinEngine) BuildRunner(cfg map[string]any) (runner.Runner, error) {
	binary, _ := cfg["binary"].(string)
	var extra []string
	if raw, ok := cfg["args"].([]any); ok {
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("engine %s: args must be strings", b.id)
			}
			extra = append(extra, s)
		}
	}
	return b.build(binary, extra...), nil
}

func init() {
	Register(ids.KindEngine, string(claude.EngineID), func() (any, error) {
		return &builtinEngine{
			id: claude.EngineID,
			build: func(binary string, extraArgs ...string) runner.Runner {
				return claude.New(binary, extraArgs...)
			},
		}, nil
	})
	Register(ids.KindEngine, string(codex.EngineID), func() (any, error) {
		return &builtinEngine{
			id: codex.EngineID,
			build: func(binary string, extraArgs ...string) runner.Runner {
				return codex.New(binary, extraArgs...)
			},
		}, nil
	})
	Register(ids.KindEngine, string(mock.EngineID), func() (any, error) {
		return &builtinEngine{
			id: mock.EngineID,
			build: func(binary string, extraArgs ...string) runner.Runner {
				if binary == "" {
					binary = "cat"
				}
				return mock.New(binary, extraArgs...)
			},
		}, nil
	})
}
