package telegram

import (
	"fmt"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/ids"
	"github.com/pochihq/pochi/internal/plugin"
)

func init() {
	plugin.Register(ids.KindTransport, "telegram", func() (any, error) {
		return Backend{}, nil
	})
}

// Backend is the telegram transport plugin backend.
type Backend struct{}

var _ plugin.Transport = Backend{}

func (Backend) ID() string { return "telegram" }

// CheckSetup verifies the transport config carries a bot token.
func (Backend) CheckSetup(cfg map[string]any) error {
	if token(cfg) == "" {
		return fmt.Errorf("telegram: bot_token is not configured")
	}
	return nil
}

// Build creates the provider and long-poll listener.
func (Backend) Build(cfg map[string]any, log *logger.Logger) (chat.Provider, chat.Listener, error) {
	tok := token(cfg)
	if tok == "" {
		return nil, nil, fmt.Errorf("telegram: bot_token is not configured")
	}
	base, _ := cfg["api_base"].(string)
	client := NewClient(tok, base, log)
	return client, NewListener(client, DefaultPollTimeout), nil
}

// LockToken returns the bot token so the registry registers it for
// redaction before any component can log it.
func (Backend) LockToken(cfg map[string]any) string { return token(cfg) }

func token(cfg map[string]any) string {
	tok, _ := cfg["bot_token"].(string)
	return tok
}
