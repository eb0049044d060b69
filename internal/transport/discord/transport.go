package discord

import (
	"fmt"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/ids"
	"github.com/pochihq/pochi/internal/plugin"
)

func init() {
	plugin.Register(ids.KindTransport, "discord", func() (any, error) {
		return Backend{}, nil
	})
}

// Backend is the discord transport plugin backend.
type Backend struct{}

var _ plugin.Transport = Backend{}

func (Backend) ID() string { return "discord" }

func (Backend) CheckSetup(cfg map[string]any) error {
	if token(cfg) == "" {
		return fmt.Errorf("discord: bot_token is not configured")
	}
	return nil
}

func (Backend) Build(cfg map[string]any, log *logger.Logger) (chat.Provider, chat.Listener, error) {
	tok := token(cfg)
	if tok == "" {
		return nil, nil, fmt.Errorf("discord: bot_token is not configured")
	}
	base, _ := cfg["api_base"].(string)
	gw, _ := cfg["gateway_url"].(string)
	client := NewClient(tok, base, log)
	return client, NewListener(client, channelID(cfg), gw), nil
}

// channelID reads the parent channel from config; snowflakes too large
// for TOML integers may arrive as strings.
func channelID(cfg map[string]any) int64 {
	switch v := cfg["channel_id"].(type) {
	case int64:
		return v
	case string:
		return parseSnowflake(v)
	}
	return 0
}

func (Backend) LockToken(cfg map[string]any) string { return token(cfg) }

func token(cfg map[string]any) string {
	tok, _ := cfg["bot_token"].(string)
	return tok
}
