// Package discord implements the Discord transport: REST client for
// message operations and a gateway listener over websocket. Threads map to
// topics; the parent channel is the General stream.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/outbox"
)

const (
	restBase   = "https://discord.com/api/v10"
	gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// MaxMessageLen is Discord's content length limit.
	MaxMessageLen = 2000
)

// SendInterval is the outbox pacing for any Discord channel. Discord
// enforces ~5 req per 5s per channel.
func SendInterval(string) time.Duration { return time.Second }

// Client is the REST surface. Outbound calls go through the outbox.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewClient creates a REST client and registers the token for redaction.
func NewClient(token, baseURL string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = restBase
	}
	logger.RegisterSecret(token)
	return &Client{
		token:   token,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.WithFields(zap.String("component", "discord")),
	}
}

type restMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	ReferencedMessage *restMessage `json:"referenced_message,omitempty"`
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl rateLimitBody
		if err := json.Unmarshal(raw, &rl); err == nil && rl.RetryAfter > 0 {
			return &outbox.RetryAfterError{After: time.Duration(rl.RetryAfter * float64(time.Second))}
		}
		return &outbox.RetryAfterError{After: 2 * time.Second}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// channelFor picks the target channel: the thread when a topic is set,
// else the parent channel.
func channelFor(dest chat.Destination) int64 {
	if dest.TopicID != 0 {
		return dest.TopicID
	}
	return dest.ChatID
}

func snowflake(id int64) string { return strconv.FormatInt(id, 10) }

func parseSnowflake(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

type componentButton struct {
	Type     int    `json:"type"`
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
}

type componentRow struct {
	Type       int               `json:"type"`
	Components []componentButton `json:"components"`
}

func components(keyboard [][]chat.Button) []componentRow {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([]componentRow, 0, len(keyboard))
	for _, row := range keyboard {
		cr := componentRow{Type: 1}
		for _, b := range row {
			cr.Components = append(cr.Components, componentButton{
				Type: 2, Style: 2, Label: b.Text, CustomID: b.Data,
			})
		}
		rows = append(rows, cr)
	}
	return rows
}

// Platform implements chat.Provider.
func (c *Client) Platform() chat.Platform { return chat.PlatformDiscord }

// Send implements chat.Provider.
func (c *Client) Send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	channel := channelFor(out.Dest)
	payload := map[string]any{"content": out.Text}
	if out.ReplyTo != nil {
		payload["message_reference"] = map[string]any{
			"message_id":         snowflake(out.ReplyTo.MessageID),
			"fail_if_not_exists": false,
		}
	}
	if rows := components(out.Keyboard); rows != nil {
		payload["components"] = rows
	}
	var msg restMessage
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/messages", channel), payload, &msg); err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{ChatID: channel, MessageID: parseSnowflake(msg.ID)}, nil
}

// Edit implements chat.Provider.
func (c *Client) Edit(ctx context.Context, ref chat.MessageRef, text, _ string, keyboard [][]chat.Button) error {
	payload := map[string]any{"content": text}
	if rows := components(keyboard); rows != nil {
		payload["components"] = rows
	}
	return c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%d/messages/%d", ref.ChatID, ref.MessageID), payload, nil)
}

// Delete implements chat.Provider.
func (c *Client) Delete(ctx context.Context, ref chat.MessageRef) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/channels/%d/messages/%d", ref.ChatID, ref.MessageID), nil, nil)
}

// StartThread creates a public thread off the channel; threads play the
// role of forum topics.
func (c *Client) StartThread(ctx context.Context, channelID int64, name string) (int64, error) {
	var result struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/threads", channelID), map[string]any{
		"name": name,
		"type": 11,
	}, &result)
	if err != nil {
		return 0, err
	}
	return parseSnowflake(result.ID), nil
}

// AckInteraction acknowledges a component interaction without a reply.
func (c *Client) AckInteraction(ctx context.Context, interactionID, token string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token),
		map[string]any{"type": 6}, nil)
}
