// Package telegram implements the Telegram Bot API transport: HTTP
// client, long-poll listener, Markdown presenter, and the transport
// plugin backend.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/outbox"
)

const (
	apiBase = "https://api.telegram.org"

	// DefaultPollTimeout is the getUpdates long-poll timeout.
	DefaultPollTimeout = 50 * time.Second

	// Pacing intervals per Bot API guidance: ~2 msg/s in private chats,
	// ~1 msg/s in groups.
	privateInterval = 500 * time.Millisecond
	groupInterval   = time.Second
)

// Client is a minimal Bot API client. All outbound calls go through the
// shared outbox for pacing and retry handling.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewClient creates a client and registers the bot token for log
// redaction. baseURL overrides the API host for tests; empty means the
// real API.
func NewClient(token, baseURL string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = apiBase
	}
	logger.RegisterSecret(token)
	return &Client{
		token:   token,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
		log:     log.WithFields(zap.String("component", "telegram")),
	}
}

// IntervalFor returns the outbox pacing interval for a chat. Negative IDs
// are groups and supergroups; positive IDs are private chats.
func IntervalFor(channelKey string) time.Duration {
	if len(channelKey) > 0 && channelKey[0] == '-' {
		return groupInterval
	}
	return privateInterval
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// call posts one Bot API method. A 429 maps to outbox.RetryAfterError so
// the outbox requeues and blocks the channel.
func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !env.OK {
		if env.ErrorCode == http.StatusTooManyRequests && env.Parameters != nil {
			return &outbox.RetryAfterError{After: time.Duration(env.Parameters.RetryAfter) * time.Second}
		}
		return fmt.Errorf("%s: api error %d: %s", method, env.ErrorCode, env.Description)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// message is the subset of the Bot API Message object the bridge needs.
type message struct {
	MessageID       int64  `json:"message_id"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
	Date            int64  `json:"date"`
	Text            string `json:"text,omitempty"`
	Caption         string `json:"caption,omitempty"`
	From            *struct {
		Username  string `json:"username,omitempty"`
		FirstName string `json:"first_name,omitempty"`
	} `json:"from,omitempty"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	ReplyToMessage *message `json:"reply_to_message,omitempty"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

func keyboardMarkup(keyboard [][]chat.Button) *inlineKeyboardMarkup {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([][]inlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, inlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		rows = append(rows, buttons)
	}
	return &inlineKeyboardMarkup{InlineKeyboard: rows}
}

// Platform implements chat.Provider.
func (c *Client) Platform() chat.Platform { return chat.PlatformTelegram }

// Send implements chat.Provider.
func (c *Client) Send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	payload := map[string]any{
		"chat_id": out.Dest.ChatID,
		"text":    out.Text,
	}
	// Thread 1 is the General topic; the API rejects it as a thread ID.
	if out.Dest.TopicID > 1 {
		payload["message_thread_id"] = out.Dest.TopicID
	}
	if out.Markup != "" {
		payload["parse_mode"] = out.Markup
	}
	if out.ReplyTo != nil {
		payload["reply_to_message_id"] = out.ReplyTo.MessageID
		payload["allow_sending_without_reply"] = true
	}
	if kb := keyboardMarkup(out.Keyboard); kb != nil {
		payload["reply_markup"] = kb
	}

	var msg message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// Edit implements chat.Provider.
func (c *Client) Edit(ctx context.Context, ref chat.MessageRef, text, markup string, keyboard [][]chat.Button) error {
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
	}
	if markup != "" {
		payload["parse_mode"] = markup
	}
	if kb := keyboardMarkup(keyboard); kb != nil {
		payload["reply_markup"] = kb
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

// Delete implements chat.Provider.
func (c *Client) Delete(ctx context.Context, ref chat.MessageRef) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	}, nil)
}

// AnswerCallback acknowledges an inline button press.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// CreateForumTopic creates a forum topic and returns its thread ID.
func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	var result struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	err := c.call(ctx, "createForumTopic", map[string]any{
		"chat_id": chatID,
		"name":    name,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.MessageThreadID, nil
}
