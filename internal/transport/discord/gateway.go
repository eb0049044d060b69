package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/chat"
)

// Gateway intents: guild messages, DMs, and message content.
const intents = 1<<9 | 1<<12 | 1<<15

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

type gatewayPayload struct {
	Op   int             `json:"op"`
	Type string          `json:"t,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Listener maintains the gateway connection and feeds normalized updates
// into the bridge channel, reconnecting with backoff on any failure.
type Listener struct {
	client        *Client
	gatewayURL    string
	parentChannel int64
	botUserID     string
}

// NewListener creates a gateway listener. parentChannel is the channel
// playing the General stream; messages in any other channel are treated
// as thread (topic) messages. url overrides the real gateway for tests;
// empty means the production gateway.
func NewListener(client *Client, parentChannel int64, url string) *Listener {
	if url == "" {
		url = gatewayURL
	}
	return &Listener{client: client, gatewayURL: url, parentChannel: parentChannel}
}

// destFor maps a channel onto the neutral destination: the parent channel
// is the general stream, anything else is a thread acting as a topic.
func (l *Listener) destFor(channelID int64) chat.Destination {
	if l.parentChannel != 0 && channelID != l.parentChannel {
		return chat.Destination{ChatID: l.parentChannel, TopicID: channelID}
	}
	return chat.Destination{ChatID: channelID}
}

// Listen implements chat.Listener.
func (l *Listener) Listen(ctx context.Context, updates chan<- chat.Update) error {
	backoff := time.Second
	for {
		err := l.session(ctx, updates)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.client.log.Warn("gateway session ended",
			zap.Error(err),
			zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// session runs one gateway connection: hello, identify, heartbeats,
// dispatch. Returns when the connection drops or ctx is done.
func (l *Listener) session(ctx context.Context, updates chan<- chat.Update) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var hello struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	p, err := readPayload(conn)
	if err != nil {
		return err
	}
	if p.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", p.Op)
	}
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	identify := gatewayPayload{Op: opIdentify}
	identify.Data, _ = json.Marshal(map[string]any{
		"token":   l.client.token,
		"intents": intents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "pochi",
			"device":  "pochi",
		},
	})
	if err := conn.WriteJSON(identify); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	var lastSeq int64
	heartbeat := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	// First heartbeat goes out after a random fraction of the interval.
	first := time.After(time.Duration(rand.Int63n(int64(heartbeat))))

	writes := make(chan int64, 1)
	go func() {
		for {
			select {
			case <-first:
				first = nil
			case <-ticker.C:
			case seq, ok := <-writes:
				if !ok {
					return
				}
				lastSeq = seq
				continue
			case <-stop:
				return
			}
			hb := gatewayPayload{Op: opHeartbeat}
			hb.Data, _ = json.Marshal(lastSeq)
			if err := conn.WriteJSON(hb); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		p, err := readPayload(conn)
		if err != nil {
			return err
		}
		if p.Seq != nil {
			select {
			case writes <- *p.Seq:
			default:
			}
		}
		switch p.Op {
		case opDispatch:
			l.dispatch(ctx, p, updates)
		case opHeartbeatAck:
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway requested reconnect (op %d)", p.Op)
		}
	}
}

func readPayload(conn *websocket.Conn) (gatewayPayload, error) {
	var p gatewayPayload
	if err := conn.ReadJSON(&p); err != nil {
		return p, fmt.Errorf("read gateway: %w", err)
	}
	return p, nil
}

type gatewayMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	ReferencedMessage *gatewayMessage `json:"referenced_message,omitempty"`
	Thread            *struct {
		ID       string `json:"id"`
		ParentID string `json:"parent_id"`
	} `json:"thread,omitempty"`
}

type interaction struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"member,omitempty"`
	Message *struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	} `json:"message,omitempty"`
	Data *struct {
		CustomID string `json:"custom_id"`
	} `json:"data,omitempty"`
}

func (l *Listener) dispatch(ctx context.Context, p gatewayPayload, updates chan<- chat.Update) {
	switch p.Type {
	case "READY":
		var ready struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(p.Data, &ready); err == nil {
			l.botUserID = ready.User.ID
			l.client.log.Info("gateway ready", zap.String("bot_user", ready.User.ID))
		}
	case "MESSAGE_CREATE":
		var m gatewayMessage
		if err := json.Unmarshal(p.Data, &m); err != nil {
			l.client.log.Error("decode MESSAGE_CREATE", zap.Error(err))
			return
		}
		if m.Author.Bot || m.Author.ID == l.botUserID || m.Content == "" {
			return
		}
		channelID := parseSnowflake(m.ChannelID)
		in := &chat.Incoming{
			Ref:  chat.MessageRef{ChatID: channelID, MessageID: parseSnowflake(m.ID)},
			Dest: l.destFor(channelID),
			Text: m.Content,
			From: m.Author.Username,
		}
		if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
			in.Date = ts
		}
		if r := m.ReferencedMessage; r != nil {
			in.ReplyTo = &chat.MessageRef{ChatID: parseSnowflake(r.ChannelID), MessageID: parseSnowflake(r.ID)}
			in.ReplyToText = r.Content
		}
		select {
		case updates <- chat.Update{Message: in}:
		case <-ctx.Done():
		}
	case "INTERACTION_CREATE":
		var ic interaction
		if err := json.Unmarshal(p.Data, &ic); err != nil || ic.Data == nil {
			return
		}
		cb := &chat.Callback{
			ID:   ic.ID + ":" + ic.Token,
			Data: ic.Data.CustomID,
			Dest: l.destFor(parseSnowflake(ic.ChannelID)),
		}
		if ic.Member != nil {
			cb.From = ic.Member.User.Username
		}
		if ic.Message != nil {
			cb.Message = chat.MessageRef{
				ChatID:    parseSnowflake(ic.Message.ChannelID),
				MessageID: parseSnowflake(ic.Message.ID),
			}
		}
		select {
		case updates <- chat.Update{Callback: cb}:
		case <-ctx.Done():
		}
	}
}
