package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/outbox"
)

type fakeAPI struct {
	t        *testing.T
	mu       chan struct{}
	requests []fakeRequest
	respond  func(method string, payload map[string]any) (int, string)
}

type fakeRequest struct {
	method  string
	payload map[string]any
}

func newFakeAPI(t *testing.T, respond func(method string, payload map[string]any) (int, string)) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{t: t, mu: make(chan struct{}, 1), respond: respond}
	f.mu <- struct{}{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		<-f.mu
		f.requests = append(f.requests, fakeRequest{method: method, payload: payload})
		f.mu <- struct{}{}

		status, body := http.StatusOK, `{"ok":true,"result":{}}`
		if f.respond != nil {
			status, body = f.respond(method, payload)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) calls(method string) []fakeRequest {
	<-f.mu
	defer func() { f.mu <- struct{}{} }()
	var out []fakeRequest
	for _, r := range f.requests {
		if r.method == method {
			out = append(out, r)
		}
	}
	return out
}

func TestSendMessage(t *testing.T) {
	api, srv := newFakeAPI(t, func(method string, _ map[string]any) (int, string) {
		require.Equal(t, "sendMessage", method)
		return http.StatusOK, `{"ok":true,"result":{"message_id":42,"chat":{"id":-100123}}}`
	})
	c := NewClient("123:token", srv.URL, logger.Default())

	ref, err := c.Send(context.Background(), chat.Outgoing{
		Dest:   chat.Destination{ChatID: -100123, TopicID: 7},
		Text:   "hello",
		Markup: ParseMode,
	})
	require.NoError(t, err)
	assert.Equal(t, chat.MessageRef{ChatID: -100123, MessageID: 42}, ref)

	reqs := api.calls("sendMessage")
	require.Len(t, reqs, 1)
	assert.Equal(t, "hello", reqs[0].payload["text"])
	assert.Equal(t, float64(7), reqs[0].payload["message_thread_id"])
	assert.Equal(t, "Markdown", reqs[0].payload["parse_mode"])
}

func TestSendGeneralTopicOmitsThreadID(t *testing.T) {
	api, srv := newFakeAPI(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":1,"chat":{"id":-5}}}`
	})
	c := NewClient("123:token", srv.URL, logger.Default())

	_, err := c.Send(context.Background(), chat.Outgoing{
		Dest: chat.Destination{ChatID: -5, TopicID: 1},
		Text: "hi",
	})
	require.NoError(t, err)
	reqs := api.calls("sendMessage")
	require.Len(t, reqs, 1)
	_, hasThread := reqs[0].payload["message_thread_id"]
	assert.False(t, hasThread)
}

func TestRateLimitMapsToRetryAfter(t *testing.T) {
	_, srv := newFakeAPI(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`
	})
	c := NewClient("123:token", srv.URL, logger.Default())

	err := c.Edit(context.Background(), chat.MessageRef{ChatID: 1, MessageID: 2}, "text", "", nil)
	var retry *outbox.RetryAfterError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, 3*time.Second, retry.After)
}

func TestAPIErrorIncludesDescription(t *testing.T) {
	_, srv := newFakeAPI(t, func(string, map[string]any) (int, string) {
		return http.StatusOK, `{"ok":false,"error_code":400,"description":"message is not modified"}`
	})
	c := NewClient("123:token", srv.URL, logger.Default())

	err := c.Delete(context.Background(), chat.MessageRef{ChatID: 1, MessageID: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is not modified")

	var retry *outbox.RetryAfterError
	assert.False(t, errors.As(err, &retry))
}

func TestIntervalFor(t *testing.T) {
	assert.Equal(t, time.Second, IntervalFor("-1001234"))
	assert.Equal(t, 500*time.Millisecond, IntervalFor("99887"))
}

func TestListenerDrainsBacklogThenDelivers(t *testing.T) {
	polls := 0
	api, srv := newFakeAPI(t, func(method string, payload map[string]any) (int, string) {
		if method != "getUpdates" {
			return http.StatusOK, `{"ok":true,"result":{}}`
		}
		polls++
		switch polls {
		case 1:
			// Backlog: two stale updates.
			return http.StatusOK, `{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"date":1,"text":"old","chat":{"id":-5}}},
				{"update_id":11,"message":{"message_id":2,"date":2,"text":"older","chat":{"id":-5}}}]}`
		case 2:
			return http.StatusOK, `{"ok":true,"result":[]}`
		case 3:
			return http.StatusOK, `{"ok":true,"result":[
				{"update_id":12,"message":{"message_id":3,"date":100,"text":"fresh","message_thread_id":7,
				 "from":{"username":"ada"},"chat":{"id":-5}}}]}`
		default:
			time.Sleep(50 * time.Millisecond)
			return http.StatusOK, `{"ok":true,"result":[]}`
		}
	})
	c := NewClient("123:token", srv.URL, logger.Default())
	l := NewListener(c, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan chat.Update, 4)
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx, updates) }()

	select {
	case u := <-updates:
		require.NotNil(t, u.Message)
		assert.Equal(t, "fresh", u.Message.Text)
		assert.Equal(t, int64(7), u.Message.Dest.TopicID)
		assert.Equal(t, "ada", u.Message.From)
	case <-time.After(3 * time.Second):
		t.Fatal("no update delivered")
	}
	// The stale backlog was acknowledged, never dispatched.
	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}

	reqs := api.calls("getUpdates")
	require.GreaterOrEqual(t, len(reqs), 3)
	// Offset advanced past the drained backlog before the first long poll.
	assert.Equal(t, float64(12), reqs[2].payload["offset"])
}

func TestNormalizeCallback(t *testing.T) {
	l := NewListener(NewClient("t", "http://invalid", logger.Default()), time.Second)
	raw := update{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"update_id":1,
		"callback_query":{"id":"cb1","data":"ralph:cancel:7:abc","from":{"username":"ada"},
		"message":{"message_id":9,"message_thread_id":7,"chat":{"id":-5},"date":1}}}`), &raw))

	out := l.normalize(raw)
	require.NotNil(t, out)
	require.NotNil(t, out.Callback)
	assert.Equal(t, "ralph:cancel:7:abc", out.Callback.Data)
	assert.Equal(t, chat.MessageRef{ChatID: -5, MessageID: 9}, out.Callback.Message)
	assert.Equal(t, int64(7), out.Callback.Dest.TopicID)
}

func TestNormalizeSkipsTopicOpenerReply(t *testing.T) {
	l := NewListener(NewClient("t", "http://invalid", logger.Default()), time.Second)
	raw := update{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"update_id":1,
		"message":{"message_id":20,"message_thread_id":7,"date":5,"text":"hi","chat":{"id":-5},
		"reply_to_message":{"message_id":7,"date":1,"chat":{"id":-5}}}}`), &raw))

	out := l.normalize(raw)
	require.NotNil(t, out)
	require.NotNil(t, out.Message)
	assert.Nil(t, out.Message.ReplyTo)

	// A real reply to another message keeps the reference.
	require.NoError(t, json.Unmarshal([]byte(`{
		"update_id":2,
		"message":{"message_id":21,"message_thread_id":7,"date":6,"text":"re","chat":{"id":-5},
		"reply_to_message":{"message_id":15,"date":4,"text":"orig","chat":{"id":-5}}}}`), &raw))
	out = l.normalize(raw)
	require.NotNil(t, out.Message.ReplyTo)
	assert.Equal(t, int64(15), out.Message.ReplyTo.MessageID)
	assert.Equal(t, "orig", out.Message.ReplyToText)
}

func TestBackendCheckSetup(t *testing.T) {
	b := Backend{}
	assert.Error(t, b.CheckSetup(map[string]any{}))
	assert.NoError(t, b.CheckSetup(map[string]any{"bot_token": "123:abc"}))
	assert.Equal(t, "123:abc", b.LockToken(map[string]any{"bot_token": "123:abc"}))
}
