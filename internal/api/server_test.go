// ABOUTME: HTTP handler tests against an in-memory gateway
// ABOUTME: Covers webhooks, history reads, session lists and handover toggles

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soukbot/chat-gateway/internal/automation"
	"github.com/soukbot/chat-gateway/internal/handover"
	"github.com/soukbot/chat-gateway/internal/hub"
	"github.com/soukbot/chat-gateway/internal/ingest"
	"github.com/soukbot/chat-gateway/internal/store"
)

type testGateway struct {
	server *httptest.Server
	store  store.Store
	router *ingest.Router
	hub    *hub.Hub
}

func newTestGateway(t *testing.T, responder automation.Responder) *testGateway {
	t.Helper()

	st := store.NewMemoryStore()
	fanout := hub.New(nil)
	router := ingest.New(st, fanout, responder, nil)
	svc := handover.NewService(st, nil)

	srv := New(st, router, svc, fanout, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		router.Drain()
		fanout.Close()
		st.Close()
	})

	return &testGateway{server: ts, store: st, router: router, hub: fanout}
}

func (g *testGateway) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(g.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (g *testGateway) patch(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPatch, g.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (g *testGateway) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(g.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestIncomingWebhook(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.post(t, "/api/webhooks/incoming/shop-1", map[string]any{
		"from":    "+15551234",
		"channel": "whatsapp",
		"text":    "do you ship to Canada?",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "+15551234", body["sessionId"], "from is the session key")
	assert.Equal(t, false, body["handoverToAgent"])
	assert.Equal(t, true, body["created"])

	session, err := g.store.GetSession(context.Background(), "+15551234")
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "do you ship to Canada?", session.Messages[0].Text)
}

func TestIncomingWebhookBatch(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.post(t, "/api/webhooks/incoming/shop-1", map[string]any{
		"sessionId": "visitor-9",
		"channel":   "webchat",
		"messages": []map[string]any{
			{"role": "customer", "text": "first"},
			{"role": "customer", "text": "second"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	session, err := g.store.GetSession(context.Background(), "visitor-9")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, int64(1), session.Messages[1].Seq)
}

func TestIncomingWebhookValidation(t *testing.T) {
	g := newTestGateway(t, nil)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "missing session identity",
			body: map[string]any{"channel": "webchat", "text": "hi"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown channel",
			body: map[string]any{"from": "x", "channel": "fax", "text": "hi"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown role",
			body: map[string]any{"from": "x", "channel": "webchat", "role": "admin", "text": "hi"},
			want: http.StatusBadRequest,
		},
		{
			name: "empty message",
			body: map[string]any{"from": "x", "channel": "webchat"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown metadata kind",
			body: map[string]any{
				"from": "x", "channel": "webchat", "text": "hi",
				"metadata": map[string]any{"video": "https://x/v.mp4"},
			},
			want: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := g.post(t, "/api/webhooks/incoming/shop-1", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestBotReplyWebhook(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.post(t, "/api/webhooks/bot-reply/shop-1", map[string]any{
		"sessionId": "s1",
		"channel":   "telegram",
		"text":      "your order shipped",
		"metadata": map[string]any{
			"buttons": []map[string]string{{"title": "Track", "payload": "track"}},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.NotEmpty(t, body["messageId"])

	session, err := g.store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "bot", string(session.Messages[0].Role))
	require.Len(t, session.Messages[0].Metadata.QuickReplies, 1)
}

func TestSessionMessages(t *testing.T) {
	g := newTestGateway(t, nil)

	for i := 0; i < 5; i++ {
		resp := g.post(t, "/api/webhooks/incoming/shop-1", map[string]any{
			"sessionId": "s1", "channel": "webchat", "text": fmt.Sprintf("msg %d", i),
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	t.Run("full history by default", func(t *testing.T) {
		resp := g.get(t, "/api/sessions/s1/messages")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[sessionResponse](t, resp)
		assert.Len(t, body.Messages, 5)
		assert.Equal(t, "msg 0", body.Messages[0].Text)
	})

	t.Run("limit keeps the most recent", func(t *testing.T) {
		resp := g.get(t, "/api/sessions/s1/messages?limit=2")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[sessionResponse](t, resp)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "msg 3", body.Messages[0].Text)
		assert.Equal(t, "msg 4", body.Messages[1].Text)
	})

	t.Run("bad limit rejected", func(t *testing.T) {
		resp := g.get(t, "/api/sessions/s1/messages?limit=zero")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown session", func(t *testing.T) {
		resp := g.get(t, "/api/sessions/ghost/messages")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestListSessions(t *testing.T) {
	g := newTestGateway(t, nil)

	for _, s := range []struct{ session, channel string }{
		{"wa-1", "whatsapp"},
		{"web-1", "webchat"},
	} {
		resp := g.post(t, "/api/webhooks/incoming/shop-1", map[string]any{
			"sessionId": s.session, "channel": s.channel, "text": "hello from " + s.session,
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	resp := g.get(t, "/api/merchants/shop-1/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Sessions []sessionResponse `json:"sessions"`
	}](t, resp)
	require.Len(t, body.Sessions, 2)
	for _, s := range body.Sessions {
		assert.Empty(t, s.Messages, "list returns previews, not timelines")
		require.NotNil(t, s.LastMessage)
		assert.Equal(t, "hello from "+s.SessionID, s.LastMessage.Text)
	}

	filtered := decodeBody[struct {
		Sessions []sessionResponse `json:"sessions"`
	}](t, g.get(t, "/api/merchants/shop-1/sessions?channel=whatsapp"))
	require.Len(t, filtered.Sessions, 1)
	assert.Equal(t, "wa-1", filtered.Sessions[0].SessionID)

	bad := g.get(t, "/api/merchants/shop-1/sessions?channel=fax")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	bad.Body.Close()
}

func TestSetHandover(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.post(t, "/api/webhooks/incoming/shop-1", map[string]any{
		"sessionId": "s1", "channel": "webchat", "text": "hi",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	t.Run("toggle on", func(t *testing.T) {
		resp := g.patch(t, "/api/sessions/s1/handover", map[string]bool{"handoverToAgent": true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[sessionResponse](t, resp)
		assert.True(t, body.HandoverToAgent)
	})

	t.Run("missing field rejected", func(t *testing.T) {
		resp := g.patch(t, "/api/sessions/s1/handover", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown session", func(t *testing.T) {
		resp := g.patch(t, "/api/sessions/ghost/handover", map[string]bool{"handoverToAgent": true})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestWidgetConfig(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.get(t, "/api/widget/config")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(3000), body["reconnectIntervalMs"], "default reconnect interval")
	assert.Equal(t, float64(0), body["reconnectMaxRetries"], "default is retry forever")
}

func TestWebhookTriggersAutomatedReply(t *testing.T) {
	g := newTestGateway(t, &automation.StaticResponder{Text: "with pleasure"})

	resp := g.post(t, "/api/webhooks/incoming/shop-1", map[string]any{
		"sessionId": "s1", "channel": "webchat", "text": "can you help me?",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	g.router.Drain()

	session, err := g.store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "with pleasure", session.Messages[1].Text)
}
