// ABOUTME: Tests for the customer widget client
// ABOUTME: Covers durable session identity, timeline delivery and reconnect limits

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soukbot/chat-gateway/internal/message"
)

func collectMessages(t *testing.T, ch <-chan message.Message, n int) []message.Message {
	t.Helper()
	out := make([]message.Message, 0, n)
	for len(out) < n {
		select {
		case msg := <-ch:
			out = append(out, msg)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestWidgetSessionSurvivesRestart(t *testing.T) {
	g := startGateway(t, nil)
	storage, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	first, err := NewWidget(WidgetConfig{
		BaseURL:    g.url,
		MerchantID: "shop-1",
		Storage:    storage,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID())

	// Same storage, new widget: the page was reloaded.
	second, err := NewWidget(WidgetConfig{
		BaseURL:    g.url,
		MerchantID: "shop-1",
		Storage:    storage,
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID(), second.SessionID())

	// A different merchant gets its own session.
	other, err := NewWidget(WidgetConfig{
		BaseURL:    g.url,
		MerchantID: "shop-2",
		Storage:    storage,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID(), other.SessionID())
}

func TestWidgetReceivesHistoryThenLive(t *testing.T) {
	g := startGateway(t, nil)

	received := make(chan message.Message, 16)
	w, err := NewWidget(WidgetConfig{
		BaseURL:    g.url,
		MerchantID: "shop-1",
		OnMessage:  func(m message.Message) { received <- m },
	})
	require.NoError(t, err)

	// Two turns exist before the widget connects.
	c := New(g.url)
	_, err = c.SendMessage(context.Background(), "shop-1", w.SessionID(), "webchat", "customer", "earlier", nil)
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "shop-1", w.SessionID(), "webchat", "agent", "we are here", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	history := collectMessages(t, received, 2)
	assert.Equal(t, "earlier", history[0].Text)
	assert.Equal(t, "we are here", history[1].Text)

	// A live turn arrives over the stream, delivered exactly once even
	// though reconnect reseeds would overlap it.
	require.NoError(t, w.Send(context.Background(), "still there?"))
	live := collectMessages(t, received, 1)
	assert.Equal(t, "still there?", live[0].Text)

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}

	select {
	case msg := <-received:
		t.Fatalf("duplicate delivery of %q", msg.Text)
	default:
	}
}

func TestWidgetReconnectRetriesAreBounded(t *testing.T) {
	w, err := NewWidget(WidgetConfig{
		BaseURL:             "http://127.0.0.1:1", // nothing listens here
		MerchantID:          "shop-1",
		ReconnectInterval:   10 * time.Millisecond,
		ReconnectMaxRetries: 3,
	})
	require.NoError(t, err)

	err = w.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestWidgetReconnectDoesNotLeakGoroutines(t *testing.T) {
	// A gateway that drops every connection right after the handshake,
	// forcing the widget through many reconnect cycles.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var connects atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects.Add(1)
		conn.Close()
	}))
	defer srv.Close()

	w, err := NewWidget(WidgetConfig{
		BaseURL:           srv.URL,
		MerchantID:        "shop-1",
		ReconnectInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	baseline := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return connects.Load() >= 25
	}, 10*time.Second, 10*time.Millisecond)

	// Each cycle's close watcher exits with its connection, so the
	// goroutine count stays near the baseline instead of growing by
	// one per reconnect.
	assert.Less(t, runtime.NumGoroutine(), baseline+15,
		"goroutines accumulated across reconnects")

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestWidgetQuickReplyIsACustomerTurn(t *testing.T) {
	g := startGateway(t, nil)

	w, err := NewWidget(WidgetConfig{
		BaseURL:    g.url,
		MerchantID: "shop-1",
	})
	require.NoError(t, err)

	require.NoError(t, w.PressQuickReply(context.Background(), "track_order"))

	session, err := g.store.GetSession(context.Background(), w.SessionID())
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, message.RoleCustomer, session.Messages[0].Role)
	assert.Equal(t, "track_order", session.Messages[0].Text)
}

func TestWidgetReset(t *testing.T) {
	g := startGateway(t, nil)
	storage := NewMemoryStorage()

	w, err := NewWidget(WidgetConfig{
		BaseURL:    g.url,
		MerchantID: "shop-1",
		Storage:    storage,
	})
	require.NoError(t, err)

	old := w.SessionID()
	require.NoError(t, w.Reset())
	assert.NotEqual(t, old, w.SessionID())

	stored, err := storage.Load("shop-1")
	require.NoError(t, err)
	assert.Equal(t, w.SessionID(), stored)
}
