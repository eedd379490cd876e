// ABOUTME: Customer-facing widget client with durable session identity
// ABOUTME: Reconnects at a fixed interval and reseeds from history on every connect

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soukbot/chat-gateway/internal/dedupe"
	"github.com/soukbot/chat-gateway/internal/message"
)

// ErrRetriesExhausted is returned by Run when the reconnect budget is
// spent without establishing a connection.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// dedupeTTL covers the window in which a history reseed can overlap
// live frames after a reconnect.
const dedupeTTL = 10 * time.Minute

// WidgetConfig configures a Widget.
type WidgetConfig struct {
	BaseURL    string
	MerchantID string

	// Storage persists the session ID across restarts. Defaults to
	// in-memory storage (a fresh session per process).
	Storage SessionStorage

	// ReconnectInterval is the fixed delay between reconnect attempts.
	// When zero, the gateway's advertised policy is used, falling back
	// to 3 seconds if the gateway cannot be reached.
	ReconnectInterval time.Duration

	// ReconnectMaxRetries caps consecutive failed connection attempts.
	// 0 means retry forever (or the gateway's advertised cap when the
	// interval was also left unset).
	ReconnectMaxRetries int

	// OnMessage is invoked for every message in the session timeline,
	// history and live alike, each message exactly once per Run.
	OnMessage func(message.Message)

	Logger *slog.Logger
}

// Widget is the customer-side client: it owns a durable session ID,
// keeps a live connection to the gateway with automatic reconnects, and
// feeds the deduplicated timeline to OnMessage.
type Widget struct {
	client    *Client
	cfg       WidgetConfig
	seen      *dedupe.Cache
	logger    *slog.Logger
	sessionMu sync.Mutex
	sessionID string
}

// NewWidget creates a Widget and resolves its session identity: the
// stored session ID if one exists, otherwise a freshly generated one
// that is stored for next time.
func NewWidget(cfg WidgetConfig) (*Widget, error) {
	if cfg.BaseURL == "" || cfg.MerchantID == "" {
		return nil, fmt.Errorf("base URL and merchant ID are required")
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gw := New(cfg.BaseURL)
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if policy, err := gw.WidgetReconnectPolicy(ctx); err == nil {
			if policy.ReconnectIntervalMs > 0 {
				cfg.ReconnectInterval = time.Duration(policy.ReconnectIntervalMs) * time.Millisecond
			}
			if cfg.ReconnectMaxRetries == 0 {
				cfg.ReconnectMaxRetries = policy.ReconnectMaxRetries
			}
		}
	}

	w := &Widget{
		client: gw,
		cfg:    cfg,
		seen:   dedupe.New(dedupeTTL, 10000),
		logger: cfg.Logger.With("component", "widget"),
	}

	sessionID, err := cfg.Storage.Load(cfg.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("loading stored session: %w", err)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
		if err := cfg.Storage.Save(cfg.MerchantID, sessionID); err != nil {
			return nil, fmt.Errorf("storing session: %w", err)
		}
	}
	w.sessionID = sessionID

	return w, nil
}

// SessionID returns the widget's durable session identifier.
func (w *Widget) SessionID() string {
	w.sessionMu.Lock()
	defer w.sessionMu.Unlock()
	return w.sessionID
}

// Send posts a customer message on the widget's session.
func (w *Widget) Send(ctx context.Context, text string) error {
	_, err := w.client.SendMessage(ctx, w.cfg.MerchantID, w.SessionID(),
		string(message.ChannelWebchat), string(message.RoleCustomer), text, nil)
	return err
}

// PressQuickReply sends a quick-reply payload as the customer's turn,
// which is what tapping a button in the widget does.
func (w *Widget) PressQuickReply(ctx context.Context, payload string) error {
	return w.Send(ctx, payload)
}

// Run connects and streams until ctx is cancelled. Every connection
// (first and reconnects alike) starts by reseeding from history, so
// messages missed while disconnected are recovered; the dedupe cache
// keeps OnMessage from seeing any message twice. Returns nil on ctx
// cancellation, ErrRetriesExhausted when the retry budget runs out.
func (w *Widget) Run(ctx context.Context) error {
	failures := 0
	for {
		err := w.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			failures++
			w.logger.Warn("connection lost",
				"error", err,
				"session_id", w.SessionID(),
				"attempt", failures)
			if w.cfg.ReconnectMaxRetries > 0 && failures >= w.cfg.ReconnectMaxRetries {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.ReconnectInterval):
		}
	}
}

// connectOnce runs one history-seed-then-stream cycle.
func (w *Widget) connectOnce(ctx context.Context) error {
	sessionID := w.SessionID()

	// Per-connection context, cancelled on return. The close watcher
	// below is tied to it so a reconnecting widget does not park one
	// goroutine per attempt.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := w.client.Stream(ctx, sessionID)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Seed from history after the stream is open, so nothing lands in
	// the gap between the two. ErrNotFound just means the customer has
	// not sent anything yet.
	session, err := w.client.SessionMessages(ctx, sessionID, 0)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("fetching history: %w", err)
	}
	if session != nil {
		for _, msg := range session.Messages {
			w.deliver(msg)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg message.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		w.deliver(msg)
	}
}

// deliver invokes OnMessage once per unique message ID.
func (w *Widget) deliver(msg message.Message) {
	if w.cfg.OnMessage == nil {
		return
	}
	if w.seen.CheckAndMark(msg.ID) {
		return
	}
	w.cfg.OnMessage(msg)
}

// Reset discards the stored session and generates a fresh one. The next
// Run connection streams the new, empty session.
func (w *Widget) Reset() error {
	w.sessionMu.Lock()
	defer w.sessionMu.Unlock()

	if err := w.cfg.Storage.Clear(w.cfg.MerchantID); err != nil {
		return err
	}
	w.sessionID = uuid.New().String()
	return w.cfg.Storage.Save(w.cfg.MerchantID, w.sessionID)
}
