// ABOUTME: Operator dashboard client - session list, one live selection, agent replies
// ABOUTME: Merges history with the live stream and surfaces disconnects without auto-retry

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soukbot/chat-gateway/internal/dedupe"
	"github.com/soukbot/chat-gateway/internal/message"
)

// DashboardConfig configures a Dashboard.
type DashboardConfig struct {
	BaseURL    string
	MerchantID string

	// OnMessage receives the selected session's timeline: history first,
	// then live frames, each message exactly once per selection.
	OnMessage func(sessionID string, msg message.Message)

	// OnDisconnect is invoked when the live stream for the selected
	// session drops. The dashboard does not auto-retry; the operator (or
	// host UI) decides whether to re-select.
	OnDisconnect func(sessionID string, err error)

	Logger *slog.Logger
}

// Dashboard is the operator-side client. At most one session is
// selected (streamed live) at a time; selecting another tears the
// previous stream down first.
type Dashboard struct {
	client *Client
	cfg    DashboardConfig
	logger *slog.Logger

	mu       sync.Mutex
	selected string
	cancel   context.CancelFunc
	streamWG sync.WaitGroup
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) (*Dashboard, error) {
	if cfg.BaseURL == "" || cfg.MerchantID == "" {
		return nil, fmt.Errorf("base URL and merchant ID are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dashboard{
		client: New(cfg.BaseURL),
		cfg:    cfg,
		logger: cfg.Logger.With("component", "dashboard"),
	}, nil
}

// Sessions lists the merchant's sessions with previews, most recent
// activity first. channel filters when non-empty.
func (d *Dashboard) Sessions(ctx context.Context, channel string) ([]Session, error) {
	return d.client.ListSessions(ctx, d.cfg.MerchantID, channel)
}

// Select makes sessionID the live session: any previous selection is
// torn down, the session's history is replayed through OnMessage, and a
// live subscription takes over from there. The dedupe cache absorbs the
// overlap between the history fetch and the first live frames.
func (d *Dashboard) Select(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.streamWG.Wait()

	conn, err := d.client.Stream(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("subscribing to session: %w", err)
	}

	session, err := d.client.SessionMessages(ctx, sessionID, 0)
	if err != nil {
		conn.Close()
		return fmt.Errorf("fetching history: %w", err)
	}

	seen := dedupe.New(10*time.Minute, 10000)
	for _, msg := range session.Messages {
		seen.Mark(msg.ID)
		if d.cfg.OnMessage != nil {
			d.cfg.OnMessage(sessionID, msg)
		}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.selected = sessionID
	d.cancel = cancel
	d.mu.Unlock()

	d.streamWG.Add(1)
	go func() {
		defer d.streamWG.Done()
		defer conn.Close()

		go func() {
			<-streamCtx.Done()
			conn.Close()
		}()

		for {
			var msg message.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if streamCtx.Err() == nil && d.cfg.OnDisconnect != nil {
					d.cfg.OnDisconnect(sessionID, err)
				}
				return
			}
			if seen.CheckAndMark(msg.ID) {
				continue
			}
			if d.cfg.OnMessage != nil {
				d.cfg.OnMessage(sessionID, msg)
			}
		}
	}()

	d.logger.Info("session selected", "session_id", sessionID)
	return nil
}

// Selected returns the currently selected session ID, or "".
func (d *Dashboard) Selected() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Reply posts an agent turn on the selected session. The gateway
// records agent turns without triggering automation.
func (d *Dashboard) Reply(ctx context.Context, sessionID, text string) error {
	_, err := d.client.SendMessage(ctx, d.cfg.MerchantID, sessionID,
		string(message.ChannelWebchat), string(message.RoleAgent), text, nil)
	return err
}

// SetHandover flips the session between bot and agent control.
func (d *Dashboard) SetHandover(ctx context.Context, sessionID string, toAgent bool) (*Session, error) {
	return d.client.SetHandover(ctx, sessionID, toAgent)
}

// Close tears down the live subscription, if any.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.selected = ""
	d.mu.Unlock()
	d.streamWG.Wait()
}
