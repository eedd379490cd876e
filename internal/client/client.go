// ABOUTME: Low-level Go client for the gateway's REST and websocket surfaces
// ABOUTME: Widget and dashboard clients are built on top of this

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soukbot/chat-gateway/internal/message"
)

// ErrNotFound indicates the requested session does not exist on the gateway.
var ErrNotFound = errors.New("session not found")

// Client talks to a running gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a Client for the gateway at baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}
}

// Session mirrors the gateway's session JSON shape.
type Session struct {
	MerchantID      string            `json:"merchantId"`
	SessionID       string            `json:"sessionId"`
	Channel         string            `json:"channel"`
	HandoverToAgent bool              `json:"handoverToAgent"`
	CreatedAt       string            `json:"createdAt"`
	UpdatedAt       string            `json:"updatedAt"`
	Messages        []message.Message `json:"messages,omitempty"`
	LastMessage     *message.Message  `json:"lastMessage,omitempty"`
}

// IngestResult is the gateway's response to an incoming webhook post.
type IngestResult struct {
	SessionID       string `json:"sessionId"`
	HandoverToAgent bool   `json:"handoverToAgent"`
	Created         bool   `json:"created"`
}

// SendMessage posts one turn to the incoming webhook.
func (c *Client) SendMessage(ctx context.Context, merchantID, sessionID, channel, role, text string, metadata *message.Metadata) (*IngestResult, error) {
	body := map[string]any{
		"sessionId": sessionID,
		"channel":   channel,
		"role":      role,
		"text":      text,
	}
	if metadata != nil {
		body["metadata"] = metadata
	}

	var result IngestResult
	path := fmt.Sprintf("/api/webhooks/incoming/%s", url.PathEscape(merchantID))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SessionMessages fetches a session's ordered history. limit = 0 fetches
// the full timeline.
func (c *Client) SessionMessages(ctx context.Context, sessionID string, limit int) (*Session, error) {
	path := fmt.Sprintf("/api/sessions/%s/messages", url.PathEscape(sessionID))
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var session Session
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions fetches a merchant's sessions, most recent activity first.
// channel filters by channel when non-empty.
func (c *Client) ListSessions(ctx context.Context, merchantID, channel string) ([]Session, error) {
	path := fmt.Sprintf("/api/merchants/%s/sessions", url.PathEscape(merchantID))
	if channel != "" {
		path = fmt.Sprintf("%s?channel=%s", path, url.QueryEscape(channel))
	}

	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// SetHandover flips a session between bot and agent control.
func (c *Client) SetHandover(ctx context.Context, sessionID string, toAgent bool) (*Session, error) {
	path := fmt.Sprintf("/api/sessions/%s/handover", url.PathEscape(sessionID))
	body := map[string]bool{"handoverToAgent": toAgent}

	var session Session
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ReconnectPolicy is the widget reconnect policy a gateway deployment
// advertises.
type ReconnectPolicy struct {
	ReconnectIntervalMs int64 `json:"reconnectIntervalMs"`
	ReconnectMaxRetries int   `json:"reconnectMaxRetries"`
}

// WidgetReconnectPolicy fetches the deployment's widget reconnect policy.
func (c *Client) WidgetReconnectPolicy(ctx context.Context) (*ReconnectPolicy, error) {
	var policy ReconnectPolicy
	if err := c.doJSON(ctx, http.MethodGet, "/api/widget/config", nil, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Stream opens the live websocket for one session. The caller owns the
// returned connection and must Close it.
func (c *Client) Stream(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	endpoint := fmt.Sprintf("%s/api/chat?session_id=%s", wsURL, url.QueryEscape(sessionID))

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return conn, nil
}

// doJSON performs one JSON request/response round trip.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
