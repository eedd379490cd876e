// ABOUTME: Store interface and data types for conversation session persistence
// ABOUTME: Defines Session, AppendResult and the Store interface both backends implement

package store

import (
	"context"
	"errors"
	"time"

	"github.com/soukbot/chat-gateway/internal/message"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one customer's conversation thread with a merchant, scoped
// to a single channel. Created lazily on first append; never deleted by
// the gateway (retention is an external concern).
type Session struct {
	MerchantID      string
	SessionID       string
	Channel         message.Channel
	HandoverToAgent bool
	Messages        []message.Message
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LastMessage returns the most recent message, or nil for an empty session.
func (s *Session) LastMessage() *message.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// AppendResult reports the outcome of an append. Created distinguishes
// first contact (session upserted on this call) from continuation.
type AppendResult struct {
	Session *Session
	Message message.Message
	Created bool
}

// ListFilter narrows ListSessions. Zero value lists everything for the
// merchant. Channel empty means all channels.
type ListFilter struct {
	Channel message.Channel
}

// Store defines session and message persistence. Implementations must
// serialize writes per session key so concurrent appends for the same
// session are never lost or destructively interleaved, and reads must
// observe a state consistent with some total order of the writes.
type Store interface {
	// AppendMessage appends msg to the (merchantID, sessionID) session,
	// creating the session with HandoverToAgent=false if it does not
	// exist. The store assigns the message ID (if empty), timestamp
	// (if zero) and the per-session arrival sequence.
	AppendMessage(ctx context.Context, merchantID, sessionID string, channel message.Channel, msg message.Message) (*AppendResult, error)

	// GetSession returns the full session, ErrNotFound if unknown.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns a merchant's sessions, most recent activity
	// first, with messages populated.
	ListSessions(ctx context.Context, merchantID string, filter ListFilter) ([]*Session, error)

	// SetHandover flips authorship control for a session. Idempotent:
	// setting the current value is a no-op returning current state.
	// ErrNotFound if the session does not exist.
	SetHandover(ctx context.Context, sessionID string, enabled bool) (*Session, error)

	// Close releases any resources held by the store.
	Close() error
}
