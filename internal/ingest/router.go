// ABOUTME: Ingestion router sequencing persist, broadcast and automated replies
// ABOUTME: All messages flow through here - the store is the source of truth

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soukbot/chat-gateway/internal/automation"
	"github.com/soukbot/chat-gateway/internal/hub"
	"github.com/soukbot/chat-gateway/internal/message"
	"github.com/soukbot/chat-gateway/internal/store"
)

// ErrPersistence wraps store failures during ingest. The message was not
// durably stored and was therefore not broadcast.
var ErrPersistence = errors.New("persistence failure")

// defaultAutomationTimeout bounds one automated-reply request.
const defaultAutomationTimeout = 30 * time.Second

// Request carries one inbound or outbound turn into the router.
type Request struct {
	MerchantID string
	SessionID  string
	Channel    message.Channel
	Role       message.Role
	Text       string
	Metadata   message.Metadata
}

// Accepted is the outcome of a successful ingest: the appended message
// with its assigned identity/order, the session state after the append,
// and whether this call created the session (first contact).
type Accepted struct {
	Session *Session
	Message message.Message
	Created bool
}

// Session is the caller-facing view of session state after an ingest.
type Session struct {
	MerchantID      string
	SessionID       string
	Channel         message.Channel
	HandoverToAgent bool
}

// Router is the single point at which persistence, broadcast and the
// automated-reply request are sequenced.
//
// Key principle: record first, then act. The message is persisted before
// it is broadcast, and both complete before any automation request is
// issued.
type Router struct {
	store     store.Store
	hub       *hub.Hub
	responder automation.Responder
	timeout   time.Duration
	logger    *slog.Logger

	automation sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithAutomationTimeout overrides the per-reply automation deadline.
func WithAutomationTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a Router. responder may be nil, in which case no automated
// replies are produced (the gateway still persists and broadcasts).
func New(s store.Store, h *hub.Hub, responder automation.Responder, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		store:     s,
		hub:       h,
		responder: responder,
		timeout:   defaultAutomationTimeout,
		logger:    logger.With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest accepts one turn: validates the envelope, appends it to the
// session (creating the session on first contact), broadcasts it to live
// subscribers, and, for customer turns on bot-controlled sessions,
// requests an automated reply in the background.
func (r *Router) Ingest(ctx context.Context, req Request) (*Accepted, error) {
	if req.MerchantID == "" || req.SessionID == "" {
		return nil, fmt.Errorf("merchant and session identifiers are required")
	}
	if _, err := message.ParseChannel(string(req.Channel)); err != nil {
		return nil, err
	}

	msg, err := message.New(req.Role, req.Text, req.Metadata)
	if err != nil {
		return nil, err
	}

	// 1. Persist. Failure here is fatal for the call: a message that was
	// never durably stored must not be broadcast.
	result, err := r.store.AppendMessage(ctx, req.MerchantID, req.SessionID, req.Channel, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// 2. Broadcast, regardless of role. The hub never blocks and never
	// fails the ingest; a viewer that misses a live update recovers by
	// re-fetching history.
	r.hub.Publish(req.SessionID, result.Message)

	r.logger.Debug("message ingested",
		"merchant_id", req.MerchantID,
		"session_id", req.SessionID,
		"role", string(result.Message.Role),
		"seq", result.Message.Seq,
		"created", result.Created)

	// 3. Automated reply, only for customer turns while the bot holds the
	// session. Runs detached so a slow model never delays this call.
	if req.Role == message.RoleCustomer && !result.Session.HandoverToAgent && r.responder != nil {
		r.spawnAutomatedReply(req, result)
	}

	return &Accepted{
		Session: &Session{
			MerchantID:      result.Session.MerchantID,
			SessionID:       result.Session.SessionID,
			Channel:         result.Session.Channel,
			HandoverToAgent: result.Session.HandoverToAgent,
		},
		Message: result.Message,
		Created: result.Created,
	}, nil
}

// spawnAutomatedReply requests a bot reply on a detached context and
// re-ingests it. Failures are logged and dropped: the customer message
// stands on its own and is never retried from here.
func (r *Router) spawnAutomatedReply(req Request, result *store.AppendResult) {
	r.automation.Add(1)
	go func() {
		defer r.automation.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		reply, err := r.responder.Reply(ctx, result.Session, result.Message)
		if err != nil {
			r.logger.Error("automated reply failed",
				"error", err,
				"session_id", req.SessionID)
			return
		}
		if reply == "" {
			return
		}

		// Handover may have been toggled while the model was thinking.
		// Re-check before appending so an operator takeover is never
		// raced by a stale bot reply.
		session, err := r.store.GetSession(ctx, req.SessionID)
		if err != nil {
			r.logger.Error("session lookup before bot reply failed",
				"error", err,
				"session_id", req.SessionID)
			return
		}
		if session.HandoverToAgent {
			r.logger.Info("bot reply suppressed by handover",
				"session_id", req.SessionID)
			return
		}

		if _, err := r.Ingest(ctx, Request{
			MerchantID: req.MerchantID,
			SessionID:  req.SessionID,
			Channel:    req.Channel,
			Role:       message.RoleBot,
			Text:       reply,
		}); err != nil {
			r.logger.Error("failed to ingest bot reply",
				"error", err,
				"session_id", req.SessionID)
		}
	}()
}

// Drain blocks until all in-flight automated replies have completed.
// Called on shutdown and by tests that need the bot turn to land.
func (r *Router) Drain() {
	r.automation.Wait()
}
