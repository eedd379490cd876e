// ABOUTME: In-memory fan-out hub for real-time delivery of session messages
// ABOUTME: Publishes accepted messages to all live subscribers of a session

package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/soukbot/chat-gateway/internal/message"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Hub provides per-session pub/sub for accepted messages. Subscribers
// register for a session ID and receive messages as they are ingested.
// There is no replay buffer: a subscriber that is not connected when a
// message is published must reconcile via a full history fetch.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan message.Message // sessionID -> subID -> ch
	logger      *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan message.Message),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for messages on the given session.
// Returns a channel that receives messages and a subscription ID for
// later unsubscription. The subscription is automatically cleaned up
// when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan message.Message, string) {
	subID := uuid.New().String()
	ch := make(chan message.Message, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[sessionID]; !ok {
		h.subscribers[sessionID] = make(map[string]chan message.Message)
	}
	h.subscribers[sessionID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added",
		"session_id", sessionID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish delivers msg to every current subscriber of the session.
// Delivery is at-most-once per publish: sends are non-blocking and the
// message is dropped for subscribers whose channels are full.
func (h *Hub) Publish(sessionID string, msg message.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Sends happen under the read lock. Unsubscribe and Close close
	// channels under the write lock, so no send can land on a closed
	// channel; sends never block, so the lock is held only briefly.
	for _, ch := range h.subscribers[sessionID] {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("dropped message for slow subscriber",
				"session_id", sessionID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sessionID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sessionID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}

	h.logger.Debug("subscriber removed",
		"session_id", sessionID,
		"sub_id", subID)
}

// SubscriberCount reports the live subscriptions for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, sessionID)
	}

	h.logger.Debug("hub closed")
}
