// ABOUTME: Automated reply collaborator interface plus test/dev implementations
// ABOUTME: The ingestion router calls this to produce bot turns for customer messages

package automation

import (
	"context"

	"github.com/soukbot/chat-gateway/internal/message"
	"github.com/soukbot/chat-gateway/internal/store"
)

// Responder produces an automated reply to a customer message. The
// gateway treats it as an external collaborator: it may take arbitrarily
// long and may fail; neither outcome affects the already-persisted
// customer message. An empty reply with nil error means "no reply".
type Responder interface {
	Reply(ctx context.Context, session *store.Session, inbound message.Message) (string, error)
}

// StaticResponder returns a fixed reply for every customer message.
// Used in tests and as a development fallback when no model is configured.
type StaticResponder struct {
	Text string
}

// Reply implements Responder.
func (s *StaticResponder) Reply(_ context.Context, _ *store.Session, _ message.Message) (string, error) {
	return s.Text, nil
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, session *store.Session, inbound message.Message) (string, error)

// Reply implements Responder.
func (f ResponderFunc) Reply(ctx context.Context, session *store.Session, inbound message.Message) (string, error) {
	return f(ctx, session, inbound)
}
