// ABOUTME: In-memory Store implementation for tests and DB-less embedding
// ABOUTME: Serializes writes with a per-session lock under a global registry lock

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soukbot/chat-gateway/internal/message"
)

// sessionRecord holds one session plus its write lock and arrival counter.
type sessionRecord struct {
	mu      sync.Mutex
	session Session
	nextSeq int64
}

// MemoryStore implements Store entirely in memory. The registry lock
// guards the session map; each session carries its own lock so appends
// to different sessions never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionRecord),
	}
}

// AppendMessage implements Store.
func (m *MemoryStore) AppendMessage(ctx context.Context, merchantID, sessionID string, channel message.Channel, msg message.Message) (*AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, created := m.ensureSession(merchantID, sessionID, channel)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Seq = rec.nextSeq
	rec.nextSeq++

	rec.session.Messages = append(rec.session.Messages, msg)
	rec.session.UpdatedAt = now

	snapshot := copySession(&rec.session)
	return &AppendResult{
		Session: snapshot,
		Message: msg,
		Created: created,
	}, nil
}

// ensureSession returns the record for sessionID, creating it if needed.
// The created flag is true only for the caller that actually created it.
func (m *MemoryStore) ensureSession(merchantID, sessionID string, channel message.Channel) (*sessionRecord, bool) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return rec, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		return rec, false
	}

	now := time.Now().UTC()
	rec = &sessionRecord{
		session: Session{
			MerchantID:      merchantID,
			SessionID:       sessionID,
			Channel:         channel,
			HandoverToAgent: false,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
	m.sessions[sessionID] = rec
	return rec, true
}

// GetSession implements Store.
func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copySession(&rec.session), nil
}

// ListSessions implements Store.
func (m *MemoryStore) ListSessions(ctx context.Context, merchantID string, filter ListFilter) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	records := make([]*sessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	var out []*Session
	for _, rec := range records {
		rec.mu.Lock()
		if rec.session.MerchantID == merchantID &&
			(filter.Channel == "" || rec.session.Channel == filter.Channel) {
			out = append(out, copySession(&rec.session))
		}
		rec.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// SetHandover implements Store.
func (m *MemoryStore) SetHandover(ctx context.Context, sessionID string, enabled bool) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.session.HandoverToAgent != enabled {
		rec.session.HandoverToAgent = enabled
		rec.session.UpdatedAt = time.Now().UTC()
	}
	return copySession(&rec.session), nil
}

// Close implements Store. Nothing to release.
func (m *MemoryStore) Close() error {
	return nil
}

// copySession returns a deep copy so callers never alias store internals.
func copySession(s *Session) *Session {
	cp := *s
	cp.Messages = make([]message.Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
