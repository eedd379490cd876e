// ABOUTME: Tests for the SQLite Store implementation
// ABOUTME: Covers round-tripping, reopen durability and the shared Store contract

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soukbot/chat-gateway/internal/message"
)

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLiteStoreAppendAndGet(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	md := message.Metadata{
		ImageURL:     "https://cdn.example.com/receipt.png",
		QuickReplies: []message.QuickReply{{Title: "Track", Payload: "track_order"}},
	}
	msg, err := message.New(message.RoleBot, "here is your receipt", md)
	require.NoError(t, err)

	result, err := s.AppendMessage(context.Background(), "m1", "s1", message.ChannelWhatsApp, msg)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, int64(0), result.Message.Seq)

	session, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "m1", session.MerchantID)
	assert.Equal(t, message.ChannelWhatsApp, session.Channel)
	require.Len(t, session.Messages, 1)

	got := session.Messages[0]
	assert.Equal(t, "here is your receipt", got.Text)
	assert.Equal(t, md, got.Metadata)
	assert.Equal(t, []string{"here", "receipt"}, got.Keywords)
}

func TestSQLiteStoreConcurrentAppendsKeepTotalOrder(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage(context.Background(), "m1", "s1", message.ChannelWebchat,
				mustMsg(t, message.RoleCustomer, fmt.Sprintf("msg %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	session, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, n, "no message is lost")

	for i, msg := range session.Messages {
		assert.Equal(t, int64(i), msg.Seq, "messages are stored in seq order")
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.AppendMessage(context.Background(), "m1", "s1", message.ChannelTelegram,
		mustMsg(t, message.RoleCustomer, "remember me"))
	require.NoError(t, err)
	_, err = s.SetHandover(context.Background(), "s1", true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	session, err := reopened.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, session.HandoverToAgent)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "remember me", session.Messages[0].Text)

	// Seq assignment continues from the persisted maximum.
	result, err := reopened.AppendMessage(context.Background(), "m1", "s1", message.ChannelTelegram,
		mustMsg(t, message.RoleAgent, "welcome back"))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, int64(1), result.Message.Seq)
}

func TestSQLiteStoreNotFound(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SetHandover(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreSetHandoverIdempotent(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	_, err := s.AppendMessage(context.Background(), "m1", "s1", message.ChannelWebchat,
		mustMsg(t, message.RoleCustomer, "hi"))
	require.NoError(t, err)

	on, err := s.SetHandover(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.True(t, on.HandoverToAgent)

	again, err := s.SetHandover(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.True(t, again.HandoverToAgent)

	off, err := s.SetHandover(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.False(t, off.HandoverToAgent)
}

func TestSQLiteStoreListSessions(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	_, err := s.AppendMessage(context.Background(), "m1", "wa-1", message.ChannelWhatsApp,
		mustMsg(t, message.RoleCustomer, "one"))
	require.NoError(t, err)
	_, err = s.AppendMessage(context.Background(), "m1", "tg-1", message.ChannelTelegram,
		mustMsg(t, message.RoleCustomer, "two"))
	require.NoError(t, err)
	_, err = s.AppendMessage(context.Background(), "m2", "foreign", message.ChannelWebchat,
		mustMsg(t, message.RoleCustomer, "three"))
	require.NoError(t, err)

	all, err := s.ListSessions(context.Background(), "m1", ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.ListSessions(context.Background(), "m1", ListFilter{Channel: message.ChannelTelegram})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "tg-1", filtered[0].SessionID)
	require.Len(t, filtered[0].Messages, 1)
}
