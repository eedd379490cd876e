// ABOUTME: REST handlers for webhook ingestion, history reads and handover toggles
// ABOUTME: Maps store/envelope sentinel errors onto HTTP status codes

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soukbot/chat-gateway/internal/ingest"
	"github.com/soukbot/chat-gateway/internal/message"
	"github.com/soukbot/chat-gateway/internal/store"
)

// incomingRequest is the JSON body for POST /api/webhooks/incoming/{merchantID}.
// Channel adapters send either a messages batch or the single-message
// shorthand (from/text/role/metadata).
type incomingRequest struct {
	SessionID string            `json:"sessionId"`
	From      string            `json:"from"`
	Channel   string            `json:"channel"`
	Role      string            `json:"role"`
	Text      string            `json:"text"`
	Metadata  json.RawMessage   `json:"metadata"`
	Messages  []incomingMessage `json:"messages"`
}

type incomingMessage struct {
	Role     string          `json:"role"`
	Text     string          `json:"text"`
	Metadata json.RawMessage `json:"metadata"`
}

// handleIncoming accepts normalized inbound messages from channel
// adapters. Responds 202 with the session's handover state so adapters
// know whether upstream automation should be engaged.
func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	var req incomingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.From
	}
	if merchantID == "" || sessionID == "" || req.Channel == "" {
		s.sendJSONError(w, http.StatusBadRequest, "merchantId, sessionId and channel are required")
		return
	}

	channel, err := message.ParseChannel(req.Channel)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := req.Messages
	if len(batch) == 0 {
		role := req.Role
		if role == "" {
			role = string(message.RoleCustomer)
		}
		batch = []incomingMessage{{Role: role, Text: req.Text, Metadata: req.Metadata}}
	}

	var last *ingest.Accepted
	for _, m := range batch {
		role, err := message.ParseRole(m.Role)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		metadata, err := message.ParseMetadata(m.Metadata)
		if err != nil {
			s.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		accepted, err := s.router.Ingest(r.Context(), ingest.Request{
			MerchantID: merchantID,
			SessionID:  sessionID,
			Channel:    channel,
			Role:       role,
			Text:       m.Text,
			Metadata:   metadata,
		})
		if err != nil {
			s.writeIngestError(w, err)
			return
		}
		last = accepted
	}

	s.sendJSON(w, http.StatusAccepted, map[string]any{
		"sessionId":       sessionID,
		"handoverToAgent": last.Session.HandoverToAgent,
		"created":         last.Created,
	})
}

// botReplyRequest is the JSON body for POST /api/webhooks/bot-reply/{merchantID}.
type botReplyRequest struct {
	SessionID string          `json:"sessionId"`
	Channel   string          `json:"channel"`
	Text      string          `json:"text"`
	Metadata  json.RawMessage `json:"metadata"`
}

// handleBotReply lets external workflow engines push bot-authored turns
// produced outside the gateway's own responder.
func (s *Server) handleBotReply(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	var req botReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if merchantID == "" || req.SessionID == "" || req.Channel == "" {
		s.sendJSONError(w, http.StatusBadRequest, "merchantId, sessionId and channel are required")
		return
	}

	channel, err := message.ParseChannel(req.Channel)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	metadata, err := message.ParseMetadata(req.Metadata)
	if err != nil {
		s.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	accepted, err := s.router.Ingest(r.Context(), ingest.Request{
		MerchantID: merchantID,
		SessionID:  req.SessionID,
		Channel:    channel,
		Role:       message.RoleBot,
		Text:       req.Text,
		Metadata:   metadata,
	})
	if err != nil {
		s.writeIngestError(w, err)
		return
	}

	s.sendJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": accepted.Session.SessionID,
		"messageId": accepted.Message.ID,
	})
}

// handleSessionMessages returns a session's ordered history. The full
// timeline is the default; ?limit=N returns the most recent N (max 1000).
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := s.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get session", "error", err, "session_id", sessionID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		if len(session.Messages) > limit {
			session.Messages = session.Messages[len(session.Messages)-limit:]
		}
	}

	s.sendJSON(w, http.StatusOK, toSessionResponse(session, true))
}

// handleListSessions returns a merchant's sessions with latest-message
// previews, most recent activity first. ?channel= filters by channel.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	filter := store.ListFilter{}
	if ch := r.URL.Query().Get("channel"); ch != "" {
		channel, err := message.ParseChannel(ch)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Channel = channel
	}

	sessions, err := s.store.ListSessions(r.Context(), merchantID, filter)
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err, "merchant_id", merchantID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]sessionResponse, len(sessions))
	for i, sess := range sessions {
		resp[i] = toSessionResponse(sess, false)
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"sessions": resp})
}

// handoverRequest is the JSON body for PATCH /api/sessions/{sessionID}/handover.
type handoverRequest struct {
	HandoverToAgent *bool `json:"handoverToAgent"`
}

// handleSetHandover flips reply authorship between bot and human agent.
func (s *Server) handleSetHandover(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req handoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HandoverToAgent == nil {
		s.sendJSONError(w, http.StatusBadRequest, "handoverToAgent boolean is required")
		return
	}

	session, err := s.handover.Set(r.Context(), sessionID, *req.HandoverToAgent)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to set handover", "error", err, "session_id", sessionID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.sendJSON(w, http.StatusOK, toSessionResponse(session, false))
}

// handleWidgetConfig serves the reconnect policy an embedded widget
// should use against this deployment.
func (s *Server) handleWidgetConfig(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"reconnectIntervalMs": s.widget.ReconnectInterval.Milliseconds(),
		"reconnectMaxRetries": s.widget.ReconnectMaxRetries,
	})
}

// writeIngestError maps router errors onto status codes.
func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrPersistence):
		s.logger.Error("ingest persistence failure", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to store message")
	case errors.Is(err, message.ErrInvalidRole),
		errors.Is(err, message.ErrInvalidChannel),
		errors.Is(err, message.ErrEmptyMessage),
		errors.Is(err, message.ErrInvalidQuickReply):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, message.ErrUnknownMetadataKind):
		s.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	}
}
