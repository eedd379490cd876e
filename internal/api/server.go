// ABOUTME: HTTP server wiring chi routes to the gateway's core services
// ABOUTME: Hosts webhook ingestion, history/session reads, handover and the live endpoint

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/soukbot/chat-gateway/internal/handover"
	"github.com/soukbot/chat-gateway/internal/hub"
	"github.com/soukbot/chat-gateway/internal/ingest"
	"github.com/soukbot/chat-gateway/internal/message"
	"github.com/soukbot/chat-gateway/internal/store"
)

// WidgetSettings is the reconnect policy served to embedded widgets.
type WidgetSettings struct {
	ReconnectInterval   time.Duration
	ReconnectMaxRetries int
}

// Server exposes the gateway over HTTP and websocket.
type Server struct {
	store    store.Store
	router   *ingest.Router
	handover *handover.Service
	hub      *hub.Hub
	upgrader websocket.Upgrader
	origins  []string
	widget   WidgetSettings
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithWidgetSettings overrides the widget reconnect policy served at
// /api/widget/config.
func WithWidgetSettings(ws WidgetSettings) Option {
	return func(s *Server) {
		if ws.ReconnectInterval > 0 {
			s.widget.ReconnectInterval = ws.ReconnectInterval
		}
		if ws.ReconnectMaxRetries > 0 {
			s.widget.ReconnectMaxRetries = ws.ReconnectMaxRetries
		}
	}
}

// New creates a Server. allowedOrigins limits websocket upgrades; empty
// means any origin (embedded widgets load from arbitrary merchant sites).
func New(s store.Store, r *ingest.Router, h *handover.Service, fanout *hub.Hub, allowedOrigins []string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:    s,
		router:   r,
		handover: h,
		hub:      fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		origins: allowedOrigins,
		widget: WidgetSettings{
			ReconnectInterval:   3 * time.Second,
			ReconnectMaxRetries: 0,
		},
		logger: logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Handler builds the chi route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	corsOrigins := s.origins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Post("/webhooks/incoming/{merchantID}", s.handleIncoming)
		api.Post("/webhooks/bot-reply/{merchantID}", s.handleBotReply)

		api.Get("/sessions/{sessionID}/messages", s.handleSessionMessages)
		api.Patch("/sessions/{sessionID}/handover", s.handleSetHandover)

		api.Get("/merchants/{merchantID}/sessions", s.handleListSessions)

		api.Get("/chat", s.handleLiveConnection)

		api.Get("/widget/config", s.handleWidgetConfig)
	})

	return r
}

// logRequests emits one debug line per request. Websocket upgrades are
// long-lived, so the duration there is connection lifetime.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// originChecker returns the upgrade origin policy.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// sessionResponse is the JSON shape for session state.
type sessionResponse struct {
	MerchantID      string            `json:"merchantId"`
	SessionID       string            `json:"sessionId"`
	Channel         string            `json:"channel"`
	HandoverToAgent bool              `json:"handoverToAgent"`
	CreatedAt       string            `json:"createdAt"`
	UpdatedAt       string            `json:"updatedAt"`
	Messages        []message.Message `json:"messages,omitempty"`
	LastMessage     *message.Message  `json:"lastMessage,omitempty"`
}

// toSessionResponse converts store state. includeMessages controls the
// full-timeline vs preview shape.
func toSessionResponse(sess *store.Session, includeMessages bool) sessionResponse {
	resp := sessionResponse{
		MerchantID:      sess.MerchantID,
		SessionID:       sess.SessionID,
		Channel:         string(sess.Channel),
		HandoverToAgent: sess.HandoverToAgent,
		CreatedAt:       sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       sess.UpdatedAt.Format(time.RFC3339),
	}
	if includeMessages {
		resp.Messages = sess.Messages
	} else {
		resp.LastMessage = sess.LastMessage()
	}
	return resp
}

// sendJSON writes a JSON response with the given status.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, map[string]string{"error": msg})
}
