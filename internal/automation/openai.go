// ABOUTME: OpenAI-backed Responder generating bot replies over session history
// ABOUTME: Maps timeline roles onto chat-completion roles with a merchant prompt

package automation

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/soukbot/chat-gateway/internal/message"
	"github.com/soukbot/chat-gateway/internal/store"
)

const defaultSystemPrompt = "You are a helpful shop assistant answering customers on behalf of the merchant. Keep replies short and concrete."

// historyWindow caps how many trailing messages are sent as model context.
const historyWindow = 30

// OpenAIResponder implements Responder with a chat-completion call over
// the session's trailing history.
type OpenAIResponder struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// NewOpenAIResponder creates a responder for the given API key and model.
// Empty model falls back to GPT4oMini; empty prompt to a generic shop
// assistant prompt.
func NewOpenAIResponder(apiKey, model, systemPrompt string, logger *slog.Logger) *OpenAIResponder {
	if model == "" {
		model = openai.GPT4oMini
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIResponder{
		client:       openai.NewClient(apiKey),
		model:        model,
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "automation"),
	}
}

// Reply implements Responder.
func (r *OpenAIResponder) Reply(ctx context.Context, session *store.Session, inbound message.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, historyWindow+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: r.systemPrompt,
	})

	history := session.Messages
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    completionRole(m.Role),
			Content: m.Text,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		r.logger.Warn("empty completion choices",
			"session_id", session.SessionID)
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}

// completionRole maps a timeline role onto the model's chat roles.
// Agent turns count as assistant context: the model should continue the
// conversation the human started, not contradict it.
func completionRole(role message.Role) string {
	if role == message.RoleCustomer {
		return openai.ChatMessageRoleUser
	}
	return openai.ChatMessageRoleAssistant
}
