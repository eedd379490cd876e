// ABOUTME: Message envelope model for conversation turns across all channels
// ABOUTME: Defines Role/Channel enums, the closed metadata union, and validation

package message

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleBot      Role = "bot"
	RoleAgent    Role = "agent"
)

// Channel is the transport a conversation arrives on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
	ChannelWebchat  Channel = "webchat"
)

// ErrInvalidRole is returned when a role is outside the fixed set.
var ErrInvalidRole = errors.New("invalid role")

// ErrInvalidChannel is returned when a channel is outside the fixed set.
var ErrInvalidChannel = errors.New("invalid channel")

// ErrEmptyMessage is returned when a message carries neither text nor metadata.
var ErrEmptyMessage = errors.New("message has neither text nor metadata")

// ErrInvalidQuickReply is returned when a quick-reply button is missing
// its title or payload.
var ErrInvalidQuickReply = errors.New("quick reply requires title and payload")

// ParseRole validates a raw role string against the fixed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleBot, RoleAgent:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// ParseChannel validates a raw channel string against the fixed set.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelWhatsApp, ChannelTelegram, ChannelWebchat:
		return Channel(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}

// QuickReply is one tappable button attached to a message. Clicking it
// re-submits Payload as a new customer message.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Metadata is the closed union of attachment kinds a message may carry.
// Unknown kinds are rejected at the boundary rather than passed through.
type Metadata struct {
	ImageURL     string       `json:"imageUrl,omitempty"`
	QuickReplies []QuickReply `json:"buttons,omitempty"`
}

// IsZero reports whether the metadata carries no attachments.
func (m Metadata) IsZero() bool {
	return m.ImageURL == "" && len(m.QuickReplies) == 0
}

// Validate checks the metadata union for well-formedness.
func (m Metadata) Validate() error {
	for _, qr := range m.QuickReplies {
		if qr.Title == "" || qr.Payload == "" {
			return ErrInvalidQuickReply
		}
	}
	return nil
}

// Message is one immutable turn in a conversation timeline.
// Seq is the per-session arrival counter assigned by the store; it breaks
// timestamp ties so all observers agree on a single total order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
}

// New builds a validated message envelope. The store assigns ID, Timestamp
// (when zero), and Seq at append time.
func New(role Role, text string, metadata Metadata) (Message, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return Message{}, err
	}
	if text == "" && metadata.IsZero() {
		return Message{}, ErrEmptyMessage
	}
	if err := metadata.Validate(); err != nil {
		return Message{}, err
	}
	return Message{
		Role:     role,
		Text:     text,
		Metadata: metadata,
		Keywords: ExtractKeywords(text),
	}, nil
}
