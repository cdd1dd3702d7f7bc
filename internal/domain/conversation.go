package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// MessageKind separates ordinary chat turns from notification-like entries.
type MessageKind string

const (
	KindChat         MessageKind = "chat"
	KindNotification MessageKind = "notification"
	KindCommand      MessageKind = "command"
)

// MessageAction is an optional UI affordance attached to a message.
type MessageAction struct {
	Label   string            `json:"label"`
	Command *DashboardCommand `json:"command,omitempty"`
}

// ChatMessage is one entry of a conversation. After it is appended to a
// history only Read may change, and only for notifications.
type ChatMessage struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Sender    Sender         `json:"sender"`
	Kind      MessageKind    `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Persona   PersonaID      `json:"persona,omitempty"`
	Action    *MessageAction `json:"action,omitempty"`
	Read      bool           `json:"read"`
}

// NewMessageID returns an opaque unique message token.
func NewMessageID() string {
	return uuid.NewString()
}

// NewMessage builds a chat message stamped with a fresh ID and time.
func NewMessage(sender Sender, text string) ChatMessage {
	return ChatMessage{
		ID:        NewMessageID(),
		Text:      text,
		Sender:    sender,
		Kind:      KindChat,
		Timestamp: time.Now(),
	}
}

// IsNotification reports whether the message carries an acknowledgement flag.
func (m ChatMessage) IsNotification() bool {
	return m.Kind == KindNotification
}
