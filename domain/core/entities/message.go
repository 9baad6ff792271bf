package entities

import (
	"time"

	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// MessageStatus records how a message came to exist
type MessageStatus string

const (
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusEdited MessageStatus = "edited"
)

// Message is an immutable content unit. Edits never change a Message;
// they create a new one that records its origin in originalMessageID.
type Message struct {
	id                valueobjects.MessageID
	chatID            valueobjects.ChatID
	role              valueobjects.Role
	content           valueobjects.MessageContent
	status            MessageStatus
	originalMessageID *valueobjects.MessageID
	createdAt         time.Time
}

// NewMessage creates a freshly appended message
func NewMessage(chatID valueobjects.ChatID, role valueobjects.Role, content valueobjects.MessageContent, now time.Time) (*Message, error) {
	if chatID == "" {
		return nil, pkgerrors.NewValidationError("chatID cannot be empty")
	}
	if _, err := valueobjects.ParseRole(string(role)); err != nil {
		return nil, err
	}

	return &Message{
		id:        valueobjects.NewMessageID(),
		chatID:    chatID,
		role:      role,
		content:   content,
		status:    MessageStatusSent,
		createdAt: now,
	}, nil
}

// NewEditedMessage creates the replacement for original. The role is inherited.
func NewEditedMessage(original *Message, content valueobjects.MessageContent, now time.Time) *Message {
	origID := original.id
	return &Message{
		id:                valueobjects.NewMessageID(),
		chatID:            original.chatID,
		role:              original.role,
		content:           content,
		status:            MessageStatusEdited,
		originalMessageID: &origID,
		createdAt:         now,
	}
}

// ReconstructMessage rebuilds a message from repository data
func ReconstructMessage(
	id valueobjects.MessageID,
	chatID valueobjects.ChatID,
	role valueobjects.Role,
	content valueobjects.MessageContent,
	status MessageStatus,
	originalMessageID *valueobjects.MessageID,
	createdAt time.Time,
) *Message {
	if status == "" {
		status = MessageStatusSent
	}
	return &Message{
		id:                id,
		chatID:            chatID,
		role:              role,
		content:           content,
		status:            status,
		originalMessageID: originalMessageID,
		createdAt:         createdAt,
	}
}

func (m *Message) ID() valueobjects.MessageID           { return m.id }
func (m *Message) ChatID() valueobjects.ChatID          { return m.chatID }
func (m *Message) Role() valueobjects.Role              { return m.role }
func (m *Message) Content() valueobjects.MessageContent { return m.content }
func (m *Message) Status() MessageStatus                { return m.status }
func (m *Message) CreatedAt() time.Time                 { return m.createdAt }

// OriginalMessageID returns the message this one replaced, if it came from an edit
func (m *Message) OriginalMessageID() *valueobjects.MessageID {
	if m.originalMessageID == nil {
		return nil
	}
	id := *m.originalMessageID
	return &id
}
