package events

import (
	"time"

	"chatgraph/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields. The aggregate is always a chat,
// and Version is the chat's conversation version after the change.
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(chatID valueobjects.ChatID, eventType string, version int, at time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: chatID.String(),
		EventType:   eventType,
		Timestamp:   at,
		Version:     version,
	}
}

// Event type names as published on the bus
const (
	TypeChatCreated       = "chat.created"
	TypeChatStatusChanged = "chat.status_changed"
	TypeChatDeleted       = "chat.deleted"
	TypeChatRenamed       = "chat.renamed"
	TypeMessageAppended   = "message.appended"
	TypeMessageEdited     = "message.edited"
	TypeBranchCreated     = "branch.created"
	TypeBranchRetargeted  = "branch.retargeted"
)

// Chat Events

// ChatCreated is raised when a new chat is created
type ChatCreated struct {
	BaseEvent
	ChatID  valueobjects.ChatID `json:"chat_id"`
	OwnerID string              `json:"owner_id"`
	Name    string              `json:"name"`
}

// NewChatCreated creates a ChatCreated event
func NewChatCreated(chatID valueobjects.ChatID, ownerID, name string, at time.Time) ChatCreated {
	return ChatCreated{
		BaseEvent: newBase(chatID, TypeChatCreated, 0, at),
		ChatID:    chatID,
		OwnerID:   ownerID,
		Name:      name,
	}
}

// ChatStatusChanged is raised when a chat is archived or reactivated
type ChatStatusChanged struct {
	BaseEvent
	ChatID valueobjects.ChatID `json:"chat_id"`
	Status string              `json:"status"`
}

// NewChatStatusChanged creates a ChatStatusChanged event
func NewChatStatusChanged(chatID valueobjects.ChatID, status string, at time.Time) ChatStatusChanged {
	return ChatStatusChanged{
		BaseEvent: newBase(chatID, TypeChatStatusChanged, 0, at),
		ChatID:    chatID,
		Status:    status,
	}
}

// ChatDeleted is raised after a chat and all of its records are removed
type ChatDeleted struct {
	BaseEvent
	ChatID  valueobjects.ChatID `json:"chat_id"`
	OwnerID string              `json:"owner_id"`
}

// NewChatDeleted creates a ChatDeleted event
func NewChatDeleted(chatID valueobjects.ChatID, ownerID string, at time.Time) ChatDeleted {
	return ChatDeleted{
		BaseEvent: newBase(chatID, TypeChatDeleted, 0, at),
		ChatID:    chatID,
		OwnerID:   ownerID,
	}
}

// ChatRenamed is raised when a chat's name or description changes
type ChatRenamed struct {
	BaseEvent
	ChatID      valueobjects.ChatID `json:"chat_id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
}

// NewChatRenamed creates a ChatRenamed event
func NewChatRenamed(chatID valueobjects.ChatID, name, description string, at time.Time) ChatRenamed {
	return ChatRenamed{
		BaseEvent:   newBase(chatID, TypeChatRenamed, 0, at),
		ChatID:      chatID,
		Name:        name,
		Description: description,
	}
}

// Message Events

// MessageAppended is raised when a message is inserted into the graph
type MessageAppended struct {
	BaseEvent
	ChatID    valueobjects.ChatID     `json:"chat_id"`
	MessageID valueobjects.MessageID  `json:"message_id"`
	ParentID  *valueobjects.MessageID `json:"parent_id"`
	Role      string                  `json:"role"`
	BranchID  valueobjects.BranchID   `json:"branch_id"`
}

// NewMessageAppended creates a MessageAppended event
func NewMessageAppended(chatID valueobjects.ChatID, messageID valueobjects.MessageID, parentID *valueobjects.MessageID, role string, branchID valueobjects.BranchID, version int, at time.Time) MessageAppended {
	return MessageAppended{
		BaseEvent: newBase(chatID, TypeMessageAppended, version, at),
		ChatID:    chatID,
		MessageID: messageID,
		ParentID:  parentID,
		Role:      role,
		BranchID:  branchID,
	}
}

// MessageEdited is raised when an edit forks a new sibling message
type MessageEdited struct {
	BaseEvent
	ChatID        valueobjects.ChatID    `json:"chat_id"`
	EditID        valueobjects.EditID    `json:"edit_id"`
	PrevMessageID valueobjects.MessageID `json:"prev_message_id"`
	NewMessageID  valueobjects.MessageID `json:"new_message_id"`
	BranchID      valueobjects.BranchID  `json:"branch_id"`
}

// NewMessageEdited creates a MessageEdited event
func NewMessageEdited(chatID valueobjects.ChatID, editID valueobjects.EditID, prev, next valueobjects.MessageID, branchID valueobjects.BranchID, version int, at time.Time) MessageEdited {
	return MessageEdited{
		BaseEvent:     newBase(chatID, TypeMessageEdited, version, at),
		ChatID:        chatID,
		EditID:        editID,
		PrevMessageID: prev,
		NewMessageID:  next,
		BranchID:      branchID,
	}
}

// Branch Events

// BranchCreated is raised when a new branch pointer is registered
type BranchCreated struct {
	BaseEvent
	ChatID        valueobjects.ChatID    `json:"chat_id"`
	BranchID      valueobjects.BranchID  `json:"branch_id"`
	HeadMessageID valueobjects.MessageID `json:"head_message_id"`
}

// NewBranchCreated creates a BranchCreated event
func NewBranchCreated(chatID valueobjects.ChatID, branchID valueobjects.BranchID, head valueobjects.MessageID, version int, at time.Time) BranchCreated {
	return BranchCreated{
		BaseEvent:     newBase(chatID, TypeBranchCreated, version, at),
		ChatID:        chatID,
		BranchID:      branchID,
		HeadMessageID: head,
	}
}

// BranchRetargeted is raised when a branch head moves
type BranchRetargeted struct {
	BaseEvent
	ChatID    valueobjects.ChatID     `json:"chat_id"`
	BranchID  valueobjects.BranchID   `json:"branch_id"`
	OldHeadID *valueobjects.MessageID `json:"old_head_id"`
	NewHeadID valueobjects.MessageID  `json:"new_head_id"`
}

// NewBranchRetargeted creates a BranchRetargeted event
func NewBranchRetargeted(chatID valueobjects.ChatID, branchID valueobjects.BranchID, oldHead *valueobjects.MessageID, newHead valueobjects.MessageID, version int, at time.Time) BranchRetargeted {
	return BranchRetargeted{
		BaseEvent: newBase(chatID, TypeBranchRetargeted, version, at),
		ChatID:    chatID,
		BranchID:  branchID,
		OldHeadID: oldHead,
		NewHeadID: newHead,
	}
}
