package valueobjects

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageID identifies a message and its node in a chat's graph
type MessageID string

// ChatID identifies a conversation scope
type ChatID string

// BranchID identifies a branch pointer
type BranchID string

// EditID identifies an edit record
type EditID string

// ProjectID identifies a project grouping chats
type ProjectID string

// NewMessageID creates a new random MessageID
func NewMessageID() MessageID { return MessageID(uuid.New().String()) }

// NewChatID creates a new random ChatID
func NewChatID() ChatID { return ChatID(uuid.New().String()) }

// NewBranchID creates a new random BranchID
func NewBranchID() BranchID { return BranchID(uuid.New().String()) }

// NewEditID creates a new random EditID
func NewEditID() EditID { return EditID(uuid.New().String()) }

// NewProjectID creates a new random ProjectID
func NewProjectID() ProjectID { return ProjectID(uuid.New().String()) }

// ParseMessageID validates an externally supplied message id
func ParseMessageID(s string) (MessageID, error) {
	if err := parseUUID("message", s); err != nil {
		return "", err
	}
	return MessageID(s), nil
}

// ParseChatID validates an externally supplied chat id
func ParseChatID(s string) (ChatID, error) {
	if err := parseUUID("chat", s); err != nil {
		return "", err
	}
	return ChatID(s), nil
}

// ParseBranchID validates an externally supplied branch id
func ParseBranchID(s string) (BranchID, error) {
	if err := parseUUID("branch", s); err != nil {
		return "", err
	}
	return BranchID(s), nil
}

// ParseProjectID validates an externally supplied project id
func ParseProjectID(s string) (ProjectID, error) {
	if err := parseUUID("project", s); err != nil {
		return "", err
	}
	return ProjectID(s), nil
}

func (id MessageID) String() string { return string(id) }
func (id ChatID) String() string    { return string(id) }
func (id BranchID) String() string  { return string(id) }
func (id EditID) String() string    { return string(id) }
func (id ProjectID) String() string { return string(id) }

// IsZero checks if the id is unset
func (id MessageID) IsZero() bool { return id == "" }

// Ptr returns a pointer to a copy of id, convenient for optional parents
func (id MessageID) Ptr() *MessageID { return &id }

func parseUUID(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s ID cannot be empty", kind)
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("%s ID must be a valid UUID", kind)
	}
	return nil
}
