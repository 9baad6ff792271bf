package entities

import (
	"time"

	"chatgraph/domain/core/valueobjects"
)

// Branch is a named pointer into a chat's graph. It does not own messages.
// Seq is the per-chat creation sequence and gives branches a total order.
type Branch struct {
	ID            valueobjects.BranchID   `json:"branch_id"`
	ChatID        valueobjects.ChatID     `json:"chat_id"`
	HeadMessageID *valueobjects.MessageID `json:"head_message_id"`
	Seq           int64                   `json:"seq"`
	CreatedAt     time.Time               `json:"created_at"`
}

// HasHead reports whether the branch points at head
func (b Branch) HasHead(head valueobjects.MessageID) bool {
	return b.HeadMessageID != nil && *b.HeadMessageID == head
}

// Edit is an immutable audit record linking a superseded message to its fork
type Edit struct {
	ID            valueobjects.EditID    `json:"edit_id"`
	ChatID        valueobjects.ChatID    `json:"chat_id"`
	BranchID      valueobjects.BranchID  `json:"branch_id"`
	PrevMessageID valueobjects.MessageID `json:"prev_message_id"`
	NewMessageID  valueobjects.MessageID `json:"new_message_id"`
	NewHeadID     valueobjects.MessageID `json:"new_head_id"`
	Seq           int64                  `json:"seq"`
	CreatedAt     time.Time              `json:"created_at"`
}
