package commands

import "chatgraph/pkg/utils"

// AppendMessageCommand adds a message under ParentID, or under the active
// branch head when ParentID is empty.
type AppendMessageCommand struct {
	UserID   string `json:"user_id" validate:"required"`
	ChatID   string `json:"chat_id" validate:"required,uuid"`
	Role     string `json:"role" validate:"required,oneof=user assistant system"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id" validate:"omitempty,uuid"`
}

// Validate validates the command
func (c AppendMessageCommand) Validate() error { return utils.ValidateStruct(c) }

// EditMessageCommand forks a user message into a sibling with new content
type EditMessageCommand struct {
	UserID     string `json:"user_id" validate:"required"`
	ChatID     string `json:"chat_id" validate:"required,uuid"`
	MessageID  string `json:"message_id" validate:"required,uuid"`
	NewContent string `json:"new_content"`
}

// Validate validates the command
func (c EditMessageCommand) Validate() error { return utils.ValidateStruct(c) }

// RetargetBranchCommand moves a branch pointer to another message
type RetargetBranchCommand struct {
	UserID        string `json:"user_id" validate:"required"`
	ChatID        string `json:"chat_id" validate:"required,uuid"`
	BranchID      string `json:"branch_id" validate:"required,uuid"`
	HeadMessageID string `json:"head_message_id" validate:"required,uuid"`
}

// Validate validates the command
func (c RetargetBranchCommand) Validate() error { return utils.ValidateStruct(c) }
