package commands

import "chatgraph/pkg/utils"

// CreateChatCommand opens a new conversation owned by UserID
type CreateChatCommand struct {
	UserID      string `json:"user_id" validate:"required"`
	Name        string `json:"name" validate:"max=200"`
	Description string `json:"description" validate:"max=10000"`
	ProjectID   string `json:"project_id" validate:"omitempty,uuid"`
}

// Validate validates the command
func (c CreateChatCommand) Validate() error { return utils.ValidateStruct(c) }

// ArchiveChatCommand makes a chat read-only
type ArchiveChatCommand struct {
	UserID string `json:"user_id" validate:"required"`
	ChatID string `json:"chat_id" validate:"required,uuid"`
}

// Validate validates the command
func (c ArchiveChatCommand) Validate() error { return utils.ValidateStruct(c) }

// ActivateChatCommand reopens an archived chat
type ActivateChatCommand struct {
	UserID string `json:"user_id" validate:"required"`
	ChatID string `json:"chat_id" validate:"required,uuid"`
}

// Validate validates the command
func (c ActivateChatCommand) Validate() error { return utils.ValidateStruct(c) }

// DeleteChatCommand removes a chat with all its messages, branches and edits
type DeleteChatCommand struct {
	UserID string `json:"user_id" validate:"required"`
	ChatID string `json:"chat_id" validate:"required,uuid"`
}

// Validate validates the command
func (c DeleteChatCommand) Validate() error { return utils.ValidateStruct(c) }

// RenameChatCommand replaces a chat's name and optionally its description
type RenameChatCommand struct {
	UserID      string  `json:"user_id" validate:"required"`
	ChatID      string  `json:"chat_id" validate:"required,uuid"`
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
}

// Validate validates the command
func (c RenameChatCommand) Validate() error { return utils.ValidateStruct(c) }
