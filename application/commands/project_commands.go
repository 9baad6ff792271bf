package commands

import "chatgraph/pkg/utils"

// CreateProjectCommand opens a project owned by UserID
type CreateProjectCommand struct {
	UserID      string `json:"user_id" validate:"required"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=10000"`
}

// Validate validates the command
func (c CreateProjectCommand) Validate() error { return utils.ValidateStruct(c) }

// RenameProjectCommand replaces a project's name and optionally its description
type RenameProjectCommand struct {
	UserID      string  `json:"user_id" validate:"required"`
	ProjectID   string  `json:"project_id" validate:"required,uuid"`
	Name        string  `json:"name" validate:"required,max=255"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
}

// Validate validates the command
func (c RenameProjectCommand) Validate() error { return utils.ValidateStruct(c) }

// DeleteProjectCommand removes a project and the chats in it
type DeleteProjectCommand struct {
	UserID    string `json:"user_id" validate:"required"`
	ProjectID string `json:"project_id" validate:"required,uuid"`
}

// Validate validates the command
func (c DeleteProjectCommand) Validate() error { return utils.ValidateStruct(c) }
