package queries

import "chatgraph/pkg/utils"

// GetChatQuery reads one chat's metadata
type GetChatQuery struct {
	UserID string `validate:"required"`
	ChatID string `validate:"required,uuid"`
}

// Validate validates the query
func (q GetChatQuery) Validate() error { return utils.ValidateStruct(q) }

// ListChatsQuery lists the chats a user owns, optionally only those in one project
type ListChatsQuery struct {
	UserID    string `validate:"required"`
	ProjectID string `validate:"omitempty,uuid"`
}

// Validate validates the query
func (q ListChatsQuery) Validate() error { return utils.ValidateStruct(q) }

// GetProjectQuery reads one project
type GetProjectQuery struct {
	UserID    string `validate:"required"`
	ProjectID string `validate:"required,uuid"`
}

// Validate validates the query
func (q GetProjectQuery) Validate() error { return utils.ValidateStruct(q) }

// ListProjectsQuery lists the projects a user owns
type ListProjectsQuery struct {
	UserID string `validate:"required"`
}

// Validate validates the query
func (q ListProjectsQuery) Validate() error { return utils.ValidateStruct(q) }
