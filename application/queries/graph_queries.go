package queries

import "chatgraph/pkg/utils"

// ChatScope identifies the chat a graph query reads
type ChatScope struct {
	UserID string `validate:"required"`
	ChatID string `validate:"required,uuid"`
}

// GetGraphQuery returns the chat's whole parent/child graph
type GetGraphQuery struct {
	ChatScope
}

// Validate validates the query
func (q GetGraphQuery) Validate() error { return utils.ValidateStruct(q) }

// GetHeadsQuery returns the leaves of the graph
type GetHeadsQuery struct {
	ChatScope
}

// Validate validates the query
func (q GetHeadsQuery) Validate() error { return utils.ValidateStruct(q) }

// GetAncestorChainQuery returns the root-to-head path ending at HeadMessageID
type GetAncestorChainQuery struct {
	ChatScope
	HeadMessageID string `validate:"required,uuid"`
}

// Validate validates the query
func (q GetAncestorChainQuery) Validate() error { return utils.ValidateStruct(q) }

// GetSiblingsQuery returns the messages sharing MessageID's parent
type GetSiblingsQuery struct {
	ChatScope
	MessageID string `validate:"required,uuid"`
}

// Validate validates the query
func (q GetSiblingsQuery) Validate() error { return utils.ValidateStruct(q) }

// ListBranchesQuery lists branch pointers in creation order
type ListBranchesQuery struct {
	ChatScope
}

// Validate validates the query
func (q ListBranchesQuery) Validate() error { return utils.ValidateStruct(q) }

// ListEditsQuery lists the edit ledger in order
type ListEditsQuery struct {
	ChatScope
}

// Validate validates the query
func (q ListEditsQuery) Validate() error { return utils.ValidateStruct(q) }

// ListMessagesQuery lists every message of a chat
type ListMessagesQuery struct {
	ChatScope
}

// Validate validates the query
func (q ListMessagesQuery) Validate() error { return utils.ValidateStruct(q) }

// CompareBranchesQuery places the chains ending at two heads side by side
type CompareBranchesQuery struct {
	ChatScope
	LeftHeadID  string `validate:"required,uuid"`
	RightHeadID string `validate:"required,uuid"`
}

// Validate validates the query
func (q CompareBranchesQuery) Validate() error { return utils.ValidateStruct(q) }
