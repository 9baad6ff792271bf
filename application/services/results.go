package services

import (
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
)

// CreateChatInput is a request for a new chat. ProjectID is optional.
type CreateChatInput struct {
	UserID      string
	Name        string
	Description string
	ProjectID   *valueobjects.ProjectID
}

// RenameChatInput replaces a chat's name. A nil Description leaves it unchanged.
type RenameChatInput struct {
	UserID      string
	ChatID      valueobjects.ChatID
	Name        string
	Description *string
}

// CreateProjectInput is a request for a new project
type CreateProjectInput struct {
	UserID      string
	Name        string
	Description string
}

// RenameProjectInput replaces a project's name. A nil Description leaves it unchanged.
type RenameProjectInput struct {
	UserID      string
	ProjectID   valueobjects.ProjectID
	Name        string
	Description *string
}

// AppendInput is a request to add a message to a chat. ParentID is optional:
// when nil the message continues the active branch.
type AppendInput struct {
	UserID   string
	ChatID   valueobjects.ChatID
	Role     string
	Content  string
	ParentID *valueobjects.MessageID
}

// AppendResult is the outcome of an append
type AppendResult struct {
	Message       *entities.Message
	Branch        entities.Branch
	BranchCreated bool
}

// EditInput is a request to fork a user message with new content
type EditInput struct {
	UserID            string
	ChatID            valueobjects.ChatID
	OriginalMessageID valueobjects.MessageID
	NewContent        string
}

// BranchView is one branch resolved to its messages
type BranchView struct {
	BranchID      valueobjects.BranchID
	HeadMessageID valueobjects.MessageID
	Chain         []valueobjects.MessageID
	Messages      []*entities.Message
}

// MessageCount returns the length of the branch's chain
func (v BranchView) MessageCount() int {
	return len(v.Chain)
}

// EditDifferences describes what the edit changed
type EditDifferences struct {
	ChangedMessageID valueobjects.MessageID
	OriginalContent  string
	NewContent       string
	DivergenceIndex  int
}

// EditComparison places the branch the edited message lived on next to the new one
type EditComparison struct {
	OriginalBranch BranchView
	NewBranch      BranchView
	Differences    EditDifferences
}

// BranchSummary is a branch listing entry
type BranchSummary struct {
	BranchID      valueobjects.BranchID
	HeadMessageID *valueobjects.MessageID
	IsActive      bool
	IsNewBranch   bool
}

// EditResult is the outcome of an edit-with-branch
type EditResult struct {
	NewMessage   *entities.Message
	NewBranch    entities.Branch
	Edit         entities.Edit
	UpdatedGraph *aggregates.Graph
	Comparison   EditComparison
	AllBranches  []BranchSummary
}

// ChainResult is an ancestor chain with its resolved messages
type ChainResult struct {
	Chain    []valueobjects.MessageID
	Messages []*entities.Message
}

// BranchComparison compares the chains ending at two heads
type BranchComparison struct {
	Left            BranchView
	Right           BranchView
	DivergenceIndex int
}
