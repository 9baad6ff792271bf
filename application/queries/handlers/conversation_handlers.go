package handlers

import (
	"context"
	"fmt"

	"chatgraph/application/queries"
	"chatgraph/application/queries/bus"
	"chatgraph/application/services"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// ConversationQueryHandlers serves every read-only conversation query
type ConversationQueryHandlers struct {
	service *services.ConversationService
}

// NewConversationQueryHandlers creates the handler set
func NewConversationQueryHandlers(service *services.ConversationService) *ConversationQueryHandlers {
	return &ConversationQueryHandlers{service: service}
}

// Register binds each query type to its handler
func (h *ConversationQueryHandlers) Register(b *bus.QueryBus) error {
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandlerFunc
	}{
		{queries.GetChatQuery{}, h.getChat},
		{queries.ListChatsQuery{}, h.listChats},
		{queries.GetProjectQuery{}, h.getProject},
		{queries.ListProjectsQuery{}, h.listProjects},
		{queries.GetGraphQuery{}, h.getGraph},
		{queries.GetHeadsQuery{}, h.getHeads},
		{queries.GetAncestorChainQuery{}, h.getAncestorChain},
		{queries.GetSiblingsQuery{}, h.getSiblings},
		{queries.ListBranchesQuery{}, h.listBranches},
		{queries.ListEditsQuery{}, h.listEdits},
		{queries.ListMessagesQuery{}, h.listMessages},
		{queries.CompareBranchesQuery{}, h.compareBranches},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *ConversationQueryHandlers) getChat(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetChatQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.GetChat(ctx, query.UserID, valueobjects.ChatID(query.ChatID))
}

func (h *ConversationQueryHandlers) listChats(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListChatsQuery)
	if !ok {
		return nil, unexpected(q)
	}
	var projectID *valueobjects.ProjectID
	if query.ProjectID != "" {
		pid := valueobjects.ProjectID(query.ProjectID)
		projectID = &pid
	}
	return h.service.ListChats(ctx, query.UserID, projectID)
}

func (h *ConversationQueryHandlers) getProject(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetProjectQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.GetProject(ctx, query.UserID, valueobjects.ProjectID(query.ProjectID))
}

func (h *ConversationQueryHandlers) listProjects(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListProjectsQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.ListProjects(ctx, query.UserID)
}

func (h *ConversationQueryHandlers) getGraph(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetGraphQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.GetGraph(ctx, query.UserID, valueobjects.ChatID(query.ChatID))
}

func (h *ConversationQueryHandlers) getHeads(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetHeadsQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.Heads(ctx, query.UserID, valueobjects.ChatID(query.ChatID))
}

func (h *ConversationQueryHandlers) getAncestorChain(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetAncestorChainQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.AncestorChain(ctx, query.UserID,
		valueobjects.ChatID(query.ChatID),
		valueobjects.MessageID(query.HeadMessageID),
	)
}

func (h *ConversationQueryHandlers) getSiblings(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetSiblingsQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.Siblings(ctx, query.UserID,
		valueobjects.ChatID(query.ChatID),
		valueobjects.MessageID(query.MessageID),
	)
}

func (h *ConversationQueryHandlers) listBranches(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListBranchesQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.ListBranches(ctx, query.UserID, valueobjects.ChatID(query.ChatID))
}

func (h *ConversationQueryHandlers) listEdits(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListEditsQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.ListEdits(ctx, query.UserID, valueobjects.ChatID(query.ChatID))
}

func (h *ConversationQueryHandlers) listMessages(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListMessagesQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.ListMessages(ctx, query.UserID, valueobjects.ChatID(query.ChatID))
}

func (h *ConversationQueryHandlers) compareBranches(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.CompareBranchesQuery)
	if !ok {
		return nil, unexpected(q)
	}
	return h.service.CompareBranches(ctx, query.UserID,
		valueobjects.ChatID(query.ChatID),
		valueobjects.MessageID(query.LeftHeadID),
		valueobjects.MessageID(query.RightHeadID),
	)
}

func unexpected(q bus.Query) error {
	return pkgerrors.NewInternalError("unexpected query type").WithDetail("type", fmt.Sprintf("%T", q))
}
