package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chatgraph/application/commands"
	"chatgraph/application/commands/bus"
	"chatgraph/application/queries"
	querybus "chatgraph/application/queries/bus"
	"chatgraph/application/services"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/pkg/common"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/pkg/utils"
)

// ConversationHandler serves the message graph of a chat: appends, edits,
// branch pointers and every read over the graph.
type ConversationHandler struct {
	commandBus   *bus.CommandBus
	queryBus     *querybus.QueryBus
	errors       *pkgerrors.ErrorHandler
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		commandBus:   commandBus,
		queryBus:     queryBus,
		errors:       errHandler,
		logger:       logger,
		maxBodyBytes: common.DefaultMaxBodyBytes,
	}
}

// AppendMessage handles POST /api/v2/chats/{chatID}/messages
func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req AppendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.commandBus.Send(r.Context(), commands.AppendMessageCommand{
		UserID:   scope.UserID,
		ChatID:   scope.ChatID,
		Role:     req.Role,
		Content:  req.Content,
		ParentID: req.ParentID,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	res := out.(*services.AppendResult)
	common.RespondJSON(w, h.logger, http.StatusCreated, AppendMessageResponse{
		Message:       toMessageResponse(res.Message),
		Branch:        toBranchResponse(res.Branch),
		BranchCreated: res.BranchCreated,
	})
}

// EditMessage handles POST /api/v2/chats/{chatID}/messages/{messageID}/edit
func (h *ConversationHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req EditMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.commandBus.Send(r.Context(), commands.EditMessageCommand{
		UserID:     scope.UserID,
		ChatID:     scope.ChatID,
		MessageID:  chi.URLParam(r, "messageID"),
		NewContent: req.NewContent,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusCreated, toEditResponse(out.(*services.EditResult)))
}

// RetargetBranch handles PUT /api/v2/chats/{chatID}/branches/{branchID}
func (h *ConversationHandler) RetargetBranch(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req RetargetBranchRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.commandBus.Send(r.Context(), commands.RetargetBranchCommand{
		UserID:        scope.UserID,
		ChatID:        scope.ChatID,
		BranchID:      chi.URLParam(r, "branchID"),
		HeadMessageID: req.HeadMessageID,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, toBranchResponse(out.(entities.Branch)))
}

// GetGraph handles GET /api/v2/chats/{chatID}/graph
func (h *ConversationHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.GetGraphQuery{ChatScope: scope})
	if !ok {
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, out.(*aggregates.Graph))
}

// GetHeads handles GET /api/v2/chats/{chatID}/heads
func (h *ConversationHandler) GetHeads(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.GetHeadsQuery{ChatScope: scope})
	if !ok {
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, HeadsResponse{Heads: idStrings(out.([]valueobjects.MessageID))})
}

// GetAncestorChain handles GET /api/v2/chats/{chatID}/ancestor-chain?head_id=
func (h *ConversationHandler) GetAncestorChain(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	headID, ok := h.requiredParam(w, r, "head_id")
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.GetAncestorChainQuery{ChatScope: scope, HeadMessageID: headID})
	if !ok {
		return
	}
	res := out.(*services.ChainResult)
	common.RespondJSON(w, h.logger, http.StatusOK, ChainResponse{
		Chain:    idStrings(res.Chain),
		Messages: toMessageResponses(res.Messages),
	})
}

// GetSiblings handles GET /api/v2/chats/{chatID}/siblings?message_id=
func (h *ConversationHandler) GetSiblings(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	messageID, ok := h.requiredParam(w, r, "message_id")
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.GetSiblingsQuery{ChatScope: scope, MessageID: messageID})
	if !ok {
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, SiblingsResponse{Siblings: toMessageResponses(out.([]*entities.Message))})
}

// ListBranches handles GET /api/v2/chats/{chatID}/branches
func (h *ConversationHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.ListBranchesQuery{ChatScope: scope})
	if !ok {
		return
	}
	branches := out.([]services.BranchSummary)
	common.RespondList(w, h.logger, toBranchSummaries(branches), len(branches))
}

// ListEdits handles GET /api/v2/chats/{chatID}/edits
func (h *ConversationHandler) ListEdits(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.ListEditsQuery{ChatScope: scope})
	if !ok {
		return
	}
	edits := out.([]entities.Edit)
	common.RespondList(w, h.logger, toEditRecords(edits), len(edits))
}

// ListMessages handles GET /api/v2/chats/{chatID}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.ListMessagesQuery{ChatScope: scope})
	if !ok {
		return
	}
	msgs := out.([]*entities.Message)
	common.RespondList(w, h.logger, toMessageResponses(msgs), len(msgs))
}

// CompareBranches handles GET /api/v2/chats/{chatID}/compare?left=&right=
func (h *ConversationHandler) CompareBranches(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	left, ok := h.requiredParam(w, r, "left")
	if !ok {
		return
	}
	right, ok := h.requiredParam(w, r, "right")
	if !ok {
		return
	}
	out, ok := h.ask(w, r, queries.CompareBranchesQuery{ChatScope: scope, LeftHeadID: left, RightHeadID: right})
	if !ok {
		return
	}
	res := out.(*services.BranchComparison)
	common.RespondJSON(w, h.logger, http.StatusOK, CompareResponse{
		Left:            toBranchView(res.Left),
		Right:           toBranchView(res.Right),
		DivergenceIndex: res.DivergenceIndex,
	})
}

func (h *ConversationHandler) scope(w http.ResponseWriter, r *http.Request) (queries.ChatScope, bool) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return queries.ChatScope{}, false
	}
	return queries.ChatScope{UserID: userID, ChatID: chi.URLParam(r, "chatID")}, true
}

func (h *ConversationHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := common.ParseJSONBody(w, r, v, h.maxBodyBytes); err != nil {
		h.errors.Handle(w, r, err)
		return false
	}
	if err := utils.ValidateStruct(v); err != nil {
		h.errors.Handle(w, r, err)
		return false
	}
	return true
}

func (h *ConversationHandler) requiredParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(name+" query parameter is required").WithDetail(name, "required"))
		return "", false
	}
	return v, true
}

func (h *ConversationHandler) ask(w http.ResponseWriter, r *http.Request, q querybus.Query) (interface{}, bool) {
	out, err := h.queryBus.Ask(r.Context(), q)
	if err != nil {
		h.errors.Handle(w, r, err)
		return nil, false
	}
	return out, true
}
