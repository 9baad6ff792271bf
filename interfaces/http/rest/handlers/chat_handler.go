package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chatgraph/application/commands"
	"chatgraph/application/commands/bus"
	"chatgraph/application/queries"
	querybus "chatgraph/application/queries/bus"
	"chatgraph/domain/core/entities"
	"chatgraph/pkg/auth"
	"chatgraph/pkg/common"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/pkg/utils"
)

// ChatHandler handles chat and project lifecycle requests
type ChatHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errHandler,
		logger:     logger,
	}
}

// CreateChat handles POST /api/v2/chats
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	var req CreateChatRequest
	if err := common.ParseJSONBody(w, r, &req, 0); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.createChat(w, r, commands.CreateChatCommand{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
	})
}

func (h *ChatHandler) createChat(w http.ResponseWriter, r *http.Request, cmd commands.CreateChatCommand) {
	out, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusCreated, toChatResponse(out.(*entities.Chat)))
}

// ListChats handles GET /api/v2/chats?project_id=
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}
	h.listChats(w, r, queries.ListChatsQuery{UserID: userID, ProjectID: r.URL.Query().Get("project_id")})
}

func (h *ChatHandler) listChats(w http.ResponseWriter, r *http.Request, query queries.ListChatsQuery) {
	out, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	chats := out.([]*entities.Chat)
	common.RespondList(w, h.logger, toChatResponses(chats), len(chats))
}

// GetChat handles GET /api/v2/chats/{chatID}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	out, err := h.queryBus.Ask(r.Context(), queries.GetChatQuery{UserID: userID, ChatID: chi.URLParam(r, "chatID")})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, toChatResponse(out.(*entities.Chat)))
}

// RenameChat handles PATCH /api/v2/chats/{chatID}
func (h *ChatHandler) RenameChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	var req RenameRequest
	if err := common.ParseJSONBody(w, r, &req, 0); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.sendChatCommand(w, r, commands.RenameChatCommand{
		UserID:      userID,
		ChatID:      chi.URLParam(r, "chatID"),
		Name:        req.Name,
		Description: req.Description,
	})
}

// ArchiveChat handles POST /api/v2/chats/{chatID}/archive
func (h *ChatHandler) ArchiveChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}
	h.sendChatCommand(w, r, commands.ArchiveChatCommand{UserID: userID, ChatID: chi.URLParam(r, "chatID")})
}

// ActivateChat handles POST /api/v2/chats/{chatID}/activate
func (h *ChatHandler) ActivateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}
	h.sendChatCommand(w, r, commands.ActivateChatCommand{UserID: userID, ChatID: chi.URLParam(r, "chatID")})
}

// DeleteChat handles DELETE /api/v2/chats/{chatID}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	if _, err := h.commandBus.Send(r.Context(), commands.DeleteChatCommand{UserID: userID, ChatID: chi.URLParam(r, "chatID")}); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) sendChatCommand(w http.ResponseWriter, r *http.Request, cmd bus.Command) {
	out, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, toChatResponse(out.(*entities.Chat)))
}

// currentUser returns the authenticated caller or writes a 401
func currentUser(w http.ResponseWriter, r *http.Request, errHandler *pkgerrors.ErrorHandler) (string, bool) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		errHandler.Handle(w, r, pkgerrors.NewUnauthorizedError("Unauthorized"))
		return "", false
	}
	return user.UserID, true
}
