package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatgraph/application/commands"
	"chatgraph/application/queries"
	"chatgraph/domain/core/entities"
	"chatgraph/pkg/common"
	"chatgraph/pkg/utils"
)

// CreateProject handles POST /api/v2/projects
func (h *ChatHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	var req CreateProjectRequest
	if err := common.ParseJSONBody(w, r, &req, 0); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	out, err := h.commandBus.Send(r.Context(), commands.CreateProjectCommand{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusCreated, toProjectResponse(out.(*entities.Project)))
}

// ListProjects handles GET /api/v2/projects
func (h *ChatHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	out, err := h.queryBus.Ask(r.Context(), queries.ListProjectsQuery{UserID: userID})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	projects := toProjectResponses(out.([]*entities.Project))
	common.RespondList(w, h.logger, projects, len(projects))
}

// GetProject handles GET /api/v2/projects/{projectID}
func (h *ChatHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	out, err := h.queryBus.Ask(r.Context(), queries.GetProjectQuery{UserID: userID, ProjectID: chi.URLParam(r, "projectID")})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, toProjectResponse(out.(*entities.Project)))
}

// RenameProject handles PATCH /api/v2/projects/{projectID}
func (h *ChatHandler) RenameProject(w http.ResponseWriter, r *http.Request) {
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

	out, err := h.commandBus.Send(r.Context(), commands.RenameProjectCommand{
		UserID:      userID,
		ProjectID:   chi.URLParam(r, "projectID"),
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, h.logger, http.StatusOK, toProjectResponse(out.(*entities.Project)))
}

// DeleteProject handles DELETE /api/v2/projects/{projectID}
func (h *ChatHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}

	if _, err := h.commandBus.Send(r.Context(), commands.DeleteProjectCommand{UserID: userID, ProjectID: chi.URLParam(r, "projectID")}); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProjectChats handles GET /api/v2/projects/{projectID}/chats
func (h *ChatHandler) ListProjectChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.errors)
	if !ok {
		return
	}
	h.listChats(w, r, queries.ListChatsQuery{UserID: userID, ProjectID: chi.URLParam(r, "projectID")})
}

// CreateProjectChat handles POST /api/v2/projects/{projectID}/chats
func (h *ChatHandler) CreateProjectChat(w http.ResponseWriter, r *http.Request) {
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
		ProjectID:   chi.URLParam(r, "projectID"),
	})
}
