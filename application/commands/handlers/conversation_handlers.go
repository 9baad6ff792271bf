package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chatgraph/application/commands"
	"chatgraph/application/commands/bus"
	"chatgraph/application/services"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// ConversationCommandHandlers adapts every state-changing conversation
// operation to the command bus
type ConversationCommandHandlers struct {
	service *services.ConversationService
	logger  *zap.Logger
}

// NewConversationCommandHandlers creates the handler set
func NewConversationCommandHandlers(service *services.ConversationService, logger *zap.Logger) *ConversationCommandHandlers {
	return &ConversationCommandHandlers{service: service, logger: logger}
}

// Register binds each command type to its handler
func (h *ConversationCommandHandlers) Register(b *bus.CommandBus) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandlerFunc
	}{
		{commands.CreateChatCommand{}, h.createChat},
		{commands.ArchiveChatCommand{}, h.archiveChat},
		{commands.ActivateChatCommand{}, h.activateChat},
		{commands.DeleteChatCommand{}, h.deleteChat},
		{commands.RenameChatCommand{}, h.renameChat},
		{commands.CreateProjectCommand{}, h.createProject},
		{commands.RenameProjectCommand{}, h.renameProject},
		{commands.DeleteProjectCommand{}, h.deleteProject},
		{commands.AppendMessageCommand{}, h.appendMessage},
		{commands.EditMessageCommand{}, h.editMessage},
		{commands.RetargetBranchCommand{}, h.retargetBranch},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *ConversationCommandHandlers) createChat(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.CreateChatCommand)
	if !ok {
		return nil, unexpected(c)
	}
	in := services.CreateChatInput{
		UserID:      cmd.UserID,
		Name:        cmd.Name,
		Description: cmd.Description,
	}
	if cmd.ProjectID != "" {
		pid := valueobjects.ProjectID(cmd.ProjectID)
		in.ProjectID = &pid
	}
	return h.service.CreateChat(ctx, in)
}

func (h *ConversationCommandHandlers) renameChat(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.RenameChatCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.RenameChat(ctx, services.RenameChatInput{
		UserID:      cmd.UserID,
		ChatID:      valueobjects.ChatID(cmd.ChatID),
		Name:        cmd.Name,
		Description: cmd.Description,
	})
}

func (h *ConversationCommandHandlers) createProject(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.CreateProjectCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.CreateProject(ctx, services.CreateProjectInput{
		UserID:      cmd.UserID,
		Name:        cmd.Name,
		Description: cmd.Description,
	})
}

func (h *ConversationCommandHandlers) renameProject(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.RenameProjectCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.RenameProject(ctx, services.RenameProjectInput{
		UserID:      cmd.UserID,
		ProjectID:   valueobjects.ProjectID(cmd.ProjectID),
		Name:        cmd.Name,
		Description: cmd.Description,
	})
}

func (h *ConversationCommandHandlers) deleteProject(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.DeleteProjectCommand)
	if !ok {
		return nil, unexpected(c)
	}
	if err := h.service.DeleteProject(ctx, cmd.UserID, valueobjects.ProjectID(cmd.ProjectID)); err != nil {
		return nil, err
	}
	h.logger.Info("Project deleted",
		zap.String("projectID", cmd.ProjectID),
		zap.String("userID", cmd.UserID),
	)
	return nil, nil
}

func (h *ConversationCommandHandlers) archiveChat(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.ArchiveChatCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.ArchiveChat(ctx, cmd.UserID, valueobjects.ChatID(cmd.ChatID))
}

func (h *ConversationCommandHandlers) activateChat(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.ActivateChatCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.ActivateChat(ctx, cmd.UserID, valueobjects.ChatID(cmd.ChatID))
}

func (h *ConversationCommandHandlers) deleteChat(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.DeleteChatCommand)
	if !ok {
		return nil, unexpected(c)
	}
	if err := h.service.DeleteChat(ctx, cmd.UserID, valueobjects.ChatID(cmd.ChatID)); err != nil {
		return nil, err
	}
	h.logger.Info("Chat deleted",
		zap.String("chatID", cmd.ChatID),
		zap.String("userID", cmd.UserID),
	)
	return nil, nil
}

func (h *ConversationCommandHandlers) appendMessage(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.AppendMessageCommand)
	if !ok {
		return nil, unexpected(c)
	}
	in := services.AppendInput{
		UserID:  cmd.UserID,
		ChatID:  valueobjects.ChatID(cmd.ChatID),
		Role:    cmd.Role,
		Content: cmd.Content,
	}
	if cmd.ParentID != "" {
		in.ParentID = valueobjects.MessageID(cmd.ParentID).Ptr()
	}
	return h.service.Append(ctx, in)
}

func (h *ConversationCommandHandlers) editMessage(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.EditMessageCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.EditWithBranch(ctx, services.EditInput{
		UserID:            cmd.UserID,
		ChatID:            valueobjects.ChatID(cmd.ChatID),
		OriginalMessageID: valueobjects.MessageID(cmd.MessageID),
		NewContent:        cmd.NewContent,
	})
}

func (h *ConversationCommandHandlers) retargetBranch(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.RetargetBranchCommand)
	if !ok {
		return nil, unexpected(c)
	}
	return h.service.RetargetBranch(ctx, cmd.UserID,
		valueobjects.ChatID(cmd.ChatID),
		valueobjects.BranchID(cmd.BranchID),
		valueobjects.MessageID(cmd.HeadMessageID),
	)
}

func unexpected(c bus.Command) error {
	return pkgerrors.NewInternalError("unexpected command type").WithDetail("type", fmt.Sprintf("%T", c))
}
