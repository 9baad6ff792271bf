package services

import (
	"context"

	"go.uber.org/zap"

	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
	pkgerrors "chatgraph/pkg/errors"
)

// Projects

// CreateProject creates a project owned by in.UserID
func (s *ConversationService) CreateProject(ctx context.Context, in CreateProjectInput) (*entities.Project, error) {
	var project *entities.Project
	err := s.observe(ctx, "CreateProject", func(ctx context.Context) error {
		p, err := entities.NewProject(in.UserID, in.Name, in.Description, s.cfg, s.clock())
		if err != nil {
			return err
		}
		if err := s.store.CreateProject(ctx, p); err != nil {
			return err
		}
		s.logger.Debug("Project created",
			zap.String("projectID", p.ID().String()),
			zap.String("userID", in.UserID),
		)
		project = p
		return nil
	})
	return project, err
}

// GetProject returns a project owned by userID
func (s *ConversationService) GetProject(ctx context.Context, userID string, projectID valueobjects.ProjectID) (*entities.Project, error) {
	return s.resolveOwnedProject(ctx, userID, projectID)
}

// ListProjects returns userID's projects, most recently updated first
func (s *ConversationService) ListProjects(ctx context.Context, userID string) ([]*entities.Project, error) {
	if userID == "" {
		return nil, pkgerrors.NewUnauthorizedError("user is required")
	}
	return s.store.ListProjectsByOwner(ctx, userID)
}

// RenameProject replaces a project's name and, when given, its description
func (s *ConversationService) RenameProject(ctx context.Context, in RenameProjectInput) (*entities.Project, error) {
	var project *entities.Project
	err := s.observe(ctx, "RenameProject", func(ctx context.Context) error {
		p, err := s.resolveOwnedProject(ctx, in.UserID, in.ProjectID)
		if err != nil {
			return err
		}
		if err := p.Rename(in.Name, in.Description, s.cfg, s.clock()); err != nil {
			return err
		}
		if err := s.store.UpdateProject(ctx, p); err != nil {
			return err
		}
		project = p
		return nil
	})
	return project, err
}

// DeleteProject removes a project and every chat in it. Each chat is deleted
// inside its exclusive section so no mutation is in flight when it goes.
func (s *ConversationService) DeleteProject(ctx context.Context, userID string, projectID valueobjects.ProjectID) error {
	return s.observe(ctx, "DeleteProject", func(ctx context.Context) error {
		if _, err := s.resolveOwnedProject(ctx, userID, projectID); err != nil {
			return err
		}
		chats, err := s.store.ListChatsInProject(ctx, userID, projectID)
		if err != nil {
			return err
		}

		var deleted []events.DomainEvent
		for _, chat := range chats {
			if err := s.deleteChatLocked(ctx, chat.ID()); err != nil {
				return err
			}
			deleted = append(deleted, events.NewChatDeleted(chat.ID(), userID, s.clock()))
		}
		// Chats created after the listing are removed by the store's cascade.
		if err := s.store.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		s.publish(ctx, deleted)

		s.logger.Info("Project deleted",
			zap.String("projectID", projectID.String()),
			zap.Int("chatsRemoved", len(chats)),
		)
		return nil
	})
}

func (s *ConversationService) deleteChatLocked(ctx context.Context, chatID valueobjects.ChatID) error {
	release, err := s.locker.Acquire(ctx, chatID, true)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.DeleteChat(ctx, chatID); err != nil && !pkgerrors.IsUnknownChat(err) {
		return err
	}
	return nil
}

// resolveOwnedProject reports a missing project and one owned by someone else
// the same way, as UnknownProject.
func (s *ConversationService) resolveOwnedProject(ctx context.Context, userID string, projectID valueobjects.ProjectID) (*entities.Project, error) {
	if userID == "" {
		return nil, pkgerrors.NewUnauthorizedError("user is required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsOwnedBy(userID) {
		return nil, pkgerrors.NewUnknownProjectError(projectID.String())
	}
	return project, nil
}
