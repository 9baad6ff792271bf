package services

import (
	"context"

	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// OwnershipAuthorizer resolves chats that belong to the calling user
type OwnershipAuthorizer struct {
	chats  ports.ChatRepository
	logger *zap.Logger
}

// NewOwnershipAuthorizer creates an authorizer backed by the chat repository
func NewOwnershipAuthorizer(chats ports.ChatRepository, logger *zap.Logger) *OwnershipAuthorizer {
	return &OwnershipAuthorizer{chats: chats, logger: logger}
}

// ResolveOwnedChat returns the chat when userID owns it. A foreign chat is
// reported exactly like a missing one so ids cannot be enumerated.
func (a *OwnershipAuthorizer) ResolveOwnedChat(ctx context.Context, userID string, chatID valueobjects.ChatID) (*entities.Chat, error) {
	if userID == "" {
		return nil, pkgerrors.NewUnauthorizedError("user is required")
	}
	chat, err := a.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsOwnedBy(userID) {
		a.logger.Warn("Chat access denied",
			zap.String("chatID", chatID.String()),
			zap.String("userID", userID),
		)
		return nil, pkgerrors.NewUnknownChatError(chatID.String())
	}
	return chat, nil
}
