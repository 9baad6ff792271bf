package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgraph/application/queries"
	"chatgraph/application/queries/bus"
	"chatgraph/application/services"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/infrastructure/persistence/memory"
	pkgerrors "chatgraph/pkg/errors"
)

const owner = "user-1"

func TestConversationQueries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	logger := zap.NewNop()
	svc := services.NewConversationService(
		store,
		services.NewOwnershipAuthorizer(store, logger),
		services.NewChatLocks(time.Second),
		nil, nil, nil, nil, nil,
		logger,
	)
	b := bus.NewQueryBus(bus.LoggingMiddleware(logger))
	require.NoError(t, NewConversationQueryHandlers(svc).Register(b))

	chat, err := svc.CreateChat(ctx, services.CreateChatInput{UserID: owner, Name: "q"})
	require.NoError(t, err)
	chatID := chat.ID()
	scope := queries.ChatScope{UserID: owner, ChatID: chatID.String()}

	add := func(role, text string) valueobjects.MessageID {
		res, err := svc.Append(ctx, services.AppendInput{UserID: owner, ChatID: chatID, Role: role, Content: text})
		require.NoError(t, err)
		return res.Message.ID()
	}
	id1 := add("user", "hi")
	id2 := add("assistant", "hello")
	id3 := add("user", "weather?")
	edit, err := svc.EditWithBranch(ctx, services.EditInput{UserID: owner, ChatID: chatID, OriginalMessageID: id3, NewContent: "time?"})
	require.NoError(t, err)
	id4 := edit.NewMessage.ID()

	out, err := b.Ask(ctx, queries.GetChatQuery{UserID: owner, ChatID: chatID.String()})
	require.NoError(t, err)
	assert.Equal(t, "q", out.(*entities.Chat).Name())

	out, err = b.Ask(ctx, queries.ListChatsQuery{UserID: owner})
	require.NoError(t, err)
	assert.Len(t, out.([]*entities.Chat), 1)

	out, err = b.Ask(ctx, queries.GetGraphQuery{ChatScope: scope})
	require.NoError(t, err)
	assert.Equal(t, 4, out.(*aggregates.Graph).Len())

	out, err = b.Ask(ctx, queries.GetHeadsQuery{ChatScope: scope})
	require.NoError(t, err)
	assert.ElementsMatch(t, []valueobjects.MessageID{id3, id4}, out.([]valueobjects.MessageID))

	out, err = b.Ask(ctx, queries.GetAncestorChainQuery{ChatScope: scope, HeadMessageID: id4.String()})
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.MessageID{id1, id2, id4}, out.(*services.ChainResult).Chain)

	out, err = b.Ask(ctx, queries.GetSiblingsQuery{ChatScope: scope, MessageID: id3.String()})
	require.NoError(t, err)
	assert.Len(t, out.([]*entities.Message), 2)

	out, err = b.Ask(ctx, queries.ListBranchesQuery{ChatScope: scope})
	require.NoError(t, err)
	assert.Len(t, out.([]services.BranchSummary), 2)

	out, err = b.Ask(ctx, queries.ListEditsQuery{ChatScope: scope})
	require.NoError(t, err)
	assert.Len(t, out.([]entities.Edit), 1)

	out, err = b.Ask(ctx, queries.ListMessagesQuery{ChatScope: scope})
	require.NoError(t, err)
	assert.Len(t, out.([]*entities.Message), 4)

	out, err = b.Ask(ctx, queries.CompareBranchesQuery{ChatScope: scope, LeftHeadID: id3.String(), RightHeadID: id4.String()})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(*services.BranchComparison).DivergenceIndex)

	_, err = b.Ask(ctx, queries.GetChatQuery{UserID: "intruder", ChatID: chatID.String()})
	assert.True(t, pkgerrors.IsUnknownChat(err), "foreign chats look missing")

	_, err = b.Ask(ctx, queries.GetSiblingsQuery{ChatScope: scope})
	assert.True(t, pkgerrors.IsValidation(err))
}
