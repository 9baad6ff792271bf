// Package storetest holds behaviour checks shared by every ports.Store implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgraph/application/ports"
	"chatgraph/domain/config"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/tests/fixtures"
)

// Run exercises a store produced by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("ChatLifecycle", func(t *testing.T) { testChatLifecycle(t, newStore(t)) })
	t.Run("CommitAndLoad", func(t *testing.T) { testCommitAndLoad(t, newStore(t)) })
	t.Run("EditRoundTrip", func(t *testing.T) { testEditRoundTrip(t, newStore(t)) })
	t.Run("StaleCommitIsRejected", func(t *testing.T) { testStaleCommit(t, newStore(t)) })
	t.Run("UnknownChat", func(t *testing.T) { testUnknownChat(t, newStore(t)) })
	t.Run("RenameChat", func(t *testing.T) { testRenameChat(t, newStore(t)) })
	t.Run("Projects", func(t *testing.T) { testProjects(t, newStore(t)) })
}

func testChatLifecycle(t *testing.T, s ports.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	chat := fixtures.NewChatBuilder().WithOwner("alice").Build()
	require.NoError(t, s.CreateChat(ctx, chat))

	got, err := s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, chat.Name(), got.Name())
	assert.Equal(t, "alice", got.OwnerID())
	assert.True(t, chat.CreatedAt().Equal(got.CreatedAt()))

	require.NoError(t, got.Archive(fixtures.FixedTime.Add(1)))
	require.NoError(t, s.UpdateChat(ctx, got))
	got, err = s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, entities.ChatStatusArchived, got.Status())

	chats, err := s.ListChatsByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
	chats, err = s.ListChatsByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, chats)

	require.NoError(t, s.DeleteChat(ctx, chat.ID()))
	_, err = s.GetChat(ctx, chat.ID())
	assert.True(t, pkgerrors.IsUnknownChat(err))
	_, err = s.LoadConversation(ctx, chat.ID())
	assert.True(t, pkgerrors.IsUnknownChat(err))
	assert.True(t, pkgerrors.IsUnknownChat(s.DeleteChat(ctx, chat.ID())))
}

func testCommitAndLoad(t *testing.T, s ports.Store) {
	ctx := context.Background()
	chat := fixtures.NewChatBuilder().Build()
	require.NoError(t, s.CreateChat(ctx, chat))

	state, err := s.LoadConversation(ctx, chat.ID())
	require.NoError(t, err)
	assert.True(t, state.Graph.IsEmpty())
	assert.Equal(t, int64(0), state.Version)
	assert.Empty(t, state.Branches)

	conv := aggregates.NewConversation(chat.ID(), config.DefaultDomainConfig())
	m1 := fixtures.NewMessageBuilder().WithChatID(chat.ID()).WithContent("hi").MustBuild()
	_, err = conv.Append(m1, nil, fixtures.FixedTime)
	require.NoError(t, err)
	m2 := fixtures.NewMessageBuilder().WithChatID(chat.ID()).WithRole(valueobjects.RoleAssistant).WithContent("hello").MustBuild()
	_, err = conv.Append(m2, nil, fixtures.FixedTime)
	require.NoError(t, err)

	require.NoError(t, s.CommitConversation(ctx, conv.Changes()))
	conv.MarkCommitted()

	state, err = s.LoadConversation(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, []valueobjects.MessageID{m1.ID(), m2.ID()}, state.Graph.Keys())
	node, ok := state.Graph.Node(m1.ID())
	require.True(t, ok)
	assert.Equal(t, []valueobjects.MessageID{m2.ID()}, node.Children)
	require.Len(t, state.Branches, 1)
	assert.True(t, state.Branches[0].HasHead(m2.ID()))
	assert.Equal(t, state.Branches[0].ID, state.ActiveBranchID)

	// a second commit on top of the first
	m3 := fixtures.NewMessageBuilder().WithChatID(chat.ID()).WithContent("more").MustBuild()
	_, err = conv.Append(m3, nil, fixtures.FixedTime)
	require.NoError(t, err)
	require.NoError(t, s.CommitConversation(ctx, conv.Changes()))

	state, err = s.LoadConversation(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)
	require.Len(t, state.Branches, 1)
	assert.True(t, state.Branches[0].HasHead(m3.ID()))

	msgs, err := s.ListMessages(ctx, chat.ID())
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, m1.ID(), msgs[0].ID())
	assert.Equal(t, "hello", msgs[1].Content().Text())
	assert.Equal(t, valueobjects.RoleAssistant, msgs[1].Role())

	found, err := s.GetMessages(ctx, chat.ID(), []valueobjects.MessageID{m2.ID(), valueobjects.NewMessageID()})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, m2.ID())

	_, err = s.GetMessage(ctx, chat.ID(), valueobjects.NewMessageID())
	assert.True(t, pkgerrors.IsUnknownMessage(err))

	updated, err := s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt().After(chat.UpdatedAt()))
}

func testEditRoundTrip(t *testing.T, s ports.Store) {
	ctx := context.Background()
	chat := fixtures.NewChatBuilder().Build()
	require.NoError(t, s.CreateChat(ctx, chat))

	conv := aggregates.NewConversation(chat.ID(), nil)
	original := fixtures.NewMessageBuilder().WithChatID(chat.ID()).WithContent("hi").MustBuild()
	_, err := conv.Append(original, nil, fixtures.FixedTime)
	require.NoError(t, err)
	require.NoError(t, s.CommitConversation(ctx, conv.Changes()))
	conv.MarkCommitted()

	content, err := valueobjects.NewMessageContent("hey")
	require.NoError(t, err)
	edited := entities.NewEditedMessage(original, content, fixtures.FixedTime)
	out, err := conv.EditWithBranch(original, edited, fixtures.FixedTime)
	require.NoError(t, err)
	require.NoError(t, s.CommitConversation(ctx, conv.Changes()))

	state, err := s.LoadConversation(ctx, chat.ID())
	require.NoError(t, err)
	require.Len(t, state.Edits, 1)
	assert.Equal(t, out.Edit.ID, state.Edits[0].ID)
	assert.Equal(t, original.ID(), state.Edits[0].PrevMessageID)
	assert.Equal(t, edited.ID(), state.Edits[0].NewMessageID)
	require.Len(t, state.Branches, 2)
	assert.Equal(t, out.NewBranch.ID, state.Branches[1].ID)
	assert.Equal(t, out.NewBranch.ID, state.ActiveBranchID)

	restored, err := s.GetMessage(ctx, chat.ID(), edited.ID())
	require.NoError(t, err)
	assert.Equal(t, entities.MessageStatusEdited, restored.Status())
	require.NotNil(t, restored.OriginalMessageID())
	assert.Equal(t, original.ID(), *restored.OriginalMessageID())

	_, err = aggregates.ReconstructConversation(chat.ID(), state.Graph, state.Branches, state.ActiveBranchID,
		state.Edits, state.Version, config.DefaultDomainConfig())
	require.NoError(t, err)
}

func testStaleCommit(t *testing.T, s ports.Store) {
	ctx := context.Background()
	chat := fixtures.NewChatBuilder().Build()
	require.NoError(t, s.CreateChat(ctx, chat))

	first := aggregates.NewConversation(chat.ID(), nil)
	second := aggregates.NewConversation(chat.ID(), nil)

	_, err := first.Append(fixtures.NewMessageBuilder().WithChatID(chat.ID()).MustBuild(), nil, fixtures.FixedTime)
	require.NoError(t, err)
	_, err = second.Append(fixtures.NewMessageBuilder().WithChatID(chat.ID()).MustBuild(), nil, fixtures.FixedTime)
	require.NoError(t, err)

	require.NoError(t, s.CommitConversation(ctx, first.Changes()))
	err = s.CommitConversation(ctx, second.Changes())
	assert.True(t, pkgerrors.IsConcurrencyConflict(err), "unexpected error: %v", err)

	state, err := s.LoadConversation(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, state.Graph.Len())
	assert.Len(t, state.Branches, 1)
	msgs, err := s.ListMessages(ctx, chat.ID())
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testUnknownChat(t *testing.T, s ports.Store) {
	ctx := context.Background()
	ghost := valueobjects.NewChatID()

	_, err := s.GetChat(ctx, ghost)
	assert.True(t, pkgerrors.IsUnknownChat(err))

	conv := aggregates.NewConversation(ghost, nil)
	_, err = conv.Append(fixtures.NewMessageBuilder().WithChatID(ghost).MustBuild(), nil, fixtures.FixedTime)
	require.NoError(t, err)
	assert.True(t, pkgerrors.IsUnknownChat(s.CommitConversation(ctx, conv.Changes())))

	_, err = s.ListMessages(ctx, ghost)
	assert.True(t, pkgerrors.IsUnknownChat(err))
}

func testRenameChat(t *testing.T, s ports.Store) {
	ctx := context.Background()
	chat := fixtures.NewChatBuilder().WithDescription("first").Build()
	require.NoError(t, s.CreateChat(ctx, chat))

	got, err := s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description())
	assert.Nil(t, got.ProjectID())

	description := "second"
	require.NoError(t, got.Rename("Renamed", &description, nil, fixtures.FixedTime.Add(1)))
	require.NoError(t, s.UpdateChat(ctx, got))

	got, err = s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name())
	assert.Equal(t, "second", got.Description())
	assert.True(t, fixtures.FixedTime.Add(1).Equal(got.UpdatedAt()))
}

func testProjects(t *testing.T, s ports.Store) {
	ctx := context.Background()
	project := fixtures.NewProjectBuilder().WithOwner("alice").WithName("Research").Build()
	require.NoError(t, s.CreateProject(ctx, project))
	assert.True(t, pkgerrors.IsConcurrencyConflict(s.CreateProject(ctx, project)))

	got, err := s.GetProject(ctx, project.ID())
	require.NoError(t, err)
	assert.Equal(t, "Research", got.Name())
	assert.Equal(t, "alice", got.OwnerID())

	projects, err := s.ListProjectsByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	projects, err = s.ListProjectsByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, projects)

	inside := fixtures.NewChatBuilder().WithOwner("alice").InProject(project.ID()).Build()
	outside := fixtures.NewChatBuilder().WithOwner("alice").Build()
	require.NoError(t, s.CreateChat(ctx, inside))
	require.NoError(t, s.CreateChat(ctx, outside))

	orphan := fixtures.NewChatBuilder().WithOwner("alice").InProject(valueobjects.NewProjectID()).Build()
	assert.True(t, pkgerrors.IsUnknownProject(s.CreateChat(ctx, orphan)))

	chats, err := s.ListChatsInProject(ctx, "alice", project.ID())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, inside.ID(), chats[0].ID())
	require.NotNil(t, chats[0].ProjectID())
	assert.Equal(t, project.ID(), *chats[0].ProjectID())

	chats, err = s.ListChatsByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, chats, 2)

	description := "papers"
	require.NoError(t, got.Rename("Reading", &description, nil, fixtures.FixedTime.Add(1)))
	require.NoError(t, s.UpdateProject(ctx, got))
	got, err = s.GetProject(ctx, project.ID())
	require.NoError(t, err)
	assert.Equal(t, "Reading", got.Name())
	assert.Equal(t, "papers", got.Description())

	require.NoError(t, s.DeleteProject(ctx, project.ID()))
	_, err = s.GetProject(ctx, project.ID())
	assert.True(t, pkgerrors.IsUnknownProject(err))
	_, err = s.GetChat(ctx, inside.ID())
	assert.True(t, pkgerrors.IsUnknownChat(err))
	_, err = s.GetChat(ctx, outside.ID())
	assert.NoError(t, err)
	assert.True(t, pkgerrors.IsUnknownProject(s.DeleteProject(ctx, project.ID())))
	assert.True(t, pkgerrors.IsUnknownProject(s.UpdateProject(ctx, got)))
}
