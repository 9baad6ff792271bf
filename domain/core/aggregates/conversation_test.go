package aggregates

import (
	"testing"
	"time"

	"chatgraph/domain/config"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
	pkgerrors "chatgraph/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMsg(t *testing.T, chatID valueobjects.ChatID, role valueobjects.Role, text string) *entities.Message {
	t.Helper()
	content, err := valueobjects.NewMessageContent(text)
	require.NoError(t, err)
	msg, err := entities.NewMessage(chatID, role, content, testNow)
	require.NoError(t, err)
	return msg
}

func appendMsg(t *testing.T, c *Conversation, role valueobjects.Role, text string, parent *valueobjects.MessageID) AppendOutcome {
	t.Helper()
	out, err := c.Append(newMsg(t, c.ChatID(), role, text), parent, testNow)
	require.NoError(t, err)
	return out
}

func TestConversation_AppendScenarios(t *testing.T) {
	chatID := valueobjects.NewChatID()
	c := NewConversation(chatID, config.DefaultDomainConfig())

	// empty chat: first message is a root with its own branch
	first := appendMsg(t, c, valueobjects.RoleUser, "hi", nil)
	m1 := first.Message.ID()
	assert.True(t, first.BranchCreated)
	assert.Nil(t, first.ParentID)
	assert.Equal(t, []valueobjects.MessageID{m1}, c.Heads())
	require.Len(t, c.Branches(), 1)
	assert.True(t, c.Branches()[0].HasHead(m1))

	node, _ := c.Graph().Node(m1)
	assert.Nil(t, node.Parent)
	assert.Empty(t, node.Children)

	// reply continues the active branch
	second := appendMsg(t, c, valueobjects.RoleAssistant, "hello", nil)
	m2 := second.Message.ID()
	assert.False(t, second.BranchCreated)
	assert.Equal(t, first.Branch.ID, second.Branch.ID)
	require.NotNil(t, second.ParentID)
	assert.Equal(t, m1, *second.ParentID)
	assert.Equal(t, []valueobjects.MessageID{m2}, c.Heads())

	node, _ = c.Graph().Node(m1)
	assert.Equal(t, []valueobjects.MessageID{m2}, node.Children)
	require.Len(t, c.Branches(), 1)
	assert.True(t, c.Branches()[0].HasHead(m2))
}

func TestConversation_AppendExplicitParent(t *testing.T) {
	c := NewConversation(valueobjects.NewChatID(), nil)
	m1 := appendMsg(t, c, valueobjects.RoleUser, "q", nil).Message.ID()
	appendMsg(t, c, valueobjects.RoleAssistant, "a", nil)

	t.Run("interior parent opens a new branch", func(t *testing.T) {
		out := appendMsg(t, c, valueobjects.RoleAssistant, "a2", m1.Ptr())
		assert.True(t, out.BranchCreated)
		assert.Len(t, c.Branches(), 2)

		active, ok := c.ActiveBranch()
		require.True(t, ok)
		assert.Equal(t, out.Branch.ID, active.ID)
	})

	t.Run("unknown parent fails without changes", func(t *testing.T) {
		before := c.Graph().Len()
		_, err := c.Append(newMsg(t, c.ChatID(), valueobjects.RoleUser, "x"), valueobjects.MessageID("missing").Ptr(), testNow)
		assert.True(t, pkgerrors.IsUnknownMessage(err))
		assert.Equal(t, before, c.Graph().Len())
		assert.Len(t, c.Branches(), 2)
	})

	t.Run("message from another chat is rejected", func(t *testing.T) {
		_, err := c.Append(newMsg(t, valueobjects.NewChatID(), valueobjects.RoleUser, "x"), nil, testNow)
		assert.True(t, pkgerrors.IsInvalidReference(err))
	})
}

func TestConversation_EditWithBranch(t *testing.T) {
	c := NewConversation(valueobjects.NewChatID(), nil)
	first := appendMsg(t, c, valueobjects.RoleUser, "hi", nil)
	m1 := first.Message
	m2 := appendMsg(t, c, valueobjects.RoleAssistant, "hello", nil).Message.ID()

	content, err := valueobjects.NewMessageContent("hi v2")
	require.NoError(t, err)
	edited := entities.NewEditedMessage(m1, content, testNow)

	out, err := c.EditWithBranch(m1, edited, testNow)
	require.NoError(t, err)
	m3 := out.NewMessage.ID()

	assert.Equal(t, valueobjects.RoleUser, out.NewMessage.Role())
	assert.Equal(t, entities.MessageStatusEdited, out.NewMessage.Status())
	require.NotNil(t, out.NewMessage.OriginalMessageID())
	assert.Equal(t, m1.ID(), *out.NewMessage.OriginalMessageID())

	node, _ := c.Graph().Node(m3)
	assert.Nil(t, node.Parent)
	assert.Empty(t, node.Children)
	assert.Equal(t, []valueobjects.MessageID{m2, m3}, c.Heads())

	require.Len(t, c.Branches(), 2)
	assert.True(t, out.NewBranch.HasHead(m3))
	active, _ := c.ActiveBranch()
	assert.Equal(t, out.NewBranch.ID, active.ID)

	require.Len(t, c.Edits(), 1)
	rec := c.Edits()[0]
	assert.Equal(t, m1.ID(), rec.PrevMessageID)
	assert.Equal(t, m3, rec.NewMessageID)
	assert.Equal(t, m3, rec.NewHeadID)
	assert.Equal(t, out.NewBranch.ID, rec.BranchID)

	require.NotNil(t, out.OriginalBranch)
	assert.Equal(t, first.Branch.ID, out.OriginalBranch.ID)

	for _, id := range []valueobjects.MessageID{m1.ID(), m3} {
		siblings, err := c.Siblings(id)
		require.NoError(t, err)
		assert.Equal(t, []valueobjects.MessageID{m1.ID(), m3}, siblings)
	}

	// both branches stay traversable
	chain, err := c.AncestorChain(m2)
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.MessageID{m1.ID(), m2}, chain)
	chain, err = c.AncestorChain(m3)
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.MessageID{m3}, chain)
}

func TestConversation_EditAssistantMessageIsRejected(t *testing.T) {
	c := NewConversation(valueobjects.NewChatID(), nil)
	appendMsg(t, c, valueobjects.RoleUser, "hi", nil)
	reply := appendMsg(t, c, valueobjects.RoleAssistant, "hello", nil).Message
	c.MarkCommitted()

	graphBefore, err := EncodeGraph(c.Graph())
	require.NoError(t, err)
	branchesBefore := c.Branches()

	content, _ := valueobjects.NewMessageContent("rewrite")
	_, err = c.EditWithBranch(reply, entities.NewEditedMessage(reply, content, testNow), testNow)
	assert.True(t, pkgerrors.IsNotEditable(err))

	graphAfter, err := EncodeGraph(c.Graph())
	require.NoError(t, err)
	assert.Equal(t, string(graphBefore), string(graphAfter))
	assert.Equal(t, branchesBefore, c.Branches())
	assert.Empty(t, c.Edits())
	assert.True(t, c.Changes().IsEmpty())
}

func TestConversation_EditUnknownMessage(t *testing.T) {
	c := NewConversation(valueobjects.NewChatID(), nil)
	stranger := newMsg(t, c.ChatID(), valueobjects.RoleUser, "never appended")
	content, _ := valueobjects.NewMessageContent("v2")

	_, err := c.EditWithBranch(stranger, entities.NewEditedMessage(stranger, content, testNow), testNow)
	assert.True(t, pkgerrors.IsUnknownMessage(err))
}

func TestConversation_RetargetBranch(t *testing.T) {
	c := NewConversation(valueobjects.NewChatID(), nil)
	first := appendMsg(t, c, valueobjects.RoleUser, "hi", nil)
	second := appendMsg(t, c, valueobjects.RoleAssistant, "hello", nil)

	b, err := c.RetargetBranch(first.Branch.ID, first.Message.ID(), testNow)
	require.NoError(t, err)
	assert.True(t, b.HasHead(first.Message.ID()))

	// the next append without a parent follows the moved head
	out := appendMsg(t, c, valueobjects.RoleAssistant, "again", nil)
	assert.Equal(t, first.Message.ID(), *out.ParentID)
	siblings, _ := c.Siblings(second.Message.ID())
	assert.Len(t, siblings, 2)

	_, err = c.RetargetBranch(valueobjects.NewBranchID(), first.Message.ID(), testNow)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnknownBranch))

	_, err = c.RetargetBranch(first.Branch.ID, valueobjects.MessageID("missing"), testNow)
	assert.True(t, pkgerrors.IsUnknownMessage(err))
}

func TestConversation_ChangesetAndVersion(t *testing.T) {
	c := NewConversation(valueobjects.NewChatID(), nil)
	assert.True(t, c.Changes().IsEmpty())

	appendMsg(t, c, valueobjects.RoleUser, "hi", nil)
	appendMsg(t, c, valueobjects.RoleAssistant, "hello", nil)

	cs := c.Changes()
	assert.Equal(t, int64(0), cs.ExpectedVersion)
	assert.Equal(t, int64(1), cs.Version)
	assert.Len(t, cs.Messages, 2)
	assert.Len(t, cs.Branches, 1, "the same branch is written once")
	assert.Equal(t, cs.Branches[0].ID, cs.ActiveBranchID)

	var types []string
	for _, e := range cs.Events {
		types = append(types, e.GetEventType())
	}
	assert.Equal(t, []string{
		events.TypeBranchCreated, events.TypeMessageAppended,
		events.TypeBranchRetargeted, events.TypeMessageAppended,
	}, types)

	c.MarkCommitted()
	assert.Equal(t, int64(1), c.Version())
	assert.True(t, c.Changes().IsEmpty())
	assert.Empty(t, c.GetUncommittedEvents())
}

func TestConversation_Limits(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	cfg.MaxMessagesPerChat = 1
	c := NewConversation(valueobjects.NewChatID(), cfg)
	appendMsg(t, c, valueobjects.RoleUser, "only", nil)

	_, err := c.Append(newMsg(t, c.ChatID(), valueobjects.RoleUser, "one too many"), nil, testNow)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestReconstructConversation(t *testing.T) {
	chatID := valueobjects.NewChatID()

	t.Run("restores order and sequence counters", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""}, [2]string{"m2", "m1"}, [2]string{"m3", ""})
		branches := []entities.Branch{
			{ID: "b2", ChatID: chatID, HeadMessageID: ptr("m3"), Seq: 2},
			{ID: "b1", ChatID: chatID, HeadMessageID: ptr("m2"), Seq: 1},
		}
		c, err := ReconstructConversation(chatID, g, branches, "b1", nil, 7, nil)
		require.NoError(t, err)

		listed := c.Branches()
		assert.Equal(t, valueobjects.BranchID("b1"), listed[0].ID)
		assert.Equal(t, valueobjects.BranchID("b2"), listed[1].ID)
		assert.Equal(t, int64(7), c.Version())

		out := appendMsg(t, c, valueobjects.RoleUser, "new root branch", valueobjects.MessageID("m1").Ptr())
		assert.Equal(t, int64(3), out.Branch.Seq)
	})

	t.Run("branch pointing outside the graph is corruption", func(t *testing.T) {
		g := mustBuild(t, [2]string{"m1", ""})
		branches := []entities.Branch{{ID: "b1", ChatID: chatID, HeadMessageID: ptr("ghost"), Seq: 1}}
		_, err := ReconstructConversation(chatID, g, branches, "b1", nil, 1, nil)
		assert.True(t, pkgerrors.IsGraphCorrupt(err))
	})
}

func TestCompareChains(t *testing.T) {
	g := mustBuild(t,
		[2]string{"m1", ""},
		[2]string{"m2", "m1"},
		[2]string{"m3", "m2"},
		[2]string{"m4", "m1"},
	)

	cmp, err := CompareChains(g, id("m3"), id("m4"))
	require.NoError(t, err)
	assert.Equal(t, ids("m1", "m2", "m3"), cmp.Left)
	assert.Equal(t, ids("m1", "m4"), cmp.Right)
	assert.Equal(t, 1, cmp.DivergenceIndex)

	same, err := CompareChains(g, id("m3"), id("m3"))
	require.NoError(t, err)
	assert.True(t, same.Identical())

	prefix, err := CompareChains(g, id("m2"), id("m3"))
	require.NoError(t, err)
	assert.Equal(t, 2, prefix.DivergenceIndex)

	_, err = CompareChains(g, id("m3"), id("nope"))
	assert.True(t, pkgerrors.IsUnknownMessage(err))
}
