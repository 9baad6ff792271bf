package dynamodb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgraph/domain/config"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/tests/fixtures"
)

const testTable = "chatgraph-test"

// mockAPI is a testify mock of the DynamoDB client
type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockAPI) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.BatchGetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.BatchWriteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

func (m *mockAPI) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DescribeTableOutput)
	return out, args.Error(1)
}

var _ API = (*mockAPI)(nil)

// appendChangeset builds the changeset of a first append to an empty chat
func appendChangeset(t *testing.T, chatID valueobjects.ChatID) aggregates.Changeset {
	t.Helper()
	conv := aggregates.NewConversation(chatID, config.DefaultDomainConfig())
	msg := fixtures.NewMessageBuilder().WithChatID(chatID).WithContent("hi").MustBuild()
	_, err := conv.Append(msg, nil, fixtures.FixedTime)
	require.NoError(t, err)
	return conv.Changes()
}

func metaOutput(t *testing.T, chat *entities.Chat, version int64) *dynamodb.GetItemOutput {
	t.Helper()
	item := newChatItem(chat)
	item.Version = version
	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	return &dynamodb.GetItemOutput{Item: av}
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, code := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	return &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled"),
		CancellationReasons: reasons,
	}
}

func TestStore_CommitWritesOneTransaction(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	chatID := valueobjects.NewChatID()
	cs := appendChangeset(t, chatID)

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, store.CommitConversation(context.Background(), cs))

	require.NotNil(t, captured)
	// META update, one message, one branch
	require.Len(t, captured.TransactItems, 3)
	meta := captured.TransactItems[0].Update
	require.NotNil(t, meta)
	assert.Equal(t, chatPK(chatID), meta.Key["PK"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, skMeta, meta.Key["SK"].(*types.AttributeValueMemberS).Value)
	assert.NotNil(t, meta.ConditionExpression)

	msgPut := captured.TransactItems[1].Put
	require.NotNil(t, msgPut)
	assert.NotNil(t, msgPut.ConditionExpression, "messages are insert-only")
	branchPut := captured.TransactItems[2].Put
	require.NotNil(t, branchPut)
	assert.Nil(t, branchPut.ConditionExpression, "branch pointers are overwritten")
	api.AssertExpectations(t)
}

func TestStore_CommitWithOutboxAddsEventRecords(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop(), WithOutbox())
	cs := appendChangeset(t, valueobjects.NewChatID())
	require.NotEmpty(t, cs.Events)

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, store.CommitConversation(context.Background(), cs))
	require.Len(t, captured.TransactItems, 3+len(cs.Events))

	for _, item := range captured.TransactItems[3:] {
		var record OutboxRecord
		require.NoError(t, attributevalue.UnmarshalMap(item.Put.Item, &record))
		assert.Equal(t, "OUTBOX#"+cs.ChatID.String(), record.PK)
		assert.Equal(t, string(PublishStatusPending), record.PublishStatus)
		assert.Equal(t, pendingMarker, record.PendingPK)
		assert.NotEmpty(t, record.Payload)
	}
}

func TestStore_CommitErrorMapping(t *testing.T) {
	chat := fixtures.NewChatBuilder().Build()

	tests := []struct {
		name    string
		err     error
		meta    *dynamodb.GetItemOutput
		checkFn func(error) bool
	}{
		{
			name:    "stale version",
			err:     cancelled("ConditionalCheckFailed", "None", "None"),
			meta:    metaOutput(t, chat, 7),
			checkFn: pkgerrors.IsConcurrencyConflict,
		},
		{
			name:    "chat deleted",
			err:     cancelled("ConditionalCheckFailed", "None", "None"),
			meta:    &dynamodb.GetItemOutput{},
			checkFn: pkgerrors.IsUnknownChat,
		},
		{
			name:    "message already stored",
			err:     cancelled("None", "ConditionalCheckFailed", "None"),
			checkFn: pkgerrors.IsInvalidReference,
		},
		{
			name:    "throttled transaction",
			err:     cancelled("None", "ThrottlingError", "None"),
			checkFn: pkgerrors.IsConcurrencyConflict,
		},
		{
			name: "transport failure",
			err:  errors.New("connection reset"),
			checkFn: func(err error) bool {
				return pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockAPI)
			store := NewStore(api, testTable, zap.NewNop())
			cs := appendChangeset(t, chat.ID())

			api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, tt.err)
			if tt.meta != nil {
				api.On("GetItem", mock.Anything, mock.Anything).Return(tt.meta, nil)
			}

			err := store.CommitConversation(context.Background(), cs)
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error: %v", err)
		})
	}
}

func TestStore_CreateChatTwiceConflicts(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	chat := fixtures.NewChatBuilder().Build()

	api.On("PutItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")})

	err := store.CreateChat(context.Background(), chat)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))
}

func TestStore_GetChatMissing(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := store.GetChat(context.Background(), valueobjects.NewChatID())
	assert.True(t, pkgerrors.IsUnknownChat(err))
}

func TestStore_GetMessagesRetriesUnprocessedKeys(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	chatID := valueobjects.NewChatID()

	first := fixtures.NewMessageBuilder().WithChatID(chatID).WithContent("one").MustBuild()
	second := fixtures.NewMessageBuilder().WithChatID(chatID).WithContent("two").MustBuild()
	firstAV, err := attributevalue.MarshalMap(newMessageItem(first, nil, 0))
	require.NoError(t, err)
	secondAV, err := attributevalue.MarshalMap(newMessageItem(second, first.ID().Ptr(), 1))
	require.NoError(t, err)

	unprocessed := map[string]types.KeysAndAttributes{
		testTable: {Keys: []map[string]types.AttributeValue{itemKey(chatPK(chatID), messageSK(second.ID()))}},
	}
	api.On("BatchGetItem", mock.Anything, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{testTable: {firstAV}},
		UnprocessedKeys: unprocessed,
	}, nil).Once()
	api.On("BatchGetItem", mock.Anything, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{testTable: {secondAV}},
	}, nil).Once()

	got, err := store.GetMessages(context.Background(), chatID, []valueobjects.MessageID{first.ID(), second.ID()})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[first.ID()].Content().Text())
	assert.Equal(t, "two", got[second.ID()].Content().Text())
	api.AssertNumberOfCalls(t, "BatchGetItem", 2)
}

func TestItems_MessageRoundTrip(t *testing.T) {
	chatID := valueobjects.NewChatID()
	original := fixtures.NewMessageBuilder().WithChatID(chatID).WithContent("before").MustBuild()
	content, err := valueobjects.NewMessageContent("after")
	require.NoError(t, err)
	edited := entities.NewEditedMessage(original, content, fixtures.FixedTime.Add(time.Minute))

	parent := valueobjects.NewMessageID()
	item := newMessageItem(edited, &parent, 4)
	assert.Equal(t, chatPK(chatID), item.PK)
	assert.Equal(t, messageSK(edited.ID()), item.SK)
	assert.Equal(t, aggregates.ParentLink{ID: edited.ID(), Parent: &parent}, item.link())

	back := item.toEntity()
	assert.Equal(t, edited.ID(), back.ID())
	assert.Equal(t, edited.Role(), back.Role())
	assert.Equal(t, "after", back.Content().Text())
	require.NotNil(t, back.OriginalMessageID())
	assert.Equal(t, original.ID(), *back.OriginalMessageID())
	assert.True(t, edited.CreatedAt().Equal(back.CreatedAt()))
}

func TestItems_EditSortKeyKeepsLedgerOrder(t *testing.T) {
	id := valueobjects.EditID("e")
	assert.Less(t, editSK(9, id), editSK(10, id))
	assert.Less(t, editSK(99, id), editSK(100, id))
}

// chainLinks returns n message ids where each one is the child of the one before
func chainLinks(n int) []aggregates.ParentLink {
	links := make([]aggregates.ParentLink, n)
	for i := range links {
		links[i].ID = valueobjects.NewMessageID()
		if i > 0 {
			links[i].Parent = links[i-1].ID.Ptr()
		}
	}
	return links
}

// queryFor matches a partition query restricted to the given SK prefix
func queryFor(prefix string) interface{} {
	return mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		for _, v := range in.ExpressionAttributeValues {
			if sv, ok := v.(*types.AttributeValueMemberS); ok && sv.Value == prefix {
				return true
			}
		}
		return false
	})
}

// approxItemSize sums attribute name and value lengths, which is how
// DynamoDB sizes an item
func approxItemSize(item map[string]types.AttributeValue) int {
	size := 0
	for name, v := range item {
		size += len(name)
		switch tv := v.(type) {
		case *types.AttributeValueMemberS:
			size += len(tv.Value)
		case *types.AttributeValueMemberN:
			size += len(tv.Value)
		default:
			size += 8
		}
	}
	return size
}

func TestStore_LoadConversationRebuildsGraphFromMessages(t *testing.T) {
	const depth = 10000
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	chat := fixtures.NewChatBuilder().Build()
	links := chainLinks(depth)

	// Returned newest first; the store orders by ordinal.
	page := make([]map[string]types.AttributeValue, 0, depth)
	for i := depth - 1; i >= 0; i-- {
		item := messageItem{MessageID: links[i].ID.String(), Ordinal: i}
		if links[i].Parent != nil {
			item.ParentID = links[i].Parent.String()
		}
		av, err := attributevalue.MarshalMap(item)
		require.NoError(t, err)
		page = append(page, av)
	}

	api.On("GetItem", mock.Anything, mock.Anything).Return(metaOutput(t, chat, depth), nil)
	api.On("Query", mock.Anything, queryFor(skMessagePfx)).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.QueryInput)
			require.NotNil(t, in.ProjectionExpression)
		}).
		Return(&dynamodb.QueryOutput{Items: page}, nil)
	api.On("Query", mock.Anything, queryFor(skBranchPfx)).Return(&dynamodb.QueryOutput{}, nil)
	api.On("Query", mock.Anything, queryFor(skEditPfx)).Return(&dynamodb.QueryOutput{}, nil)

	state, err := store.LoadConversation(context.Background(), chat.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(depth), state.Version)
	require.Equal(t, depth, state.Graph.Len())
	assert.Equal(t, links[0].ID, state.Graph.Keys()[0])

	chain, err := aggregates.AncestorChain(state.Graph, links[depth-1].ID)
	require.NoError(t, err)
	assert.Len(t, chain, depth)
	assert.Equal(t, []valueobjects.MessageID{links[depth-1].ID}, aggregates.Heads(state.Graph))
}

func TestStore_LoadConversationRejectsOrphanedMessage(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	chat := fixtures.NewChatBuilder().Build()

	orphan, err := attributevalue.MarshalMap(messageItem{
		MessageID: valueobjects.NewMessageID().String(),
		ParentID:  valueobjects.NewMessageID().String(),
	})
	require.NoError(t, err)

	api.On("GetItem", mock.Anything, mock.Anything).Return(metaOutput(t, chat, 1), nil)
	api.On("Query", mock.Anything, queryFor(skMessagePfx)).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{orphan}}, nil)

	_, err = store.LoadConversation(context.Background(), chat.ID())
	assert.True(t, pkgerrors.IsGraphCorrupt(err))
}

func TestStore_CommitItemsStaySmallForLongChats(t *testing.T) {
	const depth = 10000
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop())
	chatID := valueobjects.NewChatID()

	links := chainLinks(depth - 1)
	last := fixtures.NewMessageBuilder().WithChatID(chatID).WithContent("tail").MustBuild()
	links = append(links, aggregates.ParentLink{ID: last.ID(), Parent: links[len(links)-1].ID.Ptr()})
	graph, err := aggregates.BuildGraph(links)
	require.NoError(t, err)

	cs := aggregates.Changeset{
		ChatID:          chatID,
		ExpectedVersion: depth - 1,
		Version:         depth,
		Graph:           graph,
		Messages:        []*entities.Message{last},
	}

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, store.CommitConversation(context.Background(), cs))
	require.Len(t, captured.TransactItems, 2)

	meta := captured.TransactItems[0].Update
	for _, name := range meta.ExpressionAttributeNames {
		assert.NotEqual(t, "Graph", name)
	}
	assert.False(t, strings.Contains(*meta.UpdateExpression, "Graph"))
	assert.Less(t, approxItemSize(meta.ExpressionAttributeValues), 1024)

	var stored messageItem
	require.NoError(t, attributevalue.UnmarshalMap(captured.TransactItems[1].Put.Item, &stored))
	assert.Equal(t, links[depth-2].ID.String(), stored.ParentID)
	assert.Equal(t, depth-1, stored.Ordinal)
	assert.Less(t, approxItemSize(captured.TransactItems[1].Put.Item), 1024)
}
