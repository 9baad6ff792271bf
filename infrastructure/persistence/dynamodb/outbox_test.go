package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
	"chatgraph/tests/fixtures"
	"chatgraph/tests/mocks"
)

func pendingRecord(t *testing.T, attempts int) (OutboxRecord, map[string]types.AttributeValue) {
	t.Helper()
	evt := events.NewChatCreated(valueobjects.NewChatID(), "user-1", "Trip", fixtures.FixedTime)
	record, err := newOutboxRecord(evt)
	require.NoError(t, err)
	record.PublishAttempts = attempts
	av, err := attributevalue.MarshalMap(record)
	require.NoError(t, err)
	return record, av
}

func TestOutboxRecord_ReplaysPayload(t *testing.T) {
	evt := events.NewChatCreated(valueobjects.NewChatID(), "user-1", "Trip", fixtures.FixedTime)
	record, err := newOutboxRecord(evt)
	require.NoError(t, err)

	replayed := record.toEvent()
	assert.Equal(t, evt.GetEventType(), replayed.GetEventType())
	assert.Equal(t, evt.GetAggregateID(), replayed.GetAggregateID())
	assert.True(t, evt.GetTimestamp().Equal(replayed.GetTimestamp()))

	want, err := json.Marshal(evt)
	require.NoError(t, err)
	got, err := json.Marshal(replayed)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestOutboxProcessor_PublishesAndMarks(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, testTable, zap.NewNop(), WithOutbox())
	publisher := new(mocks.MockEventPublisher)
	_, av := pendingRecord(t, 0)

	api.On("Query", mock.Anything, mock.Anything).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{av}}, nil)
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.ExpressionAttributeValues[":published"] != nil
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	processor := NewOutboxProcessor(store, publisher, 0, zap.NewNop())
	published, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	api.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxProcessor_FailedDeliveryIsRecorded(t *testing.T) {
	tests := []struct {
		name       string
		attempts   int
		wantStatus string
		dropsIndex bool
	}{
		{name: "first failure stays pending", attempts: 0, wantStatus: string(PublishStatusPending)},
		{name: "last failure parks the record", attempts: 2, wantStatus: string(PublishStatusFailed), dropsIndex: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockAPI)
			store := NewStore(api, testTable, zap.NewNop(), WithOutbox())
			publisher := new(mocks.MockEventPublisher)
			_, av := pendingRecord(t, tt.attempts)

			var update *dynamodb.UpdateItemInput
			api.On("Query", mock.Anything, mock.Anything).
				Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{av}}, nil)
			api.On("UpdateItem", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { update = args.Get(1).(*dynamodb.UpdateItemInput) }).
				Return(&dynamodb.UpdateItemOutput{}, nil)
			publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("bus down"))

			processor := NewOutboxProcessor(store, publisher, 0, zap.NewNop())
			published, err := processor.ProcessBatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, published)

			require.NotNil(t, update)
			status := update.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.dropsIndex, strings.Contains(*update.UpdateExpression, "REMOVE PendingPK"))
		})
	}
}
