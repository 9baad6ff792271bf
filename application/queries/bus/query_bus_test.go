package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/tests/mocks"
)

type lookupQuery struct{ Key string }

func (q lookupQuery) Validate() error {
	if q.Key == "" {
		return pkgerrors.NewValidationError("key is required")
	}
	return nil
}

func TestQueryBus_Ask(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	metrics := new(mocks.MockMetrics)
	metrics.On("RecordOperation", mock.Anything, "query.lookupQuery", mock.Anything, mock.Anything).Return()

	b := NewQueryBus(LoggingMiddleware(zap.New(core)), MetricsMiddleware(metrics))
	require.NoError(t, b.Register(lookupQuery{}, QueryHandlerFunc(func(_ context.Context, q Query) (interface{}, error) {
		if q.(lookupQuery).Key == "missing" {
			return nil, pkgerrors.NewUnknownChatError("missing")
		}
		return 42, nil
	})))

	result, err := b.Ask(context.Background(), lookupQuery{Key: "answer"})
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	_, err = b.Ask(context.Background(), lookupQuery{Key: "missing"})
	assert.True(t, pkgerrors.IsUnknownChat(err))
	assert.Equal(t, 1, logs.FilterMessage("Query rejected").Len(), "client errors are not logged as failures")

	_, err = b.Ask(context.Background(), lookupQuery{})
	assert.True(t, pkgerrors.IsValidation(err))

	metrics.AssertNumberOfCalls(t, "RecordOperation", 2)
}
