package resilient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/infrastructure/persistence/memory"
	"chatgraph/infrastructure/persistence/storetest"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/tests/fixtures"
)

// flakyStore fails GetChat with err while leaving the rest to the memory store
type flakyStore struct {
	*memory.Store
	err error
}

func (f *flakyStore) GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.GetChat(ctx, id)
}

func testConfig() BreakerConfig {
	cfg := DefaultBreakerConfig("store-test")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 0.5
	cfg.Timeout = time.Hour
	return cfg
}

func TestStore_Suite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store {
		return NewStore(memory.NewStore(), testConfig(), zap.NewNop())
	})
}

func TestStore_OpensOnInfrastructureFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{Store: memory.NewStore(), err: pkgerrors.NewDatabaseError("GetChat", errors.New("timeout"))}
	store := NewStore(inner, testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := store.GetChat(ctx, valueobjects.NewChatID())
		require.Error(t, err)
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	inner.err = nil
	_, err := store.GetChat(ctx, valueobjects.NewChatID())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))

	err = store.CreateChat(ctx, fixtures.NewChatBuilder().Build())
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
}

func TestStore_DomainErrorsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewStore(), testConfig(), zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := store.GetChat(ctx, valueobjects.NewChatID())
		assert.True(t, pkgerrors.IsUnknownChat(err))
	}
	assert.Equal(t, gobreaker.StateClosed, store.State())
}
