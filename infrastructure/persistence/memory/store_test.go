package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgraph/application/ports"
	"chatgraph/infrastructure/persistence/storetest"
	"chatgraph/tests/fixtures"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store { return NewStore() })
}

func TestStore_ChatsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	chat := fixtures.NewChatBuilder().Build()
	require.NoError(t, s.CreateChat(ctx, chat))

	got, err := s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	require.NoError(t, got.Archive(fixtures.FixedTime))

	again, err := s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.NotEqual(t, got.Status(), again.Status())
}
