package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

func TestChatLocks_ExclusiveBlocksOthers(t *testing.T) {
	ctx := context.Background()
	locks := NewChatLocks(50 * time.Millisecond)
	chatID := valueobjects.NewChatID()

	release, err := locks.Acquire(ctx, chatID, true)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, chatID, false)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))
	_, err = locks.Acquire(ctx, chatID, true)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))

	// other chats are independent
	other, err := locks.Acquire(ctx, valueobjects.NewChatID(), true)
	require.NoError(t, err)
	other()

	release()
	release() // idempotent

	again, err := locks.Acquire(ctx, chatID, true)
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, locks.Len())
}

func TestChatLocks_SharedHoldersOverlap(t *testing.T) {
	ctx := context.Background()
	locks := NewChatLocks(50 * time.Millisecond)
	chatID := valueobjects.NewChatID()

	r1, err := locks.Acquire(ctx, chatID, false)
	require.NoError(t, err)
	r2, err := locks.Acquire(ctx, chatID, false)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, chatID, true)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))

	r1()
	r2()
	assert.Equal(t, 0, locks.Len())
}

func TestChatLocks_HonoursCallerContext(t *testing.T) {
	locks := NewChatLocks(0)
	chatID := valueobjects.NewChatID()

	release, err := locks.Acquire(context.Background(), chatID, true)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := locks.Acquire(ctx, chatID, true)
		finished.Store(true)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, finished.Load())
	cancel()

	select {
	case err := <-done:
		assert.True(t, pkgerrors.IsConcurrencyConflict(err))
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by cancellation")
	}
}
