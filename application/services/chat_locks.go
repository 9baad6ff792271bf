package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// lockCapacity bounds concurrent readers of one chat. A writer takes the
// whole capacity, so it runs alone; the semaphore is FIFO, so queued writers
// are not starved by a stream of readers.
const lockCapacity = 64

type chatLockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// ChatLocks is the in-process per-chat exclusive section. Chats are locked
// independently; entries are dropped once nobody holds or waits for them.
type ChatLocks struct {
	mu          sync.Mutex
	entries     map[valueobjects.ChatID]*chatLockEntry
	waitTimeout time.Duration
}

// NewChatLocks creates a keyed lock. A positive waitTimeout bounds how long
// Acquire waits when the caller's context has no deadline of its own.
func NewChatLocks(waitTimeout time.Duration) *ChatLocks {
	return &ChatLocks{
		entries:     make(map[valueobjects.ChatID]*chatLockEntry),
		waitTimeout: waitTimeout,
	}
}

// Acquire enters the chat's section, shared or exclusive
func (l *ChatLocks) Acquire(ctx context.Context, chatID valueobjects.ChatID, exclusive bool) (func(), error) {
	weight := int64(1)
	if exclusive {
		weight = lockCapacity
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && l.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
	}

	entry := l.ref(chatID)
	if err := entry.sem.Acquire(ctx, weight); err != nil {
		l.unref(chatID)
		return nil, pkgerrors.NewConcurrencyConflictError("timed out waiting for chat lock").
			WithDetail("chat_id", chatID.String()).
			WithCause(err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(weight)
			l.unref(chatID)
		})
	}, nil
}

// Len returns the number of chats currently locked or awaited
func (l *ChatLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *ChatLocks) ref(chatID valueobjects.ChatID) *chatLockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[chatID]
	if !ok {
		e = &chatLockEntry{sem: semaphore.NewWeighted(lockCapacity)}
		l.entries[chatID] = e
	}
	e.refs++
	return e
}

func (l *ChatLocks) unref(chatID valueobjects.ChatID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[chatID]; ok {
		e.refs--
		if e.refs == 0 {
			delete(l.entries, chatID)
		}
	}
}
