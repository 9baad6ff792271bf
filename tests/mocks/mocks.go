package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chatgraph/application/ports"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
)

// MockEventPublisher is a mock implementation of ports.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

// MockChatAuthorizer is a mock implementation of ports.ChatAuthorizer
type MockChatAuthorizer struct {
	mock.Mock
}

func (m *MockChatAuthorizer) ResolveOwnedChat(ctx context.Context, userID string, chatID valueobjects.ChatID) (*entities.Chat, error) {
	args := m.Called(ctx, userID, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Chat), args.Error(1)
}

// MockChatLocker is a mock implementation of ports.ChatLocker
type MockChatLocker struct {
	mock.Mock
}

func (m *MockChatLocker) Acquire(ctx context.Context, chatID valueobjects.ChatID, exclusive bool) (func(), error) {
	args := m.Called(ctx, chatID, exclusive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

// MockMetrics is a mock implementation of ports.Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	m.Called(ctx, operation, duration, err)
}

// MockChatRepository is a mock implementation of ports.ChatRepository
type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) CreateChat(ctx context.Context, chat *entities.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

func (m *MockChatRepository) GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Chat), args.Error(1)
}

func (m *MockChatRepository) ListChatsByOwner(ctx context.Context, ownerID string) ([]*entities.Chat, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Chat), args.Error(1)
}

func (m *MockChatRepository) UpdateChat(ctx context.Context, chat *entities.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

func (m *MockChatRepository) DeleteChat(ctx context.Context, id valueobjects.ChatID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var (
	_ ports.EventPublisher = (*MockEventPublisher)(nil)
	_ ports.ChatAuthorizer = (*MockChatAuthorizer)(nil)
	_ ports.ChatLocker     = (*MockChatLocker)(nil)
	_ ports.Metrics        = (*MockMetrics)(nil)
	_ ports.ChatRepository = (*MockChatRepository)(nil)
)
