package ports

import (
	"context"
	"time"

	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
)

// ChatRepository defines persistence of chat records
// This is a port in hexagonal architecture - the domain doesn't know about the implementation
type ChatRepository interface {
	// CreateChat persists a new chat with an empty conversation
	CreateChat(ctx context.Context, chat *entities.Chat) error

	// GetChat retrieves a chat, failing with UnknownChat when absent
	GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error)

	// ListChatsByOwner returns a user's chats, most recently updated first
	ListChatsByOwner(ctx context.Context, ownerID string) ([]*entities.Chat, error)

	// UpdateChat persists chat metadata (name, status, timestamps)
	UpdateChat(ctx context.Context, chat *entities.Chat) error

	// DeleteChat removes the chat and cascades to its messages, graph, branches and edits
	DeleteChat(ctx context.Context, id valueobjects.ChatID) error
}

// ProjectRepository defines persistence of projects, the optional grouping of chats
type ProjectRepository interface {
	// CreateProject persists a new project
	CreateProject(ctx context.Context, project *entities.Project) error

	// GetProject retrieves a project, failing with UnknownProject when absent
	GetProject(ctx context.Context, id valueobjects.ProjectID) (*entities.Project, error)

	// ListProjectsByOwner returns a user's projects, most recently updated first
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]*entities.Project, error)

	// ListChatsInProject returns the owner's chats placed in projectID, most recently updated first
	ListChatsInProject(ctx context.Context, ownerID string, projectID valueobjects.ProjectID) ([]*entities.Chat, error)

	// UpdateProject persists project metadata
	UpdateProject(ctx context.Context, project *entities.Project) error

	// DeleteProject removes the project and every chat placed in it
	DeleteProject(ctx context.Context, id valueobjects.ProjectID) error
}

// ConversationState is the persisted structural state of one chat
type ConversationState struct {
	Graph          *aggregates.Graph
	Branches       []entities.Branch
	ActiveBranchID valueobjects.BranchID
	Edits          []entities.Edit
	Version        int64
}

// ConversationStore persists a chat's graph, branches, edits and messages
type ConversationStore interface {
	// LoadConversation reads the structural state of a chat
	LoadConversation(ctx context.Context, chatID valueobjects.ChatID) (*ConversationState, error)

	// CommitConversation writes a changeset atomically. A changeset whose
	// ExpectedVersion no longer matches fails with ConcurrencyConflict and
	// nothing is written.
	CommitConversation(ctx context.Context, cs aggregates.Changeset) error

	// GetMessage retrieves one message of a chat
	GetMessage(ctx context.Context, chatID valueobjects.ChatID, id valueobjects.MessageID) (*entities.Message, error)

	// GetMessages resolves ids to messages; ids without a record are omitted
	GetMessages(ctx context.Context, chatID valueobjects.ChatID, ids []valueobjects.MessageID) (map[valueobjects.MessageID]*entities.Message, error)

	// ListMessages returns every message of a chat in creation order
	ListMessages(ctx context.Context, chatID valueobjects.ChatID) ([]*entities.Message, error)
}

// Store is the full persistence port implemented by each storage engine
type Store interface {
	ChatRepository
	ProjectRepository
	ConversationStore

	// Ping checks the backing engine is reachable
	Ping(ctx context.Context) error
}

// ChatAuthorizer resolves a chat on behalf of a user. A chat that does not
// exist and a chat owned by someone else are both reported as UnknownChat.
type ChatAuthorizer interface {
	ResolveOwnedChat(ctx context.Context, userID string, chatID valueobjects.ChatID) (*entities.Chat, error)
}

// ChatLocker provides the per-chat exclusive section. Shared holders may run
// together; an exclusive holder runs alone. Acquire honours ctx and fails with
// ConcurrencyConflict when the wait is abandoned.
type ChatLocker interface {
	Acquire(ctx context.Context, chatID valueobjects.ChatID, exclusive bool) (release func(), err error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Cache defines the interface for caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL in seconds
	Set(ctx context.Context, key string, value interface{}, ttl int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from cache
	Clear(ctx context.Context) error
}

// Metrics records operation outcomes for dashboards and alerts
type Metrics interface {
	RecordOperation(ctx context.Context, operation string, duration time.Duration, err error)
}
