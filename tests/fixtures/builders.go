package fixtures

import (
	"time"

	"chatgraph/domain/config"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
)

// FixedTime is the default timestamp of built fixtures
var FixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// ChatBuilder helps create test chats with default values
type ChatBuilder struct {
	id          valueobjects.ChatID
	ownerID     string
	projectID   *valueobjects.ProjectID
	name        string
	description string
	status      entities.ChatStatus
	createdAt   time.Time
}

func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{
		id:        valueobjects.NewChatID(),
		ownerID:   "test-user-123",
		name:      "Test Chat",
		status:    entities.ChatStatusActive,
		createdAt: FixedTime,
	}
}

func (b *ChatBuilder) WithID(id valueobjects.ChatID) *ChatBuilder {
	b.id = id
	return b
}

func (b *ChatBuilder) WithOwner(ownerID string) *ChatBuilder {
	b.ownerID = ownerID
	return b
}

func (b *ChatBuilder) WithName(name string) *ChatBuilder {
	b.name = name
	return b
}

func (b *ChatBuilder) WithDescription(description string) *ChatBuilder {
	b.description = description
	return b
}

func (b *ChatBuilder) InProject(projectID valueobjects.ProjectID) *ChatBuilder {
	b.projectID = &projectID
	return b
}

func (b *ChatBuilder) Archived() *ChatBuilder {
	b.status = entities.ChatStatusArchived
	return b
}

func (b *ChatBuilder) Build() *entities.Chat {
	return entities.ReconstructChat(b.id, b.ownerID, b.projectID, b.name, b.description, b.status, b.createdAt, b.createdAt)
}

// ProjectBuilder helps create test projects with default values
type ProjectBuilder struct {
	id          valueobjects.ProjectID
	ownerID     string
	name        string
	description string
	createdAt   time.Time
}

func NewProjectBuilder() *ProjectBuilder {
	return &ProjectBuilder{
		id:        valueobjects.NewProjectID(),
		ownerID:   "test-user-123",
		name:      "Test Project",
		createdAt: FixedTime,
	}
}

func (b *ProjectBuilder) WithOwner(ownerID string) *ProjectBuilder {
	b.ownerID = ownerID
	return b
}

func (b *ProjectBuilder) WithName(name string) *ProjectBuilder {
	b.name = name
	return b
}

func (b *ProjectBuilder) Build() *entities.Project {
	return entities.ReconstructProject(b.id, b.ownerID, b.name, b.description, b.createdAt, b.createdAt)
}

// MessageBuilder helps create test messages with default values
type MessageBuilder struct {
	chatID    valueobjects.ChatID
	role      valueobjects.Role
	content   string
	createdAt time.Time
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		chatID:    valueobjects.NewChatID(),
		role:      valueobjects.RoleUser,
		content:   "Test message",
		createdAt: FixedTime,
	}
}

func (b *MessageBuilder) WithChatID(chatID valueobjects.ChatID) *MessageBuilder {
	b.chatID = chatID
	return b
}

func (b *MessageBuilder) WithRole(role valueobjects.Role) *MessageBuilder {
	b.role = role
	return b
}

func (b *MessageBuilder) WithContent(content string) *MessageBuilder {
	b.content = content
	return b
}

func (b *MessageBuilder) WithCreatedAt(at time.Time) *MessageBuilder {
	b.createdAt = at
	return b
}

func (b *MessageBuilder) Build() (*entities.Message, error) {
	content, err := valueobjects.NewMessageContent(b.content)
	if err != nil {
		return nil, err
	}
	return entities.NewMessage(b.chatID, b.role, content, b.createdAt)
}

func (b *MessageBuilder) MustBuild() *entities.Message {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// TestDomainConfig returns the default config with small limits for limit tests
func TestDomainConfig(maxMessages, maxBranches int) *config.DomainConfig {
	cfg := config.DefaultDomainConfig()
	cfg.MaxMessagesPerChat = maxMessages
	cfg.MaxBranchesPerChat = maxBranches
	return cfg
}
