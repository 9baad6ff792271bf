package entities

import (
	"strings"
	"time"
	"unicode/utf8"

	"chatgraph/domain/config"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// ChatStatus represents the state of a chat
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
)

// Chat is the ownership and lifecycle record of a conversation.
// Its graph, branches and edits live in aggregates.Conversation.
type Chat struct {
	id          valueobjects.ChatID
	ownerID     string
	projectID   *valueobjects.ProjectID
	name        string
	description string
	status      ChatStatus
	createdAt   time.Time
	updatedAt   time.Time
}

// ChatDetails are the user-supplied fields of a new chat
type ChatDetails struct {
	Name        string
	Description string
	ProjectID   *valueobjects.ProjectID
}

// NewChat creates a new active chat. A blank name falls back to the configured default.
func NewChat(ownerID string, details ChatDetails, cfg *config.DomainConfig, now time.Time) (*Chat, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if ownerID == "" {
		return nil, pkgerrors.NewValidationError("ownerID cannot be empty")
	}

	name := strings.TrimSpace(details.Name)
	if name == "" {
		name = cfg.DefaultChatName
	}
	if err := checkLength("chat name", name, cfg.MaxChatNameLength); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(details.Description)
	if err := checkLength("description", description, cfg.MaxDescriptionLength); err != nil {
		return nil, err
	}

	chat := &Chat{
		id:          valueobjects.NewChatID(),
		ownerID:     ownerID,
		name:        name,
		description: description,
		status:      ChatStatusActive,
		createdAt:   now,
		updatedAt:   now,
	}
	if details.ProjectID != nil {
		p := *details.ProjectID
		chat.projectID = &p
	}
	return chat, nil
}

// ReconstructChat rebuilds a chat from repository data
func ReconstructChat(
	id valueobjects.ChatID,
	ownerID string,
	projectID *valueobjects.ProjectID,
	name, description string,
	status ChatStatus,
	createdAt, updatedAt time.Time,
) *Chat {
	return &Chat{
		id:          id,
		ownerID:     ownerID,
		projectID:   projectID,
		name:        name,
		description: description,
		status:      status,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

func (c *Chat) ID() valueobjects.ChatID { return c.id }
func (c *Chat) OwnerID() string         { return c.ownerID }
func (c *Chat) Name() string            { return c.name }
func (c *Chat) Description() string     { return c.description }
func (c *Chat) Status() ChatStatus      { return c.status }
func (c *Chat) CreatedAt() time.Time    { return c.createdAt }
func (c *Chat) UpdatedAt() time.Time    { return c.updatedAt }

// ProjectID returns the project the chat belongs to, or nil
func (c *Chat) ProjectID() *valueobjects.ProjectID {
	if c.projectID == nil {
		return nil
	}
	p := *c.projectID
	return &p
}

// InProject reports whether the chat is grouped under projectID
func (c *Chat) InProject(projectID valueobjects.ProjectID) bool {
	return c.projectID != nil && *c.projectID == projectID
}

// IsOwnedBy reports whether userID owns the chat
func (c *Chat) IsOwnedBy(userID string) bool {
	return userID != "" && c.ownerID == userID
}

// EnsureWritable rejects mutations on archived chats
func (c *Chat) EnsureWritable() error {
	if c.status == ChatStatusArchived {
		return pkgerrors.NewValidationError("chat is archived")
	}
	return nil
}

// Archive makes the chat read-only
func (c *Chat) Archive(now time.Time) error {
	if c.status == ChatStatusArchived {
		return pkgerrors.NewValidationError("chat is already archived")
	}
	c.status = ChatStatusArchived
	c.updatedAt = now
	return nil
}

// Activate reopens an archived chat
func (c *Chat) Activate(now time.Time) error {
	if c.status == ChatStatusActive {
		return pkgerrors.NewValidationError("chat is already active")
	}
	c.status = ChatStatusActive
	c.updatedAt = now
	return nil
}

// Rename replaces the chat's name and, when description is non-nil, its
// description. Renaming an archived chat is allowed.
func (c *Chat) Rename(name string, description *string, cfg *config.DomainConfig, now time.Time) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return pkgerrors.NewValidationError("name is required")
	}
	if err := checkLength("chat name", name, cfg.MaxChatNameLength); err != nil {
		return err
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if err := checkLength("description", d, cfg.MaxDescriptionLength); err != nil {
			return err
		}
		c.description = d
	}
	c.name = name
	c.updatedAt = now
	return nil
}

// Touch records a change to the chat's conversation
func (c *Chat) Touch(now time.Time) {
	c.updatedAt = now
}

func checkLength(field, value string, max int) error {
	if max > 0 && utf8.RuneCountInString(value) > max {
		return pkgerrors.NewValidationError(field + " is too long")
	}
	return nil
}
