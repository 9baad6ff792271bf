package entities

import (
	"strings"
	"time"

	"chatgraph/domain/config"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// Project groups a user's chats under a name. Deleting a project deletes
// the chats placed in it.
type Project struct {
	id          valueobjects.ProjectID
	ownerID     string
	name        string
	description string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewProject creates a project owned by ownerID
func NewProject(ownerID, name, description string, cfg *config.DomainConfig, now time.Time) (*Project, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if ownerID == "" {
		return nil, pkgerrors.NewValidationError("ownerID cannot be empty")
	}
	p := &Project{
		id:        valueobjects.NewProjectID(),
		ownerID:   ownerID,
		createdAt: now,
	}
	if err := p.Rename(name, &description, cfg, now); err != nil {
		return nil, err
	}
	return p, nil
}

// ReconstructProject rebuilds a project from repository data
func ReconstructProject(id valueobjects.ProjectID, ownerID, name, description string, createdAt, updatedAt time.Time) *Project {
	return &Project{
		id:          id,
		ownerID:     ownerID,
		name:        name,
		description: description,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

func (p *Project) ID() valueobjects.ProjectID { return p.id }
func (p *Project) OwnerID() string            { return p.ownerID }
func (p *Project) Name() string               { return p.name }
func (p *Project) Description() string        { return p.description }
func (p *Project) CreatedAt() time.Time       { return p.createdAt }
func (p *Project) UpdatedAt() time.Time       { return p.updatedAt }

// IsOwnedBy reports whether userID owns the project
func (p *Project) IsOwnedBy(userID string) bool {
	return userID != "" && p.ownerID == userID
}

// Rename replaces the name and, when description is non-nil, the description
func (p *Project) Rename(name string, description *string, cfg *config.DomainConfig, now time.Time) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return pkgerrors.NewValidationError("name is required")
	}
	if err := checkLength("project name", name, cfg.MaxProjectNameLength); err != nil {
		return err
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if err := checkLength("description", d, cfg.MaxDescriptionLength); err != nil {
			return err
		}
		p.description = d
	}
	p.name = name
	p.updatedAt = now
	return nil
}
