package config

import (
	"fmt"
	"time"
)

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Conversation constraints
	MaxMessagesPerChat int
	MaxBranchesPerChat int
	MaxChatNameLength  int
	DefaultChatName    string

	// Chat and project metadata
	MaxProjectNameLength int
	MaxDescriptionLength int

	// Message constraints
	MaxContentLength  int
	AllowEmptyContent bool

	// Editing rules
	EditableRoles []string

	// Concurrency
	LockWaitTimeout time.Duration

	// Integrity checks
	ValidateGraphOnLoad bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxMessagesPerChat: 10000,
		MaxBranchesPerChat: 1000,
		MaxChatNameLength:  255,
		DefaultChatName:    "New Chat",

		MaxProjectNameLength: 255,
		MaxDescriptionLength: 10000,

		MaxContentLength:  100000,
		AllowEmptyContent: false,

		EditableRoles: []string{"user"},

		LockWaitTimeout: 5 * time.Second,

		ValidateGraphOnLoad: true,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxMessagesPerChat = 5000
	config.MaxBranchesPerChat = 500
	config.MaxContentLength = 50000
	config.LockWaitTimeout = 3 * time.Second

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxMessagesPerChat = 100000
	config.MaxBranchesPerChat = 10000
	config.AllowEmptyContent = true
	config.LockWaitTimeout = 30 * time.Second

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// IsEditableRole reports whether messages of the given role may be forked by an edit
func (c *DomainConfig) IsEditableRole(role string) bool {
	for _, r := range c.EditableRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxMessagesPerChat <= 0 {
		return fmt.Errorf("MaxMessagesPerChat must be positive, got %d", c.MaxMessagesPerChat)
	}
	if c.MaxBranchesPerChat <= 0 {
		return fmt.Errorf("MaxBranchesPerChat must be positive, got %d", c.MaxBranchesPerChat)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MaxContentLength must be positive, got %d", c.MaxContentLength)
	}
	if c.LockWaitTimeout < 0 {
		return fmt.Errorf("LockWaitTimeout cannot be negative")
	}
	return nil
}
