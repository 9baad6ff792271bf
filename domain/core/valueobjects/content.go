package valueobjects

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"chatgraph/domain/config"
	pkgerrors "chatgraph/pkg/errors"
)

// Role is the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates a role string
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("invalid role %q", s))
	}
}

func (r Role) String() string { return string(r) }

// MessageContent is the text body of a message
type MessageContent struct {
	text string
}

// NewMessageContent creates content with validation using default configuration
func NewMessageContent(text string) (MessageContent, error) {
	return NewMessageContentWithConfig(text, config.DefaultDomainConfig())
}

// NewMessageContentWithConfig creates content with validation and configuration
func NewMessageContentWithConfig(text string, cfg *config.DomainConfig) (MessageContent, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	if strings.TrimSpace(text) == "" && !cfg.AllowEmptyContent {
		return MessageContent{}, pkgerrors.NewValidationError("content cannot be empty")
	}

	if n := utf8.RuneCountInString(text); n > cfg.MaxContentLength {
		return MessageContent{}, pkgerrors.NewValidationError(
			fmt.Sprintf("content exceeds maximum length of %d characters", cfg.MaxContentLength))
	}

	return MessageContent{text: text}, nil
}

// RestoreMessageContent rebuilds content loaded from storage without re-validating limits
func RestoreMessageContent(text string) MessageContent {
	return MessageContent{text: text}
}

// Text returns the raw content
func (c MessageContent) Text() string {
	return c.text
}

// Equals checks if two contents are equal
func (c MessageContent) Equals(other MessageContent) bool {
	return c.text == other.text
}

// Summary returns a truncated preview of the content
func (c MessageContent) Summary(maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if utf8.RuneCountInString(c.text) <= maxLength {
		return c.text
	}
	if maxLength <= 3 {
		return string([]rune(c.text)[:maxLength])
	}
	return string([]rune(c.text)[:maxLength-3]) + "..."
}
