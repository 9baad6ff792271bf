package validators

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"chatgraph/domain/config"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/pkg/errors"
)

// MessageValidator validates message and chat input against domain rules.
// Unlike the value object constructors it reports every problem at once.
type MessageValidator struct {
	cfg *config.DomainConfig
}

// NewMessageValidator creates a validator bound to cfg
func NewMessageValidator(cfg *config.DomainConfig) *MessageValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &MessageValidator{cfg: cfg}
}

// ValidateNewMessage checks the fields of an append request
func (v *MessageValidator) ValidateNewMessage(role, content string) error {
	problems := make(map[string]interface{})

	if _, err := valueobjects.ParseRole(role); err != nil {
		problems["role"] = fmt.Sprintf("must be one of user, assistant, system; got %q", role)
	}
	if msg := v.contentProblem(content); msg != "" {
		problems["content"] = msg
	}

	return toError(problems)
}

// ValidateEditContent checks the replacement text of an edit
func (v *MessageValidator) ValidateEditContent(content string) error {
	problems := make(map[string]interface{})
	if msg := v.contentProblem(content); msg != "" {
		problems["content"] = msg
	}
	return toError(problems)
}

// ValidateChatName checks a chat name; empty names fall back to the default
func (v *MessageValidator) ValidateChatName(name string) error {
	problems := make(map[string]interface{})
	if utf8.RuneCountInString(strings.TrimSpace(name)) > v.cfg.MaxChatNameLength {
		problems["name"] = fmt.Sprintf("exceeds %d characters", v.cfg.MaxChatNameLength)
	}
	if strings.IndexFunc(name, isDisallowedControl) >= 0 {
		problems["name"] = "contains control characters"
	}
	return toError(problems)
}

func (v *MessageValidator) contentProblem(content string) string {
	switch {
	case strings.TrimSpace(content) == "" && !v.cfg.AllowEmptyContent:
		return "cannot be empty"
	case utf8.RuneCountInString(content) > v.cfg.MaxContentLength:
		return fmt.Sprintf("exceeds %d characters", v.cfg.MaxContentLength)
	case !utf8.ValidString(content):
		return "must be valid UTF-8"
	case strings.IndexFunc(content, isDisallowedControl) >= 0:
		return "contains control characters"
	}
	return ""
}

// Newlines and tabs are fine in chat text; other control characters are not.
func isDisallowedControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
}

func toError(problems map[string]interface{}) error {
	if len(problems) == 0 {
		return nil
	}
	err := errors.NewValidationError("invalid input")
	for field, msg := range problems {
		err.WithDetail(field, msg)
	}
	return err
}
