package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "chatgraph/pkg/errors"
)

var validate = validator.New()

// ValidateStruct validates a struct based on its validation tags. Failures
// come back as a VALIDATION AppError listing every offending field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return pkgerrors.NewValidationError(err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	appErr := pkgerrors.NewValidationError("")
	for _, e := range validationErrors {
		msg := formatFieldError(e)
		messages = append(messages, msg)
		appErr = appErr.WithDetail(strings.ToLower(e.Field()), msg)
	}
	appErr.Message = strings.Join(messages, "; ")
	return appErr
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, strings.ToLower(e.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
