package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "chatgraph/pkg/errors"
)

type sample struct {
	ChatID string `validate:"required,uuid"`
	Role   string `validate:"required,oneof=user assistant system"`
	Name   string `validate:"max=5"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(sample{ChatID: "0b6f3c38-8f53-4c1e-9d7b-1f7b5f2c8a10", Role: "user"}))

	err := ValidateStruct(sample{Role: "robot", Name: "too long"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	appErr := pkgerrors.GetAppError(err)
	assert.Equal(t, "chatid is required", appErr.Details["chatid"])
	assert.Equal(t, "role must be one of: user assistant system", appErr.Details["role"])
	assert.Contains(t, appErr.Message, "name must be at most 5 characters")
}

func TestFormatTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 14, 0, 0, 5, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "2024-05-01T12:00:00.000000005Z", FormatTime(at))
}
