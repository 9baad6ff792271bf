package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pkgerrors "chatgraph/pkg/errors"
)

func TestParseJSONBody(t *testing.T) {
	type body struct {
		Content string `json:"content"`
	}

	tests := []struct {
		name    string
		payload string
		limit   int64
		wantErr string
	}{
		{name: "valid", payload: `{"content":"hi"}`},
		{name: "empty", payload: ``, wantErr: "request body is required"},
		{name: "unknown field", payload: `{"content":"hi","extra":1}`, wantErr: "unknown field"},
		{name: "too large", payload: `{"content":"` + strings.Repeat("x", 64) + `"}`, limit: 16, wantErr: "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var got body
			err := ParseJSONBody(httptest.NewRecorder(), r, &got, tt.limit)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "hi", got.Content)
				return
			}
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRespondList(t *testing.T) {
	w := httptest.NewRecorder()
	RespondList(w, zap.NewNop(), []string{"a", "b"}, 2)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"items":["a","b"],"count":2}`, w.Body.String())
}
