package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	pkgerrors "chatgraph/pkg/errors"
)

// DefaultMaxBodyBytes bounds request bodies unless a handler asks for more
const DefaultMaxBodyBytes = 1 << 20

// ListResponse wraps collection payloads so they can grow fields later
type ListResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}

// RespondJSON sends data as a JSON response
func RespondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// RespondList sends items wrapped in a ListResponse
func RespondList(w http.ResponseWriter, logger *zap.Logger, items interface{}, count int) {
	RespondJSON(w, logger, http.StatusOK, ListResponse{Items: items, Count: count})
}

// ParseJSONBody decodes a JSON request body of at most maxBytes, rejecting
// unknown fields. Decode failures are VALIDATION errors.
func ParseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return pkgerrors.NewValidationError("request body is required")
		case errors.As(err, &tooLarge):
			return pkgerrors.NewValidationError("request body too large").WithDetail("limit", tooLarge.Limit)
		default:
			return pkgerrors.NewValidationError("invalid request body: " + err.Error())
		}
	}
	return nil
}
