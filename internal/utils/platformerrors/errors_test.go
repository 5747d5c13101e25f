package platformerrors

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsErrorKeepsType(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	inner := NewError(ctx, LayerDomain, ErrorTypeValidation, "text is empty", nil, "code-1")

	wrapped := AsError(ctx, LayerHandler, inner, "send message")
	require.NotNil(t, wrapped)
	assert.Equal(t, ErrorTypeValidation, wrapped.Type)
	assert.Equal(t, "code-1", wrapped.UUID)
	assert.Equal(t, "req-1", wrapped.RequestID)
	assert.Equal(t, LayerHandler, wrapped.Layer)
	assert.True(t, IsErrorType(wrapped, ErrorTypeValidation))
}

func TestAsErrorDefaultsToInternal(t *testing.T) {
	wrapped := AsError(context.Background(), LayerRepository, errors.New("boom"), "insert")
	require.NotNil(t, wrapped)
	assert.Equal(t, ErrorTypeInternal, wrapped.Type)
	assert.NotEmpty(t, wrapped.UUID)
	assert.Nil(t, AsError(context.Background(), LayerRepository, nil, "noop"))
}

func TestErrorTypeMapping(t *testing.T) {
	tests := []struct {
		errType ErrorType
		status  int
		name    string
	}{
		{ErrorTypeValidation, http.StatusBadRequest, "validation_error"},
		{ErrorTypeNotFound, http.StatusNotFound, "not_found_error"},
		{ErrorTypeForbidden, http.StatusForbidden, "forbidden_error"},
		{ErrorTypePersistence, http.StatusInternalServerError, "persistence_error"},
		{ErrorTypeSubscription, http.StatusServiceUnavailable, "subscription_error"},
		{ErrorType("weird"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, ErrorTypeToHTTPStatus(tt.errType), string(tt.errType))
		assert.Equal(t, tt.name, ErrorTypeToString(tt.errType), string(tt.errType))
	}
}

func TestLogErrorLevels(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	LogError(log, NewError(context.Background(), LayerDomain, ErrorTypeValidation, "bad input", nil, "c1"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"error_uuid":"c1"`)

	buf.Reset()
	LogError(log, NewErrorWithContext(context.Background(), LayerRepository, ErrorTypePersistence, "insert failed", errors.New("boom"), "", map[string]any{"conversation_id": "conv-1"}))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"conversation_id":"conv-1"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestGetPlatformErrorThroughWrap(t *testing.T) {
	inner := NewError(context.Background(), LayerDomain, ErrorTypeSubscription, "feed down", nil, "")
	wrapped := errors.Join(errors.New("outer"), inner)
	assert.Equal(t, inner, GetPlatformError(wrapped))
	assert.Nil(t, GetPlatformError(errors.New("plain")))
}
