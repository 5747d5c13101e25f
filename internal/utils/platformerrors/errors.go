package platformerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type requestIDKey struct{}

// WithRequestID stores the request id so errors created further down carry it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	// ErrorTypePersistence means the store refused or failed a write; the caller may retry.
	ErrorTypePersistence ErrorType = "PERSISTENCE"
	// ErrorTypeSubscription means a live change feed could not be opened or was lost.
	ErrorTypeSubscription ErrorType = "SUBSCRIPTION"
	ErrorTypeInternal     ErrorType = "INTERNAL"
)

type typeInfo struct {
	status int
	name   string
	// expected errors are caused by the caller and logged at warn.
	expected bool
}

var types = map[ErrorType]typeInfo{
	ErrorTypeValidation:   {status: http.StatusBadRequest, name: "validation_error", expected: true},
	ErrorTypeNotFound:     {status: http.StatusNotFound, name: "not_found_error", expected: true},
	ErrorTypeUnauthorized: {status: http.StatusUnauthorized, name: "unauthorized_error", expected: true},
	ErrorTypeForbidden:    {status: http.StatusForbidden, name: "forbidden_error", expected: true},
	ErrorTypePersistence:  {status: http.StatusInternalServerError, name: "persistence_error"},
	ErrorTypeSubscription: {status: http.StatusServiceUnavailable, name: "subscription_error"},
	ErrorTypeInternal:     {status: http.StatusInternalServerError, name: "internal_error"},
}

func lookup(t ErrorType) typeInfo {
	if info, ok := types[t]; ok {
		return info
	}
	return types[ErrorTypeInternal]
}

// Layer names where an error was raised.
type Layer string

const (
	LayerRepository     Layer = "repository"
	LayerDomain         Layer = "domain"
	LayerHandler        Layer = "handler"
	LayerInfrastructure Layer = "infrastructure"
	LayerClient         Layer = "client"
)

// PlatformError is a typed error carrying a stable code and log context.
type PlatformError struct {
	UUID      string
	Type      ErrorType
	Message   string
	Err       error
	Context   map[string]any
	RequestID string
	Layer     Layer
	Timestamp time.Time
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s][%s] %s: %v", e.Layer, e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s][%s] %s", e.Layer, e.Type, e.Message)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewError creates a PlatformError. An empty code gets a fresh uuid.
func NewError(ctx context.Context, layer Layer, errorType ErrorType, message string, err error, code string) *PlatformError {
	return NewErrorWithContext(ctx, layer, errorType, message, err, code, nil)
}

// NewErrorWithContext is NewError with extra fields that are logged with the error.
func NewErrorWithContext(ctx context.Context, layer Layer, errorType ErrorType, message string, err error, code string, fields map[string]any) *PlatformError {
	if code == "" {
		code = uuid.NewString()
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &PlatformError{
		UUID:      code,
		Type:      errorType,
		Message:   message,
		Err:       err,
		Context:   copied,
		RequestID: RequestIDFromContext(ctx),
		Layer:     layer,
		Timestamp: time.Now().UTC(),
	}
}

// AsError wraps an error with layer context. Typed errors keep their type and code.
func AsError(ctx context.Context, layer Layer, err error, message string) *PlatformError {
	if err == nil {
		return nil
	}
	if inner := GetPlatformError(err); inner != nil {
		return NewErrorWithContext(ctx, layer, inner.Type, message+": "+inner.Message, inner, inner.UUID, inner.Context)
	}
	return NewError(ctx, layer, ErrorTypeInternal, message, err, "")
}

// GetPlatformError returns the outermost PlatformError in the chain, if any.
func GetPlatformError(err error) *PlatformError {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr
	}
	return nil
}

// IsErrorType reports whether the outermost PlatformError in err has type t.
func IsErrorType(err error, t ErrorType) bool {
	platformErr := GetPlatformError(err)
	return platformErr != nil && platformErr.Type == t
}

// ErrorTypeToHTTPStatus maps an error type to its response status.
func ErrorTypeToHTTPStatus(t ErrorType) int {
	return lookup(t).status
}

// ErrorTypeToString returns the snake_case name used in API responses.
func ErrorTypeToString(t ErrorType) string {
	return lookup(t).name
}

// LogError logs err with its code and context; caller mistakes go to warn.
func LogError(logger zerolog.Logger, err *PlatformError) {
	if err == nil {
		return
	}

	event := logger.Error()
	if lookup(err.Type).expected {
		event = logger.Warn()
	}
	event = event.
		Str("error_uuid", err.UUID).
		Str("error_type", string(err.Type)).
		Str("layer", string(err.Layer))
	if err.RequestID != "" {
		event = event.Str("request_id", err.RequestID)
	}
	for k, v := range err.Context {
		event = event.Interface(k, v)
	}
	if err.Err != nil {
		event = event.Err(err.Err)
	}
	event.Msg(err.Message)
}
