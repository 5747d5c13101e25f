package conversation

import (
	"context"
	"errors"

	"jan-server/services/dm-api/internal/utils/platformerrors"
)

var (
	// ErrConversationNotFound is returned by stores when no conversation matches.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrDuplicateConversation is returned by stores when the canonical pair already exists.
	ErrDuplicateConversation = errors.New("conversation already exists for pair")
	// ErrMessageNotFound is returned by stores when no message matches.
	ErrMessageNotFound = errors.New("message not found")
)

// NewValidationError reports rejected input such as empty text or a non-participant sender.
func NewValidationError(ctx context.Context, message string, fields map[string]any) *platformerrors.PlatformError {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, message, nil, "", fields)
}

// NewNotFoundError reports an unknown conversation.
func NewNotFoundError(ctx context.Context, conversationID string) *platformerrors.PlatformError {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "conversation not found", ErrConversationNotFound, "", map[string]any{
		"conversation_id": conversationID,
	})
}

// NewForbiddenError reports a read by a user outside the conversation.
func NewForbiddenError(ctx context.Context, conversationID string) *platformerrors.PlatformError {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden, "not a participant of this conversation", nil, "", map[string]any{
		"conversation_id": conversationID,
	})
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(ctx context.Context, message string, err error) *platformerrors.PlatformError {
	return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypePersistence, message, err, "")
}

// NewSubscriptionError reports a dead or failed change-feed subscription.
func NewSubscriptionError(ctx context.Context, conversationID, message string, err error) *platformerrors.PlatformError {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeSubscription, message, err, "", map[string]any{
		"conversation_id": conversationID,
	})
}

// IsValidationError reports input errors, including unknown conversations.
func IsValidationError(err error) bool {
	return platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation) ||
		platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound)
}

// IsPersistenceError reports store failures.
func IsPersistenceError(err error) bool {
	return platformerrors.IsErrorType(err, platformerrors.ErrorTypePersistence)
}

// IsSubscriptionError reports change-feed transport failures.
func IsSubscriptionError(err error) bool {
	return platformerrors.IsErrorType(err, platformerrors.ErrorTypeSubscription)
}
