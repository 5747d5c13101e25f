package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// Service is the sole writer of messages.
type Service interface {
	// Send validates and persists one message and returns the stored row.
	// It never publishes; the store's change feed notifies viewers.
	Send(ctx context.Context, conversationID, senderID, text string, opts ...SendOption) (*conversation.Message, error)
}

// SendOption customises a single Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	attachmentRef *string
}

// WithAttachment stores an opaque attachment reference with the message.
func WithAttachment(ref string) SendOption {
	return func(o *sendOptions) {
		if ref == "" {
			return
		}
		o.attachmentRef = &ref
	}
}

// AttachmentRef returns the attachment reference selected by opts, if any.
// Remote implementations of Service use it to forward options.
func AttachmentRef(opts ...SendOption) *string {
	options := sendOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options.attachmentRef
}

type service struct {
	store conversation.Store
	log   zerolog.Logger
}

// NewService creates a new ingest service.
func NewService(store conversation.Store, log zerolog.Logger) Service {
	return &service{
		store: store,
		log:   log.With().Str("component", "ingest-service").Logger(),
	}
}

func (s *service) Send(ctx context.Context, conversationID, senderID, text string, opts ...SendOption) (*conversation.Message, error) {
	attachmentRef := AttachmentRef(opts...)

	if strings.TrimSpace(text) == "" {
		return nil, conversation.NewValidationError(ctx, "message text must not be empty", map[string]any{
			"conversation_id": conversationID,
		})
	}
	if senderID == "" {
		return nil, conversation.NewValidationError(ctx, "sender is required", map[string]any{
			"conversation_id": conversationID,
		})
	}

	conv, err := s.store.FindConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return nil, conversation.NewNotFoundError(ctx, conversationID)
		}
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation")
		return nil, conversation.NewPersistenceError(ctx, "failed to load conversation", err)
	}

	if !conv.HasParticipant(senderID) {
		return nil, conversation.NewValidationError(ctx, "sender is not a participant of this conversation", map[string]any{
			"conversation_id": conversationID,
			"sender_id":       senderID,
		})
	}

	msg := &conversation.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           text,
		AttachmentRef:  attachmentRef,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return nil, conversation.NewNotFoundError(ctx, conversationID)
		}
		if conversation.IsValidationError(err) {
			return nil, err
		}
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to persist message")
		return nil, conversation.NewPersistenceError(ctx, "failed to persist message", err)
	}

	s.log.Debug().
		Str("conversation_id", msg.ConversationID).
		Str("message_id", msg.ID).
		Msg("message persisted")

	return msg, nil
}
