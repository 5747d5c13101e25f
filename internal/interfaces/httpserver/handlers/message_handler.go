package handlers

import (
	"context"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/directory"
	"jan-server/services/dm-api/internal/domain/ingest"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

// MessageHandler handles history reads and sends.
type MessageHandler struct {
	directory directory.Service
	ingest    ingest.Service
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(directory directory.Service, ingest ingest.Service) *MessageHandler {
	return &MessageHandler{directory: directory, ingest: ingest}
}

// ListMessages returns the full history in ascending order.
func (h *MessageHandler) ListMessages(ctx context.Context, userID, conversationID string) ([]conversation.Message, error) {
	return h.directory.ListMessages(ctx, userID, conversationID)
}

// SendMessage persists a message from userID. attachmentRef may be nil.
func (h *MessageHandler) SendMessage(ctx context.Context, userID, conversationID, text string, attachmentRef *string) (*conversation.Message, error) {
	var opts []ingest.SendOption
	if attachmentRef != nil {
		opts = append(opts, ingest.WithAttachment(*attachmentRef))
	}

	msg, err := h.ingest.Send(ctx, conversationID, userID, text, opts...)
	if err != nil {
		errType := string(platformerrors.ErrorTypeInternal)
		if perr := platformerrors.GetPlatformError(err); perr != nil {
			errType = string(perr.Type)
		}
		metrics.RecordIngestFailure(errType)
		return nil, err
	}
	return msg, nil
}
