package handlers

import (
	"github.com/google/wire"
)

// Provider holds all HTTP handlers.
type Provider struct {
	Conversation *ConversationHandler
	Message      *MessageHandler
	Stream       *StreamHandler
}

// NewProvider creates a new handler provider.
func NewProvider(conversation *ConversationHandler, message *MessageHandler, stream *StreamHandler) *Provider {
	return &Provider{
		Conversation: conversation,
		Message:      message,
		Stream:       stream,
	}
}

// HandlerProvider provides all handlers for wire.
var HandlerProvider = wire.NewSet(
	NewConversationHandler,
	NewMessageHandler,
	NewStreamHandler,
	NewProvider,
)
