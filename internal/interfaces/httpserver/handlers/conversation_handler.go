package handlers

import (
	"context"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/directory"
)

// ConversationHandler handles conversation directory requests.
type ConversationHandler struct {
	directory directory.Service
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(directory directory.Service) *ConversationHandler {
	return &ConversationHandler{directory: directory}
}

// ListConversations returns the caller's conversations, most recent first.
func (h *ConversationHandler) ListConversations(ctx context.Context, userID string) ([]conversation.Summary, error) {
	return h.directory.ListConversations(ctx, userID)
}

// StartConversation returns the conversation between the caller and participantID,
// creating it on first use.
func (h *ConversationHandler) StartConversation(ctx context.Context, userID, participantID string) (*conversation.Conversation, error) {
	return h.directory.EnsureConversation(ctx, userID, participantID)
}

// GetConversation returns one conversation the caller participates in.
func (h *ConversationHandler) GetConversation(ctx context.Context, userID, conversationID string) (*conversation.Conversation, error) {
	return h.directory.GetConversation(ctx, userID, conversationID)
}
