// Package responses contains HTTP response DTOs for the dm-api.
package responses

import (
	"time"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/viewsession"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ConversationResponse is one conversation as seen by the caller.
type ConversationResponse struct {
	ID            string     `json:"id"`
	Object        string     `json:"object"`
	Participants  []string   `json:"participants"`
	CounterpartID string     `json:"counterpart_id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// ConversationSummaryResponse is one row of the caller's conversation list.
type ConversationSummaryResponse struct {
	ConversationResponse
	LastMessage *MessageResponse `json:"last_message,omitempty"`
}

// ListConversationsResponse lists the caller's conversations, most recent first.
type ListConversationsResponse struct {
	Object string                         `json:"object"`
	Data   []*ConversationSummaryResponse `json:"data"`
}

// MessageResponse is one persisted message.
type MessageResponse struct {
	ID             string    `json:"id"`
	Object         string    `json:"object"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	AttachmentRef  *string   `json:"attachment_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Edited         bool      `json:"edited"`
}

// ListMessagesResponse lists a conversation's history in ascending order.
type ListMessagesResponse struct {
	Object string             `json:"object"`
	Data   []*MessageResponse `json:"data"`
}

// StreamEntryEvent is the payload of a "message" stream event.
type StreamEntryEvent struct {
	Change    string           `json:"change"`
	Index     int              `json:"index"`
	PrevIndex int              `json:"prev_index,omitempty"`
	LocalID   string           `json:"local_id"`
	Kind      string           `json:"kind"`
	Message   *MessageResponse `json:"message"`
}

// StreamStateEvent is the payload of a "state" stream event.
type StreamStateEvent struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
}

// NewConversationResponse renders conv from userID's point of view.
func NewConversationResponse(conv *conversation.Conversation, userID string) *ConversationResponse {
	return &ConversationResponse{
		ID:            conv.ID,
		Object:        "conversation",
		Participants:  []string{conv.ParticipantA, conv.ParticipantB},
		CounterpartID: conv.Counterpart(userID),
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
	}
}

// NewListConversationsResponse renders a directory listing.
func NewListConversationsResponse(summaries []conversation.Summary, userID string) *ListConversationsResponse {
	data := make([]*ConversationSummaryResponse, 0, len(summaries))
	for i := range summaries {
		s := summaries[i]
		item := &ConversationSummaryResponse{ConversationResponse: *NewConversationResponse(&s.Conversation, userID)}
		item.CounterpartID = s.Counterpart.ID
		if s.LastMessage != nil {
			item.LastMessage = NewMessageResponse(s.LastMessage)
		}
		data = append(data, item)
	}
	return &ListConversationsResponse{Object: "list", Data: data}
}

// NewMessageResponse renders a message.
func NewMessageResponse(msg *conversation.Message) *MessageResponse {
	return &MessageResponse{
		ID:             msg.ID,
		Object:         "message",
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		AttachmentRef:  msg.AttachmentRef,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
		Edited:         msg.Edited,
	}
}

// NewListMessagesResponse renders a history page.
func NewListMessagesResponse(messages []conversation.Message) *ListMessagesResponse {
	data := make([]*MessageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, NewMessageResponse(&messages[i]))
	}
	return &ListMessagesResponse{Object: "list", Data: data}
}

// NewStreamEntryEvent renders an entry change of a view session.
func NewStreamEntryEvent(change viewsession.Change) *StreamEntryEvent {
	return &StreamEntryEvent{
		Change:    string(change.Kind),
		Index:     change.Index,
		PrevIndex: change.PrevIndex,
		LocalID:   change.Entry.LocalID,
		Kind:      string(change.Entry.Kind),
		Message:   NewMessageResponse(&change.Entry.Message),
	}
}
