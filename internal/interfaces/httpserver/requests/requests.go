// Package requests contains HTTP request DTOs for the dm-api.
package requests

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CreateConversationRequest opens (or returns) the conversation with another user.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id" binding:"required,max=255"`
}

// SendMessageRequest posts a message to a conversation.
type SendMessageRequest struct {
	Text          string  `json:"text" binding:"required"`
	AttachmentRef *string `json:"attachment_ref,omitempty" binding:"omitempty,max=2048"`
}

var jsonNames = map[string]string{
	"ParticipantID": "participant_id",
	"Text":          "text",
	"AttachmentRef": "attachment_ref",
}

// Describe turns a binding error into a client-facing message.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field, ok := jsonNames[fe.Field()]
		if !ok {
			field = strings.ToLower(fe.Field())
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(parts, "; ")
}
