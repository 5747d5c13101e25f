package dbschema

import (
	"time"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// Message is the persisted form of a message.
type Message struct {
	ID             string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID string    `gorm:"type:uuid;not null"`
	SenderID       string    `gorm:"not null"`
	Text           string    `gorm:"not null"`
	AttachmentRef  *string   `gorm:"column:attachment_ref"`
	CreatedAt      time.Time `gorm:"default:clock_timestamp();autoCreateTime:false"`
	Edited         bool      `gorm:"not null;default:false"`
	UpdatedAt      time.Time `gorm:"default:clock_timestamp();autoUpdateTime:false"`
}

func (Message) TableName() string {
	return "messages"
}

// NewSchemaMessage maps a domain message to a new row. Server-assigned columns are left unset.
func NewSchemaMessage(m *conversation.Message) *Message {
	return &Message{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentRef:  m.AttachmentRef,
	}
}

// EtoD converts the row to its domain form.
func (m *Message) EtoD() *conversation.Message {
	return &conversation.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentRef:  m.AttachmentRef,
		CreatedAt:      m.CreatedAt.UTC(),
		Edited:         m.Edited,
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}
