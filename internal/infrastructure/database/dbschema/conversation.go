package dbschema

import (
	"time"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// Conversation is the persisted form of a conversation. The table is owned by
// the SQL migrations; ids and created_at are assigned by the database.
type Conversation struct {
	ID            string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ParticipantA  string     `gorm:"column:participant_a;not null"`
	ParticipantB  string     `gorm:"column:participant_b;not null"`
	CreatedAt     time.Time  `gorm:"default:now();autoCreateTime:false"`
	LastMessageAt *time.Time `gorm:"column:last_message_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// NewSchemaConversation maps a canonical pair to a new row.
func NewSchemaConversation(pair conversation.Pair) *Conversation {
	return &Conversation{
		ParticipantA: pair.A,
		ParticipantB: pair.B,
	}
}

// EtoD converts the row to its domain form.
func (c *Conversation) EtoD() *conversation.Conversation {
	out := &conversation.Conversation{
		ID:           c.ID,
		ParticipantA: c.ParticipantA,
		ParticipantB: c.ParticipantB,
		CreatedAt:    c.CreatedAt.UTC(),
	}
	if c.LastMessageAt != nil {
		at := c.LastMessageAt.UTC()
		out.LastMessageAt = &at
	}
	return out
}
