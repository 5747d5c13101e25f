package conversation

import (
	"sort"
	"time"
)

// User is an authenticated identity owned by the auth collaborator.
type User struct {
	ID string `json:"id"`
}

// Conversation pairs exactly two users. ParticipantA < ParticipantB always holds.
type Conversation struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participant_a"`
	ParticipantB  string     `json:"participant_b"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Pair returns the canonical participant pair.
func (c *Conversation) Pair() Pair {
	return Pair{A: c.ParticipantA, B: c.ParticipantB}
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Counterpart returns the other participant, or "" if userID is not a participant.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// LastActivity is the timestamp used to order conversation lists.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Message is a single immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	AttachmentRef  *string   `json:"attachment_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Edited         bool      `json:"edited"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Before orders messages by (CreatedAt, ID).
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SortMessages sorts in place by the ordering key.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}

// Summary is one row of a user's conversation list.
type Summary struct {
	Conversation Conversation `json:"conversation"`
	Counterpart  User         `json:"counterpart"`
	LastMessage  *Message     `json:"last_message,omitempty"`
}

// SortSummaries orders summaries by last activity, newest first, then by id.
func SortSummaries(summaries []Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		ai := summaries[i].Conversation.LastActivity()
		aj := summaries[j].Conversation.LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return summaries[i].Conversation.ID < summaries[j].Conversation.ID
	})
}
