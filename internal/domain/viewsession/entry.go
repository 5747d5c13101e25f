package viewsession

import (
	"time"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// EntryKind tags an entry of the local view.
type EntryKind string

const (
	// KindProvisional is an optimistic local entry not yet confirmed by the store.
	KindProvisional EntryKind = "provisional"
	// KindConfirmed is an authoritative persisted row.
	KindConfirmed EntryKind = "confirmed"
)

// Entry is one row of the reconciled view.
//
// LocalID is stable for the life of the entry: a provisional entry keeps its
// local id after it is confirmed, so renderers can key on it. Message.ID is
// empty while the entry is provisional.
type Entry struct {
	LocalID string               `json:"local_id"`
	Kind    EntryKind            `json:"kind"`
	Message conversation.Message `json:"message"`
}

// Confirmed reports whether the entry carries a persisted row.
func (e Entry) Confirmed() bool {
	return e.Kind == KindConfirmed
}

func confirmedEntry(msg conversation.Message) Entry {
	return Entry{LocalID: msg.ID, Kind: KindConfirmed, Message: msg}
}

func provisionalEntry(localID, conversationID, senderID, text string, at time.Time) Entry {
	return Entry{
		LocalID: localID,
		Kind:    KindProvisional,
		Message: conversation.Message{
			ConversationID: conversationID,
			SenderID:       senderID,
			Text:           text,
			CreatedAt:      at,
			UpdatedAt:      at,
		},
	}
}

// before orders entries by (CreatedAt, id). Provisional entries use their local id.
func (e Entry) before(other Entry) bool {
	if !e.Message.CreatedAt.Equal(other.Message.CreatedAt) {
		return e.Message.CreatedAt.Before(other.Message.CreatedAt)
	}
	return e.sortID() < other.sortID()
}

func (e Entry) sortID() string {
	if e.Message.ID != "" {
		return e.Message.ID
	}
	return e.LocalID
}

// matches reports whether a provisional entry is the optimistic copy of row.
func (e Entry) matches(row conversation.Message, window time.Duration) bool {
	if e.Kind != KindProvisional {
		return false
	}
	if e.Message.ConversationID != row.ConversationID ||
		e.Message.SenderID != row.SenderID ||
		e.Message.Text != row.Text {
		return false
	}
	delta := row.CreatedAt.Sub(e.Message.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}
