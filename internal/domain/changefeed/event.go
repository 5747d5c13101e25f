package changefeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// EventType is the row operation that produced an event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// MessagesTable is the only table the feed carries.
const MessagesTable = "messages"

// ErrMalformedEvent is wrapped by every Decode failure.
var ErrMalformedEvent = errors.New("malformed change event")

// Event is one committed row change of the messages table.
type Event struct {
	Type EventType
	Row  conversation.Message
	// Truncated is set when the producer dropped the message body to stay under the
	// transport payload limit. Consumers must reload the row before fan-out.
	Truncated bool
}

// envelope is the wire format shared by the database trigger and the redis relay.
type envelope struct {
	Type      EventType       `json:"type"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

type wireRow struct {
	ID             *string    `json:"id"`
	ConversationID *string    `json:"conversation_id"`
	SenderID       *string    `json:"sender_id"`
	Text           *string    `json:"text"`
	AttachmentRef  *string    `json:"attachment_ref"`
	CreatedAt      *time.Time `json:"created_at"`
	Edited         *bool      `json:"edited"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// Decode parses a change payload strictly. Unknown fields, unknown event types,
// other tables and rows missing required columns are rejected.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := strictUnmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: envelope: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, env.Type)
	}
	if env.Table != MessagesTable {
		return Event{}, fmt.Errorf("%w: unexpected table %q", ErrMalformedEvent, env.Table)
	}

	raw := env.Record
	if env.Type == EventDelete {
		raw = env.OldRecord
	}
	if isNullJSON(raw) {
		return Event{}, fmt.Errorf("%w: missing row for %s", ErrMalformedEvent, env.Type)
	}

	var row wireRow
	if err := strictUnmarshal(raw, &row); err != nil {
		return Event{}, fmt.Errorf("%w: row: %v", ErrMalformedEvent, err)
	}

	msg, err := row.toMessage(env.Truncated)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: env.Type, Row: msg, Truncated: env.Truncated}, nil
}

// Encode renders an event in the wire format accepted by Decode.
func Encode(event Event) ([]byte, error) {
	row := fromMessage(event.Row)
	rawRow, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}

	env := envelope{
		Type:      event.Type,
		Table:     MessagesTable,
		Truncated: event.Truncated,
	}
	if event.Type == EventDelete {
		env.Record = json.RawMessage("null")
		env.OldRecord = rawRow
	} else {
		env.Record = rawRow
	}
	return json.Marshal(env)
}

func (r wireRow) toMessage(truncated bool) (conversation.Message, error) {
	if r.ID == nil || *r.ID == "" {
		return conversation.Message{}, fmt.Errorf("%w: row missing id", ErrMalformedEvent)
	}
	if r.ConversationID == nil || *r.ConversationID == "" {
		return conversation.Message{}, fmt.Errorf("%w: row %s missing conversation_id", ErrMalformedEvent, *r.ID)
	}
	if r.SenderID == nil || *r.SenderID == "" {
		return conversation.Message{}, fmt.Errorf("%w: row %s missing sender_id", ErrMalformedEvent, *r.ID)
	}
	if r.CreatedAt == nil || r.CreatedAt.IsZero() {
		return conversation.Message{}, fmt.Errorf("%w: row %s missing created_at", ErrMalformedEvent, *r.ID)
	}
	if r.Text == nil && !truncated {
		return conversation.Message{}, fmt.Errorf("%w: row %s missing text", ErrMalformedEvent, *r.ID)
	}

	msg := conversation.Message{
		ID:             *r.ID,
		ConversationID: *r.ConversationID,
		SenderID:       *r.SenderID,
		AttachmentRef:  r.AttachmentRef,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.CreatedAt.UTC(),
	}
	if r.Text != nil {
		msg.Text = *r.Text
	}
	if r.Edited != nil {
		msg.Edited = *r.Edited
	}
	if r.UpdatedAt != nil && !r.UpdatedAt.IsZero() {
		msg.UpdatedAt = r.UpdatedAt.UTC()
	}
	return msg, nil
}

func fromMessage(m conversation.Message) wireRow {
	text := m.Text
	edited := m.Edited
	createdAt := m.CreatedAt
	updatedAt := m.UpdatedAt
	id := m.ID
	conversationID := m.ConversationID
	senderID := m.SenderID
	return wireRow{
		ID:             &id,
		ConversationID: &conversationID,
		SenderID:       &senderID,
		Text:           &text,
		AttachmentRef:  m.AttachmentRef,
		CreatedAt:      &createdAt,
		Edited:         &edited,
		UpdatedAt:      &updatedAt,
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
