package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) snapshot() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

type mapLoader map[string]conversation.Message

func (m mapLoader) FindMessageByID(ctx context.Context, id string) (*conversation.Message, error) {
	msg, ok := m[id]
	if !ok {
		return nil, conversation.ErrMessageNotFound
	}
	return &msg, nil
}

const insertPayload = `{"type":"INSERT","table":"messages","record":{"id":"0b6d4c8e-1f0e-4b57-9f5e-0d6f3e5c2a11","conversation_id":"5f1c2b7a-8d3e-4c9f-a1b2-c3d4e5f60718","sender_id":"alice","text":"hi","attachment_ref":null,"created_at":"2024-06-01T12:00:00.123456+00:00","edited":false,"updated_at":"2024-06-01T12:00:00.123456+00:00"},"old_record":null}`

const truncatedPayload = `{"type":"INSERT","table":"messages","record":{"id":"0b6d4c8e-1f0e-4b57-9f5e-0d6f3e5c2a11","conversation_id":"5f1c2b7a-8d3e-4c9f-a1b2-c3d4e5f60718","sender_id":"alice","attachment_ref":null,"created_at":"2024-06-01T12:00:00.123456+00:00","edited":false,"updated_at":"2024-06-01T12:00:00.123456+00:00"},"old_record":null,"truncated":true}`

func newTestListener(pub domain.Publisher, loader MessageLoader, onDisconnect func(error)) *PGListener {
	return NewPGListener(PGListenerConfig{Channel: "dm_message_changes"}, pub, loader, onDisconnect, zerolog.Nop())
}

func TestPGListener_PublishesDecodedInsert(t *testing.T) {
	pub := &capturePublisher{}
	l := newTestListener(pub, mapLoader{}, nil)

	l.handleNotification(context.Background(), insertPayload)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventInsert, events[0].Type)
	assert.Equal(t, "hi", events[0].Row.Text)
	assert.Equal(t, "alice", events[0].Row.SenderID)
}

func TestPGListener_DropsMalformedPayloads(t *testing.T) {
	pub := &capturePublisher{}
	l := newTestListener(pub, mapLoader{}, nil)

	for _, payload := range []string{
		`not json`,
		`{"type":"INSERT","table":"conversations","record":{}}`,
		`{"type":"INSERT","table":"messages","record":{"id":"x"}}`,
		`{"type":"INSERT","table":"messages","record":null,"extra":1}`,
	} {
		l.handleNotification(context.Background(), payload)
	}

	assert.Empty(t, pub.snapshot())
}

func TestPGListener_ReloadsTruncatedRows(t *testing.T) {
	pub := &capturePublisher{}
	full := conversation.Message{
		ID:             "0b6d4c8e-1f0e-4b57-9f5e-0d6f3e5c2a11",
		ConversationID: "5f1c2b7a-8d3e-4c9f-a1b2-c3d4e5f60718",
		SenderID:       "alice",
		Text:           "a very long message",
		CreatedAt:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	l := newTestListener(pub, mapLoader{full.ID: full}, nil)

	l.handleNotification(context.Background(), truncatedPayload)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.False(t, events[0].Truncated)
	assert.Equal(t, "a very long message", events[0].Row.Text)
}

func TestPGListener_DropsTruncatedRowThatCannotBeReloaded(t *testing.T) {
	pub := &capturePublisher{}
	l := newTestListener(pub, mapLoader{}, nil)

	l.handleNotification(context.Background(), truncatedPayload)

	assert.Empty(t, pub.snapshot())
}

func TestPGListener_DisconnectReportsGap(t *testing.T) {
	var got error
	l := newTestListener(&capturePublisher{}, mapLoader{}, func(err error) { got = err })

	l.handleListenerEvent(pq.ListenerEventConnected, nil)
	assert.NoError(t, got)

	l.handleListenerEvent(pq.ListenerEventDisconnected, errors.New("connection reset"))
	require.Error(t, got)
	assert.Contains(t, got.Error(), "connection reset")
}

func TestPGListener_DisconnectFailsBrokerSubscribers(t *testing.T) {
	broker := NewBroker(4, zerolog.Nop())
	defer broker.Close()
	l := newTestListener(broker, mapLoader{}, broker.Fail)

	sink := &recordingSink{}
	_, err := broker.Subscribe(context.Background(), "5f1c2b7a-8d3e-4c9f-a1b2-c3d4e5f60718", sink)
	require.NoError(t, err)

	l.handleNotification(context.Background(), insertPayload)
	require.Eventually(t, func() bool { return len(sink.eventIDs()) == 1 }, time.Second, time.Millisecond)

	l.handleListenerEvent(pq.ListenerEventDisconnected, errors.New("connection reset"))
	require.Eventually(t, func() bool { return sink.hasStatus(domain.StatusChannelError) }, time.Second, time.Millisecond)
}
