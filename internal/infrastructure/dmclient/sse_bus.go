package dmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/viewsession"
	"jan-server/services/dm-api/internal/interfaces/httpserver/responses"
)

const maxEventBytes = 1 << 20

// StreamBus subscribes to a conversation through the server's event stream.
// Confirmed rows from the server-side session become INSERT or UPDATE events;
// its state and error events become subscription statuses.
type StreamBus struct {
	client *Client
}

var _ changefeed.Bus = (*StreamBus)(nil)

// NewStreamBus creates a bus backed by c.
func NewStreamBus(c *Client) *StreamBus {
	return &StreamBus{client: c}
}

// Subscribe opens the stream and returns once the server has accepted it.
// Events are delivered from a single goroutine until the stream ends or the
// subscription is released.
func (b *StreamBus) Subscribe(ctx context.Context, conversationID string, sink changefeed.Sink) (changefeed.Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	c := b.client
	resp, err := c.authorize(c.stream.R().SetContext(streamCtx)).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Get(c.endpoint("/conversations/" + conversationID + "/stream"))
	if err != nil {
		cancel()
		return nil, conversation.NewSubscriptionError(ctx, conversationID, "open stream", err)
	}
	if resp.IsError() {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		rejected := c.errorFromResponse(ctx, resp.StatusCode(), body, conversationID)
		return nil, conversation.NewSubscriptionError(ctx, conversationID, "stream rejected", rejected)
	}

	sub := &streamSubscription{
		conversationID: conversationID,
		body:           resp.Body,
		sink:           sink,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go sub.run(streamCtx)
	return sub, nil
}

type streamSubscription struct {
	conversationID string
	body           io.ReadCloser
	sink           changefeed.Sink
	cancel         context.CancelFunc
	done           chan struct{}

	mu       sync.Mutex
	released bool
	once     sync.Once
}

// Unsubscribe stops the reader and waits for it; no status follows.
func (s *streamSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		s.cancel()
		_ = s.body.Close()
		<-s.done
	})
}

func (s *streamSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.body.Close()

	reader := newEventReader(s.body)
	var pendingErr bool
	for {
		name, data, err := reader.next()
		if err != nil {
			if s.isReleased() {
				return
			}
			status := changefeed.StatusClosed
			if pendingErr {
				status = changefeed.StatusChannelError
			}
			s.finish(status, conversation.NewSubscriptionError(ctx, s.conversationID, "stream ended", err))
			return
		}
		if s.isReleased() {
			return
		}

		switch name {
		case "message":
			s.handleEntry(data)
		case "state":
			var state responses.StreamStateEvent
			if json.Unmarshal(data, &state) != nil {
				continue
			}
			switch viewsession.State(state.State) {
			case viewsession.StateOpen:
				s.sink.HandleStatus(changefeed.StatusSubscribed, nil)
			case viewsession.StateError:
				// The error event that follows carries the cause.
				pendingErr = true
			case viewsession.StateClosed:
				s.finish(changefeed.StatusClosed, nil)
				return
			}
		case "error":
			var detail responses.ErrorDetail
			_ = json.Unmarshal(data, &detail)
			if detail.Message == "" {
				detail.Message = "stream failed"
			}
			s.finish(changefeed.StatusChannelError, conversation.NewSubscriptionError(ctx, s.conversationID, detail.Message, nil))
			return
		}
	}
}

func (s *streamSubscription) handleEntry(data []byte) {
	var entry responses.StreamEntryEvent
	if err := json.Unmarshal(data, &entry); err != nil || entry.Message == nil {
		return
	}
	if entry.Kind != string(viewsession.KindConfirmed) {
		return
	}

	var eventType changefeed.EventType
	switch viewsession.ChangeKind(entry.Change) {
	case viewsession.ChangeInserted:
		eventType = changefeed.EventInsert
	case viewsession.ChangeReplaced:
		eventType = changefeed.EventUpdate
	default:
		return
	}
	s.sink.HandleEvent(changefeed.Event{Type: eventType, Row: toMessage(entry.Message)})
}

func (s *streamSubscription) finish(status changefeed.Status, err error) {
	s.sink.HandleStatus(status, err)
}

func (s *streamSubscription) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// eventReader splits a text/event-stream body into named events.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	return &eventReader{scanner: scanner}
}

// next returns the following event; comment-only blocks are skipped.
func (r *eventReader) next() (string, []byte, error) {
	var name string
	var data bytes.Buffer
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if name == "" && data.Len() == 0 {
				continue
			}
			if name == "" {
				name = "message"
			}
			return name, data.Bytes(), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read stream: %w", err)
	}
	return "", nil, io.EOF
}
