package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/config"
	"jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/directory"
	"jan-server/services/dm-api/internal/domain/viewsession"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
	"jan-server/services/dm-api/internal/interfaces/httpserver/responses"
)

// Stream event names.
const (
	StreamEventMessage = "message"
	StreamEventState   = "state"
	StreamEventError   = "error"
)

// streamBacklog bounds live changes queued between the session and a slow
// client. The history backfill is admitted on top of it.
const streamBacklog = 256

// ErrStreamBacklog ends a stream whose client cannot keep up.
var ErrStreamBacklog = errors.New("stream client too slow")

// StreamWriter receives stream output. Implementations flush after each call.
type StreamWriter interface {
	Event(name string, payload any) error
	Ping() error
}

// StreamHandler drives a server-side view session per stream request.
type StreamHandler struct {
	directory   directory.Service
	bus         changefeed.Bus
	matchWindow time.Duration
	heartbeat   time.Duration
	log         zerolog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(directory directory.Service, bus changefeed.Bus, cfg *config.Config, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		directory:   directory,
		bus:         bus,
		matchWindow: cfg.SessionMatchWindow,
		heartbeat:   cfg.StreamHeartbeat,
		log:         log.With().Str("component", "stream-handler").Logger(),
	}
}

// Authorize checks the caller may read the conversation before any stream output.
func (h *StreamHandler) Authorize(ctx context.Context, userID, conversationID string) error {
	_, err := h.directory.GetConversation(ctx, userID, conversationID)
	return err
}

// Serve streams the reconciled view of a conversation until ctx ends or the
// session fails. History is loaded after the subscription so nothing committed
// in between is missed; the session drops the duplicates.
func (h *StreamHandler) Serve(ctx context.Context, userID, conversationID string, w StreamWriter) error {
	queue := newChangeQueue(streamBacklog)

	metrics.ViewSessionsActive.Inc()
	defer metrics.ViewSessionsActive.Dec()

	session, err := viewsession.Open(ctx, viewsession.Options{
		ConversationID: conversationID,
		UserID:         userID,
		Bus:            h.bus,
		MatchWindow:    h.matchWindow,
		Listener:       queue.push,
		Logger:         h.log,
	}, nil)
	if session != nil {
		defer session.Close()
	}
	if err != nil {
		metrics.RecordViewSessionState(string(viewsession.StateError))
		return w.Event(StreamEventError, errorPayload(err))
	}

	if err := w.Event(StreamEventState, stateEvent(conversationID, session.State())); err != nil {
		return err
	}

	history, err := h.directory.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return w.Event(StreamEventError, errorPayload(err))
	}
	queue.grow(len(history))
	session.Backfill(history)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-queue.overflow:
			h.log.Warn().Str("conversation_id", conversationID).Msg("closing stream with full backlog")
			return w.Event(StreamEventError, errorPayload(ErrStreamBacklog))
		case <-heartbeat.C:
			if err := w.Ping(); err != nil {
				return err
			}
		case <-queue.ready:
			for _, change := range queue.drain() {
				done, err := h.write(w, conversationID, change)
				if err != nil || done {
					return err
				}
			}
		}
	}
}

// changeQueue buffers session changes for the writer loop. push runs on the
// session's listener path and never blocks; once more than limit changes wait
// unwritten the queue gives up and closes overflow.
type changeQueue struct {
	mu         sync.Mutex
	items      []viewsession.Change
	limit      int
	overflowed bool

	ready    chan struct{}
	overflow chan struct{}
}

func newChangeQueue(limit int) *changeQueue {
	return &changeQueue{
		limit:    limit,
		ready:    make(chan struct{}, 1),
		overflow: make(chan struct{}),
	}
}

func (q *changeQueue) push(change viewsession.Change) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.overflowed {
		return
	}
	if len(q.items) >= q.limit {
		q.overflowed = true
		q.items = nil
		close(q.overflow)
		return
	}
	q.items = append(q.items, change)
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// grow raises the bound by n, making room for a burst such as the backfill.
func (q *changeQueue) grow(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limit += n
}

func (q *changeQueue) drain() []viewsession.Change {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (h *StreamHandler) write(w StreamWriter, conversationID string, change viewsession.Change) (bool, error) {
	if change.Kind != viewsession.ChangeState {
		return false, w.Event(StreamEventMessage, entryEvent(change))
	}

	metrics.RecordViewSessionState(string(change.State))
	if err := w.Event(StreamEventState, stateEvent(conversationID, change.State)); err != nil {
		return true, err
	}
	switch change.State {
	case viewsession.StateError:
		return true, w.Event(StreamEventError, errorPayload(change.Err))
	case viewsession.StateClosed:
		return true, nil
	default:
		return false, nil
	}
}

func stateEvent(conversationID string, state viewsession.State) *responses.StreamStateEvent {
	return &responses.StreamStateEvent{ConversationID: conversationID, State: string(state)}
}

func entryEvent(change viewsession.Change) *responses.StreamEntryEvent {
	return responses.NewStreamEntryEvent(change)
}

func errorPayload(err error) *responses.ErrorDetail {
	detail := &responses.ErrorDetail{Message: "stream failed", Type: "internal_error"}
	if err != nil {
		detail.Message = err.Error()
	}
	if conversation.IsSubscriptionError(err) {
		detail.Type = "subscription_error"
	}
	return detail
}
