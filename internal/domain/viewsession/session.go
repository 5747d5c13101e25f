// Package viewsession keeps an ordered, deduplicated view of one conversation,
// merging change-feed events with optimistic local sends.
package viewsession

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/ingest"
	"jan-server/services/dm-api/internal/utils/idgen"
)

// DefaultMatchWindow bounds the timestamp distance between a provisional entry
// and the confirmed row that replaces it.
const DefaultMatchWindow = 30 * time.Second

// Options configures a session.
type Options struct {
	ConversationID string
	// UserID is the local user; sends are attributed to it.
	UserID string
	Bus    changefeed.Bus
	// Ingest persists sends. It may be nil for read-only sessions.
	Ingest      ingest.Service
	MatchWindow time.Duration
	Listener    Listener
	// Now overrides the clock used for provisional timestamps.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Session is a per-open-conversation controller. All methods are goroutine-safe.
type Session struct {
	conversationID string
	userID         string
	ingest         ingest.Service
	window         time.Duration
	listener       Listener
	now            func() time.Time
	log            zerolog.Logger

	// notifyMu is always taken before mu so listener calls follow mutation order.
	notifyMu sync.Mutex
	mu       sync.Mutex
	entries  []Entry
	state    State
	err      error
	sub      changefeed.Subscription

	unsubOnce sync.Once
}

// Open seeds a session with initial history, subscribes it to the bus and
// returns it in CONNECTING. SUBSCRIBED moves it to OPEN.
//
// A failed subscribe leaves the returned session in ERROR and also returns the
// SubscriptionError; the session must still be closed.
func Open(ctx context.Context, opts Options, initial []conversation.Message) (*Session, error) {
	if opts.ConversationID == "" {
		return nil, conversation.NewValidationError(ctx, "conversation id is required", nil)
	}
	if opts.Bus == nil {
		return nil, conversation.NewValidationError(ctx, "bus is required", nil)
	}

	s := &Session{
		conversationID: opts.ConversationID,
		userID:         opts.UserID,
		ingest:         opts.Ingest,
		window:         opts.MatchWindow,
		listener:       opts.Listener,
		now:            opts.Now,
		log: opts.Logger.With().
			Str("component", "view-session").
			Str("conversation_id", opts.ConversationID).
			Logger(),
		state: StateConnecting,
	}
	if s.window <= 0 {
		s.window = DefaultMatchWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.entries = seedEntries(opts.ConversationID, initial)

	sub, err := opts.Bus.Subscribe(ctx, opts.ConversationID, sessionSink{s: s})
	if err != nil {
		subErr := err
		if !conversation.IsSubscriptionError(err) {
			subErr = conversation.NewSubscriptionError(ctx, opts.ConversationID, "subscribe failed", err)
		}
		s.fail(subErr)
		return s, subErr
	}

	s.mu.Lock()
	closed := s.state == StateClosed
	if !closed {
		s.sub = sub
	}
	s.mu.Unlock()
	if closed {
		s.unsubscribe(sub)
	}

	return s, nil
}

func seedEntries(conversationID string, initial []conversation.Message) []Entry {
	seen := make(map[string]struct{}, len(initial))
	entries := make([]Entry, 0, len(initial))
	for _, msg := range initial {
		if msg.ConversationID != conversationID || msg.ID == "" {
			continue
		}
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		entries = append(entries, confirmedEntry(msg))
	}
	sortEntries(entries)
	return entries
}

// ConversationID returns the conversation this session views.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to ERROR, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Messages returns a snapshot of the view in order.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// OnEvent reconciles one change event into the view.
func (s *Session) OnEvent(event changefeed.Event) {
	s.mutate(func() []Change {
		if !s.acceptingLocked() {
			return nil
		}
		return s.applyLocked(event)
	})
}

// Backfill merges rows read from the store after subscribing. Rows already
// delivered by the feed are skipped and matching provisional entries are confirmed.
func (s *Session) Backfill(messages []conversation.Message) {
	sorted := make([]conversation.Message, len(messages))
	copy(sorted, messages)
	conversation.SortMessages(sorted)

	s.mutate(func() []Change {
		if !s.acceptingLocked() {
			return nil
		}
		var changes []Change
		for _, msg := range sorted {
			changes = append(changes, s.applyLocked(changefeed.Event{Type: changefeed.EventInsert, Row: msg})...)
		}
		return changes
	})
}

// Send renders text optimistically, persists it through Ingest and reconciles
// the result. On failure the provisional entry is removed and the error returned.
func (s *Session) Send(ctx context.Context, text string, opts ...ingest.SendOption) (*conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, conversation.NewValidationError(ctx, "message text must not be empty", map[string]any{
			"conversation_id": s.conversationID,
		})
	}
	if s.ingest == nil {
		return nil, conversation.NewValidationError(ctx, "session is read-only", map[string]any{
			"conversation_id": s.conversationID,
		})
	}

	localID := idgen.NewProvisionalID()
	var rejected bool
	s.mutate(func() []Change {
		if s.state == StateClosed {
			rejected = true
			return nil
		}
		entry := provisionalEntry(localID, s.conversationID, s.userID, text, s.now())
		idx := s.insertLocked(entry)
		return []Change{{Kind: ChangeInserted, Entry: entry, Index: idx}}
	})
	if rejected {
		return nil, conversation.NewValidationError(ctx, "session is closed", map[string]any{
			"conversation_id": s.conversationID,
		})
	}

	row, err := s.ingest.Send(ctx, s.conversationID, s.userID, text, opts...)
	if err != nil {
		s.mutate(func() []Change {
			if change, ok := s.removeLocalLocked(localID); ok {
				return []Change{change}
			}
			return nil
		})
		s.log.Debug().Err(err).Str("local_id", localID).Msg("send failed, provisional entry removed")
		return nil, err
	}

	confirmed := *row
	s.mutate(func() []Change {
		if s.state == StateClosed {
			return nil
		}
		if s.indexOfIDLocked(confirmed.ID) >= 0 {
			// The echo arrived first.
			if change, ok := s.removeLocalLocked(localID); ok {
				return []Change{change}
			}
			return nil
		}
		if idx := s.indexOfLocalLocked(localID); idx >= 0 {
			return []Change{s.replaceLocked(idx, confirmed)}
		}
		return s.applyInsertLocked(confirmed)
	})

	return row, nil
}

// Close unsubscribes and discards the view. It is idempotent.
func (s *Session) Close() {
	var sub changefeed.Subscription
	s.mutate(func() []Change {
		if s.state == StateClosed {
			return nil
		}
		s.state = StateClosed
		s.entries = nil
		sub = s.sub
		s.sub = nil
		return []Change{{Kind: ChangeState, State: StateClosed}}
	})
	if sub != nil {
		s.unsubscribe(sub)
	}
}

func (s *Session) unsubscribe(sub changefeed.Subscription) {
	s.unsubOnce.Do(sub.Unsubscribe)
}

func (s *Session) handleStatus(status changefeed.Status, err error) {
	switch status {
	case changefeed.StatusSubscribed:
		s.mutate(func() []Change {
			if s.state != StateConnecting {
				return nil
			}
			s.state = StateOpen
			return []Change{{Kind: ChangeState, State: StateOpen}}
		})
	case changefeed.StatusChannelError, changefeed.StatusTimedOut, changefeed.StatusClosed:
		if err == nil || !conversation.IsSubscriptionError(err) {
			err = conversation.NewSubscriptionError(context.Background(), s.conversationID, "subscription "+string(status), err)
		}
		s.fail(err)
	default:
		s.log.Warn().Str("status", string(status)).Msg("ignoring unknown subscription status")
	}
}

func (s *Session) fail(err error) {
	var failed bool
	s.mutate(func() []Change {
		if s.state == StateError || s.state == StateClosed {
			return nil
		}
		failed = true
		s.state = StateError
		s.err = err
		return []Change{{Kind: ChangeState, State: StateError, Err: err}}
	})
	if failed {
		s.log.Warn().Err(err).Msg("view session failed")
	}
}

// mutate runs fn under mu and then hands its changes to the listener outside mu.
func (s *Session) mutate(fn func() []Change) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changes := fn()
	s.mu.Unlock()

	if s.listener == nil {
		return
	}
	for _, change := range changes {
		s.listener(change)
	}
}

func (s *Session) acceptingLocked() bool {
	return s.state == StateConnecting || s.state == StateOpen
}

func (s *Session) applyLocked(event changefeed.Event) []Change {
	row := event.Row
	if row.ConversationID != s.conversationID {
		return nil
	}
	if row.ID == "" || event.Truncated {
		s.log.Debug().Str("event_type", string(event.Type)).Msg("dropping incomplete event")
		return nil
	}

	switch event.Type {
	case changefeed.EventInsert:
		if s.indexOfIDLocked(row.ID) >= 0 {
			return nil
		}
		return s.applyInsertLocked(row)
	case changefeed.EventUpdate:
		idx := s.indexOfIDLocked(row.ID)
		if idx < 0 {
			return nil
		}
		return []Change{s.replaceLocked(idx, row)}
	default:
		return nil
	}
}

// applyInsertLocked confirms the earliest matching provisional entry or inserts row in order.
func (s *Session) applyInsertLocked(row conversation.Message) []Change {
	for i, entry := range s.entries {
		if entry.matches(row, s.window) {
			return []Change{s.replaceLocked(i, row)}
		}
	}
	entry := confirmedEntry(row)
	idx := s.insertLocked(entry)
	return []Change{{Kind: ChangeInserted, Entry: entry, Index: idx}}
}

func (s *Session) replaceLocked(idx int, row conversation.Message) Change {
	entry := s.entries[idx]
	entry.Kind = KindConfirmed
	entry.Message = row
	if entry.LocalID == "" {
		entry.LocalID = row.ID
	}

	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	newIdx := s.insertLocked(entry)
	return Change{Kind: ChangeReplaced, Entry: entry, Index: newIdx, PrevIndex: idx}
}

func (s *Session) insertLocked(entry Entry) int {
	idx := len(s.entries)
	for i := range s.entries {
		if entry.before(s.entries[i]) {
			idx = i
			break
		}
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry
	return idx
}

func (s *Session) removeLocalLocked(localID string) (Change, bool) {
	idx := s.indexOfLocalLocked(localID)
	if idx < 0 || s.entries[idx].Kind != KindProvisional {
		return Change{}, false
	}
	entry := s.entries[idx]
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	return Change{Kind: ChangeRemoved, Entry: entry, Index: idx}, true
}

func (s *Session) indexOfIDLocked(id string) int {
	for i := range s.entries {
		if s.entries[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) indexOfLocalLocked(localID string) int {
	for i := range s.entries {
		if s.entries[i].LocalID == localID && s.entries[i].Kind == KindProvisional {
			return i
		}
	}
	return -1
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].before(entries[j])
	})
}

// sessionSink adapts a Session to changefeed.Sink.
type sessionSink struct {
	s *Session
}

func (k sessionSink) HandleEvent(event changefeed.Event) {
	k.s.OnEvent(event)
}

func (k sessionSink) HandleStatus(status changefeed.Status, err error) {
	k.s.handleStatus(status, err)
}
