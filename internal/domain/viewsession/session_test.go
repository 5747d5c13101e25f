package viewsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/ingest"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

const convID = "c1"

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSubscription struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSubscription) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeSubscription) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBus records the sink so tests can drive events and statuses directly.
type fakeBus struct {
	sink         changefeed.Sink
	sub          *fakeSubscription
	err          error
	onSubscribed func(sink changefeed.Sink)
}

func (b *fakeBus) Subscribe(ctx context.Context, conversationID string, sink changefeed.Sink) (changefeed.Subscription, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.sink = sink
	b.sub = &fakeSubscription{}
	if b.onSubscribed != nil {
		b.onSubscribed(sink)
	}
	return b.sub, nil
}

type fakeIngest struct {
	seq     int
	err     error
	at      time.Time
	before  func(row conversation.Message)
	sendLog []string
}

func (f *fakeIngest) Send(ctx context.Context, conversationID, senderID, text string, opts ...ingest.SendOption) (*conversation.Message, error) {
	f.sendLog = append(f.sendLog, text)
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	row := conversation.Message{
		ID:             fmt.Sprintf("srv-%d", f.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      f.at.Add(time.Duration(f.seq) * time.Millisecond),
	}
	row.UpdatedAt = row.CreatedAt
	if f.before != nil {
		f.before(row)
	}
	return &row, nil
}

func msg(id string, at time.Time, sender, text string) conversation.Message {
	return conversation.Message{ID: id, ConversationID: convID, SenderID: sender, Text: text, CreatedAt: at, UpdatedAt: at}
}

func insert(m conversation.Message) changefeed.Event {
	return changefeed.Event{Type: changefeed.EventInsert, Row: m}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.ID)
	}
	return out
}

func openSession(t *testing.T, bus *fakeBus, ing ingest.Service, initial []conversation.Message, listener Listener) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		ConversationID: convID,
		UserID:         "u1",
		Bus:            bus,
		Ingest:         ing,
		Listener:       listener,
		Now:            func() time.Time { return t0 },
		Logger:         zerolog.Nop(),
	}, initial)
	require.NoError(t, err)
	return s
}

func TestOpen_SeedsSortedDedupedAndMovesToOpen(t *testing.T) {
	bus := &fakeBus{}
	initial := []conversation.Message{
		msg("m2", t0.Add(time.Second), "u2", "second"),
		msg("m1", t0, "u1", "first"),
		msg("m2", t0.Add(time.Second), "u2", "second"),
		{ID: "other", ConversationID: "c2", CreatedAt: t0},
	}
	s := openSession(t, bus, nil, initial, nil)

	assert.Equal(t, StateConnecting, s.State())
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
	for _, e := range s.Messages() {
		assert.True(t, e.Confirmed())
	}

	bus.sink.HandleStatus(changefeed.StatusSubscribed, nil)
	assert.Equal(t, StateOpen, s.State())
	assert.NoError(t, s.Err())
}

func TestOpen_SubscribeFailureMovesToError(t *testing.T) {
	bus := &fakeBus{err: errors.New("dial failed")}

	s, err := Open(context.Background(), Options{ConversationID: convID, Bus: bus, Logger: zerolog.Nop()}, nil)
	require.Error(t, err)
	require.NotNil(t, s)
	assert.True(t, conversation.IsSubscriptionError(err))
	assert.Equal(t, StateError, s.State())
	assert.True(t, conversation.IsSubscriptionError(s.Err()))

	s.Close()
	assert.Equal(t, StateClosed, s.State())
}

func TestOpen_RequiresBusAndConversation(t *testing.T) {
	_, err := Open(context.Background(), Options{ConversationID: convID}, nil)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))

	_, err = Open(context.Background(), Options{Bus: &fakeBus{}}, nil)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
}

func TestTransportFailuresMoveToErrorForGood(t *testing.T) {
	for _, status := range []changefeed.Status{changefeed.StatusChannelError, changefeed.StatusTimedOut, changefeed.StatusClosed} {
		t.Run(string(status), func(t *testing.T) {
			bus := &fakeBus{}
			s := openSession(t, bus, nil, nil, nil)
			bus.sink.HandleStatus(changefeed.StatusSubscribed, nil)

			bus.sink.HandleStatus(status, errors.New("transport gone"))
			assert.Equal(t, StateError, s.State())
			assert.True(t, conversation.IsSubscriptionError(s.Err()))

			bus.sink.HandleStatus(changefeed.StatusSubscribed, nil)
			assert.Equal(t, StateError, s.State())

			bus.sink.HandleEvent(insert(msg("m1", t0, "u2", "late")))
			assert.Empty(t, s.Messages())
		})
	}
}

func TestOnEvent_DuplicateDeliveryIsIdempotent(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, nil, nil)

	m1 := msg("m1", t0.Add(100*time.Millisecond), "u1", "hi")
	s.OnEvent(insert(m1))
	s.OnEvent(insert(m1))
	s.OnEvent(insert(m1))

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Message.Text)

	m2 := msg("m2", t0.Add(99*time.Millisecond), "u2", "earlier")
	s.OnEvent(insert(m2))
	assert.Equal(t, []string{"m2", "m1"}, ids(s.Messages()))
}

func TestOnEvent_OutOfOrderArrivalIsSorted(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, nil, nil)

	s.OnEvent(insert(msg("c", t0.Add(3*time.Second), "u2", "three")))
	s.OnEvent(insert(msg("a", t0.Add(1*time.Second), "u2", "one")))
	s.OnEvent(insert(msg("b", t0.Add(2*time.Second), "u1", "two")))
	s.OnEvent(insert(msg("a2", t0.Add(1*time.Second), "u1", "tie")))

	assert.Equal(t, []string{"a", "a2", "b", "c"}, ids(s.Messages()))
}

func TestOnEvent_IgnoresOtherConversationsAndIncompleteRows(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, nil, nil)

	other := msg("x", t0, "u2", "elsewhere")
	other.ConversationID = "c2"
	s.OnEvent(insert(other))
	s.OnEvent(changefeed.Event{Type: changefeed.EventInsert, Row: msg("t", t0, "u2", ""), Truncated: true})

	assert.Empty(t, s.Messages())
}

func TestOnEvent_UpdateReplacesAndDeleteIsIgnored(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, []conversation.Message{msg("m1", t0, "u2", "helo")}, nil)

	edited := msg("m1", t0, "u2", "hello")
	edited.Edited = true
	s.OnEvent(changefeed.Event{Type: changefeed.EventUpdate, Row: edited})
	s.OnEvent(changefeed.Event{Type: changefeed.EventUpdate, Row: msg("unknown", t0, "u2", "x")})
	s.OnEvent(changefeed.Event{Type: changefeed.EventDelete, Row: edited})

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message.Text)
	assert.True(t, entries[0].Message.Edited)
}

func TestSend_EchoAfterAckYieldsSingleEntry(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{at: t0}
	s := openSession(t, bus, ing, nil, nil)

	row, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Confirmed())
	assert.Equal(t, row.ID, entries[0].Message.ID)

	s.OnEvent(insert(*row))
	s.OnEvent(insert(*row))
	require.Len(t, s.Messages(), 1)
}

func TestSend_EchoBeforeAckYieldsSingleEntry(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{at: t0}
	s := openSession(t, bus, ing, nil, nil)
	ing.before = func(row conversation.Message) {
		bus.sink.HandleEvent(insert(row))
	}

	row, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, row.ID, entries[0].Message.ID)
	assert.True(t, entries[0].Confirmed())
}

func TestSend_KeepsLocalIDAcrossConfirmation(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{at: t0}
	var changes []Change
	s := openSession(t, bus, ing, nil, func(c Change) { changes = append(changes, c) })

	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeInserted, changes[0].Kind)
	assert.Equal(t, KindProvisional, changes[0].Entry.Kind)
	assert.Equal(t, ChangeReplaced, changes[1].Kind)
	assert.Equal(t, KindConfirmed, changes[1].Entry.Kind)
	assert.Equal(t, changes[0].Entry.LocalID, changes[1].Entry.LocalID)
}

func TestSend_FailureRemovesProvisional(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{err: conversation.NewPersistenceError(context.Background(), "insert failed", errors.New("boom"))}
	var changes []Change
	s := openSession(t, bus, ing, nil, func(c Change) { changes = append(changes, c) })

	_, err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, conversation.IsPersistenceError(err))
	assert.Empty(t, s.Messages())

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeInserted, changes[0].Kind)
	assert.Equal(t, ChangeRemoved, changes[1].Kind)
}

func TestSend_RejectsEmptyText(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{at: t0}
	s := openSession(t, bus, ing, nil, nil)

	_, err := s.Send(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, conversation.IsValidationError(err))
	assert.Empty(t, ing.sendLog)
	assert.Empty(t, s.Messages())
}

func TestSend_IdenticalTextsReconcileWithoutLossOrDuplicates(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{at: t0}
	s := openSession(t, bus, ing, nil, nil)

	first, err := s.Send(context.Background(), "ok")
	require.NoError(t, err)
	second, err := s.Send(context.Background(), "ok")
	require.NoError(t, err)

	s.OnEvent(insert(*second))
	s.OnEvent(insert(*first))

	assert.Equal(t, []string{first.ID, second.ID}, ids(s.Messages()))
}

func TestOnEvent_MatchesProvisionalWithinWindowOnly(t *testing.T) {
	bus := &fakeBus{}
	block := make(chan struct{})
	ing := &blockingIngest{release: block}
	s := openSession(t, bus, ing, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Send(context.Background(), "hello")
	}()
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)

	far := msg("far", t0.Add(time.Hour), "u1", "hello")
	s.OnEvent(insert(far))
	entries := s.Messages()
	require.Len(t, entries, 2)
	assert.Equal(t, KindProvisional, entries[0].Kind)

	near := msg("near", t0.Add(2*time.Second), "u1", "hello")
	s.OnEvent(insert(near))
	entries = s.Messages()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"near", "far"}, ids(entries))

	close(block)
	<-done
	assert.Len(t, s.Messages(), 2)
}

// blockingIngest fails after release so the provisional entry outlives the test's events.
type blockingIngest struct {
	release chan struct{}
}

func (b *blockingIngest) Send(ctx context.Context, conversationID, senderID, text string, opts ...ingest.SendOption) (*conversation.Message, error) {
	<-b.release
	return nil, errors.New("unavailable")
}

func TestBackfill_ClosesGapWithoutDuplicates(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, nil, nil)
	bus.sink.HandleStatus(changefeed.StatusSubscribed, nil)

	live := msg("m3", t0.Add(3*time.Second), "u2", "live")
	s.OnEvent(insert(live))

	s.Backfill([]conversation.Message{
		msg("m3", t0.Add(3*time.Second), "u2", "live"),
		msg("m2", t0.Add(2*time.Second), "u1", "two"),
		msg("m1", t0.Add(1*time.Second), "u2", "one"),
	})

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages()))
}

func TestClose_IsIdempotentAndUnsubscribesOnce(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, []conversation.Message{msg("m1", t0, "u2", "hi")}, nil)

	s.Close()
	s.Close()

	assert.Equal(t, 1, bus.sub.count())
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Messages())
}

func TestClose_LateEventsHaveNoEffect(t *testing.T) {
	bus := &fakeBus{}
	var changes []Change
	s := openSession(t, bus, nil, nil, func(c Change) { changes = append(changes, c) })
	s.Close()
	before := len(changes)

	bus.sink.HandleEvent(insert(msg("m1", t0, "u2", "late")))
	bus.sink.HandleStatus(changefeed.StatusSubscribed, nil)
	bus.sink.HandleStatus(changefeed.StatusChannelError, errors.New("late"))

	assert.Empty(t, s.Messages())
	assert.Equal(t, StateClosed, s.State())
	assert.NoError(t, s.Err())
	assert.Len(t, changes, before)
}

func TestClose_BeforeSubscribeReturnsStillUnsubscribes(t *testing.T) {
	bus := &fakeBus{}
	bus.onSubscribed = func(sink changefeed.Sink) {
		// Open has not returned yet.
		sink.(sessionSink).s.Close()
	}

	s, err := Open(context.Background(), Options{ConversationID: convID, Bus: bus, Logger: zerolog.Nop()}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, bus.sub.count())

	s.Close()
	assert.Equal(t, 1, bus.sub.count())
}

func TestSend_AfterCloseIsRejected(t *testing.T) {
	bus := &fakeBus{}
	ing := &fakeIngest{at: t0}
	s := openSession(t, bus, ing, nil, nil)
	s.Close()

	_, err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Empty(t, ing.sendLog)
}

func TestConcurrentEventsAndClose(t *testing.T) {
	bus := &fakeBus{}
	s := openSession(t, bus, nil, nil, func(Change) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("m-%d-%d", i, j)
				bus.sink.HandleEvent(insert(msg(id, t0.Add(time.Duration(j)*time.Millisecond), "u2", id)))
				bus.sink.HandleEvent(insert(msg(id, t0.Add(time.Duration(j)*time.Millisecond), "u2", id)))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Close()
		s.Close()
	}()
	wg.Wait()

	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Messages())
	assert.Equal(t, 1, bus.sub.count())
}
