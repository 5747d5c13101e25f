package directory

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

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

// fakeStore keeps conversations in maps and lets tests inject a racing writer.
type fakeStore struct {
	mu           sync.Mutex
	byID         map[string]*conversation.Conversation
	byPair       map[string]*conversation.Conversation
	messages     map[string][]conversation.Message
	createCalls  int
	beforeCreate func(pair conversation.Pair)
	listErr      error
	seq          int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:     map[string]*conversation.Conversation{},
		byPair:   map[string]*conversation.Conversation{},
		messages: map[string][]conversation.Message{},
	}
}

func (f *fakeStore) add(pair conversation.Pair, createdAt time.Time) *conversation.Conversation {
	f.seq++
	conv := &conversation.Conversation{
		ID:           fmt.Sprintf("conv-%d", f.seq),
		ParticipantA: pair.A,
		ParticipantB: pair.B,
		CreatedAt:    createdAt,
	}
	f.byID[conv.ID] = conv
	f.byPair[pair.Key()] = conv
	return conv
}

func (f *fakeStore) CreateConversation(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	if f.beforeCreate != nil {
		f.beforeCreate(pair)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if _, ok := f.byPair[pair.Key()]; ok {
		return nil, conversation.ErrDuplicateConversation
	}
	c := *f.add(pair, time.Now())
	return &c, nil
}

func (f *fakeStore) FindConversationByPair(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byPair[pair.Key()]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (f *fakeStore) FindConversationByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byID[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (f *fakeStore) ListConversationsForUser(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*conversation.Conversation
	for _, c := range f.byID {
		if c.HasParticipant(userID) {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg *conversation.Message) error {
	return errors.New("not used")
}

func (f *fakeStore) FindMessageByID(ctx context.Context, id string) (*conversation.Message, error) {
	return nil, conversation.ErrMessageNotFound
}

func (f *fakeStore) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]conversation.Message, len(f.messages[conversationID]))
	copy(out, f.messages[conversationID])
	return out, nil
}

func (f *fakeStore) LastMessages(ctx context.Context, conversationIDs []string) (map[string]conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]conversation.Message{}
	for _, id := range conversationIDs {
		msgs := f.messages[id]
		if len(msgs) == 0 {
			continue
		}
		sorted := append([]conversation.Message(nil), msgs...)
		conversation.SortMessages(sorted)
		out[id] = sorted[len(sorted)-1]
	}
	return out, nil
}

func TestEnsureConversation_Symmetric(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	first, err := svc.EnsureConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	second, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", first.ParticipantA)
	assert.Equal(t, "bob", first.ParticipantB)
	assert.Equal(t, 1, store.createCalls)
}

func TestEnsureConversation_Validation(t *testing.T) {
	svc := NewService(newFakeStore(), zerolog.Nop())

	tests := []struct {
		name string
		a, b string
	}{
		{name: "missing first", a: "", b: "bob"},
		{name: "missing second", a: "alice", b: ""},
		{name: "self", a: "alice", b: "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := svc.EnsureConversation(context.Background(), tt.a, tt.b)
			require.Error(t, err)
			assert.Nil(t, conv)
			assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
		})
	}
}

func TestEnsureConversation_FallsBackOnDuplicate(t *testing.T) {
	store := newFakeStore()
	var winner *conversation.Conversation
	store.beforeCreate = func(pair conversation.Pair) {
		store.mu.Lock()
		defer store.mu.Unlock()
		if winner == nil {
			winner = store.add(pair, time.Now())
		}
	}
	svc := NewService(store, zerolog.Nop())

	conv, err := svc.EnsureConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, winner.ID, conv.ID)
	assert.Len(t, store.byID, 1)
}

func TestEnsureConversation_ConcurrentCallersShareOneConversation(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zerolog.Nop())

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := svc.EnsureConversation(context.Background(), a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.byID, 1)
}

func TestEnsureConversation_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	store := newFakeStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.beforeCreate = func(conversation.Pair) {
		once.Do(func() { close(entered) })
		<-release
	}
	svc := NewService(store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.EnsureConversation(ctx, "alice", "bob")
		first <- err
	}()
	<-entered

	type result struct {
		conv *conversation.Conversation
		err  error
	}
	second := make(chan result, 1)
	go func() {
		conv, err := svc.EnsureConversation(context.Background(), "bob", "alice")
		second <- result{conv: conv, err: err}
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.conv.ParticipantA)
	assert.NoError(t, <-first)
	assert.Len(t, store.byID, 1)
}

func TestListConversations_OrderedByLastActivity(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	old := store.add(conversation.CanonicalPair("alice", "bob"), base)
	quiet := store.add(conversation.CanonicalPair("alice", "carol"), base.Add(time.Hour))
	busy := store.add(conversation.CanonicalPair("alice", "dave"), base.Add(-time.Hour))
	store.add(conversation.CanonicalPair("bob", "carol"), base.Add(2*time.Hour))

	lastAt := base.Add(3 * time.Hour)
	busy.LastMessageAt = &lastAt
	store.messages[busy.ID] = []conversation.Message{
		{ID: "m1", ConversationID: busy.ID, SenderID: "dave", Text: "first", CreatedAt: base},
		{ID: "m2", ConversationID: busy.ID, SenderID: "alice", Text: "latest", CreatedAt: lastAt},
	}

	svc := NewService(store, zerolog.Nop())
	summaries, err := svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, busy.ID, summaries[0].Conversation.ID)
	assert.Equal(t, "dave", summaries[0].Counterpart.ID)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "latest", summaries[0].LastMessage.Text)

	assert.Equal(t, quiet.ID, summaries[1].Conversation.ID)
	assert.Equal(t, "carol", summaries[1].Counterpart.ID)
	assert.Nil(t, summaries[1].LastMessage)

	assert.Equal(t, old.ID, summaries[2].Conversation.ID)
	assert.Equal(t, "bob", summaries[2].Counterpart.ID)
}

func TestListConversations_Empty(t *testing.T) {
	svc := NewService(newFakeStore(), zerolog.Nop())

	summaries, err := svc.ListConversations(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, summaries)
	assert.Empty(t, summaries)
}

func TestListConversations_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")
	svc := NewService(store, zerolog.Nop())

	_, err := svc.ListConversations(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, conversation.IsPersistenceError(err))
}

func TestGetConversation_Access(t *testing.T) {
	store := newFakeStore()
	conv := store.add(conversation.CanonicalPair("alice", "bob"), time.Now())
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	got, err := svc.GetConversation(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = svc.GetConversation(ctx, "mallory", conv.ID)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))

	_, err = svc.GetConversation(ctx, "alice", "missing")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}

func TestListMessages_AscendingForParticipants(t *testing.T) {
	store := newFakeStore()
	conv := store.add(conversation.CanonicalPair("alice", "bob"), time.Now())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.messages[conv.ID] = []conversation.Message{
		{ID: "c", ConversationID: conv.ID, CreatedAt: at.Add(time.Second)},
		{ID: "b", ConversationID: conv.ID, CreatedAt: at},
		{ID: "a", ConversationID: conv.ID, CreatedAt: at},
	}
	svc := NewService(store, zerolog.Nop())

	msgs, err := svc.ListMessages(context.Background(), "alice", conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	_, err = svc.ListMessages(context.Background(), "mallory", conv.ID)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
}
