package conversationrepo

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
	"jan-server/services/dm-api/internal/utils/idgen"
)

// MemoryRepository is a mutex-based in-memory store for local development and tests.
// Committed inserts are handed to the publisher after the lock is released.
type MemoryRepository struct {
	mu            sync.RWMutex
	conversations map[string]*conversation.Conversation
	pairIndex     map[string]string // pair key -> conversation ID
	messages      map[string][]conversation.Message
	messageIndex  map[string]conversation.Message

	publisher changefeed.Publisher
	now       func() time.Time
	log       zerolog.Logger
}

var _ conversation.Store = (*MemoryRepository)(nil)

// NewMemoryRepository creates an in-memory store. publisher may be nil.
func NewMemoryRepository(publisher changefeed.Publisher, log zerolog.Logger) *MemoryRepository {
	return &MemoryRepository{
		conversations: make(map[string]*conversation.Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]conversation.Message),
		messageIndex:  make(map[string]conversation.Message),
		publisher:     publisher,
		now:           func() time.Time { return time.Now().UTC() },
		log:           log.With().Str("component", "memory-store").Logger(),
	}
}

// CreateConversation implements conversation.Store.
func (r *MemoryRepository) CreateConversation(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairIndex[pair.Key()]; exists {
		metrics.PairConflicts.Inc()
		return nil, conversation.ErrDuplicateConversation
	}

	conv := &conversation.Conversation{
		ID:           idgen.NewEntityID(),
		ParticipantA: pair.A,
		ParticipantB: pair.B,
		CreatedAt:    r.now(),
	}
	r.conversations[conv.ID] = conv
	r.pairIndex[pair.Key()] = conv.ID
	metrics.ConversationsCreated.Inc()

	out := *conv
	return &out, nil
}

// FindConversationByPair implements conversation.Store.
func (r *MemoryRepository) FindConversationByPair(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pairIndex[pair.Key()]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return r.copyConversation(id)
}

// FindConversationByID implements conversation.Store.
func (r *MemoryRepository) FindConversationByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyConversation(id)
}

func (r *MemoryRepository) copyConversation(id string) (*conversation.Conversation, error) {
	conv, ok := r.conversations[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	out := *conv
	if conv.LastMessageAt != nil {
		at := *conv.LastMessageAt
		out.LastMessageAt = &at
	}
	return &out, nil
}

// ListConversationsForUser implements conversation.Store.
func (r *MemoryRepository) ListConversationsForUser(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]conversation.Summary, 0)
	for id, conv := range r.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		c, _ := r.copyConversation(id)
		summaries = append(summaries, conversation.Summary{Conversation: *c})
	}
	conversation.SortSummaries(summaries)

	result := make([]*conversation.Conversation, 0, len(summaries))
	for i := range summaries {
		result = append(result, &summaries[i].Conversation)
	}
	return result, nil
}

// InsertMessage implements conversation.Store.
func (r *MemoryRepository) InsertMessage(ctx context.Context, msg *conversation.Message) error {
	r.mu.Lock()
	conv, ok := r.conversations[msg.ConversationID]
	if !ok {
		r.mu.Unlock()
		return conversation.ErrConversationNotFound
	}

	now := r.now()
	msg.ID = idgen.NewEntityID()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	msg.Edited = false

	stored := *msg
	r.messages[conv.ID] = append(r.messages[conv.ID], stored)
	r.messageIndex[stored.ID] = stored
	if conv.LastMessageAt == nil || now.After(*conv.LastMessageAt) {
		at := now
		conv.LastMessageAt = &at
	}
	r.mu.Unlock()

	metrics.MessagesIngested.Inc()

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, changefeed.Event{Type: changefeed.EventInsert, Row: stored}); err != nil {
			r.log.Warn().Err(err).Str("message_id", stored.ID).Msg("failed to publish message change")
		}
	}
	return nil
}

// FindMessageByID implements conversation.Store.
func (r *MemoryRepository) FindMessageByID(ctx context.Context, id string) (*conversation.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messageIndex[id]
	if !ok {
		return nil, conversation.ErrMessageNotFound
	}
	return &msg, nil
}

// ListMessages implements conversation.Store.
func (r *MemoryRepository) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]conversation.Message, len(r.messages[conversationID]))
	copy(out, r.messages[conversationID])
	conversation.SortMessages(out)
	return out, nil
}

// LastMessages implements conversation.Store.
func (r *MemoryRepository) LastMessages(ctx context.Context, conversationIDs []string) (map[string]conversation.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]conversation.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		msgs := r.messages[id]
		if len(msgs) == 0 {
			continue
		}
		last := msgs[0]
		for _, m := range msgs[1:] {
			if last.Before(m) {
				last = m
			}
		}
		result[id] = last
	}
	return result, nil
}
