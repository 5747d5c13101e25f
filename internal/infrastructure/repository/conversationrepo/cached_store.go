package conversationrepo

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// CachedStore keeps recently resolved conversations in memory. Participants of a
// conversation never change, so only the participant lookup on the ingest path
// is served from the cache; every other call goes to the wrapped store.
type CachedStore struct {
	conversation.Store
	cache *lru.Cache
}

var _ conversation.Store = (*CachedStore)(nil)

// NewCachedStore wraps store with an LRU of the given size.
func NewCachedStore(store conversation.Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create conversation cache: %w", err)
	}
	return &CachedStore{Store: store, cache: cache}, nil
}

// FindConversationByID implements conversation.Store. Misses are not cached.
func (s *CachedStore) FindConversationByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	if v, ok := s.cache.Get(id); ok {
		conv := *v.(*conversation.Conversation)
		return &conv, nil
	}
	conv, err := s.Store.FindConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cached := *conv
	s.cache.Add(id, &cached)
	return conv, nil
}

// Len reports the number of cached conversations.
func (s *CachedStore) Len() int {
	return s.cache.Len()
}
