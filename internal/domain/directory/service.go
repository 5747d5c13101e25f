package directory

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"jan-server/services/dm-api/internal/domain/conversation"
)

// Service lists a user's conversations and guarantees one conversation per pair.
type Service interface {
	ListConversations(ctx context.Context, userID string) ([]conversation.Summary, error)
	EnsureConversation(ctx context.Context, userA, userB string) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*conversation.Conversation, error)
	ListMessages(ctx context.Context, userID, conversationID string) ([]conversation.Message, error)
}

type service struct {
	store  conversation.Store
	ensure singleflight.Group
	log    zerolog.Logger
}

// NewService creates a new directory service.
func NewService(store conversation.Store, log zerolog.Logger) Service {
	return &service{
		store: store,
		log:   log.With().Str("component", "directory-service").Logger(),
	}
}

func (s *service) ListConversations(ctx context.Context, userID string) ([]conversation.Summary, error) {
	if userID == "" {
		return nil, conversation.NewValidationError(ctx, "user id is required", nil)
	}

	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to list conversations")
		return nil, conversation.NewPersistenceError(ctx, "failed to list conversations", err)
	}
	if len(convs) == 0 {
		return []conversation.Summary{}, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	last, err := s.store.LastMessages(ctx, ids)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load last messages")
		return nil, conversation.NewPersistenceError(ctx, "failed to load last messages", err)
	}

	summaries := make([]conversation.Summary, 0, len(convs))
	for _, c := range convs {
		summary := conversation.Summary{
			Conversation: *c,
			Counterpart:  conversation.User{ID: c.Counterpart(userID)},
		}
		if msg, ok := last[c.ID]; ok {
			m := msg
			summary.LastMessage = &m
		}
		summaries = append(summaries, summary)
	}
	conversation.SortSummaries(summaries)
	return summaries, nil
}

func (s *service) EnsureConversation(ctx context.Context, userA, userB string) (*conversation.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, conversation.NewValidationError(ctx, "both participants are required", nil)
	}
	if userA == userB {
		return nil, conversation.NewValidationError(ctx, "cannot start a conversation with yourself", map[string]any{
			"user_id": userA,
		})
	}

	pair := conversation.CanonicalPair(userA, userB)
	// The call is shared with concurrent callers, so one caller's cancellation
	// must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.ensure.Do(pair.Key(), func() (any, error) {
		return s.lookupOrCreate(shared, pair)
	})
	if err != nil {
		return nil, err
	}
	conv := *v.(*conversation.Conversation)
	return &conv, nil
}

func (s *service) lookupOrCreate(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	conv, err := s.store.FindConversationByPair(ctx, pair)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		s.log.Error().Err(err).Str("pair", pair.Key()).Msg("failed to look up conversation")
		return nil, conversation.NewPersistenceError(ctx, "failed to look up conversation", err)
	}

	conv, err = s.store.CreateConversation(ctx, pair)
	if err == nil {
		s.log.Info().
			Str("conversation_id", conv.ID).
			Str("participant_a", conv.ParticipantA).
			Str("participant_b", conv.ParticipantB).
			Msg("conversation created")
		return conv, nil
	}
	if !errors.Is(err, conversation.ErrDuplicateConversation) {
		s.log.Error().Err(err).Str("pair", pair.Key()).Msg("failed to create conversation")
		return nil, conversation.NewPersistenceError(ctx, "failed to create conversation", err)
	}

	// Another writer created the pair between our lookup and insert.
	conv, err = s.store.FindConversationByPair(ctx, pair)
	if err != nil {
		s.log.Error().Err(err).Str("pair", pair.Key()).Msg("failed to reload conversation after conflict")
		return nil, conversation.NewPersistenceError(ctx, "failed to reload conversation", err)
	}
	return conv, nil
}

func (s *service) GetConversation(ctx context.Context, userID, conversationID string) (*conversation.Conversation, error) {
	conv, err := s.store.FindConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return nil, conversation.NewNotFoundError(ctx, conversationID)
		}
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation")
		return nil, conversation.NewPersistenceError(ctx, "failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, conversation.NewForbiddenError(ctx, conversationID)
	}
	return conv, nil
}

func (s *service) ListMessages(ctx context.Context, userID, conversationID string) ([]conversation.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to list messages")
		return nil, conversation.NewPersistenceError(ctx, "failed to list messages", err)
	}
	conversation.SortMessages(msgs)
	return msgs, nil
}
