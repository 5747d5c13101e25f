package conversation

import "context"

// Store persists conversations and messages.
//
// Implementations report a missing conversation with ErrConversationNotFound and a
// unique-pair violation on create with ErrDuplicateConversation. Every committed
// message change must reach the change feed attached to the store; callers never
// publish on their own.
type Store interface {
	// CreateConversation inserts a conversation for an already canonical pair.
	CreateConversation(ctx context.Context, pair Pair) (*Conversation, error)

	// FindConversationByPair looks up the conversation for a canonical pair.
	FindConversationByPair(ctx context.Context, pair Pair) (*Conversation, error)

	// FindConversationByID looks up a conversation by id.
	FindConversationByID(ctx context.Context, id string) (*Conversation, error)

	// ListConversationsForUser returns all conversations the user participates in,
	// ordered by last activity descending.
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)

	// InsertMessage persists a new message. The store assigns ID, CreatedAt and UpdatedAt
	// and writes them back into msg.
	InsertMessage(ctx context.Context, msg *Message) error

	// FindMessageByID looks up one message; ErrMessageNotFound when absent.
	FindMessageByID(ctx context.Context, id string) (*Message, error)

	// ListMessages returns all messages of a conversation ordered by (CreatedAt, ID).
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// LastMessages returns the newest message per conversation for the given ids.
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error)
}
