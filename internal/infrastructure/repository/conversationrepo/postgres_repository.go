package conversationrepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/infrastructure/database/dbschema"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
	"jan-server/services/dm-api/internal/utils/idgen"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

// checkViolation is the SQLSTATE for a CHECK constraint failure.
const checkViolation = "23514"

// PostgresRepository persists conversations and messages via PostgreSQL using GORM.
// Message changes reach the change feed through the messages trigger.
type PostgresRepository struct {
	db *gorm.DB
}

var _ conversation.Store = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository backed by the provided DB.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateConversation implements conversation.Store.
func (r *PostgresRepository) CreateConversation(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	row := dbschema.NewSchemaConversation(pair)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.PairConflicts.Inc()
			return nil, conversation.ErrDuplicateConversation
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to create conversation")
	}
	metrics.ConversationsCreated.Inc()
	return row.EtoD(), nil
}

// FindConversationByPair implements conversation.Store. It reads from the primary
// so a conflict fallback sees the winning insert.
func (r *PostgresRepository) FindConversationByPair(ctx context.Context, pair conversation.Pair) (*conversation.Conversation, error) {
	var row dbschema.Conversation
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("participant_a = ? AND participant_b = ?", pair.A, pair.B).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to find conversation by pair")
	}
	return row.EtoD(), nil
}

// FindConversationByID implements conversation.Store.
func (r *PostgresRepository) FindConversationByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	if !idgen.IsUUID(id) {
		return nil, conversation.ErrConversationNotFound
	}
	var row dbschema.Conversation
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to find conversation")
	}
	return row.EtoD(), nil
}

// ListConversationsForUser implements conversation.Store.
func (r *PostgresRepository) ListConversationsForUser(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	var rows []dbschema.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to list conversations")
	}

	result := make([]*conversation.Conversation, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].EtoD())
	}
	return result, nil
}

// InsertMessage implements conversation.Store.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg *conversation.Message) error {
	row := dbschema.NewSchemaMessage(msg)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return conversation.ErrConversationNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return conversation.NewValidationError(ctx, "message rejected by store constraint", map[string]any{
				"constraint": pgErr.ConstraintName,
			})
		}
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to insert message")
	}
	*msg = *row.EtoD()
	metrics.MessagesIngested.Inc()
	return nil
}

// FindMessageByID implements conversation.Store.
func (r *PostgresRepository) FindMessageByID(ctx context.Context, id string) (*conversation.Message, error) {
	if !idgen.IsUUID(id) {
		return nil, conversation.ErrMessageNotFound
	}
	var row dbschema.Message
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversation.ErrMessageNotFound
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to find message")
	}
	return row.EtoD(), nil
}

// ListMessages implements conversation.Store.
func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var rows []dbschema.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to list messages")
	}

	result := make([]conversation.Message, 0, len(rows))
	for i := range rows {
		result = append(result, *rows[i].EtoD())
	}
	return result, nil
}

// LastMessages implements conversation.Store.
func (r *PostgresRepository) LastMessages(ctx context.Context, conversationIDs []string) (map[string]conversation.Message, error) {
	result := make(map[string]conversation.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}

	var rows []dbschema.Message
	err := r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (conversation_id) *
			FROM messages
			WHERE conversation_id IN ?
			ORDER BY conversation_id, created_at DESC, id DESC`, conversationIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to load last messages")
	}

	for i := range rows {
		result[rows[i].ConversationID] = *rows[i].EtoD()
	}
	return result, nil
}
