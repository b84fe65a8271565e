package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidParticipants  = errors.New("conversation needs at least two distinct participants")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	Create(ctx context.Context, participantIDs []int) (models.Conversation, error)
	CreateOrGetPair(ctx context.Context, userID, otherID int) (models.Conversation, error)
	Get(ctx context.Context, conversationID int) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	ListIDsForUser(ctx context.Context, userID int) ([]int, error)
	IsParticipant(ctx context.Context, conversationID, userID int) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID int) ([]int, error)
	TouchUpdatedAt(ctx context.Context, conversationID int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

type conversationRow struct {
	ID        int          `db:"id"`
	CreatedAt sql.NullTime `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

func pairKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Create stores a conversation with the given participants. Exactly two
// participants go through the idempotent pairwise path.
func (r *ConversationRepo) Create(ctx context.Context, participantIDs []int) (models.Conversation, error) {
	seen := map[int]struct{}{}
	ids := make([]int, 0, len(participantIDs))
	for _, id := range participantIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return models.Conversation{}, ErrInvalidParticipants
	}
	sort.Ints(ids)

	if len(ids) == 2 {
		return r.CreateOrGetPair(ctx, ids[0], ids[1])
	}
	return r.insert(ctx, ids, sql.NullString{})
}

// CreateOrGetPair returns the conversation between exactly two users,
// creating it if absent. Concurrent calls converge on one row through the
// unique pair_key constraint: the loser of the insert race re-reads.
func (r *ConversationRepo) CreateOrGetPair(ctx context.Context, userID, otherID int) (models.Conversation, error) {
	if userID == otherID {
		return models.Conversation{}, ErrInvalidParticipants
	}
	key := pairKey(userID, otherID)

	if conv, err := r.getByPairKey(ctx, key); err == nil {
		return conv, nil
	} else if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, err
	}

	ids := []int{userID, otherID}
	sort.Ints(ids)
	conv, err := r.insert(ctx, ids, sql.NullString{String: key, Valid: true})
	if err == nil {
		return conv, nil
	}

	// Unique violation on pair_key: another caller created it first.
	if existing, lookupErr := r.getByPairKey(ctx, key); lookupErr == nil {
		return existing, nil
	}
	return models.Conversation{}, err
}

func (r *ConversationRepo) insert(ctx context.Context, participantIDs []int, key sql.NullString) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var row conversationRow
	if err := tx.QueryRowxContext(ctx, `INSERT INTO conversations (pair_key) VALUES ($1) RETURNING id, created_at, updated_at`, key).
		StructScan(&row); err != nil {
		return models.Conversation{}, err
	}
	for _, id := range participantIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, row.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.Get(ctx, row.ID)
}

func (r *ConversationRepo) getByPairKey(ctx context.Context, key string) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT id, created_at, updated_at FROM conversations WHERE pair_key=$1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return r.Get(ctx, row.ID)
}

// Get fetches a conversation with its participants.
func (r *ConversationRepo) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT id, created_at, updated_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	var participants []models.PublicUser
	err = r.db.SelectContext(ctx, &participants, `SELECT u.id, u.username, u.email, u.is_online
        FROM conversation_participants cp JOIN users u ON u.id = cp.user_id
        WHERE cp.conversation_id=$1 ORDER BY u.id`, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}

	return models.Conversation{
		ID:           row.ID,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
		Participants: participants,
	}, nil
}

// ListForUser returns the user's conversations, most recently updated
// first, each with its last message.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows, `SELECT c.id, c.created_at, c.updated_at FROM conversations c
        JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE cp.user_id=$1 ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	result := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		conv, err := r.Get(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		summary := models.ConversationSummary{Conversation: conv}

		var last models.Message
		err = r.db.GetContext(ctx, &last, `SELECT m.id, m.conversation_id, m.sender_id, u.username AS sender_username, m.content, m.created_at
            FROM messages m JOIN users u ON u.id = m.sender_id
            WHERE m.conversation_id=$1 ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, row.ID)
		if err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		result = append(result, summary)
	}
	return result, nil
}

// ListIDsForUser returns the ids of the user's conversations.
func (r *ConversationRepo) ListIDsForUser(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT conversation_id FROM conversation_participants WHERE user_id=$1 ORDER BY conversation_id`, userID)
	return ids, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ParticipantIDs returns the user ids in the conversation.
func (r *ConversationRepo) ParticipantIDs(ctx context.Context, conversationID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

// TouchUpdatedAt bumps the conversation's updated_at to now.
func (r *ConversationRepo) TouchUpdatedAt(ctx context.Context, conversationID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, conversationID)
	return err
}
