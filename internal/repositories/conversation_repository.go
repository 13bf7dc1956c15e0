package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidParticipants  = errors.New("invalid participants")
)

const conversationColumns = `id, kind, user1_id, user2_id, group_id, last_message_content, last_message_sender_id, last_message_at, created_at, updated_at`

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreateDirect(ctx context.Context, userA int, userB int) (models.Conversation, error)
	GetOrCreateGroup(ctx context.Context, groupID int) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	ListDirectForUser(ctx context.Context, userID int) ([]models.Conversation, error)
	ListGroupConversations(ctx context.Context) ([]models.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID int, content string, senderID int, at time.Time) error
	RecomputeLastMessage(ctx context.Context, conversationID int) (*models.LastMessage, error)
	DeleteConversation(ctx context.Context, conversationID int) ([]string, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetOrCreateDirect returns the direct conversation between two users,
// creating it on first use. The lookup checks both participant
// orderings; the insert is guarded by a canonicalized unique index, so
// the loser of a concurrent create re-reads the winner's row instead of
// duplicating it.
func (r *ConversationRepo) GetOrCreateDirect(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	if userA == userB {
		return models.Conversation{}, ErrInvalidParticipants
	}

	conv, err := r.findDirect(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	err = r.db.GetContext(ctx, &conv,
		`INSERT INTO conversations (kind, user1_id, user2_id) VALUES ('direct', $1, $2) RETURNING `+conversationColumns,
		userA, userB)
	if err == nil {
		return conv, nil
	}
	if isUniqueViolation(err) {
		return r.findDirect(ctx, userA, userB)
	}
	return models.Conversation{}, err
}

func (r *ConversationRepo) findDirect(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations
         WHERE kind='direct' AND ((user1_id=$1 AND user2_id=$2) OR (user1_id=$2 AND user2_id=$1))`,
		userA, userB)
	return conv, err
}

// GetOrCreateGroup returns the conversation bound to a circle, creating
// it on first use. Same conflict-fallback protocol as the direct case.
func (r *ConversationRepo) GetOrCreateGroup(ctx context.Context, groupID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations WHERE kind='group' AND group_id=$1`, groupID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	err = r.db.GetContext(ctx, &conv,
		`INSERT INTO conversations (kind, group_id) VALUES ('group', $1) RETURNING `+conversationColumns,
		groupID)
	if err == nil {
		return conv, nil
	}
	if isUniqueViolation(err) {
		err = r.db.GetContext(ctx, &conv,
			`SELECT `+conversationColumns+` FROM conversations WHERE kind='group' AND group_id=$1`, groupID)
		return conv, err
	}
	return models.Conversation{}, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListDirectForUser returns direct conversations the user participates
// in, most recently active first.
func (r *ConversationRepo) ListDirectForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT `+conversationColumns+` FROM conversations
         WHERE kind='direct' AND (user1_id=$1 OR user2_id=$1)
         ORDER BY updated_at DESC`, userID)
	return convs, err
}

// ListGroupConversations returns all group-bound conversations, most
// recently active first. Membership filtering happens at the caller
// against the circle service, so a user who left a circle stops seeing
// its conversation without any row changing here.
func (r *ConversationRepo) ListGroupConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT `+conversationColumns+` FROM conversations WHERE kind='group' ORDER BY updated_at DESC`)
	return convs, err
}

// SetLastMessage writes the denormalized tail snapshot and bumps
// updated_at. Runs after every append; not wrapped in a transaction
// with the message insert (a crash between the two leaves the snapshot
// stale, never corrupt, and the next append repairs it).
func (r *ConversationRepo) SetLastMessage(ctx context.Context, conversationID int, content string, senderID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_content=$2, last_message_sender_id=$3, last_message_at=$4, updated_at=$4 WHERE id=$1`,
		conversationID, content, senderID, at)
	return err
}

// RecomputeLastMessage re-derives the tail snapshot from the message
// ledger and persists it. Used after tail deletes and usable from a
// repair pass; returns nil when the conversation has no messages left.
func (r *ConversationRepo) RecomputeLastMessage(ctx context.Context, conversationID int) (*models.LastMessage, error) {
	var tail models.Message
	err := r.db.GetContext(ctx, &tail,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = r.db.ExecContext(ctx,
			`UPDATE conversations SET last_message_content=NULL, last_message_sender_id=NULL, last_message_at=NULL WHERE id=$1`,
			conversationID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_content=$2, last_message_sender_id=$3, last_message_at=$4 WHERE id=$1`,
		conversationID, tail.Content, tail.SenderID, tail.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &models.LastMessage{Content: tail.Content, SenderID: tail.SenderID, SentAt: tail.CreatedAt}, nil
}

// DeleteConversation removes the conversation and all its messages in
// one transaction, so no window exists where messages are gone but the
// conversation still lists a stale snapshot. It returns the attachment
// URLs the deleted messages carried; cleaning those up is the caller's
// best-effort concern.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID int) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var urls []string
	if err = tx.SelectContext(ctx, &urls,
		`SELECT file_url FROM messages WHERE conversation_id=$1 AND file_url IS NOT NULL`, conversationID); err != nil {
		return nil, err
	}

	var res sql.Result
	if res, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID); err != nil {
		return nil, err
	}
	var count int64
	if count, err = res.RowsAffected(); err != nil {
		return nil, err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return urls, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
