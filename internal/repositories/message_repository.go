package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, sender_id, content, message_type, file_url, file_name, file_size, status, reply_to_id, created_at`

// CreateMessageParams carries everything needed to append one message.
// Attachment fields are expected for non-text types; the repository
// never talks to the attachment store itself.
type CreateMessageParams struct {
	ConversationID int
	SenderID       int
	Content        string
	MessageType    string
	FileURL        *string
	FileName       *string
	FileSize       *int64
	ReplyToID      *int
}

// MessageRepository defines interactions with the message ledger,
// including the unread projection.
type MessageRepository interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListPage(ctx context.Context, conversationID int, page int, pageSize int) ([]models.Message, bool, error)
	MarkConversationRead(ctx context.Context, conversationID int, viewerID int) error
	DeleteMessage(ctx context.Context, messageID int) error
	CountUnread(ctx context.Context, conversationID int, viewerID int) (int, error)
	ReadReceipts(ctx context.Context, messageID int) ([]models.ReadReceipt, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage appends a message to the ledger.
func (r *MessageRepo) CreateMessage(ctx context.Context, params CreateMessageParams) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`INSERT INTO messages (conversation_id, sender_id, content, message_type, file_url, file_name, file_size, reply_to_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING `+messageColumns,
		params.ConversationID, params.SenderID, params.Content, params.MessageType,
		params.FileURL, params.FileName, params.FileSize, params.ReplyToID)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListPage returns one page of messages in chronological order. The
// fetch runs newest-first for pagination efficiency; finishPage
// restores oldest-first order within the page.
func (r *MessageRepo) ListPage(ctx context.Context, conversationID int, page int, pageSize int) ([]models.Message, bool, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE conversation_id=$1
         ORDER BY created_at DESC, id DESC
         LIMIT $2 OFFSET $3`,
		conversationID, pageSize, offset)
	if err != nil {
		return nil, false, err
	}

	rows, hasMore := finishPage(msgs, pageSize)
	return rows, hasMore, nil
}

// finishPage reverses a newest-first rowset into chronological order
// and reports whether another page may follow. hasMore is true iff the
// page came back full; a conversation holding an exact multiple of
// pageSize messages therefore reports one extra page with zero results,
// which callers tolerate.
func finishPage(msgs []models.Message, pageSize int) ([]models.Message, bool) {
	reverseMessages(msgs)
	return msgs, len(msgs) == pageSize
}

func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// MarkConversationRead records a read receipt for every message in the
// conversation not sent by the viewer. Idempotent: the receipt table's
// primary key absorbs repeats, so concurrent calls for the same viewer
// commute and different viewers touch disjoint rows.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID int, viewerID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id)
         SELECT m.id, $2 FROM messages m WHERE m.conversation_id=$1 AND m.sender_id<>$2
         ON CONFLICT (message_id, user_id) DO NOTHING`,
		conversationID, viewerID)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE messages SET status='read' WHERE conversation_id=$1 AND sender_id<>$2 AND status<>'read'`,
		conversationID, viewerID)
	return err
}

// DeleteMessage hard-deletes a message. Authorization and last-message
// recomputation are the caller's responsibility.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CountUnread derives the viewer's unread count from ledger state at
// call time. Nothing is persisted, so there is no counter to drift.
func (r *MessageRepo) CountUnread(ctx context.Context, conversationID int, viewerID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         WHERE m.conversation_id=$1 AND m.sender_id<>$2
         AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id=m.id AND mr.user_id=$2)`,
		conversationID, viewerID)
	return count, err
}

// ReadReceipts lists who has acknowledged the message.
func (r *MessageRepo) ReadReceipts(ctx context.Context, messageID int) ([]models.ReadReceipt, error) {
	var receipts []models.ReadReceipt
	err := r.db.SelectContext(ctx, &receipts,
		`SELECT message_id, user_id, read_at FROM message_reads WHERE message_id=$1 ORDER BY read_at ASC`, messageID)
	return receipts, err
}
