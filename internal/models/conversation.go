package models

import "time"

// Conversation kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// Conversation is the container for an ordered sequence of messages,
// either between two users (direct) or bound to a circle (group).
type Conversation struct {
	ID        int       `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"`
	User1ID   *int      `db:"user1_id" json:"user1_id,omitempty"`
	User2ID   *int      `db:"user2_id" json:"user2_id,omitempty"`
	GroupID   *int      `db:"group_id" json:"group_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	LastMessageContent  *string    `db:"last_message_content" json:"-"`
	LastMessageSenderID *int       `db:"last_message_sender_id" json:"-"`
	LastMessageAt       *time.Time `db:"last_message_at" json:"-"`
}

// LastMessage is the denormalized snapshot of the most recent message,
// kept on the conversation for cheap listing.
type LastMessage struct {
	Content  string    `json:"content"`
	SenderID int       `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// LastMessageSnapshot returns the cached tail snapshot, or nil when the
// conversation has no messages.
func (c Conversation) LastMessageSnapshot() *LastMessage {
	if c.LastMessageContent == nil || c.LastMessageSenderID == nil || c.LastMessageAt == nil {
		return nil
	}
	return &LastMessage{
		Content:  *c.LastMessageContent,
		SenderID: *c.LastMessageSenderID,
		SentAt:   *c.LastMessageAt,
	}
}

// HasParticipant reports whether the user is one of the two direct
// participants. Always false for group conversations.
func (c Conversation) HasParticipant(userID int) bool {
	if c.Kind != KindDirect || c.User1ID == nil || c.User2ID == nil {
		return false
	}
	return *c.User1ID == userID || *c.User2ID == userID
}

// OtherParticipant returns the direct peer of the given user.
func (c Conversation) OtherParticipant(userID int) int {
	if c.User1ID != nil && *c.User1ID != userID {
		return *c.User1ID
	}
	if c.User2ID != nil {
		return *c.User2ID
	}
	return 0
}

// ConversationSummary is the API-facing view of a conversation for one
// viewer: the unread annotation is computed per request, never stored.
type ConversationSummary struct {
	Conversation
	LastMessage *LastMessage `json:"last_message"`
	UnreadCount int          `json:"unread_count"`
	PeerName    string       `json:"peer_name,omitempty"`
	PeerAvatar  string       `json:"peer_avatar,omitempty"`
	MemberCount int          `json:"member_count,omitempty"`
}
