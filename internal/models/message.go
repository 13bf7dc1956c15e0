package models

import "time"

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
	TypeAudio = "audio"
	TypeVideo = "video"
)

// Message statuses. StatusDelivered is reserved and never written:
// status moves sent -> read in one hop when a viewer marks the
// conversation read.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message is one entry in a conversation's append-only ledger.
// Attachment fields are set iff the type is not text; the bytes live in
// the attachment store and are referenced by URL only.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	MessageType    string    `db:"message_type" json:"message_type"`
	FileURL        *string   `db:"file_url" json:"file_url,omitempty"`
	FileName       *string   `db:"file_name" json:"file_name,omitempty"`
	FileSize       *int64    `db:"file_size" json:"file_size,omitempty"`
	Status         string    `db:"status" json:"status"`
	ReplyToID      *int      `db:"reply_to_id" json:"reply_to_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// HasAttachment reports whether the message carries a file reference.
func (m Message) HasAttachment() bool {
	return m.MessageType != TypeText && m.FileURL != nil && *m.FileURL != ""
}

// ReadReceipt records one viewer's acknowledgement of one message.
type ReadReceipt struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeAudio, TypeVideo:
		return true
	}
	return false
}
