package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/storage"
	"messaging-service/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// MessageHandler manages the message ledger endpoints.
type MessageHandler struct {
	convRepo     repositories.ConversationRepository
	messageRepo  repositories.MessageRepository
	userClient   identityClient
	circleClient membershipClient
	store        storage.AttachmentStore
	publisher    rabbitmq.Publisher
	audit        *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(
	convRepo repositories.ConversationRepository,
	messageRepo repositories.MessageRepository,
	userClient identityClient,
	circleClient membershipClient,
	store storage.AttachmentStore,
	publisher rabbitmq.Publisher,
	audit *telemetry.AuditEmitter,
) *MessageHandler {
	return &MessageHandler{
		convRepo:     convRepo,
		messageRepo:  messageRepo,
		userClient:   userClient,
		circleClient: circleClient,
		store:        store,
		publisher:    publisher,
		audit:        audit,
	}
}

// GetMessages returns one page of messages in chronological order.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, authorized := h.authorizeConversation(c, conversationID, userID)
	if !authorized {
		return
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", defaultPageSize)
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	msgs, hasMore, err := h.messageRepo.ListPage(c.Request.Context(), conv.ID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	usernameByID := map[int]string{}
	avatarByID := map[int]string{}
	if len(senderIDs) > 0 {
		users, err := h.userClient.BulkUsers(c.Request.Context(), senderIDs)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load senders"})
			return
		}
		for _, u := range users {
			usernameByID[u.ID] = u.Username
			avatarByID[u.ID] = u.AvatarURL
		}
	}

	type messageResponse struct {
		models.Message
		SenderUsername string `json:"sender_username,omitempty"`
		SenderAvatar   string `json:"sender_avatar,omitempty"`
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{
			Message:        m,
			SenderUsername: usernameByID[m.SenderID],
			SenderAvatar:   avatarByID[m.SenderID],
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp, "page": page, "has_more": hasMore})
}

// PostMessage appends a message to the conversation and updates the
// denormalized last-message snapshot.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, authorized := h.authorizeConversation(c, conversationID, userID)
	if !authorized {
		return
	}

	var req struct {
		Content     string  `json:"content"`
		MessageType string  `json:"message_type"`
		FileURL     *string `json:"file_url"`
		FileName    *string `json:"file_name"`
		FileSize    *int64  `json:"file_size"`
		ReplyToID   *int    `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.MessageType == "" {
		req.MessageType = models.TypeText
	}
	if !models.ValidMessageType(req.MessageType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message type"})
		return
	}

	// Content must always be present; only non-text messages may carry
	// an empty caption.
	if req.MessageType == models.TypeText {
		if strings.TrimSpace(req.Content) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		if req.FileURL != nil || req.FileName != nil || req.FileSize != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text messages cannot carry a file"})
			return
		}
	} else {
		if req.FileURL == nil || *req.FileURL == "" || req.FileName == nil || req.FileSize == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file messages require file_url, file_name and file_size"})
			return
		}
	}

	if req.ReplyToID != nil {
		target, err := h.messageRepo.GetMessage(c.Request.Context(), *req.ReplyToID)
		if err != nil || target.ConversationID != conv.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reply target not in conversation"})
			return
		}
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), repositories.CreateMessageParams{
		ConversationID: conv.ID,
		SenderID:       userID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	// The snapshot update is a separate statement; a crash in between
	// leaves the snapshot stale until the next append, never corrupt.
	if err := h.convRepo.SetLastMessage(c.Request.Context(), conv.ID, msg.Content, msg.SenderID, msg.CreatedAt); err != nil {
		log.Printf("last-message update failed conversation_id=%d: %v", conv.ID, err)
	}

	// Decoration only; the append has already succeeded.
	senderName, senderAvatar := "", ""
	if sender, err := h.userClient.GetUser(c.Request.Context(), userID); err == nil {
		senderName, senderAvatar = sender.Username, sender.AvatarURL
	} else {
		log.Printf("sender lookup failed user_id=%d: %v", userID, err)
	}

	observability.IncMessageOp("create", msg.MessageType)
	h.publishEvent(c, "messages.created", gin.H{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"message_type":    msg.MessageType,
	})
	h.emitAudit(c, "INFO", "Message sent")

	c.JSON(http.StatusCreated, gin.H{
		"message":         msg,
		"sender_username": senderName,
		"sender_avatar":   senderAvatar,
	})
}

// MarkRead acknowledges every message in the conversation not sent by
// the caller. Safe to repeat: receipts never duplicate.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, authorized := h.authorizeConversation(c, conversationID, userID)
	if !authorized {
		return
	}

	if err := h.messageRepo.MarkConversationRead(c.Request.Context(), conv.ID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}

	observability.IncMessageOp("mark_read", "all")
	c.Status(http.StatusNoContent)
}

// GetUnread reports the caller's unread count for the conversation.
func (h *MessageHandler) GetUnread(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, authorized := h.authorizeConversation(c, conversationID, userID)
	if !authorized {
		return
	}

	count, err := h.messageRepo.CountUnread(c.Request.Context(), conv.ID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute unread count"})
		return
	}

	observability.IncUnreadQuery()
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "unread_count": count})
}

// DeleteMessage hard-deletes a message (sender only). When the deleted
// row was the conversation's tail, the last-message snapshot is
// recomputed from the remaining ledger.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	conversationID, messageID, ok := parseMessageIDs(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, authorized := h.authorizeConversation(c, conversationID, userID)
	if !authorized {
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.ConversationID != conv.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}
	if msg.SenderID != userID {
		h.emitAudit(c, "ERROR", "not allowed to delete message")
		c.JSON(http.StatusForbidden, gin.H{"error": "only sender may delete"})
		return
	}

	// Best-effort: a storage failure orphans the file rather than
	// blocking the user-visible delete.
	if msg.HasAttachment() {
		if err := h.store.Remove(c.Request.Context(), *msg.FileURL); err != nil {
			log.Printf("attachment cleanup failed url=%s: %v", *msg.FileURL, err)
			observability.IncAttachmentCleanupFailure()
			h.publishEvent(c, "attachments.orphaned", gin.H{"url": *msg.FileURL, "message_id": msg.ID})
		}
	}

	if err := h.messageRepo.DeleteMessage(c.Request.Context(), messageID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	if conv.LastMessageAt != nil && conv.LastMessageAt.Equal(msg.CreatedAt) {
		if _, err := h.convRepo.RecomputeLastMessage(c.Request.Context(), conv.ID); err != nil {
			log.Printf("last-message recompute failed conversation_id=%d: %v", conv.ID, err)
		}
	}

	observability.IncMessageOp("delete", msg.MessageType)
	h.publishEvent(c, "messages.deleted", gin.H{"conversation_id": conv.ID, "message_id": messageID})
	h.emitAudit(c, "INFO", "Message deleted")
	c.Status(http.StatusNoContent)
}

// GetReadReceipts lists who has acknowledged a message.
func (h *MessageHandler) GetReadReceipts(c *gin.Context) {
	conversationID, messageID, ok := parseMessageIDs(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, authorized := h.authorizeConversation(c, conversationID, userID)
	if !authorized {
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.ConversationID != conv.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}

	receipts, err := h.messageRepo.ReadReceipts(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load receipts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message_id": messageID, "read_by": receipts})
}

// authorizeConversation loads the conversation and verifies the caller
// may act in it: direct conversations require participation, group
// conversations require current circle membership.
func (h *MessageHandler) authorizeConversation(c *gin.Context, conversationID int, userID int) (models.Conversation, bool) {
	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return models.Conversation{}, false
	}

	switch conv.Kind {
	case models.KindDirect:
		if !conv.HasParticipant(userID) {
			h.emitAudit(c, "ERROR", "not a participant")
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
			return models.Conversation{}, false
		}
	case models.KindGroup:
		member, err := h.circleClient.IsMember(c.Request.Context(), userID, *conv.GroupID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to check membership"})
			return models.Conversation{}, false
		}
		if !member {
			h.emitAudit(c, "ERROR", "not a group member")
			c.JSON(http.StatusForbidden, gin.H{"error": "not a group member"})
			return models.Conversation{}, false
		}
	}

	return conv, true
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func (h *MessageHandler) publishEvent(c *gin.Context, routingKey string, payload gin.H) {
	if h.publisher == nil {
		return
	}
	payload["identity"] = eventIdentity(c)
	envelope := observability.EventEnvelope{
		EventType: "domain_events",
		EventName: routingKey,
		Payload:   payload,
	}
	if err := h.publisher.PublishWithHeaders(c.Request.Context(), routingKey, envelope, eventHeaders(c)); err != nil {
		log.Printf("event publish failed routing_key=%s: %v", routingKey, err)
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
