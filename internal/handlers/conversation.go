package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/clients"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/storage"
	"messaging-service/internal/telemetry"
)

// ConversationHandler manages conversation directory endpoints.
type ConversationHandler struct {
	convRepo     repositories.ConversationRepository
	messageRepo  repositories.MessageRepository
	userClient   identityClient
	circleClient membershipClient
	store        storage.AttachmentStore
	publisher    rabbitmq.Publisher
	audit        *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(
	convRepo repositories.ConversationRepository,
	messageRepo repositories.MessageRepository,
	userClient identityClient,
	circleClient membershipClient,
	store storage.AttachmentStore,
	publisher rabbitmq.Publisher,
	audit *telemetry.AuditEmitter,
) *ConversationHandler {
	return &ConversationHandler{
		convRepo:     convRepo,
		messageRepo:  messageRepo,
		userClient:   userClient,
		circleClient: circleClient,
		store:        store,
		publisher:    publisher,
		audit:        audit,
	}
}

// ListConversations returns the conversations visible to the caller,
// most recently active first, each annotated with an unread count.
// Group membership is evaluated against the circle service per request,
// so a user who left a circle stops seeing its conversation here even
// though the row still exists.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")
	filter := c.DefaultQuery("filter", "all")
	if filter != "direct" && filter != "group" && filter != "all" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
		return
	}

	var convs []models.Conversation
	memberCounts := map[int]int{}

	if filter == "direct" || filter == "all" {
		direct, err := h.convRepo.ListDirectForUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
			return
		}
		convs = append(convs, direct...)
	}

	if filter == "group" || filter == "all" {
		groups, err := h.convRepo.ListGroupConversations(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
			return
		}
		for _, conv := range groups {
			memberIDs, err := h.circleClient.MembersOf(c.Request.Context(), *conv.GroupID)
			if errors.Is(err, clients.ErrGroupNotFound) {
				// Circle deleted; its conversation row lingers until cleanup.
				continue
			}
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to check membership"})
				return
			}
			if containsID(memberIDs, userID) {
				memberCounts[conv.ID] = len(memberIDs)
				convs = append(convs, conv)
			}
		}
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	peerNames, peerAvatars, err := h.resolvePeers(c.Request.Context(), userID, convs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load user info"})
		return
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		unread, err := h.messageRepo.CountUnread(c.Request.Context(), conv.ID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute unread count"})
			return
		}
		observability.IncUnreadQuery()

		summary := models.ConversationSummary{
			Conversation: conv,
			LastMessage:  conv.LastMessageSnapshot(),
			UnreadCount:  unread,
		}
		switch conv.Kind {
		case models.KindDirect:
			peer := conv.OtherParticipant(userID)
			summary.PeerName = peerNames[peer]
			summary.PeerAvatar = peerAvatars[peer]
		case models.KindGroup:
			summary.MemberCount = memberCounts[conv.ID]
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func containsID(ids []int, id int) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (h *ConversationHandler) resolvePeers(ctx context.Context, userID int, convs []models.Conversation) (map[int]string, map[int]string, error) {
	peerIDs := make([]int, 0, len(convs))
	seen := map[int]struct{}{}
	for _, conv := range convs {
		if conv.Kind != models.KindDirect {
			continue
		}
		peer := conv.OtherParticipant(userID)
		if _, ok := seen[peer]; !ok {
			seen[peer] = struct{}{}
			peerIDs = append(peerIDs, peer)
		}
	}

	names := map[int]string{}
	avatars := map[int]string{}
	if len(peerIDs) == 0 {
		return names, avatars, nil
	}

	users, err := h.userClient.BulkUsers(ctx, peerIDs)
	if err != nil {
		return nil, nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
		avatars[u.ID] = u.AvatarURL
	}
	return names, avatars, nil
}

// StartDirect creates or returns the direct conversation between the
// caller and another user.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		FriendID int `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.FriendID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	if _, err := h.userClient.GetUser(c.Request.Context(), req.FriendID); err != nil {
		if errors.Is(err, clients.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to resolve user"})
		return
	}

	conv, err := h.convRepo.GetOrCreateDirect(c.Request.Context(), userID, req.FriendID)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participants"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	observability.IncConversationOp("get_or_create", models.KindDirect)
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "kind": conv.Kind})
}

// StartGroup creates or returns the conversation bound to a circle.
func (h *ConversationHandler) StartGroup(c *gin.Context) {
	var req struct {
		GroupID int `json:"group_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exists, err := h.circleClient.GroupExists(c.Request.Context(), req.GroupID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to check group"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.circleClient.IsMember(c.Request.Context(), userID, req.GroupID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to check membership"})
		return
	}
	if !member {
		h.emitAudit(c, "ERROR", "not a group member")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a group member"})
		return
	}

	conv, err := h.convRepo.GetOrCreateGroup(c.Request.Context(), req.GroupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	observability.IncConversationOp("get_or_create", models.KindGroup)
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "kind": conv.Kind})
}

// DeleteConversation removes a conversation and all its messages. The
// database delete is transactional; attachment bytes are cleaned up
// best-effort afterwards, with failures logged rather than surfaced.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	switch conv.Kind {
	case models.KindDirect:
		if !conv.HasParticipant(userID) {
			h.emitAudit(c, "ERROR", "not allowed to delete conversation")
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
			return
		}
	case models.KindGroup:
		member, err := h.circleClient.IsMember(c.Request.Context(), userID, *conv.GroupID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to check membership"})
			return
		}
		if !member {
			h.emitAudit(c, "ERROR", "not allowed to delete conversation")
			c.JSON(http.StatusForbidden, gin.H{"error": "not a group member"})
			return
		}
	}

	urls, err := h.convRepo.DeleteConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete conversation"})
		return
	}

	for _, url := range urls {
		if err := h.store.Remove(c.Request.Context(), url); err != nil {
			log.Printf("attachment cleanup failed url=%s: %v", url, err)
			observability.IncAttachmentCleanupFailure()
			h.publishEvent(c, "attachments.orphaned", gin.H{"url": url, "conversation_id": conversationID})
		}
	}

	observability.IncConversationOp("delete", conv.Kind)
	h.publishEvent(c, "conversations.deleted", gin.H{"conversation_id": conversationID, "kind": conv.Kind})
	h.emitAudit(c, "INFO", "Conversation deleted")
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func (h *ConversationHandler) publishEvent(c *gin.Context, routingKey string, payload gin.H) {
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
