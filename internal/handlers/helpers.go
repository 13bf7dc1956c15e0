package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/clients"
	"messaging-service/internal/observability"
)

// identityClient resolves display identities for response decoration.
type identityClient interface {
	GetUser(ctx context.Context, userID int) (clients.UserInfo, error)
	BulkUsers(ctx context.Context, ids []int) ([]clients.UserInfo, error)
}

// membershipClient answers circle existence and membership questions.
type membershipClient interface {
	GroupExists(ctx context.Context, groupID int) (bool, error)
	IsMember(ctx context.Context, userID int, groupID int) (bool, error)
	MembersOf(ctx context.Context, groupID int) ([]int, error)
}

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// eventHeaders builds the AMQP correlation headers for a domain event.
func eventHeaders(c *gin.Context) map[string]string {
	traceID := ""
	if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().HasTraceID() {
		traceID = span.SpanContext().TraceID().String()
	}
	return observability.BuildHeaders(requestIDFromContext(c), traceID)
}

// eventIdentity describes who triggered a domain event and from where.
func eventIdentity(c *gin.Context) gin.H {
	return gin.H{
		"user_id":   c.GetInt("userID"),
		"device_id": observability.DeviceIDFromRequest(c.Request),
		"ip":        observability.IPFromRequest(c.Request),
	}
}

func userIDFromContext(c *gin.Context) *int64 {
	if val, ok := c.Get("userID"); ok {
		switch userID := val.(type) {
		case int:
			if userID != 0 {
				value := int64(userID)
				return &value
			}
		case int64:
			if userID != 0 {
				value := userID
				return &value
			}
		}
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.ParseInt(header, 10, 64); err == nil {
			return &parsed
		}
	}

	return nil
}

func parseConversationID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func parseMessageIDs(c *gin.Context) (int, int, bool) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return 0, 0, false
	}
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, 0, false
	}
	return conversationID, messageID, true
}
