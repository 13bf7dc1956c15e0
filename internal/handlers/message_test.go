package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/clients"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)
	r.GET("/conversations/:conversation_id/unread", handler.GetUnread)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", handler.DeleteMessage)
	r.GET("/conversations/:conversation_id/messages/:message_id/receipts", handler.GetReadReceipts)
	return r
}

func directConversation(id int) models.Conversation {
	return models.Conversation{ID: id, Kind: models.KindDirect, User1ID: intp(1), User2ID: intp(2)}
}

func TestPostMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	userClient := new(mocks.UserClientMock)
	handler := NewMessageHandler(convRepo, messageRepo, userClient, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	sentAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, repositories.CreateMessageParams{
		ConversationID: 5,
		SenderID:       1,
		Content:        "hi",
		MessageType:    models.TypeText,
	}).Return(models.Message{ID: 7, ConversationID: 5, SenderID: 1, Content: "hi", MessageType: models.TypeText, CreatedAt: sentAt}, nil).Once()
	convRepo.On("SetLastMessage", mock.Anything, 5, "hi", 1, sentAt).Return(nil).Once()
	userClient.On("GetUser", mock.Anything, 1).Return(clients.UserInfo{ID: 1, Username: "alice"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Message        models.Message `json:"message"`
		SenderUsername string         `json:"sender_username"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 7, resp.Message.ID)
	assert.Equal(t, "alice", resp.SenderUsername)

	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
	userClient.AssertExpectations(t)
}

func TestPostMessageConversationNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageEmptyTextRejected(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"content":"  "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestPostMessageFileWithoutReferenceRejected(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()

	body := bytes.NewBufferString(`{"content":"look","message_type":"image"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

// A file message may carry an empty caption: content must be present in
// the payload, but only text messages require it to be non-empty.
func TestPostMessageFileWithEmptyCaption(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	userClient := new(mocks.UserClientMock)
	handler := NewMessageHandler(convRepo, messageRepo, userClient, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	sentAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, repositories.CreateMessageParams{
		ConversationID: 5,
		SenderID:       1,
		Content:        "",
		MessageType:    models.TypeImage,
		FileURL:        strp("/files/x.png"),
		FileName:       strp("x.png"),
		FileSize:       i64p(1024),
	}).Return(models.Message{ID: 8, ConversationID: 5, SenderID: 1, MessageType: models.TypeImage, CreatedAt: sentAt}, nil).Once()
	convRepo.On("SetLastMessage", mock.Anything, 5, "", 1, sentAt).Return(nil).Once()
	userClient.On("GetUser", mock.Anything, 1).Return(clients.UserInfo{ID: 1}, nil).Once()

	body := bytes.NewBufferString(`{"content":"","message_type":"image","file_url":"/files/x.png","file_name":"x.png","file_size":1024}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestPostMessageReplyMustBeInConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 42).
		Return(models.Message{ID: 42, ConversationID: 99}, nil).Once()

	body := bytes.NewBufferString(`{"content":"re","reply_to_id":42}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestGetMessagesPassesThroughPage(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	userClient := new(mocks.UserClientMock)
	handler := NewMessageHandler(convRepo, messageRepo, userClient, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("ListPage", mock.Anything, 5, 2, 2).Return([]models.Message{
		{ID: 1, ConversationID: 5, SenderID: 1, Content: "a"},
		{ID: 2, ConversationID: 5, SenderID: 2, Content: "b"},
	}, true, nil).Once()
	userClient.On("BulkUsers", mock.Anything, []int{1, 2}).
		Return([]clients.UserInfo{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages?page=2&page_size=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []struct {
			ID             int    `json:"id"`
			SenderUsername string `json:"sender_username"`
		} `json:"messages"`
		Page    int  `json:"page"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, 1, resp.Messages[0].ID)
	assert.Equal(t, "alice", resp.Messages[0].SenderUsername)
	assert.Equal(t, 2, resp.Page)
	assert.True(t, resp.HasMore)
}

func TestGetMessagesNotParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).
		Return(models.Conversation{ID: 5, Kind: models.KindDirect, User1ID: intp(2), User2ID: intp(3)}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkReadIdempotent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Twice()
	messageRepo.On("MarkConversationRead", mock.Anything, 5, 1).Return(nil).Twice()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/conversations/5/read", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	messageRepo.AssertExpectations(t)
}

func TestGetUnread(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("CountUnread", mock.Anything, 5, 1).Return(4, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 4, resp["unread_count"])
}

func TestDeleteMessageOnlySender(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 7).
		Return(models.Message{ID: 7, ConversationID: 5, SenderID: 2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}

func TestDeleteMessageRecomputesTail(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	sentAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := directConversation(5)
	conv.LastMessageAt = &sentAt

	convRepo.On("GetConversation", mock.Anything, 5).Return(conv, nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 7).
		Return(models.Message{ID: 7, ConversationID: 5, SenderID: 1, MessageType: models.TypeText, CreatedAt: sentAt}, nil).Once()
	messageRepo.On("DeleteMessage", mock.Anything, 7).Return(nil).Once()
	convRepo.On("RecomputeLastMessage", mock.Anything, 5).Return((*models.LastMessage)(nil), nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestDeleteMessageNotTailSkipsRecompute(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	tailAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := directConversation(5)
	conv.LastMessageAt = &tailAt

	convRepo.On("GetConversation", mock.Anything, 5).Return(conv, nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 7).
		Return(models.Message{ID: 7, ConversationID: 5, SenderID: 1, MessageType: models.TypeText, CreatedAt: tailAt.Add(-time.Hour)}, nil).Once()
	messageRepo.On("DeleteMessage", mock.Anything, 7).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertNotCalled(t, "RecomputeLastMessage", mock.Anything, mock.Anything)
}

func TestGetReadReceipts(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	readAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 7).
		Return(models.Message{ID: 7, ConversationID: 5, SenderID: 1}, nil).Once()
	messageRepo.On("ReadReceipts", mock.Anything, 7).
		Return([]models.ReadReceipt{{MessageID: 7, UserID: 2, ReadAt: readAt}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages/7/receipts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		MessageID int                  `json:"message_id"`
		ReadBy    []models.ReadReceipt `json:"read_by"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.ReadBy, 1)
	assert.Equal(t, 2, resp.ReadBy[0].UserID)
}

func TestGetReadReceiptsWrongConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 7).
		Return(models.Message{ID: 7, ConversationID: 99, SenderID: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages/7/receipts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "ReadReceipts", mock.Anything, mock.Anything)
}

func TestDeleteMessageAttachmentFailureStillDeletes(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	store := new(mocks.AttachmentStoreMock)
	handler := NewMessageHandler(convRepo, messageRepo, nil, nil, store, nil, nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 5).Return(directConversation(5), nil).Once()
	messageRepo.On("GetMessage", mock.Anything, 7).Return(models.Message{
		ID: 7, ConversationID: 5, SenderID: 1, MessageType: models.TypeImage, FileURL: strp("/files/x.png"),
	}, nil).Once()
	store.On("Remove", mock.Anything, "/files/x.png").Return(assert.AnError).Once()
	messageRepo.On("DeleteMessage", mock.Anything, 7).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	store.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}
