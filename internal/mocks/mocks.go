package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/clients"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/storage"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetOrCreateDirect(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetOrCreateGroup(ctx context.Context, groupID int) (models.Conversation, error) {
	args := m.Called(ctx, groupID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListDirectForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepositoryMock) ListGroupConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepositoryMock) SetLastMessage(ctx context.Context, conversationID int, content string, senderID int, at time.Time) error {
	args := m.Called(ctx, conversationID, content, senderID, at)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) RecomputeLastMessage(ctx context.Context, conversationID int) (*models.LastMessage, error) {
	args := m.Called(ctx, conversationID)
	var snapshot *models.LastMessage
	if val := args.Get(0); val != nil {
		snapshot = val.(*models.LastMessage)
	}
	return snapshot, args.Error(1)
}

func (m *ConversationRepositoryMock) DeleteConversation(ctx context.Context, conversationID int) ([]string, error) {
	args := m.Called(ctx, conversationID)
	var urls []string
	if val := args.Get(0); val != nil {
		urls = val.([]string)
	}
	return urls, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, params repositories.CreateMessageParams) (models.Message, error) {
	args := m.Called(ctx, params)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListPage(ctx context.Context, conversationID int, page int, pageSize int) ([]models.Message, bool, error) {
	args := m.Called(ctx, conversationID, page, pageSize)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, conversationID int, viewerID int) error {
	args := m.Called(ctx, conversationID, viewerID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, conversationID int, viewerID int) (int, error) {
	args := m.Called(ctx, conversationID, viewerID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) ReadReceipts(ctx context.Context, messageID int) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, messageID)
	var receipts []models.ReadReceipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.ReadReceipt)
	}
	return receipts, args.Error(1)
}

type UserClientMock struct {
	mock.Mock
}

func (m *UserClientMock) GetUser(ctx context.Context, userID int) (clients.UserInfo, error) {
	args := m.Called(ctx, userID)
	var info clients.UserInfo
	if val := args.Get(0); val != nil {
		info = val.(clients.UserInfo)
	}
	return info, args.Error(1)
}

func (m *UserClientMock) BulkUsers(ctx context.Context, ids []int) ([]clients.UserInfo, error) {
	args := m.Called(ctx, ids)
	var users []clients.UserInfo
	if val := args.Get(0); val != nil {
		users = val.([]clients.UserInfo)
	}
	return users, args.Error(1)
}

func (m *UserClientMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type CircleClientMock struct {
	mock.Mock
}

func (m *CircleClientMock) GroupExists(ctx context.Context, groupID int) (bool, error) {
	args := m.Called(ctx, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *CircleClientMock) IsMember(ctx context.Context, userID int, groupID int) (bool, error) {
	args := m.Called(ctx, userID, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *CircleClientMock) MembersOf(ctx context.Context, groupID int) ([]int, error) {
	args := m.Called(ctx, groupID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type AttachmentStoreMock struct {
	mock.Mock
}

func (m *AttachmentStoreMock) Store(ctx context.Context, r io.Reader, declaredName string, declaredSize int64, contentType string) (storage.StoredFile, error) {
	args := m.Called(ctx, r, declaredName, declaredSize, contentType)
	var stored storage.StoredFile
	if val := args.Get(0); val != nil {
		stored = val.(storage.StoredFile)
	}
	return stored, args.Error(1)
}

func (m *AttachmentStoreMock) Remove(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ storage.AttachmentStore = (*AttachmentStoreMock)(nil)
