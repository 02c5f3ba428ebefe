package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/lmarques/sigilo/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetOrCreateOAuthUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) SetUserKeyPair(ctx context.Context, userId string, keyPair models.KeyPair) error {
	args := m.Called(ctx, userId, keyPair)
	return args.Error(0)
}

func (m *MockStore) SetUserPublicKey(ctx context.Context, userId string, publicKeyPem string) error {
	args := m.Called(ctx, userId, publicKeyPem)
	return args.Error(0)
}

func (m *MockStore) CreateChat(ctx context.Context, chat models.Chat, memberIds []string) (models.Chat, error) {
	args := m.Called(ctx, chat, memberIds)
	return args.Get(0).(models.Chat), args.Error(1)
}

func (m *MockStore) GetChat(ctx context.Context, chatId string) (models.Chat, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).(models.Chat), args.Error(1)
}

func (m *MockStore) ListUserChats(ctx context.Context, userId string) ([]models.Chat, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]models.Chat), args.Error(1)
}

func (m *MockStore) IsChatMember(ctx context.Context, chatId string, userId string) (bool, error) {
	args := m.Called(ctx, chatId, userId)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetChatMembers(ctx context.Context, chatId string) ([]string, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) AddChatMembers(ctx context.Context, chatId string, userIds []string) error {
	args := m.Called(ctx, chatId, userIds)
	return args.Error(0)
}

func (m *MockStore) RemoveChatMember(ctx context.Context, chatId string, userId string) error {
	args := m.Called(ctx, chatId, userId)
	return args.Error(0)
}

func (m *MockStore) TouchChatLastMessage(ctx context.Context, chatId string, at int64) error {
	args := m.Called(ctx, chatId, at)
	return args.Error(0)
}

func (m *MockStore) UpsertChatKeys(ctx context.Context, copies []models.ChatKeyCopy) error {
	args := m.Called(ctx, copies)
	return args.Error(0)
}

func (m *MockStore) GetChatKey(ctx context.Context, chatId string, userId string) (models.ChatKeyCopy, error) {
	args := m.Called(ctx, chatId, userId)
	return args.Get(0).(models.ChatKeyCopy), args.Error(1)
}

func (m *MockStore) DeleteChatKey(ctx context.Context, chatId string, userId string) error {
	args := m.Called(ctx, chatId, userId)
	return args.Error(0)
}

func (m *MockStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockStore) GetMessage(ctx context.Context, chatId string, messageKey string) (models.Message, error) {
	args := m.Called(ctx, chatId, messageKey)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockStore) EditMessage(ctx context.Context, chatId string, messageKey string, text string, sha256 string, signature string, editedAt int64) (models.Message, error) {
	args := m.Called(ctx, chatId, messageKey, text, sha256, signature, editedAt)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockStore) MarkMessageDeleted(ctx context.Context, chatId string, messageKey string, deletedAt int64) (models.Message, error) {
	args := m.Called(ctx, chatId, messageKey, deletedAt)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockStore) GetChatMessages(ctx context.Context, chatId string, limit int32) ([]models.Message, error) {
	args := m.Called(ctx, chatId, limit)
	return args.Get(0).([]models.Message), args.Error(1)
}
