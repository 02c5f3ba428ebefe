package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/lmarques/sigilo/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AddMessage(ctx context.Context, chatId string, messageKey string, score int64, messageData []byte) error {
	args := m.Called(ctx, chatId, messageKey, score, messageData)
	return args.Error(0)
}

func (m *MockCache) AddMessagesBatch(ctx context.Context, chatId string, messages []cache.MessageCacheItem) error {
	args := m.Called(ctx, chatId, messages)
	return args.Error(0)
}

func (m *MockCache) GetMessages(ctx context.Context, chatId string) ([][]byte, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) SetChatComplete(ctx context.Context, chatId string) error {
	args := m.Called(ctx, chatId)
	return args.Error(0)
}

func (m *MockCache) IsChatComplete(ctx context.Context, chatId string) (bool, error) {
	args := m.Called(ctx, chatId)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) InvalidateChats(ctx context.Context, chatIds []string) error {
	args := m.Called(ctx, chatIds)
	return args.Error(0)
}
