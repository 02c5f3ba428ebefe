package cache

import "context"

type MessageCacheItem struct {
	MessageKey string
	Score      int64
	Data       []byte
}

type SigiloCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	AddMessage(ctx context.Context, chatId string, messageKey string, score int64, messageData []byte) error
	AddMessagesBatch(ctx context.Context, chatId string, messages []MessageCacheItem) error
	GetMessages(ctx context.Context, chatId string) ([][]byte, error)

	SetChatComplete(ctx context.Context, chatId string) error
	IsChatComplete(ctx context.Context, chatId string) (bool, error)
	InvalidateChats(ctx context.Context, chatIds []string) error
}
