package store

import (
	"context"
	"errors"

	"github.com/lmarques/sigilo/models"
)

type SigiloStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetOrCreateOAuthUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userId string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	SetUserKeyPair(ctx context.Context, userId string, keyPair models.KeyPair) error
	SetUserPublicKey(ctx context.Context, userId string, publicKeyPem string) error

	CreateChat(ctx context.Context, chat models.Chat, memberIds []string) (models.Chat, error)
	GetChat(ctx context.Context, chatId string) (models.Chat, error)
	ListUserChats(ctx context.Context, userId string) ([]models.Chat, error)
	IsChatMember(ctx context.Context, chatId string, userId string) (bool, error)
	GetChatMembers(ctx context.Context, chatId string) ([]string, error)
	AddChatMembers(ctx context.Context, chatId string, userIds []string) error
	RemoveChatMember(ctx context.Context, chatId string, userId string) error
	TouchChatLastMessage(ctx context.Context, chatId string, at int64) error

	UpsertChatKeys(ctx context.Context, copies []models.ChatKeyCopy) error
	GetChatKey(ctx context.Context, chatId string, userId string) (models.ChatKeyCopy, error)
	DeleteChatKey(ctx context.Context, chatId string, userId string) error

	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, chatId string, messageKey string) (models.Message, error)
	EditMessage(ctx context.Context, chatId string, messageKey string, text string, sha256 string, signature string, editedAt int64) (models.Message, error)
	MarkMessageDeleted(ctx context.Context, chatId string, messageKey string, deletedAt int64) (models.Message, error)
	GetChatMessages(ctx context.Context, chatId string, limit int32) ([]models.Message, error)
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
