package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/store"
)

const userChatsIndex = "GSI_UserChats"

type DynamoSigiloStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoSigiloStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoSigiloStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoSigiloStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoSigiloStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()
	user.Created = time.Now().Unix()

	// Claim the email first so two concurrent registrations can't share it
	ref := dynamoUserRef{PK: "EMAIL#" + strings.ToLower(user.Email), SK: "REF", UserId: user.Id}
	if err := putIfAbsent(dynamoStore, ctx, ref); err != nil {
		return models.User{}, err
	}

	if err := putItem(dynamoStore, ctx, userToDynamo(user)); err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (dynamoStore *DynamoSigiloStore) GetOrCreateOAuthUser(ctx context.Context, user models.User) (models.User, error) {
	refPK := "OAUTH#" + user.Provider + "#" + user.ProviderId

	ref, err := getItem[dynamoUserRef](dynamoStore, ctx, refPK, "REF", false)
	if err == nil {
		return dynamoStore.GetUser(ctx, ref.UserId)
	}
	if !errors.Is(err, store.ErrItemNotFound) {
		return models.User{}, err
	}

	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()
	user.Created = time.Now().Unix()

	if err := putIfAbsent(dynamoStore, ctx, dynamoUserRef{PK: refPK, SK: "REF", UserId: user.Id}); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			// Lost the race, the other writer's user wins
			ref, refErr := getItem[dynamoUserRef](dynamoStore, ctx, refPK, "REF", true)
			if refErr != nil {
				return models.User{}, refErr
			}
			return dynamoStore.GetUser(ctx, ref.UserId)
		}
		return models.User{}, err
	}

	if err := putItem(dynamoStore, ctx, userToDynamo(user)); err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (dynamoStore *DynamoSigiloStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, "USER#"+userId, "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoSigiloStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	ref, err := getItem[dynamoUserRef](dynamoStore, ctx, "EMAIL#"+strings.ToLower(email), "REF", false)
	if err != nil {
		return models.User{}, err
	}

	return dynamoStore.GetUser(ctx, ref.UserId)
}

func (dynamoStore *DynamoSigiloStore) SetUserKeyPair(ctx context.Context, userId string, keyPair models.KeyPair) error {
	du := dynamoUser{
		PK:                  "USER#" + userId,
		SK:                  "PROFILE",
		PublicKeyPem:        keyPair.PublicKeyPem,
		EncryptedPrivateKey: keyPair.EncryptedPrivateKey,
		PrivateKeyNonce:     keyPair.Nonce,
	}
	_, err := updateItem(dynamoStore, ctx, du, []string{"PublicKeyPem", "EncryptedPrivateKey", "PrivateKeyNonce"})
	return err
}

func (dynamoStore *DynamoSigiloStore) SetUserPublicKey(ctx context.Context, userId string, publicKeyPem string) error {
	du := dynamoUser{
		PK:           "USER#" + userId,
		SK:           "PROFILE",
		PublicKeyPem: publicKeyPem,
	}
	_, err := updateItem(dynamoStore, ctx, du, []string{"PublicKeyPem"})
	return err
}

func (dynamoStore *DynamoSigiloStore) CreateChat(ctx context.Context, chat models.Chat, memberIds []string) (models.Chat, error) {
	chatId, err := uuid.NewV4()
	if err != nil {
		return models.Chat{}, err
	}
	chat.Id = chatId.String()
	chat.Created = time.Now().Unix()
	chat.LastMessageAt = chat.Created

	if err := putItem(dynamoStore, ctx, chatToDynamo(chat)); err != nil {
		return models.Chat{}, err
	}

	if err := dynamoStore.AddChatMembers(ctx, chat.Id, memberIds); err != nil {
		return models.Chat{}, err
	}

	return chat, nil
}

func (dynamoStore *DynamoSigiloStore) GetChat(ctx context.Context, chatId string) (models.Chat, error) {
	dc, err := getItem[dynamoChat](dynamoStore, ctx, "CHAT#"+chatId, "META", false)
	if err != nil {
		return models.Chat{}, err
	}

	return chatFromDynamo(dc), nil
}

func (dynamoStore *DynamoSigiloStore) ListUserChats(ctx context.Context, userId string) ([]models.Chat, error) {
	chatPKs, err := queryAllByGSI(dynamoStore, ctx, userChatsIndex, "UserId", userId)
	if err != nil {
		return nil, err
	}

	chats := make([]models.Chat, 0, len(chatPKs))
	for _, pk := range chatPKs {
		chatId := strings.TrimPrefix(pk, "CHAT#")
		chat, err := dynamoStore.GetChat(ctx, chatId)
		if err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				continue
			}
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, nil
}

func (dynamoStore *DynamoSigiloStore) IsChatMember(ctx context.Context, chatId string, userId string) (bool, error) {
	_, err := getItem[dynamoMember](dynamoStore, ctx, "CHAT#"+chatId, "MEMBER#"+userId, false)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (dynamoStore *DynamoSigiloStore) GetChatMembers(ctx context.Context, chatId string) ([]string, error) {
	members, err := queryByPKPrefix[dynamoMember](dynamoStore, ctx, "CHAT#"+chatId, "MEMBER#", true, 0)
	if err != nil {
		return nil, err
	}

	userIds := make([]string, 0, len(members))
	for _, m := range members {
		userIds = append(userIds, m.UserId)
	}

	return userIds, nil
}

func (dynamoStore *DynamoSigiloStore) AddChatMembers(ctx context.Context, chatId string, userIds []string) error {
	var writeRequests []types.WriteRequest
	for _, userId := range userIds {
		avMap, err := attributevalue.MarshalMap(memberToDynamo(chatId, userId))
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}

		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: avMap,
			},
		})
	}

	return writeBatchRequests(dynamoStore, ctx, writeRequests)
}

func (dynamoStore *DynamoSigiloStore) RemoveChatMember(ctx context.Context, chatId string, userId string) error {
	return deleteItem(dynamoStore, ctx, "CHAT#"+chatId, "MEMBER#"+userId, true)
}

func (dynamoStore *DynamoSigiloStore) TouchChatLastMessage(ctx context.Context, chatId string, at int64) error {
	dc := dynamoChat{
		PK:            "CHAT#" + chatId,
		SK:            "META",
		LastMessageAt: at,
	}
	_, err := updateItem(dynamoStore, ctx, dc, []string{"LastMessageAt"})
	return err
}

func (dynamoStore *DynamoSigiloStore) UpsertChatKeys(ctx context.Context, copies []models.ChatKeyCopy) error {
	var writeRequests []types.WriteRequest
	for _, c := range copies {
		avMap, err := attributevalue.MarshalMap(chatKeyToDynamo(c))
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}

		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: avMap,
			},
		})
	}

	return writeBatchRequests(dynamoStore, ctx, writeRequests)
}

func (dynamoStore *DynamoSigiloStore) GetChatKey(ctx context.Context, chatId string, userId string) (models.ChatKeyCopy, error) {
	dk, err := getItem[dynamoChatKey](dynamoStore, ctx, "CHAT#"+chatId, "KEY#"+userId, false)
	if err != nil {
		return models.ChatKeyCopy{}, err
	}

	return chatKeyFromDynamo(dk), nil
}

func (dynamoStore *DynamoSigiloStore) DeleteChatKey(ctx context.Context, chatId string, userId string) error {
	return deleteItem(dynamoStore, ctx, "CHAT#"+chatId, "KEY#"+userId, false)
}

func (dynamoStore *DynamoSigiloStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	// v7 keeps the SK time-ordered so a single query pages chronologically
	messageKey, err := uuid.NewV7()
	if err != nil {
		return models.Message{}, err
	}
	msg.Id = msg.ChatId + ":" + messageKey.String()
	msg.CreatedAt = time.Now().UnixMilli()

	if err := putItem(dynamoStore, ctx, messageToDynamo(msg, messageKey.String())); err != nil {
		return models.Message{}, err
	}

	return msg, nil
}

func (dynamoStore *DynamoSigiloStore) GetMessage(ctx context.Context, chatId string, messageKey string) (models.Message, error) {
	dm, err := getItem[dynamoMessage](dynamoStore, ctx, "MSG#"+chatId, messageKey, false)
	if err != nil {
		return models.Message{}, err
	}

	return messageFromDynamo(dm), nil
}

func (dynamoStore *DynamoSigiloStore) EditMessage(ctx context.Context, chatId string, messageKey string, text string, sha256 string, signature string, editedAt int64) (models.Message, error) {
	dm := dynamoMessage{
		PK:        "MSG#" + chatId,
		SK:        messageKey,
		Text:      text,
		Sha256:    sha256,
		Signature: signature,
		EditedAt:  editedAt,
	}
	updated, err := updateItem(dynamoStore, ctx, dm, []string{"Text", "Sha256", "Signature", "EditedAt"})
	if err != nil {
		return models.Message{}, err
	}

	return messageFromDynamo(updated), nil
}

func (dynamoStore *DynamoSigiloStore) MarkMessageDeleted(ctx context.Context, chatId string, messageKey string, deletedAt int64) (models.Message, error) {
	dm := dynamoMessage{
		PK:        "MSG#" + chatId,
		SK:        messageKey,
		Text:      "",
		ImageUrl:  "",
		Sha256:    "",
		Signature: "",
		DeletedAt: deletedAt,
	}
	updated, err := updateItem(dynamoStore, ctx, dm, []string{"Text", "ImageUrl", "Sha256", "Signature", "DeletedAt"})
	if err != nil {
		return models.Message{}, err
	}

	return messageFromDynamo(updated), nil
}

func (dynamoStore *DynamoSigiloStore) GetChatMessages(ctx context.Context, chatId string, limit int32) ([]models.Message, error) {
	// Fetch newest first, then reverse into chronological order
	dynamoMessages, err := queryByPKPrefix[dynamoMessage](dynamoStore, ctx, "MSG#"+chatId, "", false, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(dynamoMessages))
	for i := len(dynamoMessages) - 1; i >= 0; i-- {
		messages = append(messages, messageFromDynamo(dynamoMessages[i]))
	}

	return messages, nil
}
