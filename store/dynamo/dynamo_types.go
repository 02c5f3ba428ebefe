package dynamo

import (
	"strings"

	"github.com/lmarques/sigilo/models"
)

// Single-table layout:
//
//	USER#<userId>  / PROFILE        user profile + key pair fields
//	EMAIL#<email>  / REF            email uniqueness + login lookup
//	OAUTH#<p>#<id> / REF            oauth identity lookup
//	CHAT#<chatId>  / META           chat metadata
//	CHAT#<chatId>  / MEMBER#<uid>   participant row (GSI_UserChats on UserId)
//	CHAT#<chatId>  / KEY#<uid>      participant's session key copy
//	MSG#<chatId>   / <uuidv7>       sealed message, SK sorts by creation time

type dynamoUser struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	Id                  string `dynamodbav:"Id"`
	Name                string `dynamodbav:"Name"`
	Email               string `dynamodbav:"Email"`
	PasswordHash        string `dynamodbav:"PasswordHash"`
	Provider            string `dynamodbav:"Provider"`
	ProviderId          string `dynamodbav:"ProviderId"`
	Created             int64  `dynamodbav:"Created"`
	PublicKeyPem        string `dynamodbav:"PublicKeyPem"`
	EncryptedPrivateKey string `dynamodbav:"EncryptedPrivateKey"`
	PrivateKeyNonce     string `dynamodbav:"PrivateKeyNonce"`
}

func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:                  "USER#" + u.Id,
		SK:                  "PROFILE",
		Id:                  u.Id,
		Name:                u.Name,
		Email:               u.Email,
		PasswordHash:        u.PasswordHash,
		Provider:            u.Provider,
		ProviderId:          u.ProviderId,
		Created:             u.Created,
		PublicKeyPem:        u.PublicKeyPem,
		EncryptedPrivateKey: u.EncryptedPrivateKey,
		PrivateKeyNonce:     u.PrivateKeyNonce,
	}
}

func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:                  du.Id,
		Name:                du.Name,
		Email:               du.Email,
		PasswordHash:        du.PasswordHash,
		Provider:            du.Provider,
		ProviderId:          du.ProviderId,
		Created:             du.Created,
		PublicKeyPem:        du.PublicKeyPem,
		EncryptedPrivateKey: du.EncryptedPrivateKey,
		PrivateKeyNonce:     du.PrivateKeyNonce,
	}
}

// Lookup row pointing an alternate identity (email, oauth) at a user id.
type dynamoUserRef struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	UserId string `dynamodbav:"UserId"`
}

type dynamoChat struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	Id            string `dynamodbav:"Id"`
	Title         string `dynamodbav:"Title"`
	IsGroup       bool   `dynamodbav:"IsGroup"`
	CreatedById   string `dynamodbav:"CreatedById"`
	Created       int64  `dynamodbav:"Created"`
	LastMessageAt int64  `dynamodbav:"LastMessageAt"`
}

func chatToDynamo(c models.Chat) dynamoChat {
	return dynamoChat{
		PK:            "CHAT#" + c.Id,
		SK:            "META",
		Id:            c.Id,
		Title:         c.Title,
		IsGroup:       c.IsGroup,
		CreatedById:   c.CreatedById,
		Created:       c.Created,
		LastMessageAt: c.LastMessageAt,
	}
}

func chatFromDynamo(dc dynamoChat) models.Chat {
	return models.Chat{
		Id:            dc.Id,
		Title:         dc.Title,
		IsGroup:       dc.IsGroup,
		CreatedById:   dc.CreatedById,
		Created:       dc.Created,
		LastMessageAt: dc.LastMessageAt,
	}
}

type dynamoMember struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	UserId string `dynamodbav:"UserId"`
}

func memberToDynamo(chatId, userId string) dynamoMember {
	return dynamoMember{
		PK:     "CHAT#" + chatId,
		SK:     "MEMBER#" + userId,
		UserId: userId,
	}
}

type dynamoChatKey struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	UserId       string `dynamodbav:"UserId"`
	EncryptedKey string `dynamodbav:"EncryptedKey"`
}

func chatKeyToDynamo(c models.ChatKeyCopy) dynamoChatKey {
	return dynamoChatKey{
		PK:           "CHAT#" + c.ChatId,
		SK:           "KEY#" + c.UserId,
		UserId:       c.UserId,
		EncryptedKey: c.EncryptedKey,
	}
}

func chatKeyFromDynamo(dk dynamoChatKey) models.ChatKeyCopy {
	return models.ChatKeyCopy{
		ChatId:       strings.TrimPrefix(dk.PK, "CHAT#"),
		UserId:       dk.UserId,
		EncryptedKey: dk.EncryptedKey,
	}
}

type dynamoMessage struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	AuthorId  string `dynamodbav:"AuthorId"`
	Type      string `dynamodbav:"Type"`
	Text      string `dynamodbav:"Text"`
	ImageUrl  string `dynamodbav:"ImageUrl"`
	Sha256    string `dynamodbav:"Sha256"`
	Signature string `dynamodbav:"Signature"`
	CreatedAt int64  `dynamodbav:"CreatedAt"`
	EditedAt  int64  `dynamodbav:"EditedAt"`
	DeletedAt int64  `dynamodbav:"DeletedAt"`
}

func messageToDynamo(m models.Message, messageKey string) dynamoMessage {
	return dynamoMessage{
		PK:        "MSG#" + m.ChatId,
		SK:        messageKey,
		AuthorId:  m.AuthorId,
		Type:      string(m.Type),
		Text:      m.Text,
		ImageUrl:  m.ImageUrl,
		Sha256:    m.Sha256,
		Signature: m.Signature,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		DeletedAt: m.DeletedAt,
	}
}

func messageFromDynamo(dm dynamoMessage) models.Message {
	chatId := strings.TrimPrefix(dm.PK, "MSG#")
	return models.Message{
		Id:        chatId + ":" + dm.SK,
		ChatId:    chatId,
		AuthorId:  dm.AuthorId,
		Type:      models.MessageType(dm.Type),
		Text:      dm.Text,
		ImageUrl:  dm.ImageUrl,
		Sha256:    dm.Sha256,
		Signature: dm.Signature,
		CreatedAt: dm.CreatedAt,
		EditedAt:  dm.EditedAt,
		DeletedAt: dm.DeletedAt,
	}
}
