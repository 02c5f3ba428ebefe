package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/service"
	"github.com/lmarques/sigilo/store"
)

func TestGetPublicKey(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUser", ctx, "user1").Return(models.User{Id: "user1", PublicKeyPem: "PEM"}, nil)
	mockStore.On("GetUser", ctx, "user2").Return(models.User{Id: "user2"}, nil)
	mockStore.On("GetUser", ctx, "ghost").Return(models.User{}, store.ErrItemNotFound)

	pem, err := svc.GetPublicKey(ctx, "user1")
	assert.NoError(t, err)
	assert.Equal(t, "PEM", pem)

	_, err = svc.GetPublicKey(ctx, "user2")
	assert.ErrorIs(t, err, service.ErrNoPublicKey)

	_, err = svc.GetPublicKey(ctx, "ghost")
	assert.ErrorIs(t, err, service.ErrUserNotFound)
}

func TestRotateKeyPair_Success(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping RSA key generation in short mode")
	}

	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	assert.NoError(t, err)
	user := models.User{Id: "user1", PasswordHash: string(passwordHash)}

	mockStore.On("SetUserKeyPair", ctx, "user1", mock.MatchedBy(func(kp models.KeyPair) bool {
		return kp.PublicKeyPem != "" && kp.EncryptedPrivateKey != "" && kp.Nonce != ""
	})).Return(nil)

	keyPair, privatePem, err := svc.RotateKeyPair(ctx, user, "password123")

	assert.NoError(t, err)
	assert.NotEmpty(t, keyPair.PublicKeyPem)
	assert.Contains(t, privatePem, "PRIVATE KEY")
	mockStore.AssertExpectations(t)
}

func TestRotateKeyPair_WrongPassword(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	assert.NoError(t, err)
	user := models.User{Id: "user1", PasswordHash: string(passwordHash)}

	_, _, err = svc.RotateKeyPair(ctx, user, "wrong-password")

	assert.ErrorIs(t, err, service.ErrBadCredentials)
	mockStore.AssertNotCalled(t, "SetUserKeyPair", mock.Anything, mock.Anything, mock.Anything)
}

func TestRotateKeyPair_ShortPassphrase(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	_, _, err := svc.RotateKeyPair(ctx, models.User{Id: "user1"}, "short")

	assert.ErrorIs(t, err, service.ErrBadRequest)
	mockStore.AssertNotCalled(t, "SetUserKeyPair", mock.Anything, mock.Anything, mock.Anything)
}

func TestExchangeChatKeys_NotMember(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(false, nil)

	err := svc.ExchangeChatKeys(ctx, user, "chat1", map[string]string{"user1": "key"})
	assert.ErrorIs(t, err, service.ErrNotInChat)
	mockStore.AssertNotCalled(t, "UpsertChatKeys", mock.Anything, mock.Anything)
}

func TestExchangeChatKeys_FiltersNonMembers(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(true, nil)
	mockStore.On("GetChatMembers", ctx, "chat1").Return([]string{"user1", "user2"}, nil)
	mockStore.On("UpsertChatKeys", ctx, mock.MatchedBy(func(copies []models.ChatKeyCopy) bool {
		// The copy addressed to the outsider must be dropped
		if len(copies) != 2 {
			return false
		}
		for _, c := range copies {
			if c.UserId == "outsider" || c.ChatId != "chat1" {
				return false
			}
		}
		return true
	})).Return(nil)

	err := svc.ExchangeChatKeys(ctx, user, "chat1", map[string]string{
		"user1":    "encKey1",
		"user2":    "encKey2",
		"outsider": "encKey3",
	})

	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestExchangeChatKeys_AllCopiesFiltered(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(true, nil)
	mockStore.On("GetChatMembers", ctx, "chat1").Return([]string{"user1", "user2"}, nil)

	err := svc.ExchangeChatKeys(ctx, user, "chat1", map[string]string{"outsider": "encKey"})
	assert.ErrorIs(t, err, service.ErrBadRequest)
	mockStore.AssertNotCalled(t, "UpsertChatKeys", mock.Anything, mock.Anything)
}

func TestFetchMyEncryptedKey(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(true, nil)
	mockStore.On("GetChatKey", ctx, "chat1", "user1").Return(models.ChatKeyCopy{
		ChatId:       "chat1",
		UserId:       "user1",
		EncryptedKey: "encKey1",
	}, nil)

	keyCopy, err := svc.FetchMyEncryptedKey(ctx, user, "chat1")
	assert.NoError(t, err)
	assert.Equal(t, "encKey1", keyCopy.EncryptedKey)
}

func TestFetchMyEncryptedKey_NoKey(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(true, nil)
	mockStore.On("GetChatKey", ctx, "chat1", "user1").Return(models.ChatKeyCopy{}, store.ErrItemNotFound)

	_, err := svc.FetchMyEncryptedKey(ctx, user, "chat1")
	assert.ErrorIs(t, err, service.ErrNoChatKey)
}

func TestFetchMyEncryptedKey_NotMember(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(false, nil)

	_, err := svc.FetchMyEncryptedKey(ctx, user, "chat1")
	assert.ErrorIs(t, err, service.ErrNotInChat)
	mockStore.AssertNotCalled(t, "GetChatKey", mock.Anything, mock.Anything, mock.Anything)
}
