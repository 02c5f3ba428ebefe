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

func TestRegister_RejectsBadInput(t *testing.T) {
	svc, _, _, _, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		userName string
		email    string
		password string
	}{
		{"empty name", "", "alice@example.com", "password123"},
		{"bad email", "Alice", "not-an-email", "password123"},
		{"short password", "Alice", "alice@example.com", "short"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, tc.userName, tc.email, tc.password)
			assert.ErrorIs(t, err, service.ErrBadRequest)
		})
	}
}

func TestRegister_Success(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping RSA key generation in short mode")
	}

	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateUser", ctx, mock.MatchedBy(func(u models.User) bool {
		// Password never stored in the clear, key pair attached
		return u.Email == "alice@example.com" &&
			u.PasswordHash != "" &&
			u.PasswordHash != "password123" &&
			u.PublicKeyPem != "" &&
			u.EncryptedPrivateKey != ""
	})).Return(models.User{Id: "user1", Email: "alice@example.com"}, nil)

	user, token, err := svc.Register(ctx, "Alice", "Alice@Example.com", "password123")

	assert.NoError(t, err)
	assert.Equal(t, "user1", user.Id)
	assert.NotEmpty(t, token)
	mockStore.AssertExpectations(t)
}

func TestRegister_EmailTaken(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping RSA key generation in short mode")
	}

	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateUser", ctx, mock.Anything).Return(models.User{}, store.ErrConditionFailed)

	_, _, err := svc.Register(ctx, "Alice", "alice@example.com", "password123")
	assert.ErrorIs(t, err, service.ErrEmailTaken)
}

func TestLogin_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	assert.NoError(t, err)

	mockStore.On("GetUserByEmail", ctx, "alice@example.com").Return(models.User{
		Id:           "user1",
		Email:        "alice@example.com",
		PasswordHash: string(passwordHash),
	}, nil)

	user, token, err := svc.Login(ctx, "alice@example.com", "password123")

	assert.NoError(t, err)
	assert.Equal(t, "user1", user.Id)
	assert.NotEmpty(t, token)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	assert.NoError(t, err)

	mockStore.On("GetUserByEmail", ctx, "alice@example.com").Return(models.User{
		Id:           "user1",
		PasswordHash: string(passwordHash),
	}, nil)

	_, _, err = svc.Login(ctx, "alice@example.com", "wrongpassword")
	assert.ErrorIs(t, err, service.ErrBadCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUserByEmail", ctx, "ghost@example.com").Return(models.User{}, store.ErrItemNotFound)

	_, _, err := svc.Login(ctx, "ghost@example.com", "password123")
	assert.ErrorIs(t, err, service.ErrBadCredentials)
}

func TestLogin_OAuthAccountHasNoPassword(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUserByEmail", ctx, "alice@example.com").Return(models.User{
		Id:       "user1",
		Provider: "google",
	}, nil)

	_, _, err := svc.Login(ctx, "alice@example.com", "password123")
	assert.ErrorIs(t, err, service.ErrBadCredentials)
}

func TestJWT_RoundTrip(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user1")
	assert.NoError(t, err)

	userId, expiry, err := svc.VerifyJWT(token)
	assert.NoError(t, err)
	assert.Equal(t, "user1", userId)
	assert.False(t, expiry.IsZero())
}

func TestVerifyJWT_WrongSecret(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user1")
	assert.NoError(t, err)

	svc.JWTSecret = []byte("other-secret")
	_, _, err = svc.VerifyJWT(token)
	assert.Error(t, err)
}

func TestAuthenticateToken(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	token, err := svc.CreateJWT("user1")
	assert.NoError(t, err)

	mockStore.On("GetUser", ctx, "user1").Return(models.User{Id: "user1"}, nil)

	user, err := svc.AuthenticateToken(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, "user1", user.Id)

	_, err = svc.AuthenticateToken(ctx, "")
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = svc.AuthenticateToken(ctx, "garbage.token.value")
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}
