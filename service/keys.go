package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/lmarques/sigilo/cryptox"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/store"
)

// GetPublicKey returns another user's public key PEM so the caller can
// encrypt a session key copy for them.
func (s *Service) GetPublicKey(ctx context.Context, userId string) (string, error) {
	user, err := s.Store.GetUser(ctx, userId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	if user.PublicKeyPem == "" {
		return "", ErrNoPublicKey
	}

	return user.PublicKeyPem, nil
}

// UpsertMyPublicKey lets a user without a stored key pair (OAuth accounts,
// or a client-side regeneration) publish a public key.
func (s *Service) UpsertMyPublicKey(ctx context.Context, user models.User, publicKeyPem string) error {
	if err := ValidatePublicKeyPEM(publicKeyPem); err != nil {
		return err
	}

	return s.Store.SetUserPublicKey(ctx, user.Id, publicKeyPem)
}

// RotateKeyPair mints a fresh RSA identity for the caller, replacing the
// stored key pair. Password accounts must present their password, which also
// becomes the encryption passphrase for the new private key; OAuth accounts
// have no password on file and only choose the passphrase. Returns the new
// key pair and the plaintext private PEM for the requesting client.
func (s *Service) RotateKeyPair(ctx context.Context, user models.User, password string) (models.KeyPair, string, error) {
	if len(password) < 8 {
		return models.KeyPair{}, "", ErrBadRequest
	}
	if user.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return models.KeyPair{}, "", ErrBadCredentials
		}
	}

	keyPair, privatePem, err := cryptox.GenerateKeyPair(password)
	if err != nil {
		return models.KeyPair{}, "", err
	}

	if err := s.Store.SetUserKeyPair(ctx, user.Id, keyPair); err != nil {
		return models.KeyPair{}, "", err
	}

	return keyPair, privatePem, nil
}

// ExchangeChatKeys stores per-recipient encrypted session key copies for a
// chat. Only copies addressed to current members are kept, and re-sending
// the same copies is a no-op thanks to the keyed upsert.
func (s *Service) ExchangeChatKeys(ctx context.Context, user models.User, chatId string, copies map[string]string) error {
	isMember, err := s.Store.IsChatMember(ctx, chatId, user.Id)
	if err != nil {
		return err
	}
	if !isMember {
		return ErrNotInChat
	}

	memberIds, err := s.Store.GetChatMembers(ctx, chatId)
	if err != nil {
		return err
	}
	members := make(map[string]bool, len(memberIds))
	for _, id := range memberIds {
		members[id] = true
	}

	keyCopies := make([]models.ChatKeyCopy, 0, len(copies))
	for userId, encryptedKey := range copies {
		if !members[userId] || encryptedKey == "" {
			continue
		}
		keyCopies = append(keyCopies, models.ChatKeyCopy{
			ChatId:       chatId,
			UserId:       userId,
			EncryptedKey: encryptedKey,
		})
	}
	if len(keyCopies) == 0 {
		return ErrBadRequest
	}

	return s.Store.UpsertChatKeys(ctx, keyCopies)
}

// FetchMyEncryptedKey returns the caller's own key copy for a chat. Copies
// addressed to other users are never served.
func (s *Service) FetchMyEncryptedKey(ctx context.Context, user models.User, chatId string) (models.ChatKeyCopy, error) {
	isMember, err := s.Store.IsChatMember(ctx, chatId, user.Id)
	if err != nil {
		return models.ChatKeyCopy{}, err
	}
	if !isMember {
		return models.ChatKeyCopy{}, ErrNotInChat
	}

	keyCopy, err := s.Store.GetChatKey(ctx, chatId, user.Id)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.ChatKeyCopy{}, ErrNoChatKey
		}
		return models.ChatKeyCopy{}, err
	}

	return keyCopy, nil
}
