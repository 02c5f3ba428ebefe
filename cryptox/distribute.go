package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// EncryptSessionKeyCopies builds the per-recipient key material for a chat's
// session key. In production mode each copy is RSA-OAEP(SHA-256) ciphertext
// under the member's public key; members without a published public key are
// skipped until they publish one and a member pushes them a copy via the
// exchange protocol. In dev mode every member gets the raw key as base64,
// readable by the server.
func EncryptSessionKeyCopies(key SessionKey, devMode bool, memberPubKeys map[string]string) (map[string]string, error) {
	copies := make(map[string]string, len(memberPubKeys))

	for userId, pubPem := range memberPubKeys {
		if devMode {
			copies[userId] = base64.StdEncoding.EncodeToString(key.Bytes())
			continue
		}

		if pubPem == "" {
			continue
		}
		pub, err := ParsePublicKeyPEM(pubPem)
		if err != nil {
			return nil, fmt.Errorf("bad public key for user %s: %w", userId, err)
		}
		ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key.Bytes(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt key for user %s: %w", userId, err)
		}
		copies[userId] = base64.StdEncoding.EncodeToString(ciphertext)
	}

	return copies, nil
}

// DecryptSessionKeyCopy recovers a session key from a member's RSA-OAEP
// encrypted copy.
func DecryptSessionKeyCopy(encryptedB64 string, priv *rsa.PrivateKey) (SecureSessionKey, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedB64)
	if err != nil {
		return nil, fmt.Errorf("invalid key copy encoding: %w", err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	if len(key) != SessionKeySize {
		return nil, ErrInvalidKeyLength
	}
	return SecureSessionKey(key), nil
}
