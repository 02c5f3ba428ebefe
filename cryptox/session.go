package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the AES-256 key length every session key must have.
const SessionKeySize = 32

// SessionKey is the symmetric key a chat's messages are sealed under. The
// two implementations are deliberately distinct types so the dev fallback
// cannot be passed where a securely derived key is required.
type SessionKey interface {
	Bytes() []byte
	sessionKey()
}

// SecureSessionKey is derived from a shared secret (or generated fresh and
// distributed RSA-encrypted per recipient). Safe for production use.
type SecureSessionKey []byte

func (k SecureSessionKey) Bytes() []byte { return []byte(k) }
func (SecureSessionKey) sessionKey()     {}

// DevSessionKey is derived from a publicly reconstructable string. It
// provides no secrecy from the server and must never carry production
// confidentiality requirements.
type DevSessionKey []byte

func (k DevSessionKey) Bytes() []byte { return []byte(k) }
func (DevSessionKey) sessionKey()     {}

// NewRandomSessionKey generates a fresh 32-byte session key.
func NewRandomSessionKey() (SecureSessionKey, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return SecureSessionKey(key), nil
}

// DeriveFromSharedSecret turns a shared secret (e.g. from ECDH) into the
// chat's session key via HKDF-SHA256 (RFC 5869). The salt binds the key to
// the chat and its exact member set; member ids are sorted first so every
// participant derives the identical key regardless of enumeration order.
func DeriveFromSharedSecret(sharedSecret []byte, chatId string, memberIds []string) (SecureSessionKey, error) {
	members := append([]string(nil), memberIds...)
	sort.Strings(members)
	salt := sha256.Sum256([]byte("chat:" + chatId + "|" + strings.Join(members, ",")))

	key := make([]byte, SessionKeySize)
	r := hkdf.New(sha256.New, sharedSecret, salt[:], []byte("msg-session-key-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return SecureSessionKey(key), nil
}

// DeriveDevFallback derives a session key directly from a shared string,
// skipping any secret exchange. Both sides (and the server) can reconstruct
// it, so it is only reachable in dev mode.
func DeriveDevFallback(sharedString string, chatId string) DevSessionKey {
	ikm := sha256.Sum256([]byte(sharedString))
	salt := sha256.Sum256([]byte("dev-salt:" + chatId))

	key := make([]byte, SessionKeySize)
	r := hkdf.New(sha256.New, ikm[:], salt[:], []byte("dev-session-key-v1"))
	// HKDF-SHA256 can always produce 32 bytes
	io.ReadFull(r, key)
	return DevSessionKey(key)
}
