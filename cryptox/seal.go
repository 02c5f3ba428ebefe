package cryptox

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// Closed error set for sealing/opening. Callers branch on these with
// errors.Is; a failed check is always terminal, never a fallback to
// treating the payload as valid.
var (
	ErrInvalidKeyLength  = errors.New("invalid session key length (need 32 bytes)")
	ErrMalformedPayload  = errors.New("malformed compact payload")
	ErrIntegrityMismatch = errors.New("payload hash mismatch")
	ErrBadSignature      = errors.New("bad payload signature")
	ErrDecryptionFailed  = errors.New("payload decryption failed")
)

var b64u = base64.RawURLEncoding

// SealedPayload is the output of Seal: the compact payload plus the
// integrity hash and author signature bound to it. The triad is
// tamper-evident as a unit; corrupting any one field is independently
// detectable.
type SealedPayload struct {
	Compact   string // base64url(iv).base64url(ciphertext).base64url(tag)
	Sha256    string // hex SHA-256 of Compact
	Signature string // base64url RSA-SHA256 over Compact
}

// Seal authenticated-encrypts plaintext under the session key, then hashes
// and signs the compact payload.
func Seal(plaintext string, key SessionKey, senderPriv *rsa.PrivateKey) (SealedPayload, error) {
	if len(key.Bytes()) != SessionKeySize {
		return SealedPayload{}, ErrInvalidKeyLength
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return SealedPayload{}, err
	}

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return SealedPayload{}, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return SealedPayload{}, err
	}

	sealed := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - aesgcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	compact := b64u.EncodeToString(nonce) + "." + b64u.EncodeToString(ciphertext) + "." + b64u.EncodeToString(tag)

	signature, err := SignPayload(senderPriv, compact)
	if err != nil {
		return SealedPayload{}, err
	}

	return SealedPayload{
		Compact:   compact,
		Sha256:    Sha256Hex(compact),
		Signature: signature,
	}, nil
}

// Open validates and decrypts a compact payload back to plaintext. Check
// order is fixed: integrity hash first, then signature, then the GCM
// decrypt, so the caller gets a precise failure reason.
func Open(compact string, key SessionKey, authorPub *rsa.PublicKey, expectedSha256, signature string) (string, error) {
	if len(key.Bytes()) != SessionKeySize {
		return "", ErrInvalidKeyLength
	}

	if expectedSha256 != "" {
		if Sha256Hex(compact) != expectedSha256 {
			return "", ErrIntegrityMismatch
		}
	}

	if signature != "" {
		if err := VerifyPayload(authorPub, compact, signature); err != nil {
			return "", err
		}
	}

	parts := strings.Split(compact, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", ErrMalformedPayload
	}

	nonce, err := b64u.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformedPayload
	}
	ciphertext, err := b64u.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedPayload
	}
	tag, err := b64u.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedPayload
	}

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return "", ErrMalformedPayload
	}

	plaintext, err := aesgcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		// GCM tag failure: corrupted ciphertext or wrong key
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Sha256Hex returns the hex SHA-256 of data.
func Sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SignPayload signs a compact payload with RSA-SHA256, base64url encoded.
func SignPayload(priv *rsa.PrivateKey, compact string) (string, error) {
	digest := sha256.Sum256([]byte(compact))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return b64u.EncodeToString(sig), nil
}

// VerifyPayload checks an RSA-SHA256 signature over a compact payload.
func VerifyPayload(pub *rsa.PublicKey, compact string, signatureB64u string) error {
	if pub == nil {
		return ErrBadSignature
	}
	sig, err := b64u.DecodeString(signatureB64u)
	if err != nil {
		return ErrBadSignature
	}
	digest := sha256.Sum256([]byte(compact))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}
