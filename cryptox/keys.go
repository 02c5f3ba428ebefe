package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lmarques/sigilo/models"
)

const (
	rsaKeyBits = 4096

	// PBKDF2 parameters for sealing the private key at rest. The salt is
	// application-wide: uniqueness of the sealed blob comes from the
	// per-encryption GCM nonce, not the salt.
	pbkdf2Iterations = 310000
	privateKeySalt   = "salt-rsa"

	gcmNonceSize = 12
)

// GenerateKeyPair creates a user's RSA identity. The private key is PKCS#8
// PEM encrypted with AES-256-GCM under a key derived from password; only the
// ciphertext, nonce and plaintext public key end up in the returned KeyPair.
// The plaintext private PEM is returned separately so registration can hand
// it to the client, and must not be persisted.
func GenerateKeyPair(password string) (models.KeyPair, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return models.KeyPair{}, "", fmt.Errorf("failed to generate RSA key pair: %w", err)
	}

	pubPem, err := EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return models.KeyPair{}, "", err
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return models.KeyPair{}, "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPem := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	encrypted, nonce, err := sealPrivateKey(privPem, password)
	if err != nil {
		return models.KeyPair{}, "", err
	}

	kp := models.KeyPair{
		PublicKeyPem:        pubPem,
		EncryptedPrivateKey: base64.StdEncoding.EncodeToString(encrypted),
		Nonce:               base64.StdEncoding.EncodeToString(nonce),
	}
	return kp, string(privPem), nil
}

func sealPrivateKey(privPem []byte, password string) (ciphertext, nonce []byte, err error) {
	key := pbkdf2.Key([]byte(password), []byte(privateKeySalt), pbkdf2Iterations, 32, sha256.New)

	nonce = make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, privPem, nil), nonce, nil
}

// DecryptPrivateKey recovers the private key PEM from its sealed form using
// the owner's password.
func DecryptPrivateKey(encryptedB64, nonceB64, password string) (*rsa.PrivateKey, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedB64)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted key encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce encoding: %w", err)
	}

	key := pbkdf2.Key([]byte(password), []byte(privateKeySalt), pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	privPem, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("failed to decrypt private key (wrong password?)")
	}

	return ParsePrivateKeyPEM(privPem)
}

// EncodePublicKeyPEM renders an RSA public key as a PKIX "PUBLIC KEY" block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	pubASN1, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubASN1})), nil
}

// ParsePublicKeyPEM parses a PKIX "PUBLIC KEY" PEM block into an RSA key.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

// ParsePrivateKeyPEM parses a PKCS#8 "PRIVATE KEY" PEM block into an RSA key.
func ParsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("failed to decode PEM block containing private key")
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaPriv, nil
}
