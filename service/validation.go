package service

import (
	"encoding/base64"
	"net/url"
	"regexp"

	"github.com/lmarques/sigilo/cryptox"
	"github.com/lmarques/sigilo/models"
)

var sha256HexRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

const maxSealedTextBytes = 64 * 1024

// ValidateSendMessage checks the envelope around a sealed message. The
// server never sees plaintext, but when a hash accompanies the message it
// can verify it matches the ciphertext it is being asked to store.
func ValidateSendMessage(params SendParams) error {
	if params.ChatId == "" {
		return ErrBadRequest
	}

	switch params.Type {
	case models.MessageText:
		if params.Text == "" {
			return ErrEmptyText
		}
		if len(params.Text) > maxSealedTextBytes {
			return ErrBadRequest
		}
		if err := validateSealedTextExtras(params.Text, params.Sha256, params.Signature); err != nil {
			return err
		}

	case models.MessageImage:
		if params.ImageUrl == "" {
			return ErrMissingImageURL
		}
		u, err := url.Parse(params.ImageUrl)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return ErrMissingImageURL
		}

	default:
		return ErrBadMessageType
	}

	return nil
}

// validateSealedTextExtras checks the optional integrity hash and signature.
// Both are absent for clients without a key pair (OAuth accounts, dev mode),
// so empty values pass; present values must be well-formed and the hash must
// match the ciphertext.
func validateSealedTextExtras(text string, sha256Hex string, signature string) error {
	if sha256Hex != "" {
		if !sha256HexRegex.MatchString(sha256Hex) {
			return ErrBadSha256
		}
		if cryptox.Sha256Hex(text) != sha256Hex {
			return ErrBadSha256
		}
	}

	if signature != "" {
		if _, err := base64.RawURLEncoding.DecodeString(signature); err != nil {
			return ErrBadSignature
		}
	}

	return nil
}

func ValidatePublicKeyPEM(publicKeyPem string) error {
	if _, err := cryptox.ParsePublicKeyPEM(publicKeyPem); err != nil {
		return ErrBadRequest
	}
	return nil
}
