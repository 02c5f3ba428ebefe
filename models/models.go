package models

type User struct {
	Id           string
	Name         string
	Email        string
	PasswordHash string
	Provider     string
	ProviderId   string
	Created      int64
	PublicKeyPem string
	// Private half of the key pair, AES-256-GCM sealed under a key
	// derived from the user's password. Never stored in cleartext.
	EncryptedPrivateKey string
	PrivateKeyNonce     string
}

// KeyPair is the persisted shape of a user's asymmetric identity.
type KeyPair struct {
	PublicKeyPem        string `json:"publicKeyPem"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	Nonce               string `json:"iv"`
}

type Chat struct {
	Id            string `json:"id"`
	Title         string `json:"title,omitempty"`
	IsGroup       bool   `json:"isGroup"`
	CreatedById   string `json:"createdById"`
	Created       int64  `json:"created"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"`
}

// ChatKeyCopy is one participant's copy of a chat's symmetric session key.
// In production mode EncryptedKey is RSA-OAEP ciphertext under the
// participant's public key; in dev mode it is the raw key, base64.
type ChatKeyCopy struct {
	ChatId       string `json:"chatId"`
	UserId       string `json:"userId"`
	EncryptedKey string `json:"encryptedKey"`
}

type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
)

// Message is a sealed record: Text holds the compact payload
// (iv.ciphertext.tag) for TEXT messages, never plaintext.
type Message struct {
	Id        string      `json:"id"`
	ChatId    string      `json:"chatId"`
	AuthorId  string      `json:"authorId"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	ImageUrl  string      `json:"imageUrl,omitempty"`
	Sha256    string      `json:"sha256,omitempty"`
	Signature string      `json:"signature,omitempty"`
	CreatedAt int64       `json:"createdAt"`
	EditedAt  int64       `json:"editedAt,omitempty"`
	DeletedAt int64       `json:"deletedAt,omitempty"`
}
