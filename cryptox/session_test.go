package cryptox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/lmarques/sigilo/cryptox"
)

func TestDeriveFromSharedSecret_Deterministic(t *testing.T) {
	secret := []byte("shared-secret")

	a, err := cryptox.DeriveFromSharedSecret(secret, "chat1", []string{"alice", "bob"})
	assert.NoError(t, err)
	b, err := cryptox.DeriveFromSharedSecret(secret, "chat1", []string{"alice", "bob"})
	assert.NoError(t, err)

	assert.Len(t, a.Bytes(), cryptox.SessionKeySize)
	assert.Equal(t, a, b)
}

func TestDeriveFromSharedSecret_OrderIndependent(t *testing.T) {
	secret := []byte("shared-secret")

	a, err := cryptox.DeriveFromSharedSecret(secret, "chat1", []string{"alice", "bob", "carol"})
	assert.NoError(t, err)
	b, err := cryptox.DeriveFromSharedSecret(secret, "chat1", []string{"carol", "alice", "bob"})
	assert.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDeriveFromSharedSecret_InputsChangeKey(t *testing.T) {
	base, err := cryptox.DeriveFromSharedSecret([]byte("secret"), "chat1", []string{"alice", "bob"})
	assert.NoError(t, err)

	otherSecret, err := cryptox.DeriveFromSharedSecret([]byte("secret2"), "chat1", []string{"alice", "bob"})
	assert.NoError(t, err)
	assert.NotEqual(t, base, otherSecret)

	otherChat, err := cryptox.DeriveFromSharedSecret([]byte("secret"), "chat2", []string{"alice", "bob"})
	assert.NoError(t, err)
	assert.NotEqual(t, base, otherChat)

	otherMembers, err := cryptox.DeriveFromSharedSecret([]byte("secret"), "chat1", []string{"alice", "bob", "carol"})
	assert.NoError(t, err)
	assert.NotEqual(t, base, otherMembers)
}

func TestDeriveDevFallback(t *testing.T) {
	a := cryptox.DeriveDevFallback("dev:chat1|alice,bob", "chat1")
	b := cryptox.DeriveDevFallback("dev:chat1|alice,bob", "chat1")

	assert.Len(t, a.Bytes(), cryptox.SessionKeySize)
	assert.Equal(t, a, b)

	c := cryptox.DeriveDevFallback("dev:chat1|alice,bob", "chat2")
	assert.NotEqual(t, a, c)

	// The fallback must not collide with the secure derivation
	secure, err := cryptox.DeriveFromSharedSecret([]byte("dev:chat1|alice,bob"), "chat1", []string{"alice", "bob"})
	assert.NoError(t, err)
	assert.NotEqual(t, a.Bytes(), secure.Bytes())
}

func TestNewRandomSessionKey(t *testing.T) {
	a, err := cryptox.NewRandomSessionKey()
	assert.NoError(t, err)
	b, err := cryptox.NewRandomSessionKey()
	assert.NoError(t, err)

	assert.Len(t, a.Bytes(), cryptox.SessionKeySize)
	assert.NotEqual(t, a, b)
}
