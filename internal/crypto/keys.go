// Package crypto implements Nostr key handling, event signing, and the
// NIP-04 and NIP-44 encryption schemes used for direct messages.
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"nostr-messenger/internal/nip19"
)

// GeneratePrivateKey generates a new random secp256k1 private key
func GeneratePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// GetPublicKey derives the public key from a private key (x-only, 32 bytes)
func GetPublicKey(privKeyBytes []byte) ([]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	pubKey := privKey.PubKey()
	// Return x-only pubkey (32 bytes) - BIP-340 format
	return pubKey.SerializeCompressed()[1:], nil
}

// parsePubKeyHex decodes a 64-char hex x-only pubkey.
func parsePubKeyHex(pubHex string) ([]byte, error) {
	b, err := hex.DecodeString(pubHex)
	if err != nil || len(b) != 32 {
		return nil, errors.New("invalid pubkey")
	}
	return b, nil
}

// Identity holds the local user's keypair. The secret never leaves this
// package; everything that needs to sign or decrypt goes through methods.
type Identity struct {
	secret []byte
	pubKey string
}

// NewIdentity parses a secret key given as nsec1... or 64-char hex.
func NewIdentity(secretKey string) (*Identity, error) {
	secretKey = strings.TrimSpace(secretKey)
	hexKey := secretKey
	if strings.HasPrefix(secretKey, "nsec1") {
		decoded, err := nip19.DecodeSecretKey(secretKey)
		if err != nil {
			return nil, fmt.Errorf("decode nsec: %w", err)
		}
		hexKey = decoded
	}

	secret, err := hex.DecodeString(hexKey)
	if err != nil || len(secret) != 32 {
		return nil, errors.New("secret key must be nsec1... or 64 hex chars")
	}

	pub, err := GetPublicKey(secret)
	if err != nil {
		return nil, err
	}
	return &Identity{secret: secret, pubKey: hex.EncodeToString(pub)}, nil
}

// GenerateIdentity creates a fresh random identity.
func GenerateIdentity() (*Identity, error) {
	secret, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	pub, err := GetPublicKey(secret)
	if err != nil {
		return nil, err
	}
	return &Identity{secret: secret, pubKey: hex.EncodeToString(pub)}, nil
}

// PubKey returns the x-only public key as 64-char hex.
func (id *Identity) PubKey() string {
	return id.pubKey
}

// Npub returns the bech32 form of the public key.
func (id *Identity) Npub() string {
	npub, _ := nip19.EncodePubkey(id.pubKey)
	return npub
}

// conversationKey derives the NIP-44 conversation key with a hex peer pubkey.
func (id *Identity) conversationKey(peerPubHex string) ([]byte, error) {
	peer, err := parsePubKeyHex(peerPubHex)
	if err != nil {
		return nil, err
	}
	return GetConversationKey(id.secret, peer)
}

// nip04Shared derives the NIP-04 shared secret with a hex peer pubkey.
func (id *Identity) nip04Shared(peerPubHex string) ([]byte, error) {
	peer, err := parsePubKeyHex(peerPubHex)
	if err != nil {
		return nil, err
	}
	return GetNip04SharedSecret(id.secret, peer)
}

// EncryptNIP44 encrypts plaintext to the given peer using NIP-44 v2.
func (id *Identity) EncryptNIP44(peerPubHex, plaintext string) (string, error) {
	key, err := id.conversationKey(peerPubHex)
	if err != nil {
		return "", err
	}
	return Nip44Encrypt(plaintext, key)
}

// DecryptNIP44 decrypts a NIP-44 payload from the given peer.
func (id *Identity) DecryptNIP44(peerPubHex, payload string) (string, error) {
	key, err := id.conversationKey(peerPubHex)
	if err != nil {
		return "", err
	}
	return Nip44Decrypt(payload, key)
}

// EncryptNIP04 encrypts plaintext to the given peer using legacy NIP-04.
func (id *Identity) EncryptNIP04(peerPubHex, plaintext string) (string, error) {
	secret, err := id.nip04Shared(peerPubHex)
	if err != nil {
		return "", err
	}
	return Nip04Encrypt(plaintext, secret)
}

// DecryptNIP04 decrypts a legacy NIP-04 payload from the given peer.
func (id *Identity) DecryptNIP04(peerPubHex, payload string) (string, error) {
	secret, err := id.nip04Shared(peerPubHex)
	if err != nil {
		return "", err
	}
	return Nip04Decrypt(payload, secret)
}
