package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-messenger/internal/types"
)

// ComputeEventID returns the canonical Nostr event ID.
func ComputeEventID(event *types.Event) string {
	// Nostr event ID is SHA256 of the canonical JSON serialization:
	// [0, pubkey, created_at, kind, tags, content]
	//
	// IMPORTANT: We must NOT escape HTML characters (<, >, &) because
	// Nostr relays expect unescaped JSON. Go's json.Marshal escapes these
	// by default, so we use json.Encoder with SetEscapeHTML(false).
	serialized := []interface{}{
		0,
		event.PubKey,
		event.CreatedAt,
		event.Kind,
		event.Tags,
		event.Content,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.Encode(serialized)

	// Encoder.Encode adds a trailing newline, remove it
	jsonBytes := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:])
}

// SignEventID signs an event ID with the given secret key, returning the
// Schnorr signature as hex.
func SignEventID(privKeyBytes []byte, eventID string) (string, error) {
	idBytes, err := hex.DecodeString(eventID)
	if err != nil {
		return "", errors.New("invalid event ID")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// SignEvent sets the author, ID, and signature on an event.
func (id *Identity) SignEvent(event *types.Event) error {
	event.PubKey = id.pubKey
	event.ID = ComputeEventID(event)
	sig, err := SignEventID(id.secret, event.ID)
	if err != nil {
		return err
	}
	event.Sig = sig
	return nil
}

// VerifySignature verifies the Schnorr signature over the event ID.
func VerifySignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// VerifyEvent checks that the event ID matches its contents and that the
// signature is valid for the claimed author.
func VerifyEvent(evt *types.Event) bool {
	if ComputeEventID(evt) != evt.ID {
		return false
	}
	return VerifySignature(evt)
}
