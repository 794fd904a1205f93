package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"nostr-messenger/internal/types"
)

// NIP-59 gift wrapping for NIP-17 private messages.
//
// A chat message travels as an unsigned kind-14 rumor, sealed inside a
// sender-signed kind-13 event, wrapped inside a kind-1059 event signed by
// a throwaway key. Seal and wrap timestamps are randomized into the past
// so relays never see when the message was actually written.

// GiftWrapMaxAge bounds the backdating of seal and wrap timestamps.
// Anyone querying relays for wraps has to widen their time window by
// this much, since the outer created_at can lie this far into the past.
const GiftWrapMaxAge = 2 * 24 * time.Hour

// randomizedPast returns a unix timestamp up to GiftWrapMaxAge before now.
func randomizedPast(now time.Time) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(GiftWrapMaxAge/time.Second)))
	if err != nil {
		return now.Unix()
	}
	return now.Unix() - n.Int64()
}

// NewRumor builds the unsigned kind-14 chat message. The rumor carries the
// real timestamp and the real author; it is never published bare.
func NewRumor(senderPub, recipientPub, content string, createdAt int64) *types.Event {
	rumor := &types.Event{
		PubKey:    senderPub,
		CreatedAt: createdAt,
		Kind:      types.KindChatMessage,
		Tags:      [][]string{{"p", recipientPub}},
		Content:   content,
	}
	rumor.ID = ComputeEventID(rumor)
	return rumor
}

// WrappedMessage holds the two physical events produced for one chat
// message: the copy addressed to the recipient and the sender's own
// backup copy. Both contain the same rumor.
type WrappedMessage struct {
	Rumor         *types.Event
	RecipientWrap *types.Event
	BackupWrap    *types.Event
}

// WrapMessage builds both gift wraps for a chat message to recipientPub.
func (id *Identity) WrapMessage(recipientPub, content string, now time.Time) (*WrappedMessage, error) {
	if _, err := parsePubKeyHex(recipientPub); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}

	rumor := NewRumor(id.pubKey, recipientPub, content, now.Unix())

	recipientWrap, err := id.wrapRumor(rumor, recipientPub, now)
	if err != nil {
		return nil, fmt.Errorf("wrap for recipient: %w", err)
	}
	backupWrap, err := id.wrapRumor(rumor, id.pubKey, now)
	if err != nil {
		return nil, fmt.Errorf("wrap for backup: %w", err)
	}

	return &WrappedMessage{
		Rumor:         rumor,
		RecipientWrap: recipientWrap,
		BackupWrap:    backupWrap,
	}, nil
}

// wrapRumor seals a rumor and wraps the seal for wrapPub. Both layers are
// encrypted toward wrapPub: the seal with the sender's key, the wrap with
// a fresh ephemeral key that is discarded afterwards.
func (id *Identity) wrapRumor(rumor *types.Event, wrapPub string, now time.Time) (*types.Event, error) {
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, err
	}

	sealContent, err := id.EncryptNIP44(wrapPub, string(rumorJSON))
	if err != nil {
		return nil, fmt.Errorf("seal encrypt: %w", err)
	}

	// Seal tags stay empty so nothing about the conversation leaks.
	seal := &types.Event{
		CreatedAt: randomizedPast(now),
		Kind:      types.KindSeal,
		Tags:      [][]string{},
		Content:   sealContent,
	}
	if err := id.SignEvent(seal); err != nil {
		return nil, fmt.Errorf("seal sign: %w", err)
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, err
	}

	ephSecret, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	ephPub, err := GetPublicKey(ephSecret)
	if err != nil {
		return nil, err
	}

	wrapTarget, err := parsePubKeyHex(wrapPub)
	if err != nil {
		return nil, err
	}
	wrapKey, err := GetConversationKey(ephSecret, wrapTarget)
	if err != nil {
		return nil, err
	}
	wrapContent, err := Nip44Encrypt(string(sealJSON), wrapKey)
	if err != nil {
		return nil, fmt.Errorf("wrap encrypt: %w", err)
	}

	wrap := &types.Event{
		PubKey:    hex.EncodeToString(ephPub),
		CreatedAt: randomizedPast(now),
		Kind:      types.KindGiftWrap,
		Tags:      [][]string{{"p", wrapPub}},
		Content:   wrapContent,
	}
	wrap.ID = ComputeEventID(wrap)
	sig, err := SignEventID(ephSecret, wrap.ID)
	if err != nil {
		return nil, fmt.Errorf("wrap sign: %w", err)
	}
	wrap.Sig = sig

	return wrap, nil
}

// Unwrapped is the outcome of opening a gift wrap addressed to us.
type Unwrapped struct {
	Rumor *types.Event
	Seal  *types.Event
}

// Unwrap opens a kind-1059 gift wrap addressed to this identity. The outer
// event's pubkey and created_at are throwaway values and never trusted;
// the sender's identity comes from the verified seal. The rumor's ID is
// recomputed rather than believed, so both physical copies of a message
// resolve to the same identity.
func (id *Identity) Unwrap(wrap *types.Event) (*Unwrapped, error) {
	if wrap.Kind != types.KindGiftWrap {
		return nil, fmt.Errorf("not a gift wrap: kind %d", wrap.Kind)
	}

	sealJSON, err := id.DecryptNIP44(wrap.PubKey, wrap.Content)
	if err != nil {
		return nil, fmt.Errorf("open wrap: %w", err)
	}

	var seal types.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, fmt.Errorf("parse seal: %w", err)
	}
	if seal.Kind != types.KindSeal {
		return nil, fmt.Errorf("unexpected seal kind %d", seal.Kind)
	}
	if !VerifyEvent(&seal) {
		return nil, errors.New("seal signature invalid")
	}

	rumorJSON, err := id.DecryptNIP44(seal.PubKey, seal.Content)
	if err != nil {
		return nil, fmt.Errorf("open seal: %w", err)
	}

	var rumor types.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, fmt.Errorf("parse rumor: %w", err)
	}

	// A seal may only carry its own author's rumor. Anything else is a
	// forwarded or spoofed message.
	if rumor.PubKey != seal.PubKey {
		return nil, errors.New("rumor author does not match seal author")
	}

	rumor.ID = ComputeEventID(&rumor)

	return &Unwrapped{Rumor: &rumor, Seal: &seal}, nil
}
