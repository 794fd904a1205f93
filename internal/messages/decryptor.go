package messages

import (
	"log/slog"

	"nostr-messenger/internal/crypto"
	"nostr-messenger/internal/logging"
	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/types"
	"nostr-messenger/internal/util"
)

// Outcome classifies what a raw relay event turned out to be.
type Outcome int

const (
	// OutcomeMessage means the event decrypted into a chat message.
	OutcomeMessage Outcome = iota
	// OutcomeNotForMe means the event looked like a DM but could not be
	// opened with the local key. Routine on shared relays, where every
	// subscriber sees every gift wrap.
	OutcomeNotForMe
	// OutcomeSkip means the event carries no direct message at all.
	OutcomeSkip
)

// Decryptor turns raw kind-4 and kind-1059 events into chat messages for
// one local identity. Both schemes land in the same Message shape, so
// nothing downstream cares which wire format a conversation used.
type Decryptor struct {
	identity *crypto.Identity
}

func NewDecryptor(identity *crypto.Identity) *Decryptor {
	return &Decryptor{identity: identity}
}

// Decrypt classifies and decrypts a single event. It never returns an
// error: undecryptable traffic is an expected condition, not a failure.
func (d *Decryptor) Decrypt(evt types.Event) (types.Message, Outcome) {
	switch evt.Kind {
	case types.KindLegacyDM:
		return d.decryptLegacy(evt)
	case types.KindGiftWrap:
		return d.decryptWrapped(evt)
	default:
		return types.Message{}, OutcomeSkip
	}
}

// decryptLegacy handles kind-4 NIP-04 messages. The counterparty is the
// author, except for our own sent copies where it is the tagged recipient.
func (d *Decryptor) decryptLegacy(evt types.Event) (types.Message, Outcome) {
	peer := evt.PubKey
	sent := evt.PubKey == d.identity.PubKey()
	if sent {
		peer = util.GetTagValue(evt.Tags, "p")
		if peer == "" {
			slog.Debug("legacy dm without recipient tag", "event_id", logging.ShortID(evt.ID))
			return types.Message{}, OutcomeSkip
		}
	}

	plaintext, err := d.identity.DecryptNIP04(peer, evt.Content)
	if err != nil {
		metrics.IncrementDecryptFailure()
		slog.Debug("legacy dm not decryptable", "event_id", logging.ShortID(evt.ID), "error", err)
		return types.Message{}, OutcomeNotForMe
	}
	metrics.IncrementMessageDecrypted()

	return types.Message{
		ID:        evt.ID,
		Peer:      peer,
		Content:   plaintext,
		Timestamp: evt.CreatedAt,
		Sent:      sent,
		Scheme:    types.SchemeNIP04,
		Raw:       &evt,
	}, OutcomeMessage
}

// decryptWrapped handles kind-1059 gift wraps. Identity and timing come
// from the verified inner rumor; the outer event only tells us which
// physical copy we are holding.
func (d *Decryptor) decryptWrapped(evt types.Event) (types.Message, Outcome) {
	unwrapped, err := d.identity.Unwrap(&evt)
	if err != nil {
		metrics.IncrementDecryptFailure()
		slog.Debug("gift wrap not openable", "event_id", logging.ShortID(evt.ID), "error", err)
		return types.Message{}, OutcomeNotForMe
	}

	rumor := unwrapped.Rumor
	if rumor.Kind != types.KindChatMessage {
		slog.Debug("gift wrap carries non-chat rumor", "kind", rumor.Kind, "event_id", logging.ShortID(evt.ID))
		return types.Message{}, OutcomeSkip
	}

	peer := rumor.PubKey
	sent := rumor.PubKey == d.identity.PubKey()
	if sent {
		// Our own backup copy. The conversation belongs to the recipient
		// named in the rumor, not to us.
		peer = util.GetTagValue(rumor.Tags, "p")
		if peer == "" {
			slog.Debug("backup copy without recipient tag", "event_id", logging.ShortID(evt.ID))
			return types.Message{}, OutcomeSkip
		}
	}
	metrics.IncrementMessageDecrypted()

	// The rumor ID is the message identity: both physical copies of a
	// wrapped message resolve to the same ID here.
	return types.Message{
		ID:        rumor.ID,
		Peer:      peer,
		Content:   rumor.Content,
		Timestamp: rumor.CreatedAt,
		Sent:      sent,
		Scheme:    types.SchemeNIP17,
		Raw:       &evt,
	}, OutcomeMessage
}
