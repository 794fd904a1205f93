package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nostr-messenger/internal/crypto"
	"nostr-messenger/internal/logging"
	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/relay"
	"nostr-messenger/internal/types"
)

var (
	// ErrNoIdentity means no secret key is configured, so nothing can be
	// encrypted or signed.
	ErrNoIdentity = errors.New("no identity configured")
	// ErrNoRelays means there is nowhere to publish to.
	ErrNoRelays = errors.New("no publish relays configured")
	// ErrSendFailed means both the wrapped and the legacy attempt were
	// rejected or timed out on every relay. Nothing went out.
	ErrSendFailed = errors.New("send failed on all relays")
)

// SendReceipt reports how a message actually went out: which scheme ended
// up on the wire, the local representation to merge into the thread, and
// the relays that accepted the delivery copy.
type SendReceipt struct {
	Scheme     types.Scheme
	Message    types.Message
	AcceptedBy []string
}

// Sender publishes outgoing messages, preferring gift wraps and falling
// back to legacy kind-4 when no relay accepts the recipient's wrap.
type Sender struct {
	identity *crypto.Identity
	fanout   *relay.Fanout
	relays   []string
	timeout  time.Duration
	now      func() time.Time
}

func NewSender(identity *crypto.Identity, fanout *relay.Fanout, relays []string, timeout time.Duration) *Sender {
	return &Sender{
		identity: identity,
		fanout:   fanout,
		relays:   relays,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Send encrypts text for peer and publishes it. Success means at least
// one relay accepted the copy addressed to the recipient; the receipt
// says which scheme that copy used. On total failure nothing should be
// committed to the conversation, and the error matches ErrSendFailed.
func (s *Sender) Send(ctx context.Context, peer, text string) (SendReceipt, error) {
	if s.identity == nil {
		return SendReceipt{}, ErrNoIdentity
	}
	if len(s.relays) == 0 {
		return SendReceipt{}, ErrNoRelays
	}

	now := s.now()
	wrapped, err := s.identity.WrapMessage(peer, text, now)
	if err != nil {
		return SendReceipt{}, fmt.Errorf("wrap message: %w", err)
	}

	accepted := acceptedRelays(s.fanout.PublishAll(ctx, s.relays, wrapped.RecipientWrap, s.timeout))
	if len(accepted) > 0 {
		// The backup wrap is published only once the recipient copy is
		// safely stored. Publishing it first could leave a ghost copy of
		// a message that then goes out as legacy instead.
		backup := acceptedRelays(s.fanout.PublishAll(ctx, s.relays, wrapped.BackupWrap, s.timeout))
		if len(backup) == 0 {
			slog.Warn("backup wrap not accepted by any relay", "peer", logging.ShortID(peer))
		}
		metrics.IncrementMessageSent()
		return SendReceipt{
			Scheme: types.SchemeNIP17,
			Message: types.Message{
				ID:        wrapped.Rumor.ID,
				Peer:      peer,
				Content:   text,
				Timestamp: wrapped.Rumor.CreatedAt,
				Sent:      true,
				Scheme:    types.SchemeNIP17,
				Raw:       wrapped.RecipientWrap,
			},
			AcceptedBy: accepted,
		}, nil
	}

	slog.Warn("wrapped send not accepted anywhere, falling back to legacy dm",
		"peer", logging.ShortID(peer), "relays", len(s.relays))
	metrics.IncrementSendFallback()

	legacy, err := s.legacyEvent(peer, text, now)
	if err != nil {
		metrics.IncrementSendFailure()
		return SendReceipt{}, fmt.Errorf("legacy fallback: %w", err)
	}
	accepted = acceptedRelays(s.fanout.PublishAll(ctx, s.relays, legacy, s.timeout))
	if len(accepted) == 0 {
		metrics.IncrementSendFailure()
		return SendReceipt{}, fmt.Errorf("publish to %d relays: %w", len(s.relays), ErrSendFailed)
	}
	metrics.IncrementMessageSent()
	return SendReceipt{
		Scheme: types.SchemeNIP04,
		Message: types.Message{
			ID:        legacy.ID,
			Peer:      peer,
			Content:   text,
			Timestamp: legacy.CreatedAt,
			Sent:      true,
			Scheme:    types.SchemeNIP04,
			Raw:       legacy,
		},
		AcceptedBy: accepted,
	}, nil
}

// legacyEvent builds and signs a kind-4 addressed to peer.
func (s *Sender) legacyEvent(peer, text string, now time.Time) (*types.Event, error) {
	ciphertext, err := s.identity.EncryptNIP04(peer, text)
	if err != nil {
		return nil, err
	}
	evt := &types.Event{
		CreatedAt: now.Unix(),
		Kind:      types.KindLegacyDM,
		Tags:      [][]string{{"p", peer}},
		Content:   ciphertext,
	}
	if err := s.identity.SignEvent(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func acceptedRelays(results []relay.PublishResult) []string {
	var accepted []string
	for _, res := range results {
		if res.OK {
			accepted = append(accepted, res.Relay)
		}
	}
	return accepted
}
