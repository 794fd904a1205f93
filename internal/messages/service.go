// Package messages implements the direct-message pipeline: pulling raw
// events from relays, decrypting both DM schemes into one message shape,
// and maintaining per-peer conversation state with durable read marks.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nostr-messenger/internal/crypto"
	"nostr-messenger/internal/logging"
	"nostr-messenger/internal/relay"
	"nostr-messenger/internal/types"
)

// dmFilterLimit caps each backlog filter. Relays clamp limits anyway;
// this just keeps a first sync from pulling unbounded history.
const dmFilterLimit = 500

// Messenger drives the DM lifecycle for one identity: bounded syncs,
// a live subscription, and outgoing sends committed back into the
// conversation store.
type Messenger struct {
	identity  *crypto.Identity
	fanout    *relay.Fanout
	store     *ConversationStore
	sender    *Sender
	decryptor *Decryptor
	relays    []string
	lookback  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// MessengerConfig carries the wiring for a Messenger.
type MessengerConfig struct {
	Identity     *crypto.Identity
	Fanout       *relay.Fanout
	Store        *ConversationStore
	Sender       *Sender
	QueryRelays  []string
	Lookback     time.Duration
	QueryTimeout time.Duration
}

func NewMessenger(cfg MessengerConfig) *Messenger {
	return &Messenger{
		identity:  cfg.Identity,
		fanout:    cfg.Fanout,
		store:     cfg.Store,
		sender:    cfg.Sender,
		decryptor: NewDecryptor(cfg.Identity),
		relays:    cfg.QueryRelays,
		lookback:  cfg.Lookback,
		timeout:   cfg.QueryTimeout,
		now:       time.Now,
	}
}

// syncFilters covers both DM schemes over the lookback window: legacy
// messages to us, our own legacy copies, and gift wraps addressed to us.
// The wrap window is widened by GiftWrapMaxAge because outer timestamps
// are randomized into the past.
func (m *Messenger) syncFilters() []types.Filter {
	me := m.identity.PubKey()
	since := m.now().Add(-m.lookback).Unix()
	wrapSince := since - int64(crypto.GiftWrapMaxAge/time.Second)

	return []types.Filter{
		{Kinds: []int{types.KindLegacyDM}, PTags: []string{me}, Since: &since, Limit: dmFilterLimit},
		{Kinds: []int{types.KindLegacyDM}, Authors: []string{me}, Since: &since, Limit: dmFilterLimit},
		{Kinds: []int{types.KindGiftWrap}, PTags: []string{me}, Since: &wrapSince, Limit: dmFilterLimit},
	}
}

// Sync rebuilds the conversation state from a bounded query across all
// configured relays. It reports how many messages the window produced
// and whether every relay finished its backlog before the deadline.
func (m *Messenger) Sync(ctx context.Context) (int, bool) {
	events, complete := m.fanout.Query(ctx, m.relays, m.syncFilters(), m.timeout)
	msgs := m.decryptAll(events)
	m.store.IngestBatch(ctx, msgs)
	slog.Info("dm sync finished",
		"events", len(events),
		"messages", len(msgs),
		"complete", complete)
	return len(msgs), complete
}

// Run keeps the conversation state live: the subscription backlog is
// ingested as one batch rebuild, then real-time events merge in one by
// one until ctx is cancelled.
func (m *Messenger) Run(ctx context.Context) error {
	handle, err := m.fanout.Subscribe(ctx, m.relays, m.syncFilters(), m.timeout)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer handle.Close()

	var backlog []types.Event
collect:
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-handle.Events():
			if !ok {
				break collect
			}
			backlog = append(backlog, evt)
		case <-handle.BacklogDone():
			break collect
		}
	}
	msgs := m.decryptAll(backlog)
	m.store.IngestBatch(ctx, msgs)
	slog.Info("dm backlog ingested", "events", len(backlog), "messages", len(msgs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-handle.Events():
			if !ok {
				return nil
			}
			msg, outcome := m.decryptor.Decrypt(evt)
			if outcome != OutcomeMessage {
				continue
			}
			if m.store.IngestOne(ctx, msg) {
				slog.Debug("dm ingested",
					"peer", logging.ShortID(msg.Peer),
					"scheme", string(msg.Scheme),
					"sent", msg.Sent)
			}
		}
	}
}

// Send delivers a message and merges the sent copy into its thread. On
// error nothing is committed; retrying cannot produce a duplicate thread
// entry because commits dedup on message ID.
func (m *Messenger) Send(ctx context.Context, peer, text string) (SendReceipt, error) {
	receipt, err := m.sender.Send(ctx, peer, text)
	if err != nil {
		return SendReceipt{}, err
	}
	m.store.IngestOne(ctx, receipt.Message)
	return receipt, nil
}

func (m *Messenger) decryptAll(events []types.Event) []types.Message {
	msgs := make([]types.Message, 0, len(events))
	for _, evt := range events {
		msg, outcome := m.decryptor.Decrypt(evt)
		if outcome == OutcomeMessage {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}
