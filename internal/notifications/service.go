// Package notifications turns the interaction firehose into a typed,
// deduplicated notification feed: replies, reactions, reposts, zaps,
// nutzap tips, and baseline-diffed new followers.
package notifications

import (
	"context"
	"log/slog"
	"time"

	"nostr-messenger/internal/relay"
	"nostr-messenger/internal/types"
)

// interactionFilterLimit caps the backlog pull per refresh.
const interactionFilterLimit = 500

// Service builds the interaction query and merges the classified feed
// with follower diffs.
type Service struct {
	local      string
	fanout     *relay.Fanout
	aggregator *Aggregator
	tracker    *Tracker
	relays     []string
	lookback   time.Duration
	timeout    time.Duration
	enabled    map[types.NotificationType]bool
	now        func() time.Time
}

// ServiceConfig carries the wiring for a notification Service.
type ServiceConfig struct {
	Local        string
	Fanout       *relay.Fanout
	Aggregator   *Aggregator
	Tracker      *Tracker
	QueryRelays  []string
	Lookback     time.Duration
	QueryTimeout time.Duration
	Enabled      map[types.NotificationType]bool
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		local:      cfg.Local,
		fanout:     cfg.Fanout,
		aggregator: cfg.Aggregator,
		tracker:    cfg.Tracker,
		relays:     cfg.QueryRelays,
		lookback:   cfg.Lookback,
		timeout:    cfg.QueryTimeout,
		enabled:    cfg.Enabled,
		now:        time.Now,
	}
}

// Refresh queries the interaction window across all relays and returns
// the merged feed, newest first, plus its unread count. Contact-list
// events are diverted wholesale to the follower tracker; a tracker
// failure degrades to a feed without follow items rather than an error.
func (s *Service) Refresh(ctx context.Context) ([]types.NotificationItem, int) {
	kinds := KindsFor(s.enabled)
	if len(kinds) == 0 {
		return nil, 0
	}
	since := s.now().Add(-s.lookback).Unix()
	filters := []types.Filter{{
		Kinds: kinds,
		PTags: []string{s.local},
		Since: &since,
		Limit: interactionFilterLimit,
	}}
	events, complete := s.fanout.Query(ctx, s.relays, filters, s.timeout)

	var interactions, contactLists []types.Event
	for _, evt := range events {
		if evt.Kind == types.KindContacts {
			contactLists = append(contactLists, evt)
		} else {
			interactions = append(interactions, evt)
		}
	}

	items := s.aggregator.Ingest(ctx, interactions, s.enabled)

	if s.enabled[types.NotificationFollow] {
		report, err := s.tracker.Observe(ctx, FollowersFrom(contactLists, s.local))
		if err != nil {
			slog.Warn("follower tracking unavailable", "error", err)
		} else if follows := s.aggregator.FollowItems(ctx, report, s.enabled); len(follows) > 0 {
			items = append(items, follows...)
			sortItems(items)
		}
	}

	unread := s.aggregator.Unread(ctx, items)
	slog.Info("notification refresh finished",
		"events", len(events),
		"items", len(items),
		"unread", unread,
		"complete", complete)
	return items, unread
}

// MarkSeen acknowledges the whole feed as of now.
func (s *Service) MarkSeen(ctx context.Context) error {
	return s.aggregator.MarkSeen(ctx)
}
