package notifications

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
	"nostr-messenger/internal/util"
)

// notificationFeed is the read-mark feed for the notification stream.
const notificationFeed = "notifications"

// excerptLen bounds notification previews.
const excerptLen = 120

var kindToType = map[int]types.NotificationType{
	types.KindNote:       types.NotificationReply,
	types.KindContacts:   types.NotificationFollow,
	types.KindRepost:     types.NotificationRepost,
	types.KindReaction:   types.NotificationLike,
	types.KindNutzap:     types.NotificationTip,
	types.KindZapReceipt: types.NotificationZap,
}

// KindsFor returns the event kinds to query for the enabled notification
// types, in stable order. Disabled types are excluded here so their
// events are never even fetched.
func KindsFor(enabled map[types.NotificationType]bool) []int {
	order := []int{
		types.KindNote,
		types.KindContacts,
		types.KindRepost,
		types.KindReaction,
		types.KindNutzap,
		types.KindZapReceipt,
	}
	var kinds []int
	for _, kind := range order {
		if enabled[kindToType[kind]] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// ProfileLookup decorates notification actors with their profiles.
type ProfileLookup interface {
	GetMultiple(ctx context.Context, pubkeys []string) map[string]*types.Profile
}

// Aggregator converts raw interaction events into the flat notification
// feed: one item per qualifying event, never grouped. It owns no query
// logic; the service hands it events.
type Aggregator struct {
	local     string
	readMarks *store.ReadMarks
	profiles  ProfileLookup
	now       func() time.Time
}

// NewAggregator builds an aggregator for the local pubkey. profiles may
// be nil, in which case items go out undecorated.
func NewAggregator(local string, readMarks *store.ReadMarks, profiles ProfileLookup) *Aggregator {
	return &Aggregator{
		local:     local,
		readMarks: readMarks,
		profiles:  profiles,
		now:       time.Now,
	}
}

// Ingest classifies raw events into notification items, newest first.
// Own actions, disabled types, unknown kinds, and events without a
// usable target are dropped. Contact-list events never classify inline;
// the service routes those through the follower tracker.
func (a *Aggregator) Ingest(ctx context.Context, events []types.Event, enabled map[types.NotificationType]bool) []types.NotificationItem {
	items := make([]types.NotificationItem, 0, len(events))
	for _, evt := range events {
		item, ok := a.classify(evt)
		if !ok || !enabled[item.Type] {
			continue
		}
		metrics.IncrementNotification()
		items = append(items, item)
	}
	sortItems(items)
	a.decorate(ctx, items)
	return items
}

func (a *Aggregator) classify(evt types.Event) (types.NotificationItem, bool) {
	ntype, ok := kindToType[evt.Kind]
	if !ok || ntype == types.NotificationFollow {
		return types.NotificationItem{}, false
	}

	item := types.NotificationItem{
		ID:           evt.ID,
		Type:         ntype,
		Timestamp:    evt.CreatedAt,
		Actor:        evt.PubKey,
		TargetNoteID: util.GetLastTagValue(evt.Tags, "e"),
	}

	switch ntype {
	case types.NotificationReply:
		item.Excerpt = excerpt(evt.Content)
	case types.NotificationLike:
		item.Excerpt = evt.Content
	case types.NotificationRepost:
		// Kind 6 embeds the reposted note as JSON; show its text.
		item.Excerpt = excerpt(util.ExtractEmbeddedEventContent(evt.Content))
	case types.NotificationZap:
		// The receipt is authored by the LNURL provider; the human who
		// paid is the author of the embedded zap request.
		req, ok := parseZapRequest(evt.Tags)
		if !ok {
			return types.NotificationItem{}, false
		}
		item.Actor = req.PubKey
		item.AmountSats = req.AmountMsats / 1000
		item.Excerpt = excerpt(req.Content)
	case types.NotificationTip:
		item.AmountSats = tipAmountSats(evt.Tags)
		item.Excerpt = excerpt(evt.Content)
	}

	if item.Actor == a.local {
		return types.NotificationItem{}, false
	}
	// A kind-1 without an e tag is a plain mention, not a reply; other
	// kinds without one reference nothing we can show. Tips stand alone.
	if item.TargetNoteID == "" && ntype != types.NotificationTip {
		return types.NotificationItem{}, false
	}
	return item, true
}

// FollowItems converts a follower report into notification items. First
// runs produce nothing. Timestamps are locally observed first-seen
// times; there is no triggering note, so TargetNoteID stays empty.
func (a *Aggregator) FollowItems(ctx context.Context, report types.FollowerReport, enabled map[types.NotificationType]bool) []types.NotificationItem {
	if report.FirstRun || !enabled[types.NotificationFollow] {
		return nil
	}
	followers := make([]types.Follower, 0, len(report.New)+len(report.Recent))
	followers = append(followers, report.New...)
	followers = append(followers, report.Recent...)

	items := make([]types.NotificationItem, 0, len(followers))
	seen := make(map[string]struct{})
	for _, f := range followers {
		if _, dup := seen[f.Pubkey]; dup {
			continue
		}
		seen[f.Pubkey] = struct{}{}
		if f.Pubkey == a.local {
			continue
		}
		metrics.IncrementNotification()
		items = append(items, types.NotificationItem{
			ID:        "follow:" + f.Pubkey,
			Type:      types.NotificationFollow,
			Timestamp: f.FirstSeen,
			Actor:     f.Pubkey,
		})
	}
	sortItems(items)
	a.decorate(ctx, items)
	return items
}

// Unread counts items newer than the notification watermark.
func (a *Aggregator) Unread(ctx context.Context, items []types.NotificationItem) int {
	lastSeen, _ := a.readMarks.GetLastRead(ctx, notificationFeed)
	n := 0
	for _, item := range items {
		if item.Timestamp > lastSeen {
			n++
		}
	}
	return n
}

// MarkSeen advances the notification watermark to now.
func (a *Aggregator) MarkSeen(ctx context.Context) error {
	return a.readMarks.SetLastRead(ctx, notificationFeed, a.now().Unix())
}

func (a *Aggregator) decorate(ctx context.Context, items []types.NotificationItem) {
	if a.profiles == nil || len(items) == 0 {
		return
	}
	actors := make([]string, 0, len(items))
	seen := make(map[string]struct{})
	for _, item := range items {
		if _, dup := seen[item.Actor]; dup {
			continue
		}
		seen[item.Actor] = struct{}{}
		actors = append(actors, item.Actor)
	}
	found := a.profiles.GetMultiple(ctx, actors)
	for i := range items {
		items[i].Profile = found[items[i].Actor]
	}
}

// zapRequest is the slice of the embedded kind-9734 request that
// notifications care about.
type zapRequest struct {
	PubKey      string
	AmountMsats int64
	Content     string
}

func parseZapRequest(tags [][]string) (zapRequest, bool) {
	description := util.GetTagValue(tags, "description")
	if description == "" {
		return zapRequest{}, false
	}
	var req struct {
		Kind    int        `json:"kind"`
		PubKey  string     `json:"pubkey"`
		Content string     `json:"content"`
		Tags    [][]string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(description), &req); err != nil {
		return zapRequest{}, false
	}
	if req.Kind != types.KindZapRequest || req.PubKey == "" {
		return zapRequest{}, false
	}
	out := zapRequest{PubKey: req.PubKey, Content: req.Content}
	if raw := util.GetTagValue(req.Tags, "amount"); raw != "" {
		if msats, err := strconv.ParseInt(raw, 10, 64); err == nil {
			out.AmountMsats = msats
		}
	}
	return out, true
}

// tipAmountSats reads a nutzap's amount tag, already denominated in sats.
func tipAmountSats(tags [][]string) int64 {
	raw := util.GetTagValue(tags, "amount")
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func excerpt(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= excerptLen {
		return content
	}
	cut := excerptLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func sortItems(items []types.NotificationItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp > items[j].Timestamp
		}
		return items[i].ID > items[j].ID
	})
}
