package notifications

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
)

const localUser = "localpk"

func allEnabled() map[types.NotificationType]bool {
	return map[types.NotificationType]bool{
		types.NotificationReply:  true,
		types.NotificationLike:   true,
		types.NotificationRepost: true,
		types.NotificationZap:    true,
		types.NotificationTip:    true,
		types.NotificationFollow: true,
	}
}

func newTestAggregator(t *testing.T, profiles ProfileLookup) *Aggregator {
	t.Helper()
	kv := store.NewMemoryKV(100, time.Minute)
	t.Cleanup(func() { _ = kv.Close() })
	return NewAggregator(localUser, store.NewReadMarks(kv), profiles)
}

// zapDescription builds the kind-9734 request JSON that LNURL providers
// embed in receipt description tags.
func zapDescription(t *testing.T, pubkey, content string, amountMsats int64) string {
	t.Helper()
	req := struct {
		Kind    int        `json:"kind"`
		PubKey  string     `json:"pubkey"`
		Content string     `json:"content"`
		Tags    [][]string `json:"tags"`
	}{
		Kind:    types.KindZapRequest,
		PubKey:  pubkey,
		Content: content,
		Tags:    [][]string{{"amount", strconv.FormatInt(amountMsats, 10)}, {"p", localUser}},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal zap request: %v", err)
	}
	return string(raw)
}

func TestIngestClassifiesInteractions(t *testing.T) {
	a := newTestAggregator(t, nil)

	events := []types.Event{
		{ID: "r1", Kind: types.KindNote, PubKey: "fan1", CreatedAt: 100, Tags: [][]string{{"e", "note1"}}, Content: "nice work"},
		{ID: "rp1", Kind: types.KindRepost, PubKey: "fan3", CreatedAt: 200, Tags: [][]string{{"e", "note1"}},
			Content: `{"id":"note1","kind":1,"content":"the original note"}`},
		{ID: "l1", Kind: types.KindReaction, PubKey: "fan2", CreatedAt: 300, Tags: [][]string{{"e", "note1"}}, Content: "+"},
		{ID: "z1", Kind: types.KindZapReceipt, PubKey: "lnurlprovider", CreatedAt: 400, Tags: [][]string{
			{"e", "note1"},
			{"description", zapDescription(t, "zapperpk", "great note", 21000)},
		}},
		{ID: "t1", Kind: types.KindNutzap, PubKey: "fan4", CreatedAt: 500, Tags: [][]string{{"amount", "100"}, {"p", localUser}}, Content: "have a coffee"},
	}

	items := a.Ingest(context.Background(), events, allEnabled())
	if len(items) != 5 {
		t.Fatalf("got %d items, want 5", len(items))
	}

	wantOrder := []string{"t1", "z1", "l1", "rp1", "r1"}
	for i, id := range wantOrder {
		if items[i].ID != id {
			t.Fatalf("items[%d].ID = %s, want %s (newest first)", i, items[i].ID, id)
		}
	}

	zap := items[1]
	if zap.Type != types.NotificationZap {
		t.Errorf("zap type = %s", zap.Type)
	}
	if zap.Actor != "zapperpk" {
		t.Errorf("zap actor = %s, want the request author, not the provider", zap.Actor)
	}
	if zap.AmountSats != 21 {
		t.Errorf("zap amount = %d sats, want 21", zap.AmountSats)
	}
	if zap.Excerpt != "great note" {
		t.Errorf("zap excerpt = %q", zap.Excerpt)
	}

	tip := items[0]
	if tip.AmountSats != 100 {
		t.Errorf("tip amount = %d sats, want 100", tip.AmountSats)
	}
	if tip.TargetNoteID != "" {
		t.Errorf("tip target = %q, want empty", tip.TargetNoteID)
	}

	if items[2].Excerpt != "+" {
		t.Errorf("like excerpt = %q, want raw reaction content", items[2].Excerpt)
	}
	if items[3].Excerpt != "the original note" {
		t.Errorf("repost excerpt = %q, want the embedded note text", items[3].Excerpt)
	}
	if items[4].Excerpt != "nice work" {
		t.Errorf("reply excerpt = %q", items[4].Excerpt)
	}
	for _, item := range items[1:] {
		if item.Profile != nil {
			t.Errorf("item %s decorated without a profile source", item.ID)
		}
	}
}

func TestIngestDropsOwnActivity(t *testing.T) {
	a := newTestAggregator(t, nil)

	events := []types.Event{
		{ID: "r1", Kind: types.KindNote, PubKey: localUser, CreatedAt: 100, Tags: [][]string{{"e", "note1"}}, Content: "replying to myself"},
		{ID: "z1", Kind: types.KindZapReceipt, PubKey: "lnurlprovider", CreatedAt: 200, Tags: [][]string{
			{"e", "note1"},
			{"description", zapDescription(t, localUser, "self zap", 1000)},
		}},
	}

	if items := a.Ingest(context.Background(), events, allEnabled()); len(items) != 0 {
		t.Fatalf("own activity surfaced: %+v", items)
	}
}

func TestIngestDropsDisabledTypes(t *testing.T) {
	a := newTestAggregator(t, nil)

	enabled := map[types.NotificationType]bool{types.NotificationReply: true}
	events := []types.Event{
		{ID: "r1", Kind: types.KindNote, PubKey: "fan1", CreatedAt: 100, Tags: [][]string{{"e", "note1"}}, Content: "hi"},
		{ID: "l1", Kind: types.KindReaction, PubKey: "fan2", CreatedAt: 200, Tags: [][]string{{"e", "note1"}}, Content: "+"},
		{ID: "rp1", Kind: types.KindRepost, PubKey: "fan3", CreatedAt: 300, Tags: [][]string{{"e", "note1"}}},
	}

	items := a.Ingest(context.Background(), events, enabled)
	if len(items) != 1 || items[0].ID != "r1" {
		t.Fatalf("got %+v, want only the reply", items)
	}
}

func TestIngestRequiresTarget(t *testing.T) {
	a := newTestAggregator(t, nil)

	events := []types.Event{
		// A kind-1 without an e tag is a mention, not a reply to a note.
		{ID: "m1", Kind: types.KindNote, PubKey: "fan1", CreatedAt: 100, Tags: [][]string{{"p", localUser}}, Content: "hey @you"},
		{ID: "l1", Kind: types.KindReaction, PubKey: "fan2", CreatedAt: 200, Tags: [][]string{{"p", localUser}}, Content: "+"},
		{ID: "t1", Kind: types.KindNutzap, PubKey: "fan3", CreatedAt: 300, Tags: [][]string{{"amount", "5"}, {"p", localUser}}},
	}

	items := a.Ingest(context.Background(), events, allEnabled())
	if len(items) != 1 || items[0].ID != "t1" {
		t.Fatalf("got %+v, want only the standalone tip", items)
	}
}

func TestIngestSkipsMalformedZaps(t *testing.T) {
	a := newTestAggregator(t, nil)

	events := []types.Event{
		{ID: "z1", Kind: types.KindZapReceipt, PubKey: "provider", CreatedAt: 100, Tags: [][]string{{"e", "note1"}}},
		{ID: "z2", Kind: types.KindZapReceipt, PubKey: "provider", CreatedAt: 200, Tags: [][]string{
			{"e", "note1"}, {"description", "{{broken"},
		}},
		{ID: "z3", Kind: types.KindZapReceipt, PubKey: "provider", CreatedAt: 300, Tags: [][]string{
			{"e", "note1"}, {"description", `{"kind":1,"pubkey":"zapperpk","content":"","tags":[]}`},
		}},
		{ID: "z4", Kind: types.KindZapReceipt, PubKey: "provider", CreatedAt: 400, Tags: [][]string{
			{"e", "note1"}, {"description", zapDescription(t, "zapperpk", "ok", 5000)},
		}},
	}

	items := a.Ingest(context.Background(), events, allEnabled())
	if len(items) != 1 || items[0].ID != "z4" {
		t.Fatalf("got %+v, want only the well-formed receipt", items)
	}
	if items[0].AmountSats != 5 {
		t.Errorf("amount = %d sats, want 5", items[0].AmountSats)
	}
}

func TestIngestIgnoresOtherKinds(t *testing.T) {
	a := newTestAggregator(t, nil)

	events := []types.Event{
		// Contact lists feed the follower tracker, never Ingest.
		{ID: "c1", Kind: types.KindContacts, PubKey: "fan1", CreatedAt: 100, Tags: [][]string{{"p", localUser}}},
		{ID: "x1", Kind: 30023, PubKey: "fan2", CreatedAt: 200, Tags: [][]string{{"e", "note1"}}},
	}

	if items := a.Ingest(context.Background(), events, allEnabled()); len(items) != 0 {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestIngestExcerptTruncatesLongReplies(t *testing.T) {
	a := newTestAggregator(t, nil)

	long := strings.Repeat("x", 300)
	events := []types.Event{
		{ID: "r1", Kind: types.KindNote, PubKey: "fan1", CreatedAt: 100, Tags: [][]string{{"e", "note1"}}, Content: long},
	}

	items := a.Ingest(context.Background(), events, allEnabled())
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	got := items[0].Excerpt
	if !strings.HasSuffix(got, "...") {
		t.Errorf("excerpt %q missing ellipsis", got)
	}
	if len(got) > excerptLen+3 {
		t.Errorf("excerpt is %d bytes, want at most %d", len(got), excerptLen+3)
	}
}

func TestKindsFor(t *testing.T) {
	got := KindsFor(allEnabled())
	want := []int{types.KindNote, types.KindContacts, types.KindRepost, types.KindReaction, types.KindNutzap, types.KindZapReceipt}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}

	partial := KindsFor(map[types.NotificationType]bool{
		types.NotificationReply: true,
		types.NotificationZap:   true,
	})
	if len(partial) != 2 || partial[0] != types.KindNote || partial[1] != types.KindZapReceipt {
		t.Fatalf("partial kinds = %v, want [1 9735]", partial)
	}

	if empty := KindsFor(nil); len(empty) != 0 {
		t.Fatalf("nil config produced kinds %v", empty)
	}
}

func TestFollowItems(t *testing.T) {
	a := newTestAggregator(t, nil)
	ctx := context.Background()

	report := types.FollowerReport{
		New:    []types.Follower{{Pubkey: "bbb", FirstSeen: 200}},
		Recent: []types.Follower{{Pubkey: "ccc", FirstSeen: 100}, {Pubkey: "bbb", FirstSeen: 200}},
	}

	items := a.FollowItems(ctx, report, allEnabled())
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (bbb deduplicated)", len(items))
	}
	if items[0].ID != "follow:bbb" || items[1].ID != "follow:ccc" {
		t.Fatalf("order = [%s %s], want newest first", items[0].ID, items[1].ID)
	}
	if items[0].Type != types.NotificationFollow || items[0].Actor != "bbb" || items[0].Timestamp != 200 {
		t.Errorf("item = %+v", items[0])
	}

	if got := a.FollowItems(ctx, types.FollowerReport{FirstRun: true}, allEnabled()); got != nil {
		t.Errorf("first run produced items: %+v", got)
	}
	disabled := map[types.NotificationType]bool{types.NotificationReply: true}
	if got := a.FollowItems(ctx, report, disabled); got != nil {
		t.Errorf("disabled follow produced items: %+v", got)
	}
}

func TestUnreadFollowsSeenWatermark(t *testing.T) {
	a := newTestAggregator(t, nil)
	ctx := context.Background()

	items := []types.NotificationItem{
		{ID: "a", Timestamp: 100},
		{ID: "b", Timestamp: 200},
		{ID: "c", Timestamp: 300},
	}

	if got := a.Unread(ctx, items); got != 3 {
		t.Fatalf("unread = %d, want 3 before any mark", got)
	}

	a.now = func() time.Time { return time.Unix(250, 0) }
	if err := a.MarkSeen(ctx); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if got := a.Unread(ctx, items); got != 1 {
		t.Fatalf("unread = %d, want 1 after marking at 250", got)
	}

	a.now = func() time.Time { return time.Unix(1000, 0) }
	if err := a.MarkSeen(ctx); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if got := a.Unread(ctx, items); got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
}

type stubProfiles struct {
	known map[string]*types.Profile
}

func (s stubProfiles) GetMultiple(_ context.Context, pks []string) map[string]*types.Profile {
	out := make(map[string]*types.Profile)
	for _, pk := range pks {
		if p, ok := s.known[pk]; ok {
			out[pk] = p
		}
	}
	return out
}

func TestIngestDecoratesActors(t *testing.T) {
	lookup := stubProfiles{known: map[string]*types.Profile{
		"fan1": {Name: "fan one"},
	}}
	a := newTestAggregator(t, lookup)

	events := []types.Event{
		{ID: "r1", Kind: types.KindNote, PubKey: "fan1", CreatedAt: 100, Tags: [][]string{{"e", "note1"}}, Content: "hi"},
		{ID: "l1", Kind: types.KindReaction, PubKey: "unknown", CreatedAt: 200, Tags: [][]string{{"e", "note1"}}, Content: "+"},
	}

	items := a.Ingest(context.Background(), events, allEnabled())
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[1].Profile == nil || items[1].Profile.Name != "fan one" {
		t.Errorf("fan1 not decorated: %+v", items[1].Profile)
	}
	if items[0].Profile != nil {
		t.Errorf("unknown actor decorated: %+v", items[0].Profile)
	}
}
