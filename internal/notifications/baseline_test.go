package notifications

import (
	"context"
	"testing"
	"time"

	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
)

// newTestTracker returns a tracker with a controllable clock.
func newTestTracker(t *testing.T, window time.Duration) (*Tracker, func(time.Time)) {
	t.Helper()
	kv := store.NewMemoryKV(100, time.Minute)
	t.Cleanup(func() { _ = kv.Close() })

	tr := NewTracker(kv, window)
	current := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return current }
	return tr, func(ts time.Time) { current = ts }
}

func day(n int) time.Time {
	return time.Unix(1700000000, 0).Add(time.Duration(n) * 24 * time.Hour)
}

func pubkeys(report []types.Follower) []string {
	out := make([]string, 0, len(report))
	for _, f := range report {
		out = append(out, f.Pubkey)
	}
	return out
}

func TestObserveFirstRunReportsNothing(t *testing.T) {
	tr, _ := newTestTracker(t, 7*24*time.Hour)
	ctx := context.Background()

	report, err := tr.Observe(ctx, []string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !report.FirstRun || len(report.New) != 0 || len(report.Recent) != 0 {
		t.Fatalf("first run reported %+v, want empty with FirstRun", report)
	}

	// The baseline audience stays invisible on the next pass too: they
	// were suppressed on purpose, not missed.
	report, err = tr.Observe(ctx, []string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if report.FirstRun {
		t.Error("second pass still claims first run")
	}
	if len(report.New) != 0 || len(report.Recent) != 0 {
		t.Errorf("baseline members resurfaced: new=%v recent=%v", pubkeys(report.New), pubkeys(report.Recent))
	}
}

func TestObserveDetectsNewFollowers(t *testing.T) {
	tr, setNow := newTestTracker(t, 7*24*time.Hour)
	ctx := context.Background()

	if _, err := tr.Observe(ctx, []string{"aaa"}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	setNow(day(1))
	report, err := tr.Observe(ctx, []string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(report.New) != 1 || report.New[0].Pubkey != "bbb" {
		t.Fatalf("new = %v, want bbb", pubkeys(report.New))
	}
	if report.New[0].FirstSeen != day(1).Unix() {
		t.Errorf("first seen = %d, want local observation time %d", report.New[0].FirstSeen, day(1).Unix())
	}
}

func TestObserveMonotonicAndRecentWindow(t *testing.T) {
	tr, setNow := newTestTracker(t, 7*24*time.Hour)
	ctx := context.Background()

	if _, err := tr.Observe(ctx, []string{"aaa"}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	setNow(day(1))
	if _, err := tr.Observe(ctx, []string{"aaa", "bbb"}); err != nil {
		t.Fatalf("observe: %v", err)
	}

	// Within the window: bbb is no longer new, still recent. aaa is a
	// baseline member and must not ride along.
	setNow(day(5))
	report, err := tr.Observe(ctx, []string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(report.New) != 0 {
		t.Errorf("known follower reported new again: %v", pubkeys(report.New))
	}
	if got := pubkeys(report.Recent); len(got) != 1 || got[0] != "bbb" {
		t.Errorf("recent = %v, want only bbb", got)
	}

	// Past the window nothing surfaces.
	setNow(day(9))
	report, err = tr.Observe(ctx, []string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(report.New) != 0 || len(report.Recent) != 0 {
		t.Errorf("stale follows resurfaced: new=%v recent=%v", pubkeys(report.New), pubkeys(report.Recent))
	}
}

func TestObserveSurvivesUnfollowRefollow(t *testing.T) {
	tr, setNow := newTestTracker(t, 7*24*time.Hour)
	ctx := context.Background()

	if _, err := tr.Observe(ctx, []string{"aaa"}); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	setNow(day(1))
	if _, err := tr.Observe(ctx, []string{"aaa", "bbb"}); err != nil {
		t.Fatalf("observe: %v", err)
	}

	// bbb disappears from the observed set, then comes back. Known is
	// forever: no second "new follower" for the same pubkey.
	setNow(day(2))
	if _, err := tr.Observe(ctx, []string{"aaa"}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	setNow(day(3))
	report, err := tr.Observe(ctx, []string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(report.New) != 0 {
		t.Errorf("refollow reported as new: %v", pubkeys(report.New))
	}
}

func TestObserveCorruptSnapshotReestablishes(t *testing.T) {
	kv := store.NewMemoryKV(100, time.Minute)
	t.Cleanup(func() { _ = kv.Close() })
	ctx := context.Background()

	if err := kv.Set(ctx, followerBaselineKey, []byte("{{not json"), 0); err != nil {
		t.Fatalf("seed corrupt snapshot: %v", err)
	}
	tr := NewTracker(kv, 7*24*time.Hour)

	report, err := tr.Observe(ctx, []string{"aaa"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !report.FirstRun {
		t.Error("corrupt snapshot did not re-establish the baseline")
	}
}

func TestFollowersFrom(t *testing.T) {
	local := "localpk"
	events := []types.Event{
		{Kind: types.KindContacts, PubKey: "fan1", Tags: [][]string{{"p", "other"}, {"p", local}}},
		{Kind: types.KindContacts, PubKey: "fan1", Tags: [][]string{{"p", local}}}, // same author twice
		{Kind: types.KindContacts, PubKey: "stranger", Tags: [][]string{{"p", "other"}}},
		{Kind: types.KindContacts, PubKey: local, Tags: [][]string{{"p", local}}}, // our own list
		{Kind: types.KindNote, PubKey: "fan2", Tags: [][]string{{"p", local}}},    // wrong kind
	}

	got := FollowersFrom(events, local)
	if len(got) != 1 || got[0] != "fan1" {
		t.Fatalf("followers = %v, want only fan1", got)
	}
}
