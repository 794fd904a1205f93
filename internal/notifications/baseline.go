package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
	"nostr-messenger/internal/util"
)

// followerBaselineKey is the KV key holding the persisted snapshot.
const followerBaselineKey = "followers:baseline"

// Tracker maintains the persistent follower baseline and diffs each
// observation against it. First-seen times are local wall-clock
// observations: contact lists are whole-set snapshots with no reliable
// per-edge timestamp, and event times are attacker-influenced anyway.
type Tracker struct {
	kv     store.KV
	window time.Duration
	now    func() time.Time
}

func NewTracker(kv store.KV, window time.Duration) *Tracker {
	return &Tracker{kv: kv, window: window, now: time.Now}
}

// Observe diffs the observed follower set against the baseline and
// persists the union. The very first observation establishes the
// baseline and reports nothing: a fresh install must not announce its
// pre-existing audience as news. Once a pubkey is known it is never
// reported as new again; it stays reportable as recent while its
// first-observed time is inside the trailing window.
func (t *Tracker) Observe(ctx context.Context, observed []string) (types.FollowerReport, error) {
	nowTS := t.now().Unix()

	snapshot, found, err := t.load(ctx)
	if err != nil {
		return types.FollowerReport{}, err
	}

	if !found {
		snapshot = &types.FollowerSnapshot{
			Followers:     make(map[string]int64, len(observed)),
			EstablishedAt: nowTS,
		}
		for _, pk := range observed {
			snapshot.Followers[pk] = nowTS
		}
		snapshot.UpdatedAt = nowTS
		if err := t.save(ctx, snapshot); err != nil {
			return types.FollowerReport{}, err
		}
		slog.Info("follower baseline established", "followers", len(snapshot.Followers))
		return types.FollowerReport{FirstRun: true}, nil
	}

	var report types.FollowerReport
	cutoff := nowTS - int64(t.window/time.Second)
	newSeen := make(map[string]struct{})

	for _, pk := range observed {
		if _, known := snapshot.Followers[pk]; known {
			continue
		}
		if _, dup := newSeen[pk]; dup {
			continue
		}
		newSeen[pk] = struct{}{}
		snapshot.Followers[pk] = nowTS
		report.New = append(report.New, types.Follower{Pubkey: pk, FirstSeen: nowTS})
	}

	// Recent covers follows discovered in earlier passes that are still
	// inside the window. The establishment pass does not count: those
	// members were deliberately suppressed, not merely unseen.
	for pk, firstSeen := range snapshot.Followers {
		if _, isNew := newSeen[pk]; isNew {
			continue
		}
		if firstSeen >= cutoff && firstSeen > snapshot.EstablishedAt {
			report.Recent = append(report.Recent, types.Follower{Pubkey: pk, FirstSeen: firstSeen})
		}
	}
	sortFollowers(report.New)
	sortFollowers(report.Recent)

	snapshot.UpdatedAt = nowTS
	if err := t.save(ctx, snapshot); err != nil {
		return types.FollowerReport{}, err
	}
	return report, nil
}

// FollowersFrom extracts the authors of contact-list events that include
// local among their p tags. Each author appears once.
func FollowersFrom(events []types.Event, local string) []string {
	var followers []string
	seen := make(map[string]struct{})
	for _, evt := range events {
		if evt.Kind != types.KindContacts || evt.PubKey == local {
			continue
		}
		if _, dup := seen[evt.PubKey]; dup {
			continue
		}
		for _, p := range util.GetTagValues(evt.Tags, "p") {
			if p == local {
				seen[evt.PubKey] = struct{}{}
				followers = append(followers, evt.PubKey)
				break
			}
		}
	}
	return followers
}

func (t *Tracker) load(ctx context.Context) (*types.FollowerSnapshot, bool, error) {
	data, ok, err := t.kv.Get(ctx, followerBaselineKey)
	if err != nil {
		return nil, false, fmt.Errorf("load follower baseline: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var snapshot types.FollowerSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// A corrupt snapshot falls back to re-establishing the baseline,
		// which suppresses rather than repeats old notifications.
		slog.Error("follower baseline corrupt, re-establishing", "error", err)
		return nil, false, nil
	}
	if snapshot.Followers == nil {
		snapshot.Followers = make(map[string]int64)
	}
	return &snapshot, true, nil
}

func (t *Tracker) save(ctx context.Context, snapshot *types.FollowerSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode follower baseline: %w", err)
	}
	if err := t.kv.Set(ctx, followerBaselineKey, data, 0); err != nil {
		return fmt.Errorf("persist follower baseline: %w", err)
	}
	return nil
}

func sortFollowers(fs []types.Follower) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].FirstSeen != fs[j].FirstSeen {
			return fs[i].FirstSeen > fs[j].FirstSeen
		}
		return fs[i].Pubkey < fs[j].Pubkey
	})
}
