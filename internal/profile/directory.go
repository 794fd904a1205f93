// Package profile resolves kind-0 profile metadata through a KV-backed
// fetch-through cache. Misses are coalesced two ways: a short batching
// window merges overlapping concurrent lookups into one relay query,
// and identical batches in flight share a single fetch.
package profile

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/relay"
	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
	"nostr-messenger/internal/util"
)

const (
	// DefaultProfileTTL is how long a fetched profile stays cached.
	// Profiles rarely change hourly.
	DefaultProfileTTL = time.Hour

	// DefaultNotFoundTTL keeps negative entries short, so a pubkey that
	// publishes its first kind-0 shows up soon after.
	DefaultNotFoundTTL = 30 * time.Second

	defaultQueryTimeout = 2500 * time.Millisecond

	batchWindow  = 50 * time.Millisecond
	maxBatchKeys = 100
)

// Directory is the profile lookup service. Safe for concurrent use.
type Directory struct {
	kv     store.KV
	fanout *relay.Fanout
	relays []string

	timeout     time.Duration
	profileTTL  time.Duration
	notFoundTTL time.Duration

	group   singleflight.Group
	batcher *Batcher[*types.Profile]
}

type DirectoryConfig struct {
	KV          store.KV
	Fanout      *relay.Fanout
	QueryRelays []string

	// Zero values fall back to the package defaults.
	QueryTimeout time.Duration
	ProfileTTL   time.Duration
	NotFoundTTL  time.Duration
}

func NewDirectory(cfg DirectoryConfig) *Directory {
	d := &Directory{
		kv:          cfg.KV,
		fanout:      cfg.Fanout,
		relays:      cfg.QueryRelays,
		timeout:     cfg.QueryTimeout,
		profileTTL:  cfg.ProfileTTL,
		notFoundTTL: cfg.NotFoundTTL,
	}
	if d.timeout <= 0 {
		d.timeout = defaultQueryTimeout
	}
	if d.profileTTL <= 0 {
		d.profileTTL = DefaultProfileTTL
	}
	if d.notFoundTTL <= 0 {
		d.notFoundTTL = DefaultNotFoundTTL
	}
	d.batcher = NewBatcher("profiles", d.fetchBatch, batchWindow, maxBatchKeys)
	return d
}

func profileKey(pubkey string) string {
	return "profile:" + pubkey
}

// Get returns the profile for one pubkey. A cached negative entry
// answers (nil, false) without touching the network.
func (d *Directory) Get(ctx context.Context, pubkey string) (*types.Profile, bool) {
	p, negative, inCache := d.cached(ctx, pubkey)
	if inCache {
		metrics.IncrementCacheHit()
		if negative {
			return nil, false
		}
		return p, true
	}
	metrics.IncrementCacheMiss()
	return d.batcher.Get(pubkey)
}

// GetMultiple returns profiles for all pubkeys it can resolve. Pubkeys
// without a profile (including cached not-found entries) are simply
// absent from the result.
func (d *Directory) GetMultiple(ctx context.Context, pubkeys []string) map[string]*types.Profile {
	if len(pubkeys) == 0 {
		return nil
	}

	found, missing := d.cachedMultiple(ctx, pubkeys)
	if len(missing) == 0 {
		metrics.IncrementCacheHit()
		return found
	}
	metrics.IncrementCacheMiss()

	fresh := d.batcher.GetMultiple(missing)
	for pk, p := range fresh {
		found[pk] = p
	}
	return found
}

// cached reads one cache entry. Returns (profile, negative, inCache).
func (d *Directory) cached(ctx context.Context, pubkey string) (*types.Profile, bool, bool) {
	data, ok, err := d.kv.Get(ctx, profileKey(pubkey))
	if err != nil || !ok {
		return nil, false, false
	}
	var entry types.CachedProfile
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, false
	}
	return entry.Profile, entry.NotFound, true
}

// cachedMultiple splits pubkeys into cached profiles and true misses.
// Cached not-found entries land in neither: they are resolved, just
// empty.
func (d *Directory) cachedMultiple(ctx context.Context, pubkeys []string) (map[string]*types.Profile, []string) {
	found := make(map[string]*types.Profile)

	keys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = profileKey(pk)
	}
	results, err := d.kv.GetMultiple(ctx, keys)
	if err != nil {
		slog.Debug("profile cache read failed", "error", err)
		return found, pubkeys
	}

	var missing []string
	for i, pk := range pubkeys {
		data, ok := results[keys[i]]
		if !ok {
			missing = append(missing, pk)
			continue
		}
		var entry types.CachedProfile
		if err := json.Unmarshal(data, &entry); err != nil {
			missing = append(missing, pk)
			continue
		}
		if !entry.NotFound && entry.Profile != nil {
			found[pk] = entry.Profile
		}
	}
	return found, missing
}

// fetchBatch is the batcher's fetch function. Identical batches fired
// while one is already in flight share its result.
func (d *Directory) fetchBatch(keys []string) map[string]*types.Profile {
	flightKey := strings.Join(util.SortedCopy(keys), ",")
	v, _, shared := d.group.Do(flightKey, func() (interface{}, error) {
		return d.fetchDirect(keys), nil
	})
	if shared {
		slog.Debug("singleflight: shared profile fetch", "keys", len(keys))
	}
	return v.(map[string]*types.Profile)
}

// fetchDirect queries the profile relays for kind-0 events and caches
// whatever comes back. It runs detached from any caller context because
// its result is shared across batched waiters.
func (d *Directory) fetchDirect(keys []string) map[string]*types.Profile {
	ctx := context.Background()

	filter := types.Filter{
		Authors: keys,
		Kinds:   []int{types.KindProfile},
		Limit:   len(keys),
	}
	events, complete := d.fanout.Query(ctx, d.relays, []types.Filter{filter}, d.timeout)

	found := make(map[string]*types.Profile)
	for _, evt := range events {
		if evt.Kind != types.KindProfile {
			continue
		}
		// Query returns newest first; keep the first per author.
		if _, ok := found[evt.PubKey]; ok {
			continue
		}
		p := parseProfile(evt.Content)
		if p == nil {
			continue
		}
		found[evt.PubKey] = p
	}

	d.storeResults(ctx, found, keys, complete)
	return found
}

// storeResults writes fetched profiles to the cache. Negative entries
// are only written after a complete query: an incomplete one proves
// nothing about a profile's absence.
func (d *Directory) storeResults(ctx context.Context, found map[string]*types.Profile, queried []string, complete bool) {
	now := time.Now().Unix()

	items := make(map[string][]byte, len(found))
	for pk, p := range found {
		data, err := json.Marshal(types.CachedProfile{Profile: p, FetchedAt: now})
		if err != nil {
			continue
		}
		items[profileKey(pk)] = data
	}
	if len(items) > 0 {
		if err := d.kv.SetMultiple(ctx, items, d.profileTTL); err != nil {
			slog.Warn("profile cache write failed", "error", err)
		}
	}

	if !complete {
		return
	}
	negative, err := json.Marshal(types.CachedProfile{FetchedAt: now, NotFound: true})
	if err != nil {
		return
	}
	misses := make(map[string][]byte)
	for _, pk := range queried {
		if _, ok := found[pk]; !ok {
			misses[profileKey(pk)] = negative
		}
	}
	if len(misses) > 0 {
		if err := d.kv.SetMultiple(ctx, misses, d.notFoundTTL); err != nil {
			slog.Warn("profile cache write failed", "error", err)
		}
	}
}

// parseProfile pulls the known fields out of kind-0 content. Fields
// with unexpected types are skipped rather than failing the whole
// profile; plenty of published kind-0s are sloppy.
func parseProfile(content string) *types.Profile {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil
	}

	p := &types.Profile{}
	if v, ok := fields["name"].(string); ok {
		p.Name = v
	}
	if v, ok := fields["display_name"].(string); ok {
		p.DisplayName = v
	}
	if v, ok := fields["picture"].(string); ok {
		p.Picture = v
	}
	if v, ok := fields["nip05"].(string); ok {
		p.Nip05 = v
	}
	if v, ok := fields["about"].(string); ok {
		p.About = v
	}
	if v, ok := fields["lud16"].(string); ok {
		p.Lud16 = v
	}
	if v, ok := fields["website"].(string); ok {
		p.Website = v
	}
	return p
}
