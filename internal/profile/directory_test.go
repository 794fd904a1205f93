package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"nostr-messenger/internal/notifications"
	"nostr-messenger/internal/relay"
	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
)

// The notification aggregator decorates items through this interface;
// Directory must keep satisfying it.
var _ notifications.ProfileLookup = (*Directory)(nil)

// profileTransport serves kind-0 events matching the requested authors,
// recording each query. With silent set it never sends EOSE, so queries
// run into their timeout and report incomplete.
type profileTransport struct {
	mu      sync.Mutex
	events  []types.Event
	silent  bool
	queried [][]string
}

func (p *profileTransport) add(evts ...types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
}

func (p *profileTransport) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queried)
}

func (p *profileTransport) lastAuthors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queried) == 0 {
		return nil
	}
	out := append([]string(nil), p.queried[len(p.queried)-1]...)
	sort.Strings(out)
	return out
}

func (p *profileTransport) Subscribe(_ context.Context, relayURL, subID string, filters []types.Filter) (*relay.Subscription, error) {
	p.mu.Lock()
	var authors []string
	if len(filters) > 0 {
		authors = append([]string(nil), filters[0].Authors...)
	}
	p.queried = append(p.queried, authors)

	want := make(map[string]bool, len(authors))
	for _, a := range authors {
		want[a] = true
	}
	var matched []types.Event
	for _, evt := range p.events {
		if want[evt.PubKey] {
			matched = append(matched, evt)
		}
	}
	silent := p.silent
	p.mu.Unlock()

	sub := &relay.Subscription{
		ID:        subID,
		EventChan: make(chan types.Event, len(matched)+1),
		EOSEChan:  make(chan bool, 1),
		Done:      make(chan struct{}),
	}
	go func() {
		for _, evt := range matched {
			evt.RelaysSeen = []string{relayURL}
			select {
			case sub.EventChan <- evt:
			case <-sub.Done:
				return
			}
		}
		if silent {
			return
		}
		select {
		case sub.EOSEChan <- true:
		case <-sub.Done:
		}
	}()
	return sub, nil
}

func (p *profileTransport) Unsubscribe(_ string, sub *relay.Subscription) {
	sub.Close()
}

func (p *profileTransport) Publish(context.Context, string, *types.Event) error {
	return nil
}

func kind0(pubkey string, createdAt int64, content string) types.Event {
	return types.Event{
		ID:        fmt.Sprintf("p-%s-%d", pubkey, createdAt),
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      types.KindProfile,
		Content:   content,
	}
}

func newTestDirectory(t *testing.T, tr *profileTransport) *Directory {
	t.Helper()
	kv := store.NewMemoryKV(100, time.Minute)
	t.Cleanup(func() { _ = kv.Close() })
	return NewDirectory(DirectoryConfig{
		KV:           kv,
		Fanout:       relay.NewFanout(tr),
		QueryRelays:  []string{"ws://relay.one"},
		QueryTimeout: 200 * time.Millisecond,
	})
}

func TestGetFetchesThenCaches(t *testing.T) {
	tr := &profileTransport{}
	tr.add(kind0("alicepk", 100, `{"name":"alice","about":"hi"}`))
	d := newTestDirectory(t, tr)
	ctx := context.Background()

	p, ok := d.Get(ctx, "alicepk")
	if !ok || p.Name != "alice" || p.About != "hi" {
		t.Fatalf("got (%+v, %v)", p, ok)
	}
	if tr.calls() != 1 {
		t.Fatalf("first lookup made %d queries, want 1", tr.calls())
	}

	if _, ok := d.Get(ctx, "alicepk"); !ok {
		t.Fatal("cached lookup missed")
	}
	if tr.calls() != 1 {
		t.Fatalf("cached lookup hit the network (%d queries)", tr.calls())
	}
}

func TestGetMultipleQueriesOnlyMisses(t *testing.T) {
	tr := &profileTransport{}
	tr.add(
		kind0("alicepk", 100, `{"name":"alice"}`),
		kind0("bobpk", 100, `{"name":"bob"}`),
	)
	d := newTestDirectory(t, tr)
	ctx := context.Background()

	if _, ok := d.Get(ctx, "bobpk"); !ok {
		t.Fatal("bob lookup failed")
	}

	got := d.GetMultiple(ctx, []string{"alicepk", "bobpk"})
	if len(got) != 2 || got["alicepk"].Name != "alice" || got["bobpk"].Name != "bob" {
		t.Fatalf("got %+v", got)
	}
	if tr.calls() != 2 {
		t.Fatalf("made %d queries, want 2", tr.calls())
	}
	if authors := tr.lastAuthors(); len(authors) != 1 || authors[0] != "alicepk" {
		t.Fatalf("second query asked for %v, want only the miss", authors)
	}

	// Everything cached now.
	d.GetMultiple(ctx, []string{"alicepk", "bobpk"})
	if tr.calls() != 2 {
		t.Fatalf("fully cached lookup hit the network (%d queries)", tr.calls())
	}
}

func TestNegativeCachingAfterCompleteQuery(t *testing.T) {
	tr := &profileTransport{}
	d := newTestDirectory(t, tr)
	ctx := context.Background()

	if _, ok := d.Get(ctx, "ghostpk"); ok {
		t.Fatal("nonexistent profile resolved")
	}
	if tr.calls() != 1 {
		t.Fatalf("made %d queries, want 1", tr.calls())
	}

	// The miss is cached; no second query.
	if _, ok := d.Get(ctx, "ghostpk"); ok {
		t.Fatal("nonexistent profile resolved on retry")
	}
	if tr.calls() != 1 {
		t.Fatalf("negative entry not cached, made %d queries", tr.calls())
	}
}

func TestIncompleteQuerySkipsNegativeCache(t *testing.T) {
	tr := &profileTransport{silent: true}
	d := newTestDirectory(t, tr)
	ctx := context.Background()

	if _, ok := d.Get(ctx, "ghostpk"); ok {
		t.Fatal("resolved from a silent relay")
	}
	// No EOSE means no proof of absence: the retry queries again.
	if _, ok := d.Get(ctx, "ghostpk"); ok {
		t.Fatal("resolved from a silent relay")
	}
	if tr.calls() != 2 {
		t.Fatalf("made %d queries, want a retry after the incomplete one", tr.calls())
	}
}

func TestNewestProfileWins(t *testing.T) {
	tr := &profileTransport{}
	tr.add(
		kind0("alicepk", 100, `{"name":"old name"}`),
		kind0("alicepk", 200, `{"name":"new name"}`),
	)
	d := newTestDirectory(t, tr)

	p, ok := d.Get(context.Background(), "alicepk")
	if !ok || p.Name != "new name" {
		t.Fatalf("got (%+v, %v), want the newer kind-0", p, ok)
	}
}

func TestMalformedProfileContent(t *testing.T) {
	tr := &profileTransport{}
	tr.add(
		kind0("brokenpk", 100, `not json at all`),
		// Wrong field types are tolerated per field.
		kind0("sloppypk", 100, `{"name":42,"about":"still here"}`),
	)
	d := newTestDirectory(t, tr)
	ctx := context.Background()

	got := d.GetMultiple(ctx, []string{"brokenpk", "sloppypk"})
	if _, ok := got["brokenpk"]; ok {
		t.Error("unparseable content produced a profile")
	}
	p, ok := got["sloppypk"]
	if !ok || p.Name != "" || p.About != "still here" {
		t.Errorf("sloppy profile = %+v, %v", p, ok)
	}
}
