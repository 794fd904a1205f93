package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/types"
)

// Fanout runs one logical operation against many relays at once:
// bounded queries, live subscriptions, and publishes. Results are
// merged and deduplicated per call; a slow or dead relay never blocks
// completion beyond the timeout.
type Fanout struct {
	transport Transport
}

// NewFanout creates a Fanout over the given transport.
func NewFanout(t Transport) *Fanout {
	return &Fanout{transport: t}
}

// NormalizeRelays normalizes a relay list, dropping invalid entries and
// duplicates while preserving order.
func NormalizeRelays(relays []string) []string {
	out := make([]string, 0, len(relays))
	seen := make(map[string]bool, len(relays))
	for _, r := range relays {
		normalized := NormalizeRelayURL(r)
		if normalized == "" {
			slog.Debug("dropping invalid relay URL", "relay", r)
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// Query sends the same filters to every relay concurrently and merges
// the results, deduplicated by event id. It returns when every relay
// has reported EOSE (or failed) or when the timeout elapses, whichever
// comes first; the bool reports whether every relay EOSEd. Partial
// results are valid, never an error. Results are sorted by created_at
// descending, id descending.
func (f *Fanout) Query(ctx context.Context, relays []string, filters []types.Filter, timeout time.Duration) ([]types.Event, bool) {
	relays = NormalizeRelays(relays)
	if len(relays) == 0 {
		return nil, true
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	eventChan := make(chan types.Event, 1000)
	eoseChan := make(chan string, len(relays))

	for _, relay := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			f.queryRelay(qctx, relayURL, filters, eventChan, eoseChan)
		}(relay)
	}

	// Close channels when all relay goroutines complete
	go func() {
		wg.Wait()
		close(eventChan)
		close(eoseChan)
	}()

	dd := NewDeduper()
	events := []types.Event{}

collectLoop:
	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				break collectLoop
			}
			metrics.IncrementEventReceived()
			if !dd.Admit(evt.ID) {
				metrics.IncrementEventDeduped()
				continue
			}
			events = append(events, evt)
		case <-qctx.Done():
			slog.Debug("query timed out", "events", len(events))
			break collectLoop
		}
	}

	// Tally EOSE signals without blocking
	eoseCount := 0
drainLoop:
	for {
		select {
		case _, ok := <-eoseChan:
			if !ok {
				break drainLoop
			}
			eoseCount++
		default:
			break drainLoop
		}
	}

	allEOSE := eoseCount == len(relays)
	for i := eoseCount; i < len(relays); i++ {
		metrics.IncrementRelayTimeout()
	}

	// Sort by created_at DESC, then by ID DESC for tie-break
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})

	return events, allEOSE
}

// queryRelay runs one relay's share of a bounded query: forward events
// until EOSE, then tear the subscription down.
func (f *Fanout) queryRelay(ctx context.Context, relayURL string, filters []types.Filter, out chan<- types.Event, eose chan<- string) {
	metrics.IncrementRelayQuery()

	sub, err := f.transport.Subscribe(ctx, relayURL, uuid.NewString(), filters)
	if err != nil {
		slog.Debug("subscribe failed", "relay", relayURL, "error", err)
		return
	}
	defer f.transport.Unsubscribe(relayURL, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			return
		case evt, ok := <-sub.EventChan:
			if !ok {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		case <-sub.EOSEChan:
			// The reader delivered every stored event into EventChan
			// before EOSE became readable, so a non-blocking drain
			// catches stragglers the select raced past.
			for {
				select {
				case evt, ok := <-sub.EventChan:
					if !ok {
						eose <- relayURL
						return
					}
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				default:
					eose <- relayURL
					return
				}
			}
		}
	}
}

// Handle is one live multi-relay subscription.
type Handle struct {
	events      chan types.Event
	backlogDone chan struct{}
	done        chan struct{}
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

// Events delivers merged, deduplicated events. The channel closes when
// the subscription ends.
func (h *Handle) Events() <-chan types.Event { return h.events }

// BacklogDone is closed once every reachable relay has delivered its
// stored events or the backlog timeout has elapsed, whichever first.
func (h *Handle) BacklogDone() <-chan struct{} { return h.backlogDone }

// Close stops delivery and tears the relay subscriptions down. Safe to
// call more than once; events arriving after Close are discarded.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.cancel()
	})
}

// Subscribe opens the same filters on every relay and returns a Handle
// merging their streams. A relay that errors or disconnects mid-stream
// counts as ended: its backlog obligation is satisfied and its later
// events are excluded.
func (f *Fanout) Subscribe(ctx context.Context, relays []string, filters []types.Filter, backlogTimeout time.Duration) (*Handle, error) {
	relays = NormalizeRelays(relays)
	if len(relays) == 0 {
		return nil, errors.New("no usable relays")
	}

	subCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		events:      make(chan types.Event, 256),
		backlogDone: make(chan struct{}),
		done:        make(chan struct{}),
		cancel:      cancel,
	}

	rawEvents := make(chan types.Event, 256)
	settled := make(chan struct{}, len(relays))

	for _, relay := range relays {
		go f.streamRelay(subCtx, relay, filters, rawEvents, settled)
	}

	go func() {
		defer close(h.events)
		defer cancel()

		dd := NewDeduper()
		settledCount := 0
		backlogOver := false
		timer := time.NewTimer(backlogTimeout)
		defer timer.Stop()

		finishBacklog := func() {
			if !backlogOver {
				backlogOver = true
				close(h.backlogDone)
			}
		}
		defer finishBacklog()

		for {
			select {
			case <-subCtx.Done():
				return
			case <-h.done:
				return
			case <-timer.C:
				finishBacklog()
			case <-settled:
				settledCount++
				if settledCount == len(relays) {
					finishBacklog()
				}
			case evt := <-rawEvents:
				// A completed Close wins over events still in flight.
				select {
				case <-subCtx.Done():
					return
				case <-h.done:
					return
				default:
				}
				metrics.IncrementEventReceived()
				if !dd.Admit(evt.ID) {
					metrics.IncrementEventDeduped()
					continue
				}
				select {
				case h.events <- evt:
				case <-subCtx.Done():
					return
				case <-h.done:
					return
				}
			}
		}
	}()

	return h, nil
}

// streamRelay feeds one relay's events into out until the context ends.
// It signals settled exactly once: at EOSE, or when the relay fails or
// disconnects before EOSE, so backlog accounting always completes.
func (f *Fanout) streamRelay(ctx context.Context, relayURL string, filters []types.Filter, out chan<- types.Event, settled chan<- struct{}) {
	settledSent := false
	settle := func() {
		if !settledSent {
			settledSent = true
			settled <- struct{}{}
		}
	}
	defer settle()

	metrics.IncrementRelayQuery()

	sub, err := f.transport.Subscribe(ctx, relayURL, uuid.NewString(), filters)
	if err != nil {
		slog.Debug("subscribe failed", "relay", relayURL, "error", err)
		return
	}
	defer f.transport.Unsubscribe(relayURL, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			slog.Debug("subscription closed by relay", "relay", relayURL)
			return
		case evt, ok := <-sub.EventChan:
			if !ok {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		case <-sub.EOSEChan:
			settle()
			// Keep listening after EOSE for real-time events
		}
	}
}

// PublishResult is the outcome of publishing to one relay.
type PublishResult struct {
	Relay string
	OK    bool
	Err   error
}

// PublishAll publishes the event to every relay concurrently and
// reports per-relay outcomes. The caller decides what counts as
// success; at least one accepted copy is the usual bar.
func (f *Fanout) PublishAll(ctx context.Context, relays []string, evt *types.Event, timeout time.Duration) []PublishResult {
	relays = NormalizeRelays(relays)
	if len(relays) == 0 {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]PublishResult, len(relays))
	var wg sync.WaitGroup
	for i, relay := range relays {
		wg.Add(1)
		go func(i int, relayURL string) {
			defer wg.Done()
			if err := f.transport.Publish(pctx, relayURL, evt); err != nil {
				results[i] = PublishResult{Relay: relayURL, Err: err}
				return
			}
			results[i] = PublishResult{Relay: relayURL, OK: true}
		}(i, relay)
	}
	wg.Wait()

	return results
}
