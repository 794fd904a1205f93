package store

import (
	"context"
	"log/slog"
	"strconv"
)

const readMarkPrefix = "readmark:"

// ReadMarks persists per-feed read watermarks: "dm:<peer>" for
// conversations, "notifications" for the notification feed.
type ReadMarks struct {
	kv KV
}

// NewReadMarks creates a read-mark store on top of a KV backend.
func NewReadMarks(kv KV) *ReadMarks {
	return &ReadMarks{kv: kv}
}

// GetLastRead returns the watermark for a feed, or (0, false) when none
// is stored. Backend errors degrade to "never read" so a flaky store
// never blocks sync; everything just counts as unread.
func (r *ReadMarks) GetLastRead(ctx context.Context, feed string) (int64, bool) {
	data, ok, err := r.kv.Get(ctx, readMarkPrefix+feed)
	if err != nil {
		slog.Error("read mark fetch failed, treating feed as unread", "feed", feed, "error", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}

	ts, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		slog.Error("read mark corrupt, treating feed as unread", "feed", feed, "error", err)
		return 0, false
	}
	return ts, true
}

// SetLastRead advances the watermark for a feed. Watermarks never move
// backwards; a stale caller cannot resurrect unread state.
func (r *ReadMarks) SetLastRead(ctx context.Context, feed string, timestamp int64) error {
	if current, ok := r.GetLastRead(ctx, feed); ok && current >= timestamp {
		return nil
	}
	return r.kv.Set(ctx, readMarkPrefix+feed, []byte(strconv.FormatInt(timestamp, 10)), 0)
}
