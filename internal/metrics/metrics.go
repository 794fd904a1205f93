// Package metrics exposes Prometheus-compatible counters for the
// sync and messaging pipeline.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Relay metrics
var (
	eventsReceivedTotal atomic.Int64
	eventsDedupedTotal  atomic.Int64
	droppedEventCount   atomic.Int64
	relayQueriesTotal   atomic.Int64
	relayTimeoutsTotal  atomic.Int64
)

// Message metrics
var (
	messagesDecryptedTotal atomic.Int64
	decryptFailuresTotal   atomic.Int64
	messagesSentTotal      atomic.Int64
	sendFallbacksTotal     atomic.Int64
	sendFailuresTotal      atomic.Int64
)

// Notification metrics
var (
	notificationsTotal atomic.Int64
)

// Cache metrics
var (
	cacheHitsTotal   atomic.Int64
	cacheMissesTotal atomic.Int64
)

// IncrementEventReceived counts an event surfaced by a fanout operation
func IncrementEventReceived() {
	eventsReceivedTotal.Add(1)
}

// IncrementEventDeduped counts a duplicate suppressed across relays
func IncrementEventDeduped() {
	eventsDedupedTotal.Add(1)
}

// IncrementEventDropped counts an event dropped due to a full channel
func IncrementEventDropped() {
	droppedEventCount.Add(1)
}

// IncrementRelayQuery counts one fanout query issued
func IncrementRelayQuery() {
	relayQueriesTotal.Add(1)
}

// IncrementRelayTimeout counts a fanout query that hit its deadline
func IncrementRelayTimeout() {
	relayTimeoutsTotal.Add(1)
}

// IncrementMessageDecrypted counts a direct message decrypted for the local user
func IncrementMessageDecrypted() {
	messagesDecryptedTotal.Add(1)
}

// IncrementDecryptFailure counts an envelope that failed to decrypt or parse
func IncrementDecryptFailure() {
	decryptFailuresTotal.Add(1)
}

// IncrementMessageSent counts a direct message accepted by at least one relay
func IncrementMessageSent() {
	messagesSentTotal.Add(1)
}

// IncrementSendFallback counts a send that fell back to the legacy scheme
func IncrementSendFallback() {
	sendFallbacksTotal.Add(1)
}

// IncrementSendFailure counts a send rejected by every relay
func IncrementSendFailure() {
	sendFailuresTotal.Add(1)
}

// IncrementNotification counts a notification item produced
func IncrementNotification() {
	notificationsTotal.Add(1)
}

// IncrementCacheHit increments the cache hit counter
func IncrementCacheHit() {
	cacheHitsTotal.Add(1)
}

// IncrementCacheMiss increments the cache miss counter
func IncrementCacheMiss() {
	cacheMissesTotal.Add(1)
}

// ConnectionStats reports live relay connection counts. Implemented by
// the relay pool; taken as an interface so this package stays free of
// relay imports.
type ConnectionStats interface {
	GetConnectionStats() (active int, max int)
}

// Handler serves Prometheus-compatible metrics
func Handler(serverStart time.Time, storeBackend string, pool ConnectionStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		// Build info metric
		fmt.Fprintf(w, "# HELP nostr_build_info Build and configuration information\n")
		fmt.Fprintf(w, "# TYPE nostr_build_info gauge\n")
		fmt.Fprintf(w, "nostr_build_info{store_backend=%q,go_version=%q} 1\n\n", storeBackend, runtime.Version())

		// Process metrics
		fmt.Fprintf(w, "# HELP process_start_time_seconds Unix timestamp of process start\n")
		fmt.Fprintf(w, "# TYPE process_start_time_seconds gauge\n")
		fmt.Fprintf(w, "process_start_time_seconds %d\n\n", serverStart.Unix())

		fmt.Fprintf(w, "# HELP process_uptime_seconds Time since process started\n")
		fmt.Fprintf(w, "# TYPE process_uptime_seconds gauge\n")
		fmt.Fprintf(w, "process_uptime_seconds %.0f\n\n", time.Since(serverStart).Seconds())

		// Go runtime metrics
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		fmt.Fprintf(w, "# HELP go_goroutines Number of active goroutines\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Currently allocated memory in bytes\n")
		fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n\n", memStats.Alloc)

		fmt.Fprintf(w, "# HELP go_memstats_sys_bytes Total memory obtained from the OS\n")
		fmt.Fprintf(w, "# TYPE go_memstats_sys_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_sys_bytes %d\n\n", memStats.Sys)

		fmt.Fprintf(w, "# HELP go_gc_cycles_total Number of completed GC cycles\n")
		fmt.Fprintf(w, "# TYPE go_gc_cycles_total counter\n")
		fmt.Fprintf(w, "go_gc_cycles_total %d\n\n", memStats.NumGC)

		// Connection pool metrics
		if pool != nil {
			activeConns, maxConns := pool.GetConnectionStats()
			fmt.Fprintf(w, "# HELP nostr_relay_connections_active Number of active relay connections\n")
			fmt.Fprintf(w, "# TYPE nostr_relay_connections_active gauge\n")
			fmt.Fprintf(w, "nostr_relay_connections_active %d\n\n", activeConns)

			fmt.Fprintf(w, "# HELP nostr_relay_connections_max Maximum relay connections allowed\n")
			fmt.Fprintf(w, "# TYPE nostr_relay_connections_max gauge\n")
			fmt.Fprintf(w, "nostr_relay_connections_max %d\n\n", maxConns)
		}

		// Relay metrics
		fmt.Fprintf(w, "# HELP nostr_relay_queries_total Fanout queries issued\n")
		fmt.Fprintf(w, "# TYPE nostr_relay_queries_total counter\n")
		fmt.Fprintf(w, "nostr_relay_queries_total %d\n\n", relayQueriesTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_relay_timeouts_total Fanout queries that hit their deadline\n")
		fmt.Fprintf(w, "# TYPE nostr_relay_timeouts_total counter\n")
		fmt.Fprintf(w, "nostr_relay_timeouts_total %d\n\n", relayTimeoutsTotal.Load())

		// Event metrics
		fmt.Fprintf(w, "# HELP nostr_events_received_total Events surfaced by fanout operations\n")
		fmt.Fprintf(w, "# TYPE nostr_events_received_total counter\n")
		fmt.Fprintf(w, "nostr_events_received_total %d\n\n", eventsReceivedTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_events_deduped_total Duplicate events suppressed across relays\n")
		fmt.Fprintf(w, "# TYPE nostr_events_deduped_total counter\n")
		fmt.Fprintf(w, "nostr_events_deduped_total %d\n\n", eventsDedupedTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_events_dropped_total Events dropped due to full channels\n")
		fmt.Fprintf(w, "# TYPE nostr_events_dropped_total counter\n")
		fmt.Fprintf(w, "nostr_events_dropped_total %d\n\n", droppedEventCount.Load())

		// Message metrics
		fmt.Fprintf(w, "# HELP nostr_messages_decrypted_total Direct messages decrypted for the local user\n")
		fmt.Fprintf(w, "# TYPE nostr_messages_decrypted_total counter\n")
		fmt.Fprintf(w, "nostr_messages_decrypted_total %d\n\n", messagesDecryptedTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_decrypt_failures_total Envelopes that failed to decrypt or parse\n")
		fmt.Fprintf(w, "# TYPE nostr_decrypt_failures_total counter\n")
		fmt.Fprintf(w, "nostr_decrypt_failures_total %d\n\n", decryptFailuresTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_messages_sent_total Direct messages accepted by at least one relay\n")
		fmt.Fprintf(w, "# TYPE nostr_messages_sent_total counter\n")
		fmt.Fprintf(w, "nostr_messages_sent_total %d\n\n", messagesSentTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_send_fallbacks_total Sends that fell back to the legacy scheme\n")
		fmt.Fprintf(w, "# TYPE nostr_send_fallbacks_total counter\n")
		fmt.Fprintf(w, "nostr_send_fallbacks_total %d\n\n", sendFallbacksTotal.Load())

		fmt.Fprintf(w, "# HELP nostr_send_failures_total Sends rejected by every relay\n")
		fmt.Fprintf(w, "# TYPE nostr_send_failures_total counter\n")
		fmt.Fprintf(w, "nostr_send_failures_total %d\n\n", sendFailuresTotal.Load())

		// Notification metrics
		fmt.Fprintf(w, "# HELP nostr_notifications_total Notification items produced\n")
		fmt.Fprintf(w, "# TYPE nostr_notifications_total counter\n")
		fmt.Fprintf(w, "nostr_notifications_total %d\n\n", notificationsTotal.Load())

		// Cache metrics
		cacheHits := cacheHitsTotal.Load()
		cacheMisses := cacheMissesTotal.Load()

		fmt.Fprintf(w, "# HELP cache_hits_total Total cache hits\n")
		fmt.Fprintf(w, "# TYPE cache_hits_total counter\n")
		fmt.Fprintf(w, "cache_hits_total %d\n\n", cacheHits)

		fmt.Fprintf(w, "# HELP cache_misses_total Total cache misses\n")
		fmt.Fprintf(w, "# TYPE cache_misses_total counter\n")
		fmt.Fprintf(w, "cache_misses_total %d\n\n", cacheMisses)

		// Cache hit ratio (useful for alerting)
		var hitRatio float64
		if total := cacheHits + cacheMisses; total > 0 {
			hitRatio = float64(cacheHits) / float64(total)
		}
		fmt.Fprintf(w, "# HELP cache_hit_ratio Cache hit ratio (0-1)\n")
		fmt.Fprintf(w, "# TYPE cache_hit_ratio gauge\n")
		fmt.Fprintf(w, "cache_hit_ratio %.4f\n", hitRatio)
	}
}
