package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nostr-messenger/internal/types"
)

// Config carries everything tunable about the messenger: identity, relay
// lists, lookback windows, timeouts, and the storage backend.
type Config struct {
	// SecretKey is the local identity, nsec or hex. Required.
	SecretKey string

	// ListenAddr is where the daemon serves /healthz and /metrics.
	ListenAddr string

	Relays Relays

	// DMLookback bounds how far back message sync reaches. Gift-wrap
	// queries widen this by the wrap timestamp randomization internally.
	DMLookback time.Duration

	// RecentFollowerWindow is the trailing window in which an
	// already-known follower still counts as "recent".
	RecentFollowerWindow time.Duration

	// QueryTimeout bounds one fan-out query; PublishTimeout bounds one
	// publish fan-out. Partial results past either are still used.
	QueryTimeout   time.Duration
	PublishTimeout time.Duration

	// NotificationRefresh is how often the daemon re-polls the
	// notification feed.
	NotificationRefresh time.Duration

	// Notifications maps each notification type to whether it is
	// enabled. Disabled types are neither queried nor surfaced.
	Notifications map[types.NotificationType]bool

	// Storage backend selection: Redis when RedisURL is set, else
	// SQLite when SQLitePath is set, else in-memory.
	RedisURL   string
	SQLitePath string
}

// AllNotificationTypes is the full set, enabled when NOTIFICATION_TYPES
// is unset.
var AllNotificationTypes = []types.NotificationType{
	types.NotificationReply,
	types.NotificationLike,
	types.NotificationRepost,
	types.NotificationZap,
	types.NotificationTip,
	types.NotificationFollow,
}

// Load reads configuration from the environment, loading an optional
// .env file first. Relay lists come from RELAYS_FILE when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	secretKey := getEnv("NOSTR_SECRET_KEY", "")
	if secretKey == "" {
		return nil, fmt.Errorf("NOSTR_SECRET_KEY environment variable is required")
	}

	dmDays, err := strconv.Atoi(getEnv("DM_LOOKBACK_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid DM_LOOKBACK_DAYS: %w", err)
	}

	followerDays, err := strconv.Atoi(getEnv("RECENT_FOLLOWER_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECENT_FOLLOWER_DAYS: %w", err)
	}

	queryMs, err := strconv.Atoi(getEnv("QUERY_TIMEOUT_MS", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUERY_TIMEOUT_MS: %w", err)
	}

	publishMs, err := strconv.Atoi(getEnv("PUBLISH_TIMEOUT_MS", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PUBLISH_TIMEOUT_MS: %w", err)
	}

	refreshSec, err := strconv.Atoi(getEnv("NOTIFICATION_REFRESH_SECONDS", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFICATION_REFRESH_SECONDS: %w", err)
	}

	cfg := &Config{
		SecretKey:            secretKey,
		ListenAddr:           getEnv("LISTEN_ADDR", ":8090"),
		Relays:               loadRelays(),
		DMLookback:           time.Duration(dmDays) * 24 * time.Hour,
		RecentFollowerWindow: time.Duration(followerDays) * 24 * time.Hour,
		QueryTimeout:         time.Duration(queryMs) * time.Millisecond,
		PublishTimeout:       time.Duration(publishMs) * time.Millisecond,
		NotificationRefresh:  time.Duration(refreshSec) * time.Second,
		Notifications:        parseNotificationTypes(getEnv("NOTIFICATION_TYPES", "")),
		RedisURL:             getEnv("REDIS_URL", ""),
		SQLitePath:           getEnv("SQLITE_PATH", ""),
	}

	if len(cfg.Relays.DefaultRelays) == 0 {
		return nil, fmt.Errorf("relay configuration has no default relays")
	}

	return cfg, nil
}

// parseNotificationTypes parses a comma-separated NOTIFICATION_TYPES
// value. Empty means all types enabled; unknown names are ignored with
// a warning.
func parseNotificationTypes(raw string) map[types.NotificationType]bool {
	enabled := make(map[types.NotificationType]bool)
	if strings.TrimSpace(raw) == "" {
		for _, t := range AllNotificationTypes {
			enabled[t] = true
		}
		return enabled
	}

	valid := make(map[types.NotificationType]bool, len(AllNotificationTypes))
	for _, t := range AllNotificationTypes {
		valid[t] = true
	}

	for _, part := range strings.Split(raw, ",") {
		t := types.NotificationType(strings.ToLower(strings.TrimSpace(part)))
		if t == "" {
			continue
		}
		if !valid[t] {
			slog.Warn("unknown notification type in NOTIFICATION_TYPES, ignoring", "type", string(t))
			continue
		}
		enabled[t] = true
	}
	return enabled
}

// getEnv reads an environment variable, returning fallback when unset.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
