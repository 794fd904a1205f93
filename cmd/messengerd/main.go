// Command messengerd runs the message sync daemon: it pulls and
// decrypts DMs across both schemes from the configured relays, keeps
// conversation state live, and polls the notification feed. /healthz
// and /metrics are served on LISTEN_ADDR.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nostr-messenger/internal/config"
	"nostr-messenger/internal/crypto"
	"nostr-messenger/internal/logging"
	"nostr-messenger/internal/messages"
	"nostr-messenger/internal/metrics"
	"nostr-messenger/internal/notifications"
	"nostr-messenger/internal/profile"
	"nostr-messenger/internal/relay"
	"nostr-messenger/internal/store"
)

func main() {
	logging.InitLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if len(cfg.Relays.DefaultRelays) == 0 || len(cfg.Relays.PublishRelays) == 0 {
		slog.Error("no relays configured")
		os.Exit(1)
	}

	identity, err := crypto.NewIdentity(cfg.SecretKey)
	if err != nil {
		slog.Error("invalid secret key", "error", err)
		os.Exit(1)
	}
	slog.Info("identity loaded", "npub", identity.Npub())

	kv, backend, err := store.Open(cfg.RedisURL, cfg.SQLitePath)
	if err != nil {
		slog.Error("store initialization failed", "error", err)
		os.Exit(1)
	}

	pool := relay.NewPool()
	fanout := relay.NewFanout(pool)
	readMarks := store.NewReadMarks(kv)

	directory := profile.NewDirectory(profile.DirectoryConfig{
		KV:          kv,
		Fanout:      fanout,
		QueryRelays: cfg.Relays.ProfileRelays,
	})

	convStore := messages.NewConversationStore(readMarks)
	sender := messages.NewSender(identity, fanout, cfg.Relays.PublishRelays, cfg.PublishTimeout)
	messenger := messages.NewMessenger(messages.MessengerConfig{
		Identity:     identity,
		Fanout:       fanout,
		Store:        convStore,
		Sender:       sender,
		QueryRelays:  cfg.Relays.DefaultRelays,
		Lookback:     cfg.DMLookback,
		QueryTimeout: cfg.QueryTimeout,
	})

	aggregator := notifications.NewAggregator(identity.PubKey(), readMarks, directory)
	tracker := notifications.NewTracker(kv, cfg.RecentFollowerWindow)
	notifier := notifications.NewService(notifications.ServiceConfig{
		Local:        identity.PubKey(),
		Fanout:       fanout,
		Aggregator:   aggregator,
		Tracker:      tracker,
		QueryRelays:  cfg.Relays.DefaultRelays,
		Lookback:     cfg.DMLookback,
		QueryTimeout: cfg.QueryTimeout,
		Enabled:      cfg.Notifications,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverStart := time.Now()
	serveHTTP(cfg.ListenAddr, serverStart, backend, pool)

	// Initial pass before going live.
	messenger.Sync(ctx)
	logConversations(ctx, convStore, directory)
	notifier.Refresh(ctx)

	go func() {
		if err := messenger.Run(ctx); err != nil {
			slog.Error("message stream ended", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.NotificationRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notifier.Refresh(ctx)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	cancel()
	pool.Close()
	if err := kv.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

// logConversations prints the post-sync conversation summary with
// profile names resolved through the directory.
func logConversations(ctx context.Context, convStore *messages.ConversationStore, directory *profile.Directory) {
	convs := convStore.Snapshot()
	slog.Info("conversations loaded",
		"count", len(convs),
		"unread", convStore.TotalUnread())

	peers := make([]string, 0, len(convs))
	for _, c := range convs {
		peers = append(peers, c.Peer)
	}
	profiles := directory.GetMultiple(ctx, peers)
	for i := range convs {
		convs[i].Profile = profiles[convs[i].Peer]
		slog.Info("conversation",
			"peer", logging.ShortID(convs[i].Peer),
			"name", convs[i].Profile.BestName(),
			"messages", len(convs[i].Messages),
			"unread", convs[i].Unread)
	}
}

func serveHTTP(addr string, serverStart time.Time, backend string, pool *relay.Pool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%.0f}`, time.Since(serverStart).Seconds())
	})
	mux.HandleFunc("/metrics", metrics.Handler(serverStart, backend, pool))

	go func() {
		slog.Info("http listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("http server failed", "error", err)
		}
	}()
}
