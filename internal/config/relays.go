package config

import (
	"encoding/json"
	"log/slog"
	"os"
)

// Relays holds the relay lists used for sync queries, publishing, and
// profile lookups.
type Relays struct {
	DefaultRelays []string `json:"defaultRelays"`
	PublishRelays []string `json:"publishRelays"`
	ProfileRelays []string `json:"profileRelays"`
}

// loadRelays reads the JSON relay file pointed to by RELAYS_FILE. A
// missing or broken file falls back to the embedded defaults; lists the
// file leaves empty fall back individually.
func loadRelays() Relays {
	path := getEnv("RELAYS_FILE", "config/relays.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("relays file not found, using defaults", "path", path)
		} else {
			slog.Warn("could not read relays file, using defaults", "path", path, "error", err)
		}
		return defaultRelays()
	}

	var r Relays
	if err := json.Unmarshal(data, &r); err != nil {
		slog.Error("invalid JSON in relays file, using defaults", "path", path, "error", err)
		return defaultRelays()
	}

	defaults := defaultRelays()
	if len(r.DefaultRelays) == 0 {
		r.DefaultRelays = defaults.DefaultRelays
	}
	if len(r.PublishRelays) == 0 {
		r.PublishRelays = defaults.PublishRelays
	}
	if len(r.ProfileRelays) == 0 {
		r.ProfileRelays = defaults.ProfileRelays
	}

	slog.Info("loaded relay configuration",
		"path", path,
		"default", len(r.DefaultRelays),
		"publish", len(r.PublishRelays),
		"profile", len(r.ProfileRelays))
	return r
}

func defaultRelays() Relays {
	return Relays{
		DefaultRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://relay.primal.net",
			"wss://nos.lol",
			"wss://nostr.mom",
		},
		PublishRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://relay.primal.net",
		},
		ProfileRelays: []string{
			"wss://relay.nostr.band",
		},
	}
}
