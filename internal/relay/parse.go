package relay

import (
	"log/slog"

	"nostr-messenger/internal/crypto"
	"nostr-messenger/internal/logging"
	"nostr-messenger/internal/types"
)

// parseEvent converts raw websocket data to an Event without re-encoding
// through JSON. Events whose id or signature do not verify are dropped.
func parseEvent(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	evt := types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	if tags, ok := m["tags"].([]interface{}); ok {
		evt.Tags = make([][]string, 0, len(tags))
		for _, tag := range tags {
			if tagArr, ok := tag.([]interface{}); ok {
				strTag := make([]string, 0, len(tagArr))
				for _, elem := range tagArr {
					if s, ok := elem.(string); ok {
						strTag = append(strTag, s)
					}
				}
				evt.Tags = append(evt.Tags, strTag)
			}
		}
	}

	if evt.ID == "" {
		return types.Event{}, false
	}
	if !crypto.VerifyEvent(&evt) {
		slog.Warn("dropping event that fails verification", "event_id", logging.ShortID(evt.ID))
		return types.Event{}, false
	}

	return evt, true
}
