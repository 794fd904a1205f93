package types

// Event represents a Nostr event
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`

	// RelaysSeen tracks which relays this event was seen on (not part of Nostr protocol)
	RelaysSeen []string `json:"-"`
}

// Event kinds handled by this module
const (
	KindProfile     = 0
	KindNote        = 1
	KindContacts    = 3
	KindLegacyDM    = 4
	KindRepost      = 6
	KindReaction    = 7
	KindSeal        = 13
	KindChatMessage = 14
	KindGiftWrap    = 1059
	KindNutzap      = 9321
	KindZapRequest  = 9734
	KindZapReceipt  = 9735
)

// Filter represents a Nostr subscription filter
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	ETags   []string `json:"#e,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// NostrMessage represents a message to/from a relay
type NostrMessage []interface{}
