package types

// Scheme identifies the encryption envelope a direct message traveled in.
type Scheme string

const (
	// SchemeNIP04 is the legacy kind-4 encrypted DM scheme.
	SchemeNIP04 Scheme = "nip04"
	// SchemeNIP17 is the gift-wrapped kind-1059 private message scheme.
	SchemeNIP17 Scheme = "nip17"
)

// Message is one decrypted direct message, normalized across schemes.
type Message struct {
	// ID is the stable identity of the message: the event ID for legacy
	// DMs, the rumor ID for gift-wrapped ones. Both physical copies of a
	// wrapped message share the same rumor, so they share the same ID.
	ID        string `json:"id"`
	Peer      string `json:"peer"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Sent      bool   `json:"sent"`
	Scheme    Scheme `json:"scheme"`

	// Raw is the event the message was decrypted from (the outer wrap
	// for gift-wrapped messages).
	Raw *Event `json:"-"`
}

// Conversation is the per-peer view the message store maintains.
type Conversation struct {
	Peer        string     `json:"peer"`
	Messages    []*Message `json:"messages"`
	LastMessage *Message   `json:"last_message,omitempty"`
	Unread      int        `json:"unread"`
	Profile     *Profile   `json:"profile,omitempty"`
}
