package types

// NotificationType classifies what a notification is about.
type NotificationType string

const (
	NotificationReply  NotificationType = "reply"
	NotificationLike   NotificationType = "like"
	NotificationRepost NotificationType = "repost"
	NotificationZap    NotificationType = "zap"
	NotificationTip    NotificationType = "tip"
	NotificationFollow NotificationType = "follow"
)

// NotificationItem is one entry in the notification feed. Every triggering
// event produces exactly one item; nothing is grouped.
type NotificationItem struct {
	// ID is the ID of the event that triggered the notification.
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Timestamp int64            `json:"timestamp"`

	// Actor is the pubkey of whoever acted (liked, replied, zapped...).
	Actor string `json:"actor"`

	// TargetNoteID is the local user's note the action refers to.
	// Empty when the triggering event carried no usable reference.
	TargetNoteID string `json:"target_note_id,omitempty"`

	// Excerpt is a short preview of the triggering content (reply text,
	// reaction symbol, zap comment).
	Excerpt string `json:"excerpt,omitempty"`

	// AmountSats is set for zaps and tips.
	AmountSats int64 `json:"amount_sats,omitempty"`

	Profile *Profile `json:"profile,omitempty"`
}

// FollowerSnapshot is the persisted baseline of known followers.
// Followers maps pubkey to the unix time we first observed the follow,
// which is local observation time, not anything claimed by an event.
type FollowerSnapshot struct {
	Followers map[string]int64 `json:"followers"`
	// EstablishedAt is when the baseline was first created. Members
	// recorded at establishment are the pre-existing audience and are
	// never surfaced, not even as recent.
	EstablishedAt int64 `json:"established_at"`
	UpdatedAt     int64 `json:"updated_at"`
}

// Follower is one tracked follower with the unix time the follow was
// first observed locally.
type Follower struct {
	Pubkey    string `json:"pubkey"`
	FirstSeen int64  `json:"first_seen"`
}

// FollowerReport is the outcome of one follower observation pass.
type FollowerReport struct {
	// New holds followers seen for the first time in this pass.
	New []Follower `json:"new"`
	// Recent holds already-known followers first observed within the
	// configured trailing window.
	Recent []Follower `json:"recent"`
	// FirstRun is true when this pass established the baseline, in
	// which case New and Recent are empty by construction.
	FirstRun bool `json:"first_run"`
}
