package types

// Profile contains user profile metadata (kind 0)
type Profile struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	About       string `json:"about,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Website     string `json:"website,omitempty"`
}

// BestName returns the preferred display string for a profile.
func (p *Profile) BestName() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// CachedProfile wraps a profile with cache bookkeeping. NotFound marks a
// negative entry: the lookup completed and no kind-0 event exists, so we
// avoid re-querying relays until the entry expires.
type CachedProfile struct {
	Profile   *Profile `json:"profile,omitempty"`
	FetchedAt int64    `json:"fetched_at"`
	NotFound  bool     `json:"not_found,omitempty"`
}
