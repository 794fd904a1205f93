package relay

// Deduper tracks event ids seen within one logical operation. Each
// fan-out call owns one Deduper and discards it with the call; it is
// deliberately not a shared cache, so the same event can (and should)
// be admitted again by a later operation.
//
// Not safe for concurrent use: exactly one collector goroutine owns it.
type Deduper struct {
	seen map[string]struct{}
}

// NewDeduper creates an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Admit reports whether id is new to this operation. The first call for
// an id returns true; every later call returns false.
func (d *Deduper) Admit(id string) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Len returns how many distinct ids have been admitted.
func (d *Deduper) Len() int {
	return len(d.seen)
}
