package resource

// Keyed is implemented by every descriptor type so Dedup can deduplicate
// by value equality while preserving first-occurrence order, matching the
// Python agent's use of a plain list plus "if x in known" checks (§3).
type Keyed interface {
	Key() string
}

// Dedup is an ordered collection of descriptors, deduplicated by Key().
// It is the "known set" every manager accumulates across one iteration's
// Ensure calls and clears on Finalise.
type Dedup[T Keyed] struct {
	order []string
	items map[string]T
}

// NewDedup returns an empty known set.
func NewDedup[T Keyed]() *Dedup[T] {
	return &Dedup[T]{items: make(map[string]T)}
}

// Add records t as known this iteration. Re-adding the same key is a no-op
// (the known set is a set, not a log) — this is what makes repeated Ensure
// calls for the same resource idempotent within one iteration.
func (d *Dedup[T]) Add(t T) {
	k := t.Key()
	if _, ok := d.items[k]; ok {
		return
	}
	d.items[k] = t
	d.order = append(d.order, k)
}

// Has reports whether key k was recorded this iteration.
func (d *Dedup[T]) Has(k string) bool {
	_, ok := d.items[k]
	return ok
}

// Get returns the descriptor recorded under key k, if any.
func (d *Dedup[T]) Get(k string) (T, bool) {
	v, ok := d.items[k]
	return v, ok
}

// Items returns the recorded descriptors in first-occurrence order.
func (d *Dedup[T]) Items() []T {
	out := make([]T, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.items[k])
	}
	return out
}

// Len reports the number of distinct descriptors recorded.
func (d *Dedup[T]) Len() int { return len(d.order) }

// Clear empties the known set. Called by every manager's Finalise after
// pruning, per §3's "known sets live only for one iteration".
func (d *Dedup[T]) Clear() {
	d.order = nil
	d.items = make(map[string]T)
}
