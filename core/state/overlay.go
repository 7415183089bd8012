package state

import "sort"

// Overlay stages writes on top of a base store. Operations run against an
// overlay so a failure leaves the base untouched: Commit flushes every staged
// write, Discard drops them all. This is how the three marketplace operations
// get their all-or-nothing semantics.
type Overlay struct {
	base   KV
	writes map[string][]byte
}

// NewOverlay creates an empty overlay on top of the base store.
func NewOverlay(base KV) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string][]byte),
	}
}

// Put stages a write without touching the base store.
func (o *Overlay) Put(key []byte, value []byte) error {
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Get reads through staged writes into the base store.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.writes[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

// Has reports whether the key is present in the overlay or the base store.
func (o *Overlay) Has(key []byte) (bool, error) {
	if _, ok := o.writes[string(key)]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

// Commit flushes staged writes to the base store in deterministic key order.
func (o *Overlay) Commit() error {
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := o.base.Put([]byte(key), o.writes[key]); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.writes = make(map[string][]byte)
}
