package keys

import "iter"

// Collection holds the candidate reader keys for header decryption in a
// fixed order with a moving cursor. Iteration yields every key at most once,
// starting at the cursor and wrapping. The caller that successfully used a
// key moves the cursor to it, so the next packet starts with the key that
// worked last.
type Collection struct {
	keys    []Key
	current int
}

// NewCollection builds a collection from one or more keys. Every key must be
// able to derive symmetric keys; an empty collection is rejected.
func NewCollection(candidates ...Key) (*Collection, error) {
	if len(candidates) == 0 {
		return nil, keyError("collection needs at least one key")
	}
	for i, k := range candidates {
		if !k.CanDeriveSymmetric() {
			return nil, keyError("collection key %d cannot derive symmetric keys", i)
		}
	}

	keys := make([]Key, len(candidates))
	copy(keys, candidates)
	return &Collection{keys: keys}, nil
}

// Count returns the number of keys in the collection.
func (c *Collection) Count() int {
	return len(c.keys)
}

// Key returns the key at the given index.
func (c *Collection) Key(idx int) Key {
	return c.keys[idx]
}

// Keys yields each key with its index at most once, starting at the cursor
// and wrapping around.
func (c *Collection) Keys() iter.Seq2[int, Key] {
	return func(yield func(int, Key) bool) {
		first := c.current
		for i := range c.keys {
			idx := (first + i) % len(c.keys)
			if !yield(idx, c.keys[idx]) {
				return
			}
		}
	}
}

// SetCurrent moves the cursor to the key that most recently succeeded.
// Out-of-range indices are ignored.
func (c *Collection) SetCurrent(idx int) {
	if idx >= 0 && idx < len(c.keys) {
		c.current = idx
	}
}
