// Package objectmap implements the bidirectional cleartext↔wrapper object
// map M (spec §3 "Object map M", §4.4): a total, injective mapping from
// cleartext commit-or-tag id to wrapper-commit id, persisted as a packed
// sequence of 40-byte records in the metadata record's map blob.
package objectmap

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// recordSize is the width of a single "clear_id(20) ‖ crypt_id(20)" record.
const recordSize = 2 * 20

// Map is the object map. During a push, encryption adds entries as
// wrappers are produced. During a fetch it is not read-only either: the
// decryption walker adds an entry for every wrapper it decrypts.
type Map struct {
	forward map[plumbing.Hash]plumbing.Hash // clear -> crypt, insertion order tracked separately
	reverse map[plumbing.Hash]plumbing.Hash // crypt -> clear
	order   []plumbing.Hash                 // clear ids in the order they were added, for deterministic Encode
}

// New returns an empty map. Its Encode output is the empty payload that
// init writes (spec §4.3, "Write... map... possibly empty").
func New() *Map {
	return &Map{
		forward: make(map[plumbing.Hash]plumbing.Hash),
		reverse: make(map[plumbing.Hash]plumbing.Hash),
	}
}

// FromView builds a Map preloaded with the given clear -> crypt entries,
// such as a view produced by FilterForward. The encryption walker does not
// call it: it reads the unfiltered Map and checks each wrapper's existence
// in ER itself.
func FromView(view map[plumbing.Hash]plumbing.Hash) *Map {
	m := New()
	for clear, crypt := range view {
		m.Put(clear, crypt)
	}
	return m
}

// Decode parses a decrypted map payload (the plaintext after the SHA-1
// integrity prefix has already been verified and stripped) into a Map
// with no existence filtering applied.
func Decode(payload []byte) (*Map, error) {
	if len(payload)%recordSize != 0 {
		return nil, fmt.Errorf("map payload length %d is not a multiple of %d", len(payload), recordSize)
	}
	m := New()
	for off := 0; off < len(payload); off += recordSize {
		var clear, crypt plumbing.Hash
		copy(clear[:], payload[off:off+20])
		copy(crypt[:], payload[off+20:off+40])
		m.Put(clear, crypt)
	}
	return m, nil
}

// Put inserts or overwrites the clear -> crypt association.
func (m *Map) Put(clear, crypt plumbing.Hash) {
	if _, exists := m.forward[clear]; !exists {
		m.order = append(m.order, clear)
	}
	m.forward[clear] = crypt
	m.reverse[crypt] = clear
}

// Crypt looks up the wrapper id for a cleartext id, with no filtering.
func (m *Map) Crypt(clear plumbing.Hash) (plumbing.Hash, bool) {
	crypt, ok := m.forward[clear]
	return crypt, ok
}

// Clear looks up the cleartext id for a wrapper id, with no filtering.
func (m *Map) Clear(crypt plumbing.Hash) (plumbing.Hash, bool) {
	clear, ok := m.reverse[crypt]
	return clear, ok
}

// Len returns the number of records currently held.
func (m *Map) Len() int {
	return len(m.order)
}

// Encode serializes the map to its on-disk payload: the concatenation of
// fixed-width 40-byte records in insertion order (spec §4.3, "Write").
// An empty map encodes to zero bytes, so the caller's SHA-1 integrity
// prefix alone occupies the map blob (spec §3).
func (m *Map) Encode() []byte {
	buf := make([]byte, 0, len(m.order)*recordSize)
	for _, clear := range m.order {
		crypt := m.forward[clear]
		buf = append(buf, clear[:]...)
		buf = append(buf, crypt[:]...)
	}
	return buf
}

// ExistenceChecker reports whether an object id exists in some store.
// internal/odb.Store.Has satisfies this.
type ExistenceChecker func(id plumbing.Hash) bool

// FilterForward returns the clear -> crypt view, retaining only entries
// whose crypt_id currently exists per erHas (spec §4.3, "read_map...
// reverse=false"). The encryption walker applies the same rule per lookup
// rather than through this view.
func (m *Map) FilterForward(erHas ExistenceChecker) map[plumbing.Hash]plumbing.Hash {
	out := make(map[plumbing.Hash]plumbing.Hash, len(m.order))
	for _, clear := range m.order {
		crypt := m.forward[clear]
		if erHas(crypt) {
			out[clear] = crypt
		}
	}
	return out
}

// FilterReverse returns the crypt -> clear view, retaining only entries
// whose clear_id currently exists per crHas (spec §4.3, "read_map...
// reverse=true"). The decryption walker applies the same rule per lookup
// (Clear plus a CR existence check) rather than through this view.
func (m *Map) FilterReverse(crHas ExistenceChecker) map[plumbing.Hash]plumbing.Hash {
	out := make(map[plumbing.Hash]plumbing.Hash, len(m.order))
	for _, clear := range m.order {
		crypt := m.forward[clear]
		if crHas(clear) {
			out[crypt] = clear
		}
	}
	return out
}
