package odb

import "github.com/go-git/go-git/v5/plumbing"

// Has reports whether an object with the given id exists in the store,
// without decoding it. Used by internal/walker to ignore stale map
// entries whose target no longer exists (spec §4.3, "read_map"); it also
// satisfies internal/objectmap.ExistenceChecker.
func (s *Store) Has(id plumbing.Hash) bool {
	return s.HasEncodedObject(id) == nil
}
