package odb

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// TreeBuilder accumulates sequentially-named entries for a payload tree
// (spec §3: "numbered entries (\"0\", \"1\", …)"). Entries are always
// regular-mode blobs: the payload tree never nests, since every wrapped
// object (whatever its own kind) is stored as ciphertext in a flat blob.
type TreeBuilder struct {
	entries []object.TreeEntry
}

// Len returns the number of entries added so far, which is also the index
// name Add gives the next entry (spec §4.5: "ordering is thus fully
// determined by... the current size of the tree builder").
func (b *TreeBuilder) Len() int {
	return len(b.entries)
}

// Add appends a new entry named by the builder's current length and
// returns the index used, so callers can log/debug it if needed.
func (b *TreeBuilder) Add(id plumbing.Hash) int {
	idx := len(b.entries)
	b.entries = append(b.entries, object.TreeEntry{
		Name: fmt.Sprintf("%d", idx),
		Mode: filemode.Regular,
		Hash: id,
	})
	return idx
}

// Build returns the (unwritten) tree described by the entries added so far.
func (b *TreeBuilder) Build() *object.Tree {
	return &object.Tree{Entries: b.entries}
}
