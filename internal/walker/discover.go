// Package walker implements the encryption walker (C5) and decryption
// walker (C6): the topological object-graph transformation between the
// cleartext and encrypted repositories (spec §4.5, §4.6).
package walker

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"

	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

// discoverer implements spec §4.5's four-set discovery over commit/tag
// nodes: found (the work queue below), pending, ready, and processed.
// "processed" is not tracked as its own set — membership is exactly
// "has an entry in done" (spec §9: "membership is tested by a single
// combined lookup across the four sets").
type discoverer struct {
	// done reports whether a node already has a wrapper/cleartext
	// counterpart — the encryption walker backs this with its object map,
	// the decryption walker backs it with the CR's object store.
	done func(id plumbing.Hash) bool

	// deps returns a node's dependencies (a commit's parents, or a tag's
	// single target) plus its kind. Returns ErrUnexpectedType for
	// anything else.
	deps func(id plumbing.Hash) (kind odb.Kind, deps []plumbing.Hash, err error)

	kind     map[plumbing.Hash]odb.Kind
	nodeDeps map[plumbing.Hash][]plumbing.Hash
	children map[plumbing.Hash][]plumbing.Hash
	seen     map[plumbing.Hash]bool
	pending  map[plumbing.Hash]bool
	ready    []plumbing.Hash
}

func newDiscoverer(done func(plumbing.Hash) bool, deps func(plumbing.Hash) (odb.Kind, []plumbing.Hash, error)) *discoverer {
	return &discoverer{
		done:     done,
		deps:     deps,
		kind:     make(map[plumbing.Hash]odb.Kind),
		nodeDeps: make(map[plumbing.Hash][]plumbing.Hash),
		children: make(map[plumbing.Hash][]plumbing.Hash),
		seen:     make(map[plumbing.Hash]bool),
		pending:  make(map[plumbing.Hash]bool),
	}
}

// discover drains the found queue seeded with tips (spec §4.5, "Phase 1:
// discovery").
func (d *discoverer) discover(tips []plumbing.Hash) error {
	queue := make([]plumbing.Hash, 0, len(tips))
	for _, t := range tips {
		if d.done(t) || d.seen[t] {
			continue
		}
		d.seen[t] = true
		queue = append(queue, t)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		kind, deps, err := d.deps(id)
		if err != nil {
			return err
		}
		d.kind[id] = kind
		d.nodeDeps[id] = deps

		for _, dep := range deps {
			if d.done(dep) {
				continue
			}
			d.children[dep] = append(d.children[dep], id)
			if !d.seen[dep] {
				d.seen[dep] = true
				queue = append(queue, dep)
			}
		}

		if d.complete(id) {
			d.ready = append(d.ready, id)
		} else {
			d.pending[id] = true
		}
	}

	return nil
}

// complete reports whether every dependency of id is already done.
func (d *discoverer) complete(id plumbing.Hash) bool {
	for _, dep := range d.nodeDeps[id] {
		if !d.done(dep) {
			return false
		}
	}
	return true
}

// drain repeatedly pops from ready, invoking process, then promotes any
// pending children that have become complete (spec §4.5, "Phase 2:
// topological encryption" and its mirror in §4.6). Returns
// ErrIncompleteGraph if any node remains pending once ready is exhausted.
func (d *discoverer) drain(process func(id plumbing.Hash, kind odb.Kind) error) error {
	for len(d.ready) > 0 {
		id := d.ready[len(d.ready)-1]
		d.ready = d.ready[:len(d.ready)-1]

		if err := process(id, d.kind[id]); err != nil {
			return fmt.Errorf("processing %s: %w", id, err)
		}

		for _, child := range d.children[id] {
			if d.pending[child] && d.complete(child) {
				delete(d.pending, child)
				d.ready = append(d.ready, child)
			}
		}
	}

	if len(d.pending) > 0 {
		return kerrors.ErrIncompleteGraph
	}
	return nil
}
