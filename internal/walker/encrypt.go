package walker

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
	"github.com/git-incrypt/git-incrypt/internal/objectmap"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

// PushTip is one requested ref update in an encrypt_push batch (spec §4.5).
type PushTip struct {
	ClearID plumbing.Hash
	DstRef  string
	Force   bool
}

// EncryptWalker is the encryption walker (C5): given cleartext tips, it
// discovers the transitive closure of new objects and produces ciphertext
// wrapper commits in topological order.
type EncryptWalker struct {
	CR           *odb.Store
	ER           *odb.Store
	Map          *objectmap.Map
	Key          []byte
	TemplateBody []byte
}

// EncryptPush encrypts every tip not already present in the object map,
// mutating Map and ER as it goes, and returns a per-ref result (spec
// §4.5's entry point). A non-nil top-level error means discovery itself
// failed (ErrIncompleteGraph, ErrUnexpectedType) and no ref succeeded.
func (w *EncryptWalker) EncryptPush(tips []PushTip) (map[string]error, error) {
	ids := make([]plumbing.Hash, len(tips))
	for i, t := range tips {
		ids[i] = t.ClearID
	}

	d := newDiscoverer(w.processed, w.nodeDeps)
	if err := d.discover(ids); err != nil {
		return nil, err
	}

	cache := make(map[plumbing.Hash]plumbing.Hash)
	err := d.drain(func(id plumbing.Hash, kind odb.Kind) error {
		switch kind {
		case odb.KindCommit:
			return w.encryptCommit(id, cache)
		case odb.KindTag:
			return w.encryptTag(id, cache)
		default:
			return fmt.Errorf("%w: %s", kerrors.ErrUnexpectedType, id)
		}
	})
	if err != nil {
		return nil, err
	}

	results := make(map[string]error, len(tips))
	for _, t := range tips {
		if _, ok := w.Map.Crypt(t.ClearID); !ok {
			results[t.DstRef] = fmt.Errorf("%w: %s never reached ready state", kerrors.ErrIncompleteGraph, t.ClearID)
			continue
		}
		results[t.DstRef] = nil
	}
	return results, nil
}

// processed reports whether id has a map entry whose wrapper still exists
// in ER; entries whose wrapper is gone are ignored, so the object is
// encrypted again (spec §4.3, "read_map... reverse=false").
func (w *EncryptWalker) processed(id plumbing.Hash) bool {
	crypt, ok := w.Map.Crypt(id)
	return ok && w.ER.Has(crypt)
}

func (w *EncryptWalker) nodeDeps(id plumbing.Hash) (odb.Kind, []plumbing.Hash, error) {
	kind, err := w.CR.Type(id)
	if err != nil {
		return 0, nil, err
	}
	switch kind {
	case odb.KindCommit:
		commit, err := w.CR.Commit(id)
		if err != nil {
			return 0, nil, err
		}
		return kind, commit.ParentHashes, nil
	case odb.KindTag:
		tag, err := w.CR.Tag(id)
		if err != nil {
			return 0, nil, err
		}
		return kind, []plumbing.Hash{tag.Target}, nil
	default:
		return 0, nil, fmt.Errorf("%w: %s", kerrors.ErrUnexpectedType, id)
	}
}

// encryptCommit builds a commit's self-contained payload tree — every
// object required to reconstruct it, in tree post-order, with the commit
// record itself last — writes the wrapper commit, and records the new
// clear -> wrapper entry in Map (spec §4.5, "Commit").
func (w *EncryptWalker) encryptCommit(clearID plumbing.Hash, cache map[plumbing.Hash]plumbing.Hash) error {
	commit, err := w.CR.Commit(clearID)
	if err != nil {
		return err
	}

	builder := &odb.TreeBuilder{}
	if err := wrapTree(w.CR, w.ER, commit.TreeHash, builder, cache, w.Key); err != nil {
		return err
	}
	if err := wrapLeaf(w.CR, w.ER, odb.KindCommit, clearID, builder, cache, w.Key); err != nil {
		return err
	}

	payloadTreeID, err := w.ER.WriteTree(builder.Build())
	if err != nil {
		return err
	}

	wrapperParents := make([]plumbing.Hash, len(commit.ParentHashes))
	for i, p := range commit.ParentHashes {
		wp, ok := w.Map.Crypt(p)
		if !ok {
			return fmt.Errorf("%w: parent %s of %s has no wrapper yet", kerrors.ErrIncompleteGraph, p, clearID)
		}
		wrapperParents[i] = wp
	}

	body := odb.BuildCommitBody(payloadTreeID, wrapperParents, w.TemplateBody)
	wrapperID, err := w.ER.WriteRaw(odb.KindCommit, body)
	if err != nil {
		return err
	}

	w.Map.Put(clearID, wrapperID)
	return nil
}

// encryptTag builds a tag's payload tree — just the wrapped tag record —
// and a one-parent wrapper commit pointing at the target's wrapper
// (spec §4.5, "Tag").
func (w *EncryptWalker) encryptTag(clearID plumbing.Hash, cache map[plumbing.Hash]plumbing.Hash) error {
	tag, err := w.CR.Tag(clearID)
	if err != nil {
		return err
	}

	builder := &odb.TreeBuilder{}
	if err := wrapLeaf(w.CR, w.ER, odb.KindTag, clearID, builder, cache, w.Key); err != nil {
		return err
	}

	payloadTreeID, err := w.ER.WriteTree(builder.Build())
	if err != nil {
		return err
	}

	wrapperTarget, ok := w.Map.Crypt(tag.Target)
	if !ok {
		return fmt.Errorf("%w: target %s of tag %s has no wrapper yet", kerrors.ErrIncompleteGraph, tag.Target, clearID)
	}

	body := odb.BuildCommitBody(payloadTreeID, []plumbing.Hash{wrapperTarget}, w.TemplateBody)
	wrapperID, err := w.ER.WriteRaw(odb.KindCommit, body)
	if err != nil {
		return err
	}

	w.Map.Put(clearID, wrapperID)
	return nil
}

// wrapLeaf encrypts a single non-commit-graph object (a tree, blob, or the
// commit/tag record itself) into a wrapped-object blob and appends it to
// builder, deduplicating via cache within the current push (spec §4.5,
// "cryptcache").
func wrapLeaf(cr *odb.Store, er *odb.Store, kind odb.Kind, id plumbing.Hash, builder *odb.TreeBuilder, cache map[plumbing.Hash]plumbing.Hash, key []byte) error {
	if wrapped, ok := cache[id]; ok {
		builder.Add(wrapped)
		return nil
	}

	_, body, err := cr.RawBody(id)
	if err != nil {
		return err
	}

	payload := make([]byte, 0, len(id)+1+len(body))
	payload = append(payload, id[:]...)
	payload = append(payload, kind.Byte())
	payload = append(payload, body...)

	ciphertext, err := crypt.Encrypt(payload, key)
	if err != nil {
		return err
	}

	wrapped, err := er.WriteBlob(ciphertext)
	if err != nil {
		return err
	}

	cache[id] = wrapped
	builder.Add(wrapped)
	return nil
}

// treeFrame is one level of the explicit work stack wrapTree uses instead
// of native recursion (spec §9, "Recursion on trees... use an explicit
// work stack").
type treeFrame struct {
	id      plumbing.Hash
	entries []object.TreeEntry
	index   int
}

// wrapTree walks a cleartext tree in post-order — its entries in tree
// order, descending into each sub-tree and wrapping each blob as it is
// reached, then the tree itself — appending a wrapped entry to builder for
// every object visited (spec §4.5, "Commit").
func wrapTree(cr *odb.Store, er *odb.Store, rootID plumbing.Hash, builder *odb.TreeBuilder, cache map[plumbing.Hash]plumbing.Hash, key []byte) error {
	root, err := cr.Tree(rootID)
	if err != nil {
		return err
	}

	stack := []*treeFrame{{id: rootID, entries: root.Entries}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.index >= len(top.entries) {
			if err := wrapLeaf(cr, er, odb.KindTree, top.id, builder, cache, key); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
			continue
		}

		entry := top.entries[top.index]
		top.index++

		if entry.Mode == filemode.Dir {
			subtree, err := cr.Tree(entry.Hash)
			if err != nil {
				return err
			}
			stack = append(stack, &treeFrame{id: entry.Hash, entries: subtree.Entries})
			continue
		}

		if err := wrapLeaf(cr, er, odb.KindBlob, entry.Hash, builder, cache, key); err != nil {
			return err
		}
	}

	return nil
}
