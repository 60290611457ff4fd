package walker

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
	"github.com/git-incrypt/git-incrypt/internal/objectmap"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

// clearIDSize is the width of the clear_id prefix embedded in every
// wrapped-object blob (spec §3: "clear_id(20)").
const clearIDSize = 20

// wrappedRecordMinLen is the minimum length of a decrypted wrapped-object
// payload: a 20-byte clear id plus a 1-byte type tag (spec §3, "Wrapped-
// object blobs").
const wrappedRecordMinLen = clearIDSize + 1

// RefTip is one managed reference the decryption walker should resolve
// to a cleartext tip (spec §4.6's entry point).
type RefTip struct {
	ClearName string
	WrapperID plumbing.Hash
}

// RefResult is the decrypted counterpart of a RefTip.
type RefResult struct {
	ClearName string
	ClearID   plumbing.Hash
}

// DecryptWalker is the decryption walker (C6): given ciphertext tip
// wrappers, it discovers new wrappers and reconstructs cleartext objects.
type DecryptWalker struct {
	ER  *odb.Store
	CR  *odb.Store
	Map *objectmap.Map
	Key []byte
}

// FetchRefs decrypts every wrapper reachable from tips that has not
// already been decrypted, writing cleartext objects into CR and recording
// clear -> wrapper entries in Map, then returns each tip's cleartext id
// (spec §4.6's entry point).
func (w *DecryptWalker) FetchRefs(tips []RefTip) ([]RefResult, error) {
	ids := make([]plumbing.Hash, len(tips))
	for i, t := range tips {
		ids[i] = t.WrapperID
	}

	d := newDiscoverer(w.done, w.nodeDeps)
	if err := d.discover(ids); err != nil {
		return nil, err
	}

	err := d.drain(func(id plumbing.Hash, _ odb.Kind) error {
		return w.decryptWrapper(id)
	})
	if err != nil {
		return nil, err
	}

	results := make([]RefResult, 0, len(tips))
	for _, t := range tips {
		clearID, ok := w.Map.Clear(t.WrapperID)
		if !ok {
			return nil, fmt.Errorf("%w: wrapper %s for %q was never decrypted", kerrors.ErrIncompleteGraph, t.WrapperID, t.ClearName)
		}
		results = append(results, RefResult{ClearName: t.ClearName, ClearID: clearID})
	}
	return results, nil
}

// done reports whether a wrapper has already been decrypted into a
// cleartext object that still exists in CR (spec §4.6, "incremental
// fetch").
func (w *DecryptWalker) done(wrapperID plumbing.Hash) bool {
	clearID, ok := w.Map.Clear(wrapperID)
	return ok && w.CR.Has(clearID)
}

// nodeDeps treats a wrapper's parents as its dependencies. Wrapper
// commits always decode as commits regardless of whether they represent a
// cleartext commit or tag (spec §4.6 discovers "wrapper commits", never
// wrapper tags).
func (w *DecryptWalker) nodeDeps(wrapperID plumbing.Hash) (odb.Kind, []plumbing.Hash, error) {
	commit, err := w.ER.Commit(wrapperID)
	if err != nil {
		return 0, nil, err
	}
	return odb.KindCommit, commit.ParentHashes, nil
}

// decryptWrapper decrypts every entry of a wrapper's payload tree,
// writing each cleartext object into CR, and records the wrapper's
// cleartext commit-or-tag id in Map (spec §4.6).
func (w *DecryptWalker) decryptWrapper(wrapperID plumbing.Hash) error {
	commit, err := w.ER.Commit(wrapperID)
	if err != nil {
		return err
	}
	tree, err := w.ER.Tree(commit.TreeHash)
	if err != nil {
		return err
	}

	var clearTip plumbing.Hash
	haveTip := false

	for _, entry := range tree.Entries {
		blob, err := w.ER.Blob(entry.Hash)
		if err != nil {
			return err
		}
		r, err := blob.Reader()
		if err != nil {
			return err
		}
		ciphertext, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return err
		}

		plain, err := crypt.Decrypt(ciphertext, w.Key)
		if err != nil {
			return err
		}
		if len(plain) < wrappedRecordMinLen {
			return fmt.Errorf("%w: wrapped entry %q too short", kerrors.ErrCorruptCipher, entry.Name)
		}

		var clearID plumbing.Hash
		copy(clearID[:], plain[:clearIDSize])
		kind, err := odb.KindFromByte(plain[clearIDSize])
		if err != nil {
			return err
		}
		body := plain[wrappedRecordMinLen:]

		writtenID, err := w.CR.WriteRaw(kind, body)
		if err != nil {
			return err
		}
		if !bytes.Equal(writtenID[:], clearID[:]) {
			return fmt.Errorf("%w: wrapped entry %q hashed to %s, want %s", kerrors.ErrCorruptCipher, entry.Name, writtenID, clearID)
		}

		if kind == odb.KindCommit || kind == odb.KindTag {
			clearTip = writtenID
			haveTip = true
		}
	}

	if !haveTip {
		return fmt.Errorf("%w: wrapper %s has no commit or tag entry in its payload", kerrors.ErrCorruptCipher, wrapperID)
	}

	w.Map.Put(clearTip, wrapperID)
	return nil
}
