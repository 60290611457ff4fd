// Package odb is the thin object-database boundary spec §1 and §6 treat
// as an external collaborator: reading and writing commits, trees, tags,
// and blobs by content-addressed id, for both the cleartext repository
// and the encrypted mirror. It is a direct wrapper over go-git's plumbing
// layer, which already produces byte-identical serialization to the host
// VCS (required for spec I3, determinism, and for clear ids to match the
// host VCS's own hashes).
package odb

import (
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
)

// Kind mirrors the object variant set of spec §3: {commit, tree, tag, blob}.
type Kind byte

const (
	KindCommit Kind = 'c'
	KindTree   Kind = 't'
	KindTag    Kind = 'g'
	KindBlob   Kind = 'b'
)

// Byte returns the single-byte type tag stored in a wrapped-object blob's
// "clear_id(20) ‖ type_byte(1) ‖ raw_body" framing (spec §3).
func (k Kind) Byte() byte { return byte(k) }

// KindFromByte is the inverse of Kind.Byte.
func KindFromByte(b byte) (Kind, error) {
	switch Kind(b) {
	case KindCommit, KindTree, KindTag, KindBlob:
		return Kind(b), nil
	default:
		return 0, kerrors.ErrUnexpectedType
	}
}

func kindFromPlumbing(t plumbing.ObjectType) (Kind, error) {
	switch t {
	case plumbing.CommitObject:
		return KindCommit, nil
	case plumbing.TreeObject:
		return KindTree, nil
	case plumbing.TagObject:
		return KindTag, nil
	case plumbing.BlobObject:
		return KindBlob, nil
	default:
		return 0, kerrors.ErrUnexpectedType
	}
}

func (k Kind) plumbing() plumbing.ObjectType {
	switch k {
	case KindCommit:
		return plumbing.CommitObject
	case KindTree:
		return plumbing.TreeObject
	case KindTag:
		return plumbing.TagObject
	case KindBlob:
		return plumbing.BlobObject
	default:
		return plumbing.InvalidObject
	}
}

// Store wraps a go-git storer with the read/write operations the
// encryption and decryption walkers need. Embedding storer.Storer (rather
// than just the object half of it) also gives callers direct access to
// reference reads/writes, which internal/metadata and internal/helper need.
type Store struct {
	storer.Storer
}

// NewStore wraps an existing go-git storer (in-memory for tests,
// filesystem-backed for real repositories).
func NewStore(s storer.Storer) *Store {
	return &Store{Storer: s}
}

// Type returns the kind of the object stored under id.
func (s *Store) Type(id plumbing.Hash) (Kind, error) {
	obj, err := s.EncodedObject(plumbing.AnyObject, id)
	if err != nil {
		return 0, err
	}
	return kindFromPlumbing(obj.Type())
}

// RawBody returns an object's kind and its canonical body exactly as the
// object store emits it — i.e. without the "<type> <size>\0" header. This
// is the raw_body spec §3 specifies for wrapped-object blobs.
func (s *Store) RawBody(id plumbing.Hash) (Kind, []byte, error) {
	obj, err := s.EncodedObject(plumbing.AnyObject, id)
	if err != nil {
		return 0, nil, err
	}
	kind, err := kindFromPlumbing(obj.Type())
	if err != nil {
		return 0, nil, err
	}
	r, err := obj.Reader()
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, err
	}
	return kind, body, nil
}

// WriteRaw writes body verbatim as an object of the given kind and returns
// its content-addressed id. Used to reconstruct cleartext objects from a
// decrypted "clear_id ‖ type_byte ‖ raw_body" record (spec §4.6): because
// the hash is computed from kind+body exactly as git would, the resulting
// id always equals the original clear_id (spec I1).
func (s *Store) WriteRaw(kind Kind, body []byte) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(kind.plumbing())
	obj.SetSize(int64(len(body)))

	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}

	return s.SetEncodedObject(obj)
}

// WriteBlob stores content as a plain blob object (used for wrapped
// ciphertext entries in a payload tree, which are always blobs regardless
// of the wrapped object's own kind).
func (s *Store) WriteBlob(content []byte) (plumbing.Hash, error) {
	return s.WriteRaw(KindBlob, content)
}

// Commit, Tree, Tag, Blob decode the object at id using go-git's object
// package, which understands the full commit/tree/tag/blob grammar.
func (s *Store) Commit(id plumbing.Hash) (*object.Commit, error) {
	return object.GetCommit(s.Storer, id)
}

func (s *Store) Tree(id plumbing.Hash) (*object.Tree, error) {
	return object.GetTree(s.Storer, id)
}

func (s *Store) Tag(id plumbing.Hash) (*object.Tag, error) {
	return object.GetTag(s.Storer, id)
}

func (s *Store) Blob(id plumbing.Hash) (*object.Blob, error) {
	return object.GetBlob(s.Storer, id)
}

// WriteCommit encodes and stores a commit, returning its id.
func (s *Store) WriteCommit(c *object.Commit) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// WriteTree encodes and stores a tree, returning its id.
func (s *Store) WriteTree(t *object.Tree) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// WriteTag encodes and stores a tag, returning its id.
func (s *Store) WriteTag(tg *object.Tag) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := tg.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}
