// Package metadata reads and writes the encrypted repository's single
// metadata record at refs/heads/_ (spec §3, §4.3): format version,
// wrapped key, template, default branch, object map, and README.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/git-incrypt/git-incrypt/internal/crypt"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
	"github.com/git-incrypt/git-incrypt/internal/keytool"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

// RefName is the single reference under which the metadata commit lives.
const RefName = "refs/heads/_"

// Version is the exact literal content of the ver blob (spec I5). Readers
// must reject anything else.
const Version = "git-incrypt\n1.0.0\n"

// KeyFormatTag is the ASCII tag prefixed to the key blob ahead of the
// wrapped key bytes, separated by a NUL (spec §3, "Key material").
const KeyFormatTag = "AES-256-CBC+IV"

// DefaultREADME is the warning text written to README.md when init is
// not given an override (see SPEC_FULL.md §4 item 1).
const DefaultREADME = `This branch is the metadata record of a git-incrypt encrypted mirror.

Every other reference in this repository is ciphertext: commits, trees,
and blobs here are unreadable without the key wrapped under "key" in
this tree. Do not edit or delete this branch by hand.
`

// Record is the decrypted content of the metadata record.
type Record struct {
	// Key is the raw 48-byte symmetric key (AES-256 key ‖ fixed IV).
	Key []byte
	// TemplateBody is the decrypted template commit body (spec §3,
	// "Template commit body"): the bytes following any tree/parent lines,
	// shared verbatim by every wrapper commit and by this record's own
	// commit envelope.
	TemplateBody []byte
	// DefaultBranch is the decrypted cleartext name of the repository's
	// default branch.
	DefaultBranch string
	// README is the literal (unencrypted) content of the README.md blob.
	README []byte
	// WrappedKey is the key blob's payload after the format tag and NUL,
	// i.e. the bytes the key tool produced and the bytes that must be
	// unwrapped again on every read.
	WrappedKey []byte
	// MapCiphertext is the raw, still-encrypted content of the map blob.
	// internal/objectmap decrypts and decodes it; metadata does not
	// interpret map records itself.
	MapCiphertext []byte
}

// Init generates a fresh key, wraps it to every recipient via tool, and
// returns a Record ready to be persisted with Write. The caller is
// responsible for surfacing Record.Key to the user out-of-band (spec §3,
// "Lifecycle": "init... returns the raw key").
func Init(ctx context.Context, tool keytool.Tool, recipients []string, templateBody []byte, defaultBranch string, readme []byte) (*Record, error) {
	key, err := crypt.NewKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	wrapped, err := tool.Wrap(ctx, recipients, key)
	if err != nil {
		return nil, err
	}

	if len(readme) == 0 {
		readme = []byte(DefaultREADME)
	}

	return &Record{
		Key:           key,
		TemplateBody:  templateBody,
		DefaultBranch: defaultBranch,
		README:        readme,
		WrappedKey:    wrapped,
	}, nil
}

// Write emits the metadata tree and commit and updates refs/heads/_,
// returning the new commit id (spec §4.3, "Write").
func Write(store *odb.Store, rec *Record, mapPayload []byte) (plumbing.Hash, error) {
	keyBlob := append([]byte(KeyFormatTag+"\x00"), rec.WrappedKey...)
	msgBlob, err := crypt.EncryptPrefixed([]byte(rec.TemplateBody), rec.Key)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encrypting template: %w", err)
	}
	defBlob, err := crypt.EncryptPrefixed([]byte(rec.DefaultBranch), rec.Key)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encrypting default branch: %w", err)
	}
	mapBlob, err := crypt.EncryptPrefixed(mapPayload, rec.Key)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encrypting map: %w", err)
	}

	verID, err := store.WriteBlob([]byte(Version))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	keyID, err := store.WriteBlob(keyBlob)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	msgID, err := store.WriteBlob(msgBlob)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defID, err := store.WriteBlob(defBlob)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	mapID, err := store.WriteBlob(mapBlob)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	readmeID, err := store.WriteBlob(rec.README)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	tree := &object.Tree{Entries: []object.TreeEntry{
		{Name: "README.md", Mode: filemode.Regular, Hash: readmeID},
		{Name: "def", Mode: filemode.Regular, Hash: defID},
		{Name: "key", Mode: filemode.Regular, Hash: keyID},
		{Name: "map", Mode: filemode.Regular, Hash: mapID},
		{Name: "msg", Mode: filemode.Regular, Hash: msgID},
		{Name: "ver", Mode: filemode.Regular, Hash: verID},
	}}
	treeID, err := store.WriteTree(tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	body := odb.BuildCommitBody(treeID, nil, rec.TemplateBody)
	commitID, err := store.WriteRaw(odb.KindCommit, body)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	ref := plumbing.NewHashReference(plumbing.ReferenceName(RefName), commitID)
	if err := store.SetReference(ref); err != nil {
		return plumbing.ZeroHash, err
	}

	return commitID, nil
}

// Read loads and validates the metadata record, unwrapping the key via
// tool (spec §4.3, "Read"). Any validation failure is ErrCorruptMetadata,
// except an unexpected key format tag, which is ErrKeyVersionMismatch;
// a missing reference is ErrNoMetadata; key-tool failure propagates as-is
// (typically ErrKeyToolFailure).
func Read(ctx context.Context, store *odb.Store, tool keytool.Tool) (*Record, error) {
	ref, err := store.Reference(plumbing.ReferenceName(RefName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrNoMetadata, err)
	}

	commit, err := store.Commit(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata commit: %v", kerrors.ErrCorruptMetadata, err)
	}
	tree, err := store.Tree(commit.TreeHash)
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata tree: %v", kerrors.ErrCorruptMetadata, err)
	}

	blobs := make(map[string][]byte, 6)
	for _, name := range []string{"ver", "key", "msg", "def", "map", "README.md"} {
		entry, err := tree.FindEntry(name)
		if err != nil {
			return nil, fmt.Errorf("%w: missing %q entry: %v", kerrors.ErrCorruptMetadata, name, err)
		}
		blob, err := store.Blob(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %q blob: %v", kerrors.ErrCorruptMetadata, name, err)
		}
		r, err := blob.Reader()
		if err != nil {
			return nil, fmt.Errorf("%w: opening %q blob: %v", kerrors.ErrCorruptMetadata, name, err)
		}
		content, err := readAllAndClose(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %q blob content: %v", kerrors.ErrCorruptMetadata, name, err)
		}
		blobs[name] = content
	}

	if string(blobs["ver"]) != Version {
		return nil, fmt.Errorf("%w: version mismatch", kerrors.ErrCorruptMetadata)
	}

	tag, wrapped, err := splitKeyBlob(blobs["key"])
	if err != nil {
		return nil, err
	}
	if tag != KeyFormatTag {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrKeyVersionMismatch, tag)
	}

	key, err := tool.Unwrap(ctx, wrapped)
	if err != nil {
		return nil, err
	}

	templateBody, err := crypt.DecryptPrefixed(blobs["msg"], key)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting template: %v", kerrors.ErrCorruptMetadata, err)
	}
	defBranch, err := crypt.DecryptPrefixed(blobs["def"], key)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting default branch: %v", kerrors.ErrCorruptMetadata, err)
	}

	return &Record{
		Key:           key,
		TemplateBody:  templateBody,
		DefaultBranch: string(defBranch),
		README:        blobs["README.md"],
		WrappedKey:    wrapped,
		MapCiphertext: blobs["map"],
	}, nil
}

func splitKeyBlob(blob []byte) (tag string, wrapped []byte, err error) {
	idx := bytes.IndexByte(blob, 0)
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: key blob missing format tag separator", kerrors.ErrCorruptMetadata)
	}
	return string(blob[:idx]), blob[idx+1:], nil
}

func readAllAndClose(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
