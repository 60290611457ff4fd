// Package errors declares the sentinel errors used throughout git-incrypt.
//
// Call sites wrap these with context via fmt.Errorf("...: %w", err) and
// callers identify a failure kind with errors.Is.
package errors

import "errors"

// Metadata errors indicate the remote's metadata record (refs/heads/_) is
// missing, unreadable, or fails validation.
var (
	// ErrCorruptMetadata indicates the metadata record failed a version,
	// key, or SHA-1 prefix check. Fatal.
	ErrCorruptMetadata = errors.New("corrupt metadata record")

	// ErrKeyVersionMismatch indicates the key blob's format tag did not
	// match the expected "AES-256-CBC+IV" tag.
	ErrKeyVersionMismatch = errors.New("unexpected key format version")

	// ErrNoMetadata indicates the encrypted repository has not been
	// initialized (refs/heads/_ does not exist).
	ErrNoMetadata = errors.New("encrypted repository has no metadata record")
)

// Cipher errors indicate failures in the symmetric codec.
var (
	// ErrCorruptCipher indicates decryption failed due to bad padding or
	// input that is not a multiple of the block size. Fatal for the
	// current command.
	ErrCorruptCipher = errors.New("corrupt ciphertext")

	// ErrInvalidKeyLength indicates the key material is not 48 bytes.
	ErrInvalidKeyLength = errors.New("invalid key length, expected 48 bytes")
)

// Reference errors indicate a reference on the encrypted repository is not
// decryptable under the current key.
var (
	// ErrForeignReference indicates a ref did not decrypt under this
	// repository's key. Not fatal — the caller treats it as foreign and
	// ignores it.
	ErrForeignReference = errors.New("reference is not managed by this key")
)

// Graph errors indicate a problem with the object graph being walked.
var (
	// ErrIncompleteGraph indicates discovery finished with unprocessed
	// pending nodes. Fatal; indicates data loss or an implementation bug.
	ErrIncompleteGraph = errors.New("object graph discovery left pending nodes unresolved")

	// ErrUnexpectedType indicates a non-commit/tag object appeared where
	// one is required (a parent, a tag target, or a walk tip).
	ErrUnexpectedType = errors.New("unexpected object type")
)

// Transport and key-tool errors indicate an external collaborator failed.
var (
	// ErrTransportFailure indicates the underlying fetch/push returned a
	// non-zero status. Reported per-ref on push, fatal on fetch.
	ErrTransportFailure = errors.New("transport operation failed")

	// ErrKeyToolFailure indicates the external key-management program
	// exited non-zero.
	ErrKeyToolFailure = errors.New("key management program failed")

	// ErrRecipientRequired indicates init was called with no recipients.
	ErrRecipientRequired = errors.New("at least one recipient key is required")
)
