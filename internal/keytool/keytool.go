// Package keytool shells out to the external key-management program that
// wraps and unwraps the repository's symmetric key (spec §1: "the
// external key-management program used to wrap/unwrap the symmetric key"
// is explicitly out of this system's scope; this package is only the
// subprocess boundary spec §6 describes).
package keytool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
)

// Tool is the name or path of the external key-management binary.
type Tool struct {
	Path string
}

// New returns a Tool invoking the named program (resolved via PATH if it
// is a bare name).
func New(path string) Tool {
	return Tool{Path: path}
}

// Wrap encrypts plaintext to every recipient in one invocation:
// "<path> -q -e -r <recipient>..." (spec §6, Environment).
func (t Tool) Wrap(ctx context.Context, recipients []string, plaintext []byte) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, kerrors.ErrRecipientRequired
	}

	args := []string{"-q", "-e"}
	for _, r := range recipients {
		args = append(args, "-r", r)
	}

	return t.run(ctx, args, plaintext)
}

// Unwrap decrypts wrapped key material: "<path> -q -d" (spec §6).
func (t Tool) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	return t.run(ctx, []string{"-q", "-d"}, wrapped)
}

func (t Tool) run(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v (%s)", kerrors.ErrKeyToolFailure, t.Path, err, stderr.String())
	}

	return stdout.Bytes(), nil
}
