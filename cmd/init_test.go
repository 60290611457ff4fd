package cmd

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-git/go-git/v5"

	"github.com/git-incrypt/git-incrypt/internal/keytool"
	"github.com/git-incrypt/git-incrypt/internal/metadata"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

// fakeKeyTool mirrors internal/keytool's test fixture: a fake key-management
// program that echoes stdin back, so wrap/unwrap round-trips as identity.
func fakeKeyTool(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake key tool script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-keytool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat\nexit 0\n"), 0700); err != nil {
		t.Fatalf("writing fake key tool: %v", err)
	}
	return path
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
	return dir
}

func TestInitCreatesMetadataRecord(t *testing.T) {
	ResetGlobalState()
	defer ResetGlobalState()
	SetVerbose(true)

	dir := chdirTemp(t)
	toolPath := fakeKeyTool(t)

	root := GetRootCmd()
	root.SetArgs([]string{"init", "--key-tool", toolPath, "alice@example.com"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	store := odb.NewStore(repo.Storer)

	rec, err := metadata.Read(context.Background(), store, keytool.New(toolPath))
	if err != nil {
		t.Fatalf("metadata.Read() error = %v", err)
	}
	if len(rec.Key) == 0 {
		t.Fatal("metadata record has no key")
	}
	if rec.DefaultBranch != defaultBranchName {
		t.Fatalf("DefaultBranch = %q, want %q", rec.DefaultBranch, defaultBranchName)
	}
}

func TestInitRequiresAtLeastOneRecipient(t *testing.T) {
	ResetGlobalState()
	defer ResetGlobalState()
	SetVerbose(true)

	chdirTemp(t)
	toolPath := fakeKeyTool(t)

	root := GetRootCmd()
	root.SetArgs([]string{"init", "--key-tool", toolPath})
	if err := root.Execute(); err == nil {
		t.Fatal("Execute() with no recipients: want error, got nil")
	}
}

func TestExpandRecipientsGlobsLocalFiles(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.Mkdir(filepath.Join(dir, "keys"), 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	for _, name := range []string{"a.pub", "b.pub"} {
		if err := os.WriteFile(filepath.Join(dir, "keys", name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	recipients, err := expandRecipients([]string{"keys/*.pub", "literal@example.com"})
	if err != nil {
		t.Fatalf("expandRecipients() error = %v", err)
	}
	if len(recipients) != 3 {
		t.Fatalf("expandRecipients() = %v, want 3 entries", recipients)
	}
}

func TestExpandRecipientsGlobWithNoMatchesErrors(t *testing.T) {
	chdirTemp(t)
	if _, err := expandRecipients([]string{"keys/*.pub"}); err == nil {
		t.Fatal("expandRecipients() with no matches: want error, got nil")
	}
}
