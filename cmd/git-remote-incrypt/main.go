// Command git-remote-incrypt is the remote-helper binary the host VCS
// invokes as "git-remote-incrypt <remote-name> <url>" (spec §6). It speaks
// the remote-helper line protocol on stdin/stdout via internal/helper.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"

	kconfig "github.com/git-incrypt/git-incrypt/internal/config"
	"github.com/git-incrypt/git-incrypt/internal/helper"
	"github.com/git-incrypt/git-incrypt/internal/keytool"
	logger "github.com/git-incrypt/git-incrypt/internal/logging"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

const (
	keyToolEnv     = "GIT_INCRYPT_KEYTOOL"
	defaultKeyTool = "gpg"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: git-remote-incrypt <remote-name> <url>")
		os.Exit(1)
	}
	url := os.Args[2]

	settings, err := kconfig.DiscoverRepo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-incrypt: %v\n", err)
		os.Exit(1)
	}

	fs := osfs.New(settings.GitDir)
	storer := filesystem.NewStorage(fs, cache.NewObjectLRUDefault())
	cr := odb.NewStore(storer)

	toolPath := os.Getenv(keyToolEnv)
	if toolPath == "" {
		toolPath = defaultKeyTool
	}
	tool := keytool.New(toolPath)

	log := logger.Logger{
		Verbose: os.Getenv("GIT_INCRYPT_VERBOSE") != "",
		Debug:   os.Getenv("GIT_INCRYPT_DEBUG") != "",
	}

	h := helper.New(settings, cr, url, tool, log)
	if err := h.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-incrypt: %v\n", err)
		os.Exit(1)
	}
}
