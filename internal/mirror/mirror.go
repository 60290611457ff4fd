// Package mirror lazily clones, fetches, and pushes the encrypted mirror
// beneath the cleartext working repository (spec §4.7, C7).
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/google/uuid"

	"github.com/git-incrypt/git-incrypt/internal/config"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
	logger "github.com/git-incrypt/git-incrypt/internal/logging"
	"github.com/git-incrypt/git-incrypt/internal/odb"
)

// originRemote is the name of the single remote every mirror clone is
// configured with.
const originRemote = "origin"

// MetadataRefSpec force-pushes the metadata reference ahead of every other
// ref update (spec §4.7: "including a forced push of refs/heads/_").
const MetadataRefSpec = gitconfig.RefSpec("+refs/heads/_:refs/heads/_")

// Manager owns one remote URL's encrypted mirror underneath a cleartext
// repository (spec §4.7).
type Manager struct {
	Settings *config.RepoSettings
	URL      string
	Log      logger.Logger
}

// New returns a Manager for url beneath the given repository settings.
func New(settings *config.RepoSettings, url string, log logger.Logger) *Manager {
	return &Manager{Settings: settings, URL: url, Log: log}
}

// Path is the mirror's on-disk directory.
func (m *Manager) Path() string {
	return m.Settings.MirrorPath(m.URL)
}

// Open returns the mirror repository, cloning it as a bare repository on
// first use (spec §4.7, "On first use for a remote URL, clone the ER as a
// bare mirror... Disable any 'mirror' flag on the resulting remote so
// subsequent operations are explicit").
func (m *Manager) Open(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(m.Path())
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: opening mirror: %v", kerrors.ErrTransportFailure, err)
	}
	return m.clone(ctx)
}

func (m *Manager) clone(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainInit(m.Path(), true)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing mirror: %v", kerrors.ErrTransportFailure, err)
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name:   originRemote,
		URLs:   []string{m.URL},
		Mirror: false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: configuring mirror remote: %v", kerrors.ErrTransportFailure, err)
	}

	cache := config.MirrorCache{RemoteURL: m.URL, InstanceID: uuid.NewString()}
	if err := config.SaveMirrorCache(m.Path(), cache); err != nil {
		m.logf("could not persist mirror cache: %v", err)
	}

	if err := m.fetch(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// Fetch runs an incremental fetch of every ref on the ER (spec §4.7, "On
// each access, run an incremental fetch before list").
func (m *Manager) Fetch(ctx context.Context) (*git.Repository, error) {
	repo, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.fetch(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *Manager) fetch(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: originRemote,
		RefSpecs:   []gitconfig.RefSpec{"+refs/*:refs/*"},
		Force:      true,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: fetching mirror: %v", kerrors.ErrTransportFailure, err)
	}
	return nil
}

// Push pushes refspecs to the ER, always leading with a forced update of
// the metadata reference so readers never observe a tip whose wrapper is
// absent from the map (spec §5's ordering guarantee, spec §4.7). Atomic
// requests all-or-nothing application of every ref in the batch.
func (m *Manager) Push(ctx context.Context, refspecs []gitconfig.RefSpec, atomic bool) error {
	repo, err := m.Open(ctx)
	if err != nil {
		return err
	}

	all := append([]gitconfig.RefSpec{MetadataRefSpec}, refspecs...)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: originRemote,
		RefSpecs:   all,
		Atomic:     atomic,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: pushing mirror: %v", kerrors.ErrTransportFailure, err)
	}
	return nil
}

// Store opens (cloning if necessary) the mirror and wraps its object
// database for use by internal/walker and internal/metadata.
func (m *Manager) Store(ctx context.Context) (*odb.Store, error) {
	repo, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return odb.NewStore(repo.Storer), nil
}

func (m *Manager) logf(format string, args ...any) {
	m.Log.Warnf(format, args...)
}
