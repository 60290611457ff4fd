// Package helper implements the remote-helper line protocol (spec §4.8,
// §6): the adapter the host VCS invokes as `git-remote-incrypt <name>
// <url>`, translating `list`/`fetch`/`push`/`option` commands on stdio
// into calls against internal/metadata, internal/objectmap,
// internal/walker, and internal/mirror.
package helper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	kconfig "github.com/git-incrypt/git-incrypt/internal/config"
	kerrors "github.com/git-incrypt/git-incrypt/internal/errors"
	"github.com/git-incrypt/git-incrypt/internal/keytool"
	logger "github.com/git-incrypt/git-incrypt/internal/logging"
	"github.com/git-incrypt/git-incrypt/internal/metadata"
	"github.com/git-incrypt/git-incrypt/internal/mirror"
	"github.com/git-incrypt/git-incrypt/internal/objectmap"
	"github.com/git-incrypt/git-incrypt/internal/odb"
	"github.com/git-incrypt/git-incrypt/internal/refname"
	"github.com/git-incrypt/git-incrypt/internal/walker"
)

// Helper drives one remote-helper invocation for a single remote name/url
// pair over its lifetime (spec §4.8, "invoked as a child process").
type Helper struct {
	Settings *kconfig.RepoSettings
	CR       *odb.Store
	URL      string
	Tool     keytool.Tool
	Log      logger.Logger

	options kconfig.HelperOptions
	mirror  *mirror.Manager

	// Loaded lazily by ensureLoaded, on the first command that needs the
	// metadata record (spec §4.7, "lazily cloned").
	er     *odb.Store
	rec    *metadata.Record
	objMap *objectmap.Map
}

// New returns a Helper for one remote-helper invocation.
func New(settings *kconfig.RepoSettings, cr *odb.Store, url string, tool keytool.Tool, log logger.Logger) *Helper {
	return &Helper{
		Settings: settings,
		CR:       cr,
		URL:      url,
		Tool:     tool,
		Log:      log,
		options:  kconfig.DefaultHelperOptions(),
		mirror:   mirror.New(settings, url, log),
	}
}

// Run reads remote-helper commands from in and writes responses to out
// until in is exhausted (spec §4.8). The helper is single-threaded and
// synchronous: each command runs to completion before the next is read
// (spec §5).
func (h *Helper) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(out)

	for scanner.Scan() {
		line := scanner.Text()
		var err error
		switch {
		case line == "":
			continue
		case line == "capabilities":
			err = h.handleCapabilities(w)
		case line == "list" || line == "list for-push":
			err = h.handleList(ctx, w)
		case strings.HasPrefix(line, "option "):
			err = h.handleOption(line, w)
		case strings.HasPrefix(line, "fetch "):
			var batch []string
			if batch, err = readBatch(scanner, line); err == nil {
				err = h.handleFetch(ctx, batch, w)
			}
		case strings.HasPrefix(line, "push "):
			var batch []string
			if batch, err = readBatch(scanner, line); err == nil {
				err = h.handlePush(ctx, batch, w)
			}
		default:
			err = fmt.Errorf("unrecognized remote-helper command %q", line)
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

// readBatch collects the lines of a batched command (fetch/push), which
// the host terminates with a blank line (spec §4.8's table).
func readBatch(scanner *bufio.Scanner, first string) ([]string, error) {
	batch := []string{first}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			return batch, nil
		}
		batch = append(batch, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (h *Helper) handleCapabilities(w *bufio.Writer) error {
	fmt.Fprint(w, "fetch\npush\noption\n\n")
	return w.Flush()
}

// handleOption negotiates one option, per spec §4.8's supported set and
// SPEC_FULL.md §4 item 2's verbosity mapping onto the ambient logger.
func (h *Helper) handleOption(line string, w *bufio.Writer) error {
	rest := strings.TrimPrefix(line, "option ")
	name, value, ok := strings.Cut(rest, " ")
	if !ok || !kconfig.SupportedOptions[name] {
		fmt.Fprint(w, "unsupported\n")
		return w.Flush()
	}

	switch name {
	case "atomic":
		h.options.Atomic = value == "true"
	case "progress":
		h.options.Progress = value == "true"
	case "followtags":
		h.options.FollowTags = value == "true"
	case "verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			n = 0
		}
		h.options.Verbosity = n
		h.Log.Verbose = n >= 1
		h.Log.Debug = n >= 2
	}

	fmt.Fprint(w, "ok\n")
	return w.Flush()
}

// ensureLoaded fetches the mirror and reads its metadata record on first
// use, then caches both for the remainder of this process's lifetime
// (spec §4.7, "lazily cloned").
func (h *Helper) ensureLoaded(ctx context.Context) error {
	if h.rec != nil {
		return nil
	}

	repo, err := h.mirror.Fetch(ctx)
	if err != nil {
		return err
	}
	h.er = odb.NewStore(repo.Storer)

	rec, err := metadata.Read(ctx, h.er, h.Tool)
	if err != nil {
		return err
	}
	m, err := objectmap.Load(rec.MapCiphertext, rec.Key)
	if err != nil {
		return err
	}

	h.rec = rec
	h.objMap = m
	return nil
}

// handleList decrypts every managed ER ref into the CR, refreshes the
// shadow refs under refs/incrypt/<hash>/ and prunes stale ones, then
// reports each managed ref's cleartext id and name (spec §4.8's `list`).
func (h *Helper) handleList(ctx context.Context, w *bufio.Writer) error {
	if err := h.ensureLoaded(ctx); err != nil {
		return err
	}

	iter, err := h.er.IterReferences()
	if err != nil {
		return err
	}
	managed := make(map[string]bool)
	var tips []walker.RefTip
	iterErr := iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().String() == metadata.RefName || ref.Type() != plumbing.HashReference {
			return nil
		}
		clearName, derr := refname.Decrypt(ref.Name().String(), h.rec.Key)
		if derr != nil {
			if errors.Is(derr, kerrors.ErrForeignReference) {
				return nil
			}
			return derr
		}
		managed[clearName] = true
		tips = append(tips, walker.RefTip{ClearName: clearName, WrapperID: ref.Hash()})
		return nil
	})
	iter.Close()
	if iterErr != nil {
		return iterErr
	}

	dw := &walker.DecryptWalker{ER: h.er, CR: h.CR, Map: h.objMap, Key: h.rec.Key}
	results, err := dw.FetchRefs(tips)
	if err != nil {
		return err
	}

	if err := h.syncShadowRefs(results); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ClearName < results[j].ClearName })

	if managed[h.rec.DefaultBranch] {
		fmt.Fprintf(w, "@%s HEAD\n", h.rec.DefaultBranch)
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s %s\n", r.ClearID, r.ClearName)
	}
	fmt.Fprint(w, "\n")
	return w.Flush()
}

// syncShadowRefs writes one shadow ref per decrypted tip and deletes any
// shadow ref left over from a ref that is no longer managed (spec §4.8,
// "stale shadows not matching any current ER ref are deleted on every
// list").
func (h *Helper) syncShadowRefs(results []walker.RefResult) error {
	prefix := kconfig.ShadowNamespace(h.URL)

	iter, err := h.CR.IterReferences()
	if err != nil {
		return err
	}
	stale := make(map[plumbing.ReferenceName]bool)
	iterErr := iter.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(ref.Name().String(), prefix) {
			stale[ref.Name()] = true
		}
		return nil
	})
	iter.Close()
	if iterErr != nil {
		return iterErr
	}

	for _, r := range results {
		name := h.shadowRef(r.ClearName)
		if err := h.CR.SetReference(plumbing.NewHashReference(name, r.ClearID)); err != nil {
			return err
		}
		delete(stale, name)
	}

	for name := range stale {
		if err := h.CR.RemoveReference(name); err != nil {
			return err
		}
	}
	return nil
}

func (h *Helper) shadowRef(clearName string) plumbing.ReferenceName {
	return plumbing.ReferenceName(kconfig.ShadowNamespace(h.URL) + strings.TrimPrefix(clearName, "refs/"))
}

// handleFetch is a no-op: the objects it would fetch were already
// materialized into CR as a side effect of the preceding list (spec
// §4.8's table, "the fetch already happened as a side effect of list").
func (h *Helper) handleFetch(ctx context.Context, _ []string, w *bufio.Writer) error {
	if err := h.ensureLoaded(ctx); err != nil {
		return err
	}
	fmt.Fprint(w, "\n")
	return w.Flush()
}

// pushSpec is one parsed "push [+]src:dst" line.
type pushSpec struct {
	force bool
	src   string // cleartext ref in CR to read; empty means delete dst
	dst   string // cleartext ref name as seen through the ER
}

func parsePushLine(line string) (pushSpec, error) {
	rest := strings.TrimPrefix(line, "push ")
	force := strings.HasPrefix(rest, "+")
	rest = strings.TrimPrefix(rest, "+")
	src, dst, ok := strings.Cut(rest, ":")
	if !ok {
		return pushSpec{}, fmt.Errorf("malformed push line %q", line)
	}
	return pushSpec{force: force, src: src, dst: dst}, nil
}

// handlePush encrypts every pushed tip, updates the ER's refs and
// metadata record locally, then pushes the batch to the ER's transport in
// one call so atomic mode covers the whole set (spec §4.7, §4.8's `push`).
func (h *Helper) handlePush(ctx context.Context, batch []string, w *bufio.Writer) error {
	if err := h.ensureLoaded(ctx); err != nil {
		return err
	}

	specs := make([]pushSpec, 0, len(batch))
	for _, line := range batch {
		spec, err := parsePushLine(line)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	clearIDs := make(map[string]plumbing.Hash, len(specs))
	var tips []walker.PushTip
	for _, s := range specs {
		if s.src == "" {
			continue
		}
		ref, err := h.CR.Reference(plumbing.ReferenceName(s.src))
		if err != nil {
			return h.reportAllError(specs, fmt.Errorf("%w: resolving %s: %v", kerrors.ErrTransportFailure, s.src, err), w)
		}
		clearIDs[s.dst] = ref.Hash()
		tips = append(tips, walker.PushTip{ClearID: ref.Hash(), DstRef: s.dst, Force: s.force})
	}

	ew := &walker.EncryptWalker{CR: h.CR, ER: h.er, Map: h.objMap, Key: h.rec.Key, TemplateBody: h.rec.TemplateBody}
	tipResults, err := ew.EncryptPush(tips)
	if err != nil {
		return h.reportAllError(specs, err, w)
	}

	perRefErr := make(map[string]error, len(specs))
	refspecs := make([]gitconfig.RefSpec, 0, len(specs))

	for _, s := range specs {
		encName, err := refname.Encrypt(s.dst, h.rec.Key)
		if err != nil {
			perRefErr[s.dst] = err
			continue
		}

		if s.src == "" {
			if err := h.er.RemoveReference(plumbing.ReferenceName(encName)); err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
				perRefErr[s.dst] = err
				continue
			}
			refspecs = append(refspecs, gitconfig.RefSpec(":"+encName))
			continue
		}

		if tipErr := tipResults[s.dst]; tipErr != nil {
			perRefErr[s.dst] = tipErr
			continue
		}
		wrapperID, _ := h.objMap.Crypt(clearIDs[s.dst])
		if err := h.er.SetReference(plumbing.NewHashReference(plumbing.ReferenceName(encName), wrapperID)); err != nil {
			perRefErr[s.dst] = err
			continue
		}
		refspecs = append(refspecs, gitconfig.RefSpec("+"+encName+":"+encName))
	}

	atomic := h.options.Atomic
	if atomic && len(perRefErr) > 0 {
		return h.reportAllError(specs, fmt.Errorf("%w: atomic push aborted, %d of %d refs failed", kerrors.ErrTransportFailure, len(perRefErr), len(specs)), w)
	}

	_, err = metadata.Write(h.er, h.rec, h.objMap.Encode())
	if err != nil {
		return h.reportAllError(specs, fmt.Errorf("%w: %v", kerrors.ErrTransportFailure, err), w)
	}

	var transportErr error
	if len(refspecs) > 0 {
		transportErr = h.mirror.Push(ctx, refspecs, atomic)
	}
	if transportErr == nil {
		cache := kconfig.LoadMirrorCache(h.mirror.Path())
		cache.RemoteURL = h.URL
		cache.Atomic = atomic
		if err := kconfig.SaveMirrorCache(h.mirror.Path(), cache); err != nil {
			h.Log.Warnf("could not update mirror cache: %v", err)
		}
	}

	for _, s := range specs {
		if err, ok := perRefErr[s.dst]; ok {
			fmt.Fprintf(w, "error %s %s\n", s.dst, sanitize(err.Error()))
			continue
		}
		if transportErr != nil {
			fmt.Fprintf(w, "error %s %s\n", s.dst, sanitize(transportErr.Error()))
			continue
		}
		fmt.Fprintf(w, "ok %s\n", s.dst)
	}
	fmt.Fprint(w, "\n")
	return w.Flush()
}

// reportAllError writes an "error <dst> <reason>" line for every pending
// push line, used when a failure is not attributable to one ref alone.
func (h *Helper) reportAllError(specs []pushSpec, err error, w *bufio.Writer) error {
	for _, s := range specs {
		fmt.Fprintf(w, "error %s %s\n", s.dst, sanitize(err.Error()))
	}
	fmt.Fprint(w, "\n")
	return w.Flush()
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
