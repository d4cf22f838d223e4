// Package gitio provides the version-control transport using go-git.
// It owns all repository mechanics: init/open/clone, staging and
// committing snapshots, fetching remote heads, and the overlay merge
// that reconciles concurrent pushes. Writers only ever touch their own
// user subtree, so overlaying the local subtree onto the remote head
// is a correct merge and convergence needs no central lock.
package gitio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "gitio")

const (
	// RemoteName is the only remote the sync engine talks to.
	RemoteName = "origin"
	authorMail = "@revsync"
)

// ErrNoRemoteHead is returned when the remote tracking branch does not
// exist yet (nothing has ever been fetched or pushed).
var ErrNoRemoteHead = errors.New("remote head not found")

// Repo wraps a go-git repository with a working tree.
type Repo struct {
	repo *git.Repository
	path string
}

// Init creates a new repository at path with main as default branch.
func Init(path string) (*Repo, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating repository directory: %w", err)
	}
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing repository: %w", err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// InitBare creates a bare repository, the usual shape of the shared
// remote every analyst pushes to.
func InitBare(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating repository directory: %w", err)
	}
	_, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return fmt.Errorf("initializing bare repository: %w", err)
	}
	return nil
}

// Open opens an existing repository.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// Clone clones remoteURL into path.
func Clone(remoteURL, path string) (*Repo, error) {
	repo, err := git.PlainClone(path, false, &git.CloneOptions{
		URL:        remoteURL,
		RemoteName: RemoteName,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", remoteURL, err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// Path returns the working tree root.
func (r *Repo) Path() string { return r.path }

// SetRemote configures the origin remote, replacing any existing one.
func (r *Repo) SetRemote(url string) error {
	_ = r.repo.DeleteRemote(RemoteName)
	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name: RemoteName,
		URLs: []string{url},
	})
	if err != nil {
		return fmt.Errorf("configuring remote: %w", err)
	}
	return nil
}

// HasRemote reports whether an origin remote is configured.
func (r *Repo) HasRemote() bool {
	_, err := r.repo.Remote(RemoteName)
	return err == nil
}

// Head returns the current local head commit hash, or the zero hash in
// a freshly initialized repository.
func (r *Repo) Head() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("resolving head: %w", err)
	}
	return ref.Hash(), nil
}

// RemoteHead resolves the remote tracking ref of the current branch.
func (r *Repo) RemoteHead() (plumbing.Hash, error) {
	branch, err := r.branchName()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(RemoteName, branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, ErrNoRemoteHead
		}
		return plumbing.ZeroHash, fmt.Errorf("resolving remote head: %w", err)
	}
	return ref.Hash(), nil
}

func (r *Repo) branchName() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.Main.Short(), nil
		}
		return "", fmt.Errorf("resolving head: %w", err)
	}
	if !ref.Name().IsBranch() {
		return plumbing.Main.Short(), nil
	}
	return ref.Name().Short(), nil
}

// CommitAll stages every working-tree change and commits it. Returns
// the head hash and false when the tree was already clean.
func (r *Repo) CommitAll(message, user string) (plumbing.Hash, bool, error) {
	return r.commit(message, user, nil)
}

func (r *Repo) commit(message, user string, parents []plumbing.Hash) (plumbing.Hash, bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("staging changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("reading status: %w", err)
	}
	if status.IsClean() && parents == nil {
		head, err := r.Head()
		return head, false, err
	}
	sig := &object.Signature{
		Name:  user,
		Email: user + authorMail,
		When:  time.Now(),
	}
	opts := &git.CommitOptions{Author: sig, Committer: sig}
	if parents != nil {
		opts.Parents = parents
	}
	if status.IsClean() {
		opts.AllowEmptyCommits = true
	}
	hash, err := wt.Commit(message, opts)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("committing: %w", err)
	}
	return hash, true, nil
}

// Fetch updates the remote tracking refs. Up-to-date is not an error.
func (r *Repo) Fetch() error {
	err := r.repo.Fetch(&git.FetchOptions{RemoteName: RemoteName})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching: %w", err)
	}
	return nil
}

// Push publishes the local branch. If the remote rejects it as a
// non-fast-forward, the caller merges via MergeRemote and retries.
func (r *Repo) Push() error {
	err := r.repo.Push(&git.PushOptions{RemoteName: RemoteName})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing: %w", err)
	}
	return nil
}

// IsNonFastForward reports whether a push failed because the remote
// moved ahead.
func IsNonFastForward(err error) bool {
	return err != nil && strings.Contains(err.Error(), "non-fast-forward")
}

// MergeRemote reconciles a diverged branch: hard-reset the working
// tree to the fetched remote head, let redump rewrite the caller's own
// subtree on top of it, then commit with both heads as parents.
func (r *Repo) MergeRemote(redump func() error, message, user string) error {
	localHead, err := r.Head()
	if err != nil {
		return err
	}
	remoteHead, err := r.RemoteHead()
	if err != nil {
		return err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: remoteHead}); err != nil {
		return fmt.Errorf("resetting to remote head: %w", err)
	}
	if err := redump(); err != nil {
		return fmt.Errorf("re-dumping local subtree: %w", err)
	}
	parents := []plumbing.Hash{remoteHead}
	if localHead != plumbing.ZeroHash && localHead != remoteHead {
		parents = append(parents, localHead)
	}
	if _, _, err := r.commit(message, user, parents); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"local": localHead.String()[:8], "remote": remoteHead.String()[:8]}).
		Debug("merged diverged heads")
	return nil
}

//
// Tree access
//

// TreeReader reads one subtree at a pinned commit. It satisfies
// state.TreeReader.
type TreeReader struct {
	tree *object.Tree
}

// TreeReaderAt returns a reader rooted at prefix inside the tree of
// the given commit.
func (r *Repo) TreeReaderAt(commit plumbing.Hash, prefix string) (*TreeReader, error) {
	c, err := r.repo.CommitObject(commit)
	if err != nil {
		return nil, fmt.Errorf("resolving commit %s: %w", commit, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	if prefix != "" {
		tree, err = tree.Tree(prefix)
		if err != nil {
			return nil, fmt.Errorf("reading subtree %s: %w", prefix, err)
		}
	}
	return &TreeReader{tree: tree}, nil
}

// ReadFile returns a file's content from the pinned tree.
func (t *TreeReader) ReadFile(path string) ([]byte, error) {
	f, err := t.tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// List returns all file paths in the pinned tree.
func (t *TreeReader) List() ([]string, error) {
	var paths []string
	err := t.tree.Files().ForEach(func(f *object.File) error {
		paths = append(paths, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tree: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// SubtreeNames lists the immediate directory entries under prefix in
// the tree of the given commit.
func (r *Repo) SubtreeNames(commit plumbing.Hash, prefix string) ([]string, error) {
	c, err := r.repo.CommitObject(commit)
	if err != nil {
		return nil, fmt.Errorf("resolving commit %s: %w", commit, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	if prefix != "" {
		tree, err = tree.Tree(prefix)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("reading subtree %s: %w", prefix, err)
		}
	}
	var names []string
	for _, entry := range tree.Entries {
		if entry.Mode.IsFile() {
			continue
		}
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names, nil
}

//
// Working tree writes
//

// WorktreeWriter writes files under a prefix inside the working tree.
// It satisfies state.TreeWriter; nothing becomes visible to readers
// until the caller commits.
type WorktreeWriter struct {
	root string
}

// WorktreeWriter returns a writer rooted at prefix in the working
// tree.
func (r *Repo) WorktreeWriter(prefix string) *WorktreeWriter {
	return &WorktreeWriter{root: filepath.Join(r.path, filepath.FromSlash(prefix))}
}

// WriteFile writes one file, creating parent directories.
func (w *WorktreeWriter) WriteFile(path string, data []byte) error {
	full := filepath.Join(w.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// RemoveAll removes a directory subtree inside the writer's root.
func (w *WorktreeWriter) RemoveAll(path string) error {
	full := filepath.Join(w.root, filepath.FromSlash(path))
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
