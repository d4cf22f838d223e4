// Package client is the connection layer between a local analysis
// session and the shared sync repository. It owns the master user's
// writable snapshot, read access to every other user's snapshot, and
// the pull/push cadence against the remote.
package client

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/sirupsen/logrus"

	"revsync/internal/cache"
	"revsync/internal/gitio"
	"revsync/internal/state"
	"revsync/internal/util"
)

var log = logrus.WithField("pkg", "client")

// ErrNotConnected is returned by every repository operation invoked
// before a successful Connect or after Close.
var ErrNotConnected = errors.New("not connected to a sync repository")

const (
	projectFile  = "project.toml"
	projectMagic = "revsync"
	usersDir     = "users"

	// defaultPullInterval is the minimum spacing between remote
	// fetches; Pull calls inside the window are silently skipped.
	defaultPullInterval = 10 * time.Second
)

// project is the repository-level project.toml record binding the
// repository to one binary.
type project struct {
	Magic      string `toml:"magic"`
	Version    int    `toml:"version"`
	BinaryName string `toml:"binary_name"`
	BinaryHash string `toml:"binary_hash"`
	CreatedAt  int64  `toml:"created_at"`
}

// Warning is a non-fatal finding raised during Connect. The connection
// proceeds; the caller decides whether to surface it.
type Warning struct {
	Code    string
	Message string
}

// Warning codes.
const (
	WarnHashMismatch  = "binary-hash-mismatch"
	WarnNoProjectFile = "no-project-file"
)

// Options configures Connect.
type Options struct {
	// User is the master user identity owning the writable snapshot.
	User string
	// RepoPath is the local working tree location.
	RepoPath string
	// RemoteURL, when set, is configured as origin. An empty RepoPath
	// clone target is populated from it.
	RemoteURL string
	// BinaryHash is the blake3 hex digest of the binary under
	// analysis, checked against project.toml.
	BinaryHash string
	// BinaryName names the binary in a freshly initialized project.
	BinaryName string
	// Init creates the repository and project record when RepoPath
	// holds no repository and no RemoteURL is given.
	Init bool
	// CacheDir enables the parsed-state cache when non-empty.
	CacheDir string
	// PullInterval overrides the fetch backoff window.
	PullInterval time.Duration
}

// Client is a connected session. All exported methods are safe for
// concurrent use.
type Client struct {
	mu   sync.Mutex
	repo *gitio.Repo
	sc   *cache.StateCache

	user         string
	connected    bool
	pullInterval time.Duration

	master *state.State

	lastPullAttempt time.Time
	lastPull        time.Time
	lastPush        time.Time
}

// Connect opens (or creates, or clones) the sync repository and loads
// the master user's snapshot. Integrity findings such as a binary hash
// mismatch come back as warnings, never as errors: an analyst syncing
// a patched binary revision is a supported workflow.
func Connect(opts Options) (*Client, []Warning, error) {
	if opts.User == "" {
		return nil, nil, errors.New("connect: user is required")
	}
	if opts.RepoPath == "" {
		return nil, nil, errors.New("connect: repository path is required")
	}
	if opts.PullInterval <= 0 {
		opts.PullInterval = defaultPullInterval
	}

	repo, created, err := openRepo(opts)
	if err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	if opts.RemoteURL != "" {
		if err := repo.SetRemote(opts.RemoteURL); err != nil {
			return nil, nil, err
		}
	}

	c := &Client{
		repo:         repo,
		user:         opts.User,
		connected:    true,
		pullInterval: opts.PullInterval,
	}
	if opts.CacheDir != "" {
		sc, err := cache.Open(opts.CacheDir)
		if err != nil {
			log.WithError(err).Warn("state cache unavailable, reads will re-parse")
		} else {
			c.sc = sc
		}
	}

	if created {
		if err := c.initProject(opts); err != nil {
			return nil, nil, err
		}
	} else {
		warnings = append(warnings, c.checkProject(opts)...)
	}

	master, err := c.loadMaster()
	if err != nil {
		return nil, nil, err
	}
	c.master = master

	log.WithFields(logrus.Fields{"user": opts.User, "repo": opts.RepoPath}).
		Info("connected to sync repository")
	return c, warnings, nil
}

func openRepo(opts Options) (repo *gitio.Repo, created bool, err error) {
	if _, statErr := os.Stat(filepath.Join(opts.RepoPath, ".git")); statErr == nil {
		repo, err = gitio.Open(opts.RepoPath)
		return repo, false, err
	}
	if opts.RemoteURL != "" {
		repo, err = gitio.Clone(opts.RemoteURL, opts.RepoPath)
		if err != nil && opts.Init && errors.Is(err, transport.ErrEmptyRemoteRepository) {
			// First user against a freshly created remote: nothing to
			// clone yet, so initialize locally and push later.
			repo, err = gitio.Init(opts.RepoPath)
			return repo, true, err
		}
		return repo, false, err
	}
	if !opts.Init {
		return nil, false, fmt.Errorf("no repository at %s and init not requested", opts.RepoPath)
	}
	repo, err = gitio.Init(opts.RepoPath)
	return repo, true, err
}

// initProject writes project.toml and the first commit of a fresh
// repository.
func (c *Client) initProject(opts Options) error {
	p := project{
		Magic:      projectMagic,
		Version:    1,
		BinaryName: opts.BinaryName,
		BinaryHash: opts.BinaryHash,
		CreatedAt:  util.Now(),
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encoding project record: %w", err)
	}
	w := c.repo.WorktreeWriter("")
	if err := w.WriteFile(projectFile, buf.Bytes()); err != nil {
		return err
	}
	if _, _, err := c.repo.CommitAll("initialize project", c.user); err != nil {
		return err
	}
	return nil
}

// checkProject validates project.toml against the session's binary.
func (c *Client) checkProject(opts Options) []Warning {
	raw, err := os.ReadFile(filepath.Join(c.repo.Path(), projectFile))
	if err != nil {
		return []Warning{{
			Code:    WarnNoProjectFile,
			Message: "repository has no project record; binary identity cannot be verified",
		}}
	}
	var p project
	if err := toml.Unmarshal(raw, &p); err != nil || p.Magic != projectMagic {
		return []Warning{{
			Code:    WarnNoProjectFile,
			Message: "repository project record is unreadable",
		}}
	}
	if opts.BinaryHash != "" && p.BinaryHash != "" && opts.BinaryHash != p.BinaryHash {
		return []Warning{{
			Code: WarnHashMismatch,
			Message: fmt.Sprintf("binary hash %.12s does not match project hash %.12s; artifacts may not line up",
				opts.BinaryHash, p.BinaryHash),
		}}
	}
	return nil
}

// Close releases the session. Further operations fail with
// ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.sc != nil {
		return c.sc.Close()
	}
	return nil
}

// MasterUser returns the identity owning the writable snapshot.
func (c *Client) MasterUser() string { return c.user }

// HasRemote reports whether the session can reach other analysts.
func (c *Client) HasRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	return c.repo.HasRemote()
}

//
// State access
//

// loadMaster reads the master user's snapshot from the local head, or
// starts an empty one in a fresh repository.
func (c *Client) loadMaster() (*state.State, error) {
	head, err := c.repo.Head()
	if err != nil {
		return nil, err
	}
	if head == plumbing.ZeroHash {
		return state.New(c.user), nil
	}
	s, err := c.readState(c.user, head)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return state.New(c.user), nil
		}
		return nil, err
	}
	return s, nil
}

// readState parses one user's snapshot at a pinned commit, consulting
// the cache first.
func (c *Client) readState(user string, commit plumbing.Hash) (*state.State, error) {
	if c.sc != nil {
		if s, ok, err := c.sc.Get(user, commit.String()); err == nil && ok {
			return s, nil
		}
	}
	r, err := c.repo.TreeReaderAt(commit, usersDir+"/"+user)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", user, state.ErrNotFound)
	}
	s, err := state.ParseTree(r, 0)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot for %s: %w", user, err)
	}
	if c.sc != nil {
		if err := c.sc.Put(user, commit.String(), s, util.Now()); err != nil {
			log.WithError(err).Debug("caching snapshot failed")
		}
		if err := c.sc.Prune(user, commit.String()); err != nil {
			log.WithError(err).Debug("pruning snapshot cache failed")
		}
	}
	return s, nil
}

// GetState returns a user's snapshot. The master user's is a deep copy
// of the in-session writable state, so readers never race the drain
// loop mutating it under StateCtx; any other user's is parsed from the
// freshest known commit (remote tracking head when available).
func (c *Client) GetState(user string) (*state.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	if user == "" || user == c.user {
		return c.master.Clone(), nil
	}
	commit, err := c.freshestHead()
	if err != nil {
		return nil, err
	}
	if commit == plumbing.ZeroHash {
		return nil, fmt.Errorf("snapshot for %s: %w", user, state.ErrNotFound)
	}
	return c.readState(user, commit)
}

// freshestHead prefers the remote tracking head over the local head so
// other users' states reflect the last pull.
func (c *Client) freshestHead() (plumbing.Hash, error) {
	if c.repo.HasRemote() {
		if h, err := c.repo.RemoteHead(); err == nil {
			return h, nil
		} else if !errors.Is(err, gitio.ErrNoRemoteHead) {
			return plumbing.ZeroHash, err
		}
	}
	return c.repo.Head()
}

// StateCtx runs fn with exclusive access to the master snapshot. When
// fn returns nil and mutated the snapshot, the snapshot is saved and
// committed; a non-nil error discards nothing but skips the save.
func (c *Client) StateCtx(fn func(*state.State) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if err := fn(c.master); err != nil {
		return err
	}
	if !c.master.Dirty() {
		return nil
	}
	return c.saveLocked()
}

// SaveState persists the master snapshot unconditionally.
func (c *Client) SaveState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return c.saveLocked()
}

func (c *Client) saveLocked() error {
	c.master.Version++
	if err := c.dumpMasterLocked(); err != nil {
		return err
	}
	msg := fmt.Sprintf("%s state v%d", c.user, c.master.Version)
	if _, _, err := c.repo.CommitAll(msg, c.user); err != nil {
		return err
	}
	return nil
}

// dumpMasterLocked rewrites the master user's subtree in the working
// tree without committing.
func (c *Client) dumpMasterLocked() error {
	w := c.repo.WorktreeWriter(usersDir + "/" + c.user)
	return c.master.DumpTree(w)
}

// SyncStates fast-forwards the master snapshot to another user's,
// replacing all master artifacts with theirs.
func (c *Client) SyncStates(fromUser string) error {
	other, err := c.GetState(fromUser)
	if err != nil {
		return err
	}
	return c.StateCtx(func(s *state.State) error {
		s.Copy(other)
		return nil
	})
}

//
// Remote cadence
//

// Pull fetches remote refs. Calls inside the backoff window are
// skipped, so a caller may invoke Pull on every tick and still fetch
// at most once per interval. The attempt time advances even on
// failure; a broken remote is retried at the same cadence, not
// hammered.
func (c *Client) Pull() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if time.Since(c.lastPullAttempt) < c.pullInterval {
		return nil
	}
	c.lastPullAttempt = time.Now()
	if !c.repo.HasRemote() {
		return nil
	}
	if err := c.repo.Fetch(); err != nil {
		return err
	}
	c.lastPull = time.Now()
	return nil
}

// Push publishes local commits. A rejected non-fast-forward push
// triggers the overlay merge: reset onto the remote head, re-dump the
// master subtree, commit with both parents, push again.
func (c *Client) Push() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if !c.repo.HasRemote() {
		return nil
	}
	err := c.repo.Push()
	if err == nil {
		c.lastPush = time.Now()
		return nil
	}
	if !gitio.IsNonFastForward(err) {
		return err
	}
	log.Debug("push rejected, merging remote head")
	if err := c.repo.Fetch(); err != nil {
		return err
	}
	msg := fmt.Sprintf("merge remote for %s", c.user)
	if err := c.repo.MergeRemote(c.dumpMasterLocked, msg, c.user); err != nil {
		return err
	}
	if err := c.repo.Push(); err != nil {
		return err
	}
	c.lastPush = time.Now()
	return nil
}

// Users lists every user with a snapshot, across local and remote
// heads, sorted and deduplicated.
func (c *Client) Users() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	seen := make(map[string]bool)
	heads := make([]plumbing.Hash, 0, 2)
	if h, err := c.repo.Head(); err == nil && h != plumbing.ZeroHash {
		heads = append(heads, h)
	}
	if c.repo.HasRemote() {
		if h, err := c.repo.RemoteHead(); err == nil {
			heads = append(heads, h)
		}
	}
	for _, h := range heads {
		names, err := c.repo.SubtreeNames(h, usersDir)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			seen[n] = true
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

//
// Status
//

// Status is a point-in-time summary of the session for info surfaces.
type Status struct {
	User      string
	Connected bool
	HasRemote bool
	LastPull  time.Time
	LastPush  time.Time
	Version   int
}

// Status returns the current session summary.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		User:      c.user,
		Connected: c.connected,
		LastPull:  c.lastPull,
		LastPush:  c.lastPush,
	}
	if c.connected {
		st.HasRemote = c.repo.HasRemote()
		st.Version = c.master.Version
	}
	return st
}
