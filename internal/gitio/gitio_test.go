package gitio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
)

func initRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("initializing repository: %v", err)
	}
	return repo
}

func writeAndCommit(t *testing.T, r *Repo, rel, content, msg string) plumbing.Hash {
	t.Helper()
	full := filepath.Join(r.Path(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("creating directories: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	hash, changed, err := r.CommitAll(msg, "tester")
	if err != nil {
		t.Fatalf("committing: %v", err)
	}
	if !changed {
		t.Fatal("expected commit to report a change")
	}
	return hash
}

func TestHead_EmptyRepo(t *testing.T) {
	r := initRepo(t)
	head, err := r.Head()
	if err != nil {
		t.Fatalf("resolving head: %v", err)
	}
	if head != plumbing.ZeroHash {
		t.Errorf("expected zero hash in empty repository, got %s", head)
	}
}

func TestCommitAll_CleanTreeIsNoOp(t *testing.T) {
	r := initRepo(t)
	first := writeAndCommit(t, r, "a.txt", "hello", "add a")

	hash, changed, err := r.CommitAll("nothing", "tester")
	if err != nil {
		t.Fatalf("committing clean tree: %v", err)
	}
	if changed {
		t.Error("expected clean tree commit to be a no-op")
	}
	if hash != first {
		t.Errorf("expected head unchanged, got %s", hash)
	}
}

func TestTreeReaderAt(t *testing.T) {
	r := initRepo(t)
	writeAndCommit(t, r, "users/alice/metadata.toml", `user = "alice"`, "alice state")
	head := writeAndCommit(t, r, "users/alice/functions.toml", "", "alice functions")

	tr, err := r.TreeReaderAt(head, "users/alice")
	if err != nil {
		t.Fatalf("opening tree reader: %v", err)
	}
	data, err := tr.ReadFile("metadata.toml")
	if err != nil {
		t.Fatalf("reading metadata: %v", err)
	}
	if string(data) != `user = "alice"` {
		t.Errorf("unexpected file content %q", data)
	}

	paths, err := tr.List()
	if err != nil {
		t.Fatalf("listing tree: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 files, got %v", paths)
	}

	if _, err := tr.ReadFile("missing.toml"); err == nil {
		t.Error("expected reading a missing file to fail")
	}
}

func TestSubtreeNames(t *testing.T) {
	r := initRepo(t)
	writeAndCommit(t, r, "users/alice/metadata.toml", "x", "alice")
	writeAndCommit(t, r, "users/bob/metadata.toml", "x", "bob")
	head := writeAndCommit(t, r, "project.toml", "x", "project")

	names, err := r.SubtreeNames(head, "users")
	if err != nil {
		t.Fatalf("listing subtrees: %v", err)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("expected [alice bob], got %v", names)
	}

	// A missing prefix is empty, not an error.
	names, err = r.SubtreeNames(head, "nonexistent")
	if err != nil {
		t.Fatalf("listing missing subtree: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no names, got %v", names)
	}
}

func TestWorktreeWriter(t *testing.T) {
	r := initRepo(t)
	w := r.WorktreeWriter("users/alice")

	if err := w.WriteFile("comments/004011a0.toml", []byte("data")); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	full := filepath.Join(r.Path(), "users", "alice", "comments", "004011a0.toml")
	if _, err := os.Stat(full); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	if err := w.RemoveAll("comments"); err != nil {
		t.Fatalf("removing directory: %v", err)
	}
	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Error("expected directory removed")
	}
}

func TestCloneFetchPushMerge(t *testing.T) {
	remotePath := filepath.Join(t.TempDir(), "remote.git")
	if err := InitBare(remotePath); err != nil {
		t.Fatalf("initializing bare remote: %v", err)
	}

	// Alice seeds the remote.
	alice := initRepo(t)
	writeAndCommit(t, alice, "project.toml", "magic", "init project")
	writeAndCommit(t, alice, "users/alice/metadata.toml", `user = "alice"`, "alice state")
	if err := alice.SetRemote(remotePath); err != nil {
		t.Fatalf("setting remote: %v", err)
	}
	if err := alice.Push(); err != nil {
		t.Fatalf("pushing seed: %v", err)
	}

	// Bob clones it.
	bob, err := Clone(remotePath, filepath.Join(t.TempDir(), "bob"))
	if err != nil {
		t.Fatalf("cloning: %v", err)
	}
	if !bob.HasRemote() {
		t.Fatal("expected clone to carry the origin remote")
	}

	// Alice advances the remote while Bob works.
	writeAndCommit(t, alice, "users/alice/functions.toml", "f", "alice functions")
	if err := alice.Push(); err != nil {
		t.Fatalf("pushing alice update: %v", err)
	}

	bobFile := filepath.Join(bob.Path(), "users", "bob", "metadata.toml")
	writeAndCommit(t, bob, "users/bob/metadata.toml", `user = "bob"`, "bob state")

	// Bob's push is now a non-fast-forward.
	err = bob.Push()
	if err == nil {
		t.Fatal("expected diverged push to fail")
	}
	if !IsNonFastForward(err) {
		t.Fatalf("expected non-fast-forward rejection, got %v", err)
	}

	// The overlay merge re-dumps Bob's subtree onto the remote head.
	if err := bob.Fetch(); err != nil {
		t.Fatalf("fetching: %v", err)
	}
	redump := func() error {
		if err := os.MkdirAll(filepath.Dir(bobFile), 0755); err != nil {
			return err
		}
		return os.WriteFile(bobFile, []byte(`user = "bob"`), 0644)
	}
	if err := bob.MergeRemote(redump, "merge remote for bob", "bob"); err != nil {
		t.Fatalf("merging remote: %v", err)
	}
	if err := bob.Push(); err != nil {
		t.Fatalf("pushing merge: %v", err)
	}

	// A fresh clone sees both subtrees.
	check, err := Clone(remotePath, filepath.Join(t.TempDir(), "check"))
	if err != nil {
		t.Fatalf("cloning for verification: %v", err)
	}
	head, err := check.Head()
	if err != nil {
		t.Fatalf("resolving head: %v", err)
	}
	names, err := check.SubtreeNames(head, "users")
	if err != nil {
		t.Fatalf("listing users: %v", err)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("expected [alice bob] after merge, got %v", names)
	}

	// Alice's update survived the merge.
	tr, err := check.TreeReaderAt(head, "users/alice")
	if err != nil {
		t.Fatalf("opening alice subtree: %v", err)
	}
	if _, err := tr.ReadFile("functions.toml"); err != nil {
		t.Errorf("expected alice's functions file after merge: %v", err)
	}
}
