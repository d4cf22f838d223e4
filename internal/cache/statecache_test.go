package cache

import (
	"testing"

	"revsync/internal/artifact"
	"revsync/internal/state"
)

func openCache(t *testing.T) *StateCache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleState() *state.State {
	s := state.New("alice")
	s.Version = 3
	s.SetFunction(artifact.NewFunction(0x4011a0, "parse_header"), false)
	s.SetComment(artifact.NewComment(0x4011a0, 0x4011b0, "checks magic", false), false)
	s.SetStackVariable(artifact.NewStackVariable(0x4011a0, -0x18, artifact.OffsetIDA, "buf", "char[16]", 16), false)
	st := artifact.NewStruct("header_t", 24)
	st.AddMember("magic", 0, "uint32_t", 4)
	s.SetStruct(st, "", false)
	return s
}

func TestStateCache_RoundTrip(t *testing.T) {
	c := openCache(t)
	s := sampleState()

	if err := c.Put("alice", "deadbeef", s, 100); err != nil {
		t.Fatalf("putting state: %v", err)
	}
	loaded, ok, err := c.Get("alice", "deadbeef")
	if err != nil {
		t.Fatalf("getting state: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if !loaded.Equal(s) {
		t.Error("expected cached state to equal the original")
	}
	if loaded.User != "alice" || loaded.Version != 3 {
		t.Errorf("metadata mismatch: user=%q version=%d", loaded.User, loaded.Version)
	}
}

func TestStateCache_Miss(t *testing.T) {
	c := openCache(t)
	_, ok, err := c.Get("alice", "deadbeef")
	if err != nil {
		t.Fatalf("getting missing state: %v", err)
	}
	if ok {
		t.Error("expected a cache miss")
	}
}

func TestStateCache_ReplaceAndPrune(t *testing.T) {
	c := openCache(t)
	s := sampleState()

	if err := c.Put("alice", "aaaa", s, 100); err != nil {
		t.Fatalf("putting first: %v", err)
	}
	if err := c.Put("alice", "bbbb", s, 200); err != nil {
		t.Fatalf("putting second: %v", err)
	}
	if err := c.Put("bob", "cccc", s, 300); err != nil {
		t.Fatalf("putting bob: %v", err)
	}

	if err := c.Prune("alice", "bbbb"); err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if _, ok, _ := c.Get("alice", "aaaa"); ok {
		t.Error("expected the old alice entry to be pruned")
	}
	if _, ok, _ := c.Get("alice", "bbbb"); !ok {
		t.Error("expected the kept alice entry to survive")
	}
	if _, ok, _ := c.Get("bob", "cccc"); !ok {
		t.Error("expected bob's entry to be untouched by alice's prune")
	}

	count, err := c.Stats()
	if err != nil {
		t.Fatalf("counting entries: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 entries after prune, got %d", count)
	}
}
