// Package cache provides a local parsed-state cache so repeated reads
// of an unchanged user snapshot skip re-parsing the git tree. Entries
// are keyed by (user, commit hash); a commit hash pins the snapshot
// content, so entries never go stale, only unused.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"revsync/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS states (
	user TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	blob BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user, commit_hash)
);
`

// StateCache caches deserialized snapshots as zstd-compressed JSON
// blobs in a sqlite database.
type StateCache struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the cache database at dir/states.db.
func Open(dir string) (*StateCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "states.db"))
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &StateCache{db: db, enc: enc, dec: dec}, nil
}

// Close closes the cache database.
func (c *StateCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached snapshot for (user, commit) if present.
func (c *StateCache) Get(user, commit string) (*state.State, bool, error) {
	var blob []byte
	err := c.db.QueryRow(
		`SELECT blob FROM states WHERE user = ? AND commit_hash = ?`,
		user, commit,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying state cache: %w", err)
	}

	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing cached state: %w", err)
	}
	s := state.New(user)
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, false, fmt.Errorf("decoding cached state: %w", err)
	}
	return s, true, nil
}

// Put stores a snapshot for (user, commit).
func (c *StateCache) Put(user, commit string, s *state.State, now int64) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding state for cache: %w", err)
	}
	blob := c.enc.EncodeAll(raw, nil)
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO states (user, commit_hash, blob, created_at) VALUES (?, ?, ?, ?)`,
		user, commit, blob, now,
	)
	if err != nil {
		return fmt.Errorf("storing cached state: %w", err)
	}
	return nil
}

// Prune drops all entries for a user except the given commit, keeping
// the cache bounded as heads advance.
func (c *StateCache) Prune(user, keepCommit string) error {
	_, err := c.db.Exec(
		`DELETE FROM states WHERE user = ? AND commit_hash != ?`,
		user, keepCommit,
	)
	if err != nil {
		return fmt.Errorf("pruning state cache: %w", err)
	}
	return nil
}

// Stats returns the number of cached snapshots.
func (c *StateCache) Stats() (int64, error) {
	var count int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM states`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return count, nil
}
