// Package util provides small shared helpers: hashing, hex keys, clock.
package util

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"lukechampine.com/blake3"
)

// Blake3HashHex returns the hex-encoded blake3-256 digest of data.
func Blake3HashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Blake3File hashes a file's content with blake3-256.
func Blake3File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AddrKey formats an address as the stable 8-digit hex key used
// throughout the repository layout.
func AddrKey(addr uint64) string {
	return fmt.Sprintf("%08x", addr)
}

// ParseAddrKey parses a hex address key back to an address.
func ParseAddrKey(key string) (uint64, error) {
	addr, err := strconv.ParseUint(key, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing address key %q: %w", key, err)
	}
	return addr, nil
}

// Now returns the current unix time in seconds. Tests may override it.
var Now = func() int64 {
	return time.Now().Unix()
}
