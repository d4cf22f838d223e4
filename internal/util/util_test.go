package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddrKey_RoundTrip(t *testing.T) {
	for _, addr := range []uint64{0, 0x4011a0, 0xffffffffdeadbeef} {
		key := AddrKey(addr)
		parsed, err := ParseAddrKey(key)
		if err != nil {
			t.Fatalf("parsing key %q: %v", key, err)
		}
		if parsed != addr {
			t.Errorf("address %#x round-tripped to %#x via %q", addr, parsed, key)
		}
	}
}

func TestAddrKey_FixedWidth(t *testing.T) {
	if key := AddrKey(0x1a0); key != "000001a0" {
		t.Errorf("expected zero-padded key, got %q", key)
	}
}

func TestParseAddrKey_Invalid(t *testing.T) {
	if _, err := ParseAddrKey("zzzz"); err == nil {
		t.Error("expected invalid hex to fail")
	}
}

func TestBlake3File_MatchesBytes(t *testing.T) {
	data := []byte("binary under analysis")
	path := filepath.Join(t.TempDir(), "bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	fromFile, err := Blake3File(path)
	if err != nil {
		t.Fatalf("hashing file: %v", err)
	}
	if fromFile != Blake3HashHex(data) {
		t.Error("expected streaming and one-shot hashes to agree")
	}
	if len(fromFile) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(fromFile))
	}
}
