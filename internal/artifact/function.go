package artifact

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"revsync/internal/util"
)

// Function is the per-function header artifact: its name and free-form
// notes, keyed by the function's start address.
type Function struct {
	Addr       uint64 `toml:"addr"`
	Name       string `toml:"name"`
	Notes      string `toml:"notes"`
	LastChange int64  `toml:"last_change"`
}

// NewFunction returns a Function with the never-changed sentinel.
func NewFunction(addr uint64, name string) Function {
	return Function{Addr: addr, Name: name, LastChange: LastChangeNever}
}

// Equal reports content equality, ignoring LastChange.
func (f Function) Equal(other Function) bool {
	return f.Addr == other.Addr && f.Name == other.Name && f.Notes == other.Notes
}

// EncodeTOML serializes a single function.
func (f Function) EncodeTOML() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("encoding function %x: %w", f.Addr, err)
	}
	return buf.Bytes(), nil
}

// DecodeFunctionTOML parses a single function.
func DecodeFunctionTOML(data []byte) (Function, error) {
	var f Function
	if err := toml.Unmarshal(data, &f); err != nil {
		return Function{}, fmt.Errorf("decoding function: %w", err)
	}
	return f, nil
}

// DumpFunctions batches a function map into one TOML document keyed by
// hex address. Keys are emitted in sorted order so unchanged data
// re-dumps byte-identical.
func DumpFunctions(funcs map[uint64]Function) ([]byte, error) {
	keyed := make(map[string]Function, len(funcs))
	for addr, f := range funcs {
		keyed[util.AddrKey(addr)] = f
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(keyed); err != nil {
		return nil, fmt.Errorf("encoding functions: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadFunctions parses a batched function document. Unparsable entries
// are skipped so one bad record never poisons the snapshot.
func LoadFunctions(data []byte) (map[uint64]Function, error) {
	var keyed map[string]Function
	if err := toml.Unmarshal(data, &keyed); err != nil {
		return nil, fmt.Errorf("decoding functions: %w", err)
	}
	funcs := make(map[uint64]Function, len(keyed))
	for key, f := range keyed {
		if _, err := util.ParseAddrKey(key); err != nil {
			continue
		}
		funcs[f.Addr] = f
	}
	return funcs, nil
}

// SortedFunctionAddrs returns the function addresses in ascending
// order, for deterministic iteration.
func SortedFunctionAddrs(funcs map[uint64]Function) []uint64 {
	addrs := make([]uint64, 0, len(funcs))
	for addr := range funcs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
