package artifact

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
)

// StackVariable describes one named slot in a function's stack frame.
// Offset holds the raw value in the convention named by OffsetType;
// equality deliberately ignores both OffsetType and LastChange, so two
// tools that agree on the number agree on the variable.
type StackVariable struct {
	FuncAddr   uint64     `toml:"func_addr"`
	Offset     int64      `toml:"stack_offset"`
	OffsetType OffsetType `toml:"stack_offset_type"`
	Name       string     `toml:"name"`
	Type       string     `toml:"type"`
	Size       int64      `toml:"size"`
	LastChange int64      `toml:"last_change"`
}

// NewStackVariable returns a StackVariable with the never-changed
// sentinel.
func NewStackVariable(funcAddr uint64, offset int64, offsetType OffsetType, name, typ string, size int64) StackVariable {
	return StackVariable{
		FuncAddr:   funcAddr,
		Offset:     offset,
		OffsetType: offsetType,
		Name:       name,
		Type:       typ,
		Size:       size,
		LastChange: LastChangeNever,
	}
}

// Equal reports content equality, ignoring LastChange and OffsetType.
func (v StackVariable) Equal(other StackVariable) bool {
	return v.FuncAddr == other.FuncAddr &&
		v.Offset == other.Offset &&
		v.Name == other.Name &&
		v.Type == other.Type &&
		v.Size == other.Size
}

// OffsetFor converts the raw offset into the requested convention.
// Conversion within the frame-relative family (IDA, Binja) is the
// identity; anything involving Ghidra or angr conventions fails with
// ErrUnsupportedOffsetConversion rather than miscomputing.
func (v StackVariable) OffsetFor(t OffsetType) (int64, error) {
	if t == v.OffsetType {
		return v.Offset, nil
	}
	if sameFamily(v.OffsetType, t) {
		return v.Offset, nil
	}
	return 0, fmt.Errorf("%w: %s to %s", ErrUnsupportedOffsetConversion, v.OffsetType, t)
}

// OffsetKey formats a stack offset as its stable signed-hex key.
func OffsetKey(offset int64) string {
	if offset < 0 {
		return "-" + strconv.FormatInt(-offset, 16)
	}
	return strconv.FormatInt(offset, 16)
}

// ParseOffsetKey parses a signed-hex offset key.
func ParseOffsetKey(key string) (int64, error) {
	neg := false
	if len(key) > 0 && key[0] == '-' {
		neg = true
		key = key[1:]
	}
	off, err := strconv.ParseInt(key, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing offset key %q: %w", key, err)
	}
	if neg {
		off = -off
	}
	return off, nil
}

// stackVarDoc carries the offset-sorted batch form. TOML table arrays
// keep insertion order, which gives us dumps sorted by offset.
type stackVarDoc struct {
	Variables []StackVariable `toml:"variables"`
}

// DumpStackVariables batches a function's stack variables sorted by
// offset, so repeated dumps of unchanged data are byte-identical.
func DumpStackVariables(vars map[int64]StackVariable) ([]byte, error) {
	doc := stackVarDoc{Variables: make([]StackVariable, 0, len(vars))}
	for _, off := range SortedOffsets(vars) {
		doc.Variables = append(doc.Variables, vars[off])
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding stack variables: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadStackVariables parses a batched stack-variable document into an
// offset-keyed map.
func LoadStackVariables(data []byte) (map[int64]StackVariable, error) {
	var doc stackVarDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding stack variables: %w", err)
	}
	vars := make(map[int64]StackVariable, len(doc.Variables))
	for _, v := range doc.Variables {
		vars[v.Offset] = v
	}
	return vars, nil
}

// SortedOffsets returns a stack frame's offsets in ascending order for
// deterministic iteration.
func SortedOffsets(vars map[int64]StackVariable) []int64 {
	offs := make([]int64, 0, len(vars))
	for off := range vars {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}
