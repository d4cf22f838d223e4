package artifact

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// StructMember is one named, typed, sized member at a byte offset.
type StructMember struct {
	Name   string `toml:"name"`
	Offset int64  `toml:"offset"`
	Type   string `toml:"type"`
	Size   int64  `toml:"size"`
}

// Struct is a user-defined composite type. A struct rename changes
// identity: the engine treats rename plus member changes as one atomic
// replacement, never as per-member patches.
type Struct struct {
	Name       string         `toml:"name"`
	Size       int64          `toml:"size"`
	Members    []StructMember `toml:"members"`
	LastChange int64          `toml:"last_change"`
}

// NewStruct returns an empty Struct with the never-changed sentinel.
func NewStruct(name string, size int64) Struct {
	return Struct{Name: name, Size: size, LastChange: LastChangeNever}
}

// AddMember appends a member. Members are kept sorted by offset so the
// wire form stays deterministic.
func (s *Struct) AddMember(name string, offset int64, typ string, size int64) {
	s.Members = append(s.Members, StructMember{Name: name, Offset: offset, Type: typ, Size: size})
	sort.Slice(s.Members, func(i, j int) bool { return s.Members[i].Offset < s.Members[j].Offset })
}

// Equal reports content equality over name, size, and the full ordered
// member set, ignoring LastChange.
func (s Struct) Equal(other Struct) bool {
	if s.Name != other.Name || s.Size != other.Size || len(s.Members) != len(other.Members) {
		return false
	}
	for i := range s.Members {
		if s.Members[i] != other.Members[i] {
			return false
		}
	}
	return true
}

// EncodeTOML serializes one struct to its own document; the repository
// stores one file per struct, keyed by name.
func (s Struct) EncodeTOML() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encoding struct %q: %w", s.Name, err)
	}
	return buf.Bytes(), nil
}

// DecodeStructTOML parses a single struct document.
func DecodeStructTOML(data []byte) (Struct, error) {
	var s Struct
	if err := toml.Unmarshal(data, &s); err != nil {
		return Struct{}, fmt.Errorf("decoding struct: %w", err)
	}
	sort.Slice(s.Members, func(i, j int) bool { return s.Members[i].Offset < s.Members[j].Offset })
	return s, nil
}

// SortedStructNames returns struct names in sorted order for
// deterministic iteration.
func SortedStructNames(structs map[string]Struct) []string {
	names := make([]string, 0, len(structs))
	for name := range structs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
