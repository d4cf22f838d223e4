// Package artifact defines the synchronized analysis artifacts
// (functions, stack variables, comments, structs) and their TOML wire
// form. Artifacts are value types: equality is content equality and
// never looks at the last-change timestamp, which exists only for
// last-write-wins conflict resolution.
package artifact

import (
	"errors"
)

// LastChangeNever is the sentinel for an artifact that has never been
// stamped by a local or remote actor.
const LastChangeNever = -1

var (
	// ErrUnsupportedOffsetConversion is returned when converting a stack
	// offset between incompatible host-tool convention families.
	ErrUnsupportedOffsetConversion = errors.New("unsupported stack offset conversion")
)

// OffsetType identifies the stack-offset convention of the host tool
// that produced a stack variable.
type OffsetType int

const (
	OffsetBinja OffsetType = iota
	OffsetIDA
	OffsetGhidra
	OffsetAngr
)

func (t OffsetType) String() string {
	switch t {
	case OffsetBinja:
		return "binja"
	case OffsetIDA:
		return "ida"
	case OffsetGhidra:
		return "ghidra"
	case OffsetAngr:
		return "angr"
	default:
		return "unknown"
	}
}

// sameFamily reports whether two offset conventions agree on the
// meaning of a raw offset value.
func sameFamily(a, b OffsetType) bool {
	frameRelative := func(t OffsetType) bool {
		return t == OffsetIDA || t == OffsetBinja
	}
	return frameRelative(a) && frameRelative(b)
}
