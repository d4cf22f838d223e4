package controller

import (
	"revsync/internal/artifact"
	"revsync/internal/state"
)

// Tool abstracts the local analysis tool the engine reads from and
// writes into. Implementations adapt one decompiler's scripting API;
// the engine itself never touches tool internals.
type Tool interface {
	// OffsetType identifies the stack offset convention of this tool.
	OffsetType() artifact.OffsetType

	// BinaryHash returns the blake3 hex digest of the loaded binary.
	BinaryHash() string

	// FunctionAt returns the function header containing addr.
	FunctionAt(addr uint64) (artifact.Function, error)

	// SetFunctionName renames the function at addr.
	SetFunctionName(addr uint64, name string) error

	// Comment returns the comment text at addr, if any.
	Comment(funcAddr, addr uint64) (string, bool)

	// SetComment writes a comment into the tool.
	SetComment(c artifact.Comment) error

	// StackFrame returns the tool's current view of a function's
	// stack variables keyed by offset in the tool's own convention.
	StackFrame(funcAddr uint64) (map[int64]artifact.StackVariable, error)

	// RenameStackVariable renames the variable at offset.
	RenameStackVariable(funcAddr uint64, offset int64, name string) error

	// SetStackVariableType retypes the variable at offset.
	SetStackVariableType(funcAddr uint64, offset int64, typ string) error

	// KnownType reports whether the tool can resolve a type string.
	KnownType(typ string) bool

	// DefineStruct creates or replaces a struct definition.
	DefineStruct(st artifact.Struct) error

	// RefreshView redraws the tool's current view after an apply.
	RefreshView()
}

// NopTool is a Tool with no analysis session behind it. Headless
// sessions (the watch command) run the background loop against it;
// every read reports nothing and every write is ignored.
type NopTool struct{}

func (NopTool) OffsetType() artifact.OffsetType { return artifact.OffsetIDA }
func (NopTool) BinaryHash() string              { return "" }

func (NopTool) FunctionAt(addr uint64) (artifact.Function, error) {
	return artifact.Function{}, state.ErrNotFound
}

func (NopTool) SetFunctionName(addr uint64, name string) error { return nil }

func (NopTool) Comment(funcAddr, addr uint64) (string, bool) { return "", false }

func (NopTool) SetComment(c artifact.Comment) error { return nil }

func (NopTool) StackFrame(funcAddr uint64) (map[int64]artifact.StackVariable, error) {
	return nil, nil
}

func (NopTool) RenameStackVariable(funcAddr uint64, offset int64, name string) error { return nil }

func (NopTool) SetStackVariableType(funcAddr uint64, offset int64, typ string) error { return nil }

func (NopTool) KnownType(typ string) bool { return false }

func (NopTool) DefineStruct(st artifact.Struct) error { return nil }

func (NopTool) RefreshView() {}
