// Package state models one analyst's complete artifact snapshot at a
// point in time and its diff/compare operations. A State is a pure
// value: it is rebuilt from the repository at a requested version and
// only mutated through a writable context owned by the client.
package state

import (
	"errors"
	"fmt"

	"revsync/internal/artifact"
	"revsync/internal/util"
)

// ErrNotFound is returned by getters when an artifact does not exist.
// Callers treat it as "nothing to sync", never as fatal.
var ErrNotFound = errors.New("not found")

// Kind labels the artifact group of the most recent push, for the
// status surface.
type Kind int

const (
	KindUnset Kind = iota
	KindFunction
	KindStruct
)

// State is one (user, version) snapshot of all synchronized artifacts.
type State struct {
	User    string
	Version int

	LastPushKey  string
	LastPushKind Kind
	LastPushTime int64

	Functions      map[uint64]artifact.Function
	Comments       map[uint64]map[uint64]artifact.Comment
	StackVariables map[uint64]map[int64]artifact.StackVariable
	Structs        map[string]artifact.Struct

	dirty bool
}

// New returns an empty snapshot for a user.
func New(user string) *State {
	return &State{
		User:           user,
		LastPushTime:   artifact.LastChangeNever,
		Functions:      make(map[uint64]artifact.Function),
		Comments:       make(map[uint64]map[uint64]artifact.Comment),
		StackVariables: make(map[uint64]map[int64]artifact.StackVariable),
		Structs:        make(map[string]artifact.Struct),
		dirty:          true,
	}
}

// Dirty reports whether the snapshot has unsaved mutations.
func (s *State) Dirty() bool { return s.dirty }

// Clone returns an independent deep copy of the snapshot. Readers hold
// clones; the live master snapshot is only ever touched under the
// client's lock.
func (s *State) Clone() *State {
	c := New(s.User)
	c.Version = s.Version
	c.LastPushKey = s.LastPushKey
	c.LastPushKind = s.LastPushKind
	c.LastPushTime = s.LastPushTime
	c.Copy(s)
	c.dirty = false
	return c
}

// Copy replaces this snapshot's contents with other's. Used to
// fast-forward the master state to a remote user's state.
func (s *State) Copy(other *State) {
	s.Functions = make(map[uint64]artifact.Function, len(other.Functions))
	for addr, f := range other.Functions {
		s.Functions[addr] = f
	}
	s.Comments = make(map[uint64]map[uint64]artifact.Comment, len(other.Comments))
	for addr, cmts := range other.Comments {
		inner := make(map[uint64]artifact.Comment, len(cmts))
		for a, c := range cmts {
			inner[a] = c
		}
		s.Comments[addr] = inner
	}
	s.StackVariables = make(map[uint64]map[int64]artifact.StackVariable, len(other.StackVariables))
	for addr, vars := range other.StackVariables {
		inner := make(map[int64]artifact.StackVariable, len(vars))
		for off, v := range vars {
			inner[off] = v
		}
		s.StackVariables[addr] = inner
	}
	s.Structs = make(map[string]artifact.Struct, len(other.Structs))
	for name, st := range other.Structs {
		s.Structs[name] = st
	}
	s.dirty = true
}

//
// Setters
//

// SetFunction stores a function header. Returns false when the stored
// function is already content-equal (the no-op short circuit).
func (s *State) SetFunction(f artifact.Function, setLastChange bool) bool {
	if cur, ok := s.Functions[f.Addr]; ok && cur.Equal(f) {
		return false
	}
	if setLastChange {
		f.LastChange = util.Now()
		s.recordPush(util.AddrKey(f.Addr), KindFunction, f.LastChange)
	}
	s.Functions[f.Addr] = f
	s.dirty = true
	return true
}

// SetComment stores a comment, creating the owning function header if
// it is not known yet.
func (s *State) SetComment(c artifact.Comment, setLastChange bool) bool {
	if cmts, ok := s.Comments[c.FuncAddr]; ok {
		if cur, ok := cmts[c.Addr]; ok && cur.Equal(c) {
			return false
		}
	}
	if setLastChange {
		c.LastChange = util.Now()
		s.recordPush(util.AddrKey(c.FuncAddr), KindFunction, c.LastChange)
	}
	if s.Comments[c.FuncAddr] == nil {
		s.Comments[c.FuncAddr] = make(map[uint64]artifact.Comment)
	}
	s.Comments[c.FuncAddr][c.Addr] = c
	s.touchFunction(c.FuncAddr, c.LastChange)
	s.dirty = true
	return true
}

// RemoveComment deletes a comment. Removing a missing comment is a
// no-op returning false.
func (s *State) RemoveComment(funcAddr, addr uint64) bool {
	cmts, ok := s.Comments[funcAddr]
	if !ok {
		return false
	}
	if _, ok := cmts[addr]; !ok {
		return false
	}
	delete(cmts, addr)
	if len(cmts) == 0 {
		delete(s.Comments, funcAddr)
	}
	s.dirty = true
	return true
}

// SetStackVariable stores a stack variable, creating the owning
// function header if it is not known yet.
func (s *State) SetStackVariable(v artifact.StackVariable, setLastChange bool) bool {
	if vars, ok := s.StackVariables[v.FuncAddr]; ok {
		if cur, ok := vars[v.Offset]; ok && cur.Equal(v) {
			return false
		}
	}
	if setLastChange {
		v.LastChange = util.Now()
		s.recordPush(util.AddrKey(v.FuncAddr), KindFunction, v.LastChange)
	}
	if s.StackVariables[v.FuncAddr] == nil {
		s.StackVariables[v.FuncAddr] = make(map[int64]artifact.StackVariable)
	}
	s.StackVariables[v.FuncAddr][v.Offset] = v
	s.touchFunction(v.FuncAddr, v.LastChange)
	s.dirty = true
	return true
}

// SetStruct stores a struct. A non-empty oldName differing from the
// struct's name marks a rename: the old entry is dropped and the new
// one inserted as a single atomic replacement. A struct with an empty
// name only deletes oldName (struct deletion).
func (s *State) SetStruct(st artifact.Struct, oldName string, setLastChange bool) bool {
	if cur, ok := s.Structs[st.Name]; ok && cur.Equal(st) && (oldName == "" || oldName == st.Name) {
		return false
	}
	if setLastChange {
		st.LastChange = util.Now()
		s.recordPush(st.Name, KindStruct, st.LastChange)
	}
	if oldName != "" && oldName != st.Name {
		delete(s.Structs, oldName)
	}
	if st.Name != "" {
		s.Structs[st.Name] = st
	}
	s.dirty = true
	return true
}

// touchFunction creates or updates the function header owning a nested
// artifact so the per-function last-change tracks its newest artifact.
func (s *State) touchFunction(funcAddr uint64, lastChange int64) {
	f, ok := s.Functions[funcAddr]
	if !ok {
		f = artifact.NewFunction(funcAddr, "")
	}
	f.LastChange = lastChange
	s.Functions[funcAddr] = f
}

func (s *State) recordPush(key string, kind Kind, when int64) {
	s.LastPushKey = key
	s.LastPushKind = kind
	s.LastPushTime = when
}

//
// Getters
//

// GetFunction looks up a function header by address.
func (s *State) GetFunction(addr uint64) (artifact.Function, error) {
	f, ok := s.Functions[addr]
	if !ok {
		return artifact.Function{}, fmt.Errorf("function %x: %w", addr, ErrNotFound)
	}
	return f, nil
}

// GetComment looks up one comment.
func (s *State) GetComment(funcAddr, addr uint64) (artifact.Comment, error) {
	cmts, ok := s.Comments[funcAddr]
	if !ok {
		return artifact.Comment{}, fmt.Errorf("comment %x: %w", addr, ErrNotFound)
	}
	c, ok := cmts[addr]
	if !ok {
		return artifact.Comment{}, fmt.Errorf("comment %x: %w", addr, ErrNotFound)
	}
	return c, nil
}

// GetComments returns all comments of a function.
func (s *State) GetComments(funcAddr uint64) (map[uint64]artifact.Comment, error) {
	cmts, ok := s.Comments[funcAddr]
	if !ok {
		return nil, fmt.Errorf("comments for function %x: %w", funcAddr, ErrNotFound)
	}
	return cmts, nil
}

// GetStackVariable looks up one stack variable by function and offset.
func (s *State) GetStackVariable(funcAddr uint64, offset int64) (artifact.StackVariable, error) {
	vars, ok := s.StackVariables[funcAddr]
	if !ok {
		return artifact.StackVariable{}, fmt.Errorf("stack variables for function %x: %w", funcAddr, ErrNotFound)
	}
	v, ok := vars[offset]
	if !ok {
		return artifact.StackVariable{}, fmt.Errorf("stack variable at offset %s in function %x: %w",
			artifact.OffsetKey(offset), funcAddr, ErrNotFound)
	}
	return v, nil
}

// GetStackVariables returns all stack variables of a function.
func (s *State) GetStackVariables(funcAddr uint64) (map[int64]artifact.StackVariable, error) {
	vars, ok := s.StackVariables[funcAddr]
	if !ok {
		return nil, fmt.Errorf("stack variables for function %x: %w", funcAddr, ErrNotFound)
	}
	return vars, nil
}

// GetStruct looks up a struct by name.
func (s *State) GetStruct(name string) (artifact.Struct, error) {
	st, ok := s.Structs[name]
	if !ok {
		return artifact.Struct{}, fmt.Errorf("struct %q: %w", name, ErrNotFound)
	}
	return st, nil
}

// StructList returns all structs sorted by name.
func (s *State) StructList() []artifact.Struct {
	names := artifact.SortedStructNames(s.Structs)
	structs := make([]artifact.Struct, 0, len(names))
	for _, name := range names {
		structs = append(structs, s.Structs[name])
	}
	return structs
}

//
// Comparison
//

// CompareFunction reports whether the function header, comments, and
// stack variables at addr are all content-equal between the two
// states. Timestamps never participate: logically identical states
// compare equal even when stamped at different times. Structs are
// deliberately excluded; struct no-op detection happens per struct at
// apply time.
func (s *State) CompareFunction(addr uint64, other *State) bool {
	if other == nil {
		return false
	}
	sf, ok := s.Functions[addr]
	if !ok {
		return false
	}
	of, ok := other.Functions[addr]
	if !ok {
		return false
	}
	if !sf.Equal(of) {
		return false
	}
	if !commentsEqual(s.Comments[addr], other.Comments[addr]) {
		return false
	}
	return stackVarsEqual(s.StackVariables[addr], other.StackVariables[addr])
}

// Equal reports whole-snapshot content equality.
func (s *State) Equal(other *State) bool {
	if other == nil {
		return false
	}
	if len(s.Functions) != len(other.Functions) || len(s.Structs) != len(other.Structs) {
		return false
	}
	for addr, f := range s.Functions {
		of, ok := other.Functions[addr]
		if !ok || !f.Equal(of) {
			return false
		}
		if !commentsEqual(s.Comments[addr], other.Comments[addr]) {
			return false
		}
		if !stackVarsEqual(s.StackVariables[addr], other.StackVariables[addr]) {
			return false
		}
	}
	for name, st := range s.Structs {
		ost, ok := other.Structs[name]
		if !ok || !st.Equal(ost) {
			return false
		}
	}
	return true
}

func commentsEqual(a, b map[uint64]artifact.Comment) bool {
	if len(a) != len(b) {
		return false
	}
	for addr, c := range a {
		oc, ok := b[addr]
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	return true
}

func stackVarsEqual(a, b map[int64]artifact.StackVariable) bool {
	if len(a) != len(b) {
		return false
	}
	for off, v := range a {
		ov, ok := b[off]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// LastPushForKind returns the key and time of the newest change in an
// artifact group, for the info surface.
func (s *State) LastPushForKind(kind Kind) (string, int64) {
	key := ""
	last := int64(artifact.LastChangeNever)
	switch kind {
	case KindFunction:
		for addr, f := range s.Functions {
			if f.LastChange > last {
				last = f.LastChange
				key = util.AddrKey(addr)
			}
		}
	case KindStruct:
		for name, st := range s.Structs {
			if st.LastChange > last {
				last = st.LastChange
				key = name
			}
		}
	}
	return key, last
}
