package controller

import (
	"fmt"

	"revsync/internal/artifact"
	"revsync/internal/state"
)

// EventKind identifies a tool change event.
type EventKind int

const (
	EventFunctionRenamed EventKind = iota
	EventCommentChanged
	EventCommentDeleted
	EventStackVariableRenamed
	EventStackVariableRetyped
	EventStructChanged
)

// Event is one change observed in the tool. Only the fields relevant
// to the kind are set.
type Event struct {
	Kind EventKind

	FuncAddr uint64
	Addr     uint64
	Offset   int64

	Name       string
	OldName    string
	Type       string
	Size       int64
	Text       string
	Decompiled bool

	Struct artifact.Struct
}

// OnEvent turns a tool change into a queued push. Events caused by the
// engine's own writes are consumed by the guard and dropped; those are
// the tool echoing back an apply, not analyst work. Returns whether
// the event was queued.
func (c *Controller) OnEvent(e Event) bool {
	if c.guard.Observe() {
		return false
	}

	var key string
	var cmd func() error
	switch e.Kind {
	case EventFunctionRenamed:
		f := artifact.NewFunction(e.FuncAddr, e.Name)
		cmd = func() error { return c.PushFunction(f) }
	case EventCommentChanged:
		cm := artifact.NewComment(e.FuncAddr, e.Addr, e.Text, e.Decompiled)
		cmd = func() error { return c.PushComment(cm) }
	case EventCommentDeleted:
		funcAddr, addr := e.FuncAddr, e.Addr
		cmd = func() error { return c.RemoveComment(funcAddr, addr) }
	case EventStackVariableRenamed, EventStackVariableRetyped:
		v := artifact.StackVariable{
			FuncAddr:   e.FuncAddr,
			Offset:     e.Offset,
			OffsetType: c.tool.OffsetType(),
			Name:       e.Name,
			Type:       e.Type,
			Size:       e.Size,
			LastChange: artifact.LastChangeNever,
		}
		cmd = func() error { return c.PushStackVariable(v) }
	case EventStructChanged:
		// Repeated edits to one struct collapse to a single queued
		// push carrying the latest definition.
		st, oldName := e.Struct, e.OldName
		name := st.Name
		if name == "" {
			name = oldName
		}
		key = "struct:" + name
		cmd = func() error { return c.PushStruct(st, oldName) }
	default:
		log.WithField("kind", int(e.Kind)).Warn("dropping event of unknown kind")
		return false
	}

	c.queue.Push(key, cmd)
	return true
}

//
// Pushers
//

// PushFunction records a function header change in the master snapshot
// and publishes it.
func (c *Controller) PushFunction(f artifact.Function) error {
	err := c.client.StateCtx(func(s *state.State) error {
		s.SetFunction(f, true)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushing function %x: %w", f.Addr, err)
	}
	return c.client.Push()
}

// PushComment records a comment change and publishes it.
func (c *Controller) PushComment(cm artifact.Comment) error {
	err := c.client.StateCtx(func(s *state.State) error {
		s.SetComment(cm, true)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushing comment %x: %w", cm.Addr, err)
	}
	return c.client.Push()
}

// RemoveComment deletes a comment from the master snapshot and
// publishes the deletion.
func (c *Controller) RemoveComment(funcAddr, addr uint64) error {
	err := c.client.StateCtx(func(s *state.State) error {
		s.RemoveComment(funcAddr, addr)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing comment %x: %w", addr, err)
	}
	return c.client.Push()
}

// PushStackVariable records a stack variable change and publishes it.
func (c *Controller) PushStackVariable(v artifact.StackVariable) error {
	err := c.client.StateCtx(func(s *state.State) error {
		s.SetStackVariable(v, true)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushing stack variable %s in %x: %w",
			artifact.OffsetKey(v.Offset), v.FuncAddr, err)
	}
	return c.client.Push()
}

// PushStruct records a struct change, handling renames and deletions,
// and publishes it.
func (c *Controller) PushStruct(st artifact.Struct, oldName string) error {
	err := c.client.StateCtx(func(s *state.State) error {
		s.SetStruct(st, oldName, true)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushing struct %q: %w", st.Name, err)
	}
	return c.client.Push()
}
