package controller

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"revsync/internal/artifact"
	"revsync/internal/scheduler"
	"revsync/internal/state"
	"revsync/internal/util"
)

// FillFunction applies one function's artifacts from user's snapshot
// into the tool: header name, comments, then stack variables. It
// returns false when the master snapshot is already content-equal at
// that address, without touching the tool at all.
//
// Unknown variable types trigger one struct fill and a retry; a type
// the tool still cannot resolve skips only that variable's type, never
// the rename and never the rest of the function.
func (c *Controller) FillFunction(user string, addr uint64) (bool, error) {
	target, err := c.client.GetState(user)
	if err != nil {
		return false, &ApplyError{Op: "fill-function", User: user, Err: err}
	}
	master, err := c.client.GetState("")
	if err != nil {
		return false, &ApplyError{Op: "fill-function", User: user, Err: err}
	}
	if master.CompareFunction(addr, target) {
		return false, nil
	}
	f, err := target.GetFunction(addr)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return false, nil
		}
		return false, &ApplyError{Op: "fill-function", User: user, Err: err}
	}

	flog := log.WithFields(logrus.Fields{"user": user, "func": util.AddrKey(addr)})

	if f.Name != "" && !toolHasName(c.tool, addr, f.Name) {
		c.guard.Inc()
		if err := c.tool.SetFunctionName(addr, f.Name); err != nil {
			c.guard.Dec()
			flog.WithError(err).Warn("renaming function failed")
		}
	}

	comments, err := target.GetComments(addr)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return false, &ApplyError{Op: "fill-function", User: user, Err: err}
	}
	for _, ca := range artifact.SortedCommentAddrs(comments) {
		cm := comments[ca]
		if text, ok := c.tool.Comment(addr, ca); ok && text == cm.Text {
			continue
		}
		c.guard.Inc()
		if err := c.tool.SetComment(cm); err != nil {
			c.guard.Dec()
			flog.WithError(err).WithField("addr", util.AddrKey(ca)).Warn("setting comment failed")
		}
	}

	if err := c.fillStackVariables(user, addr, target, flog); err != nil {
		return false, err
	}

	// Record the applied artifacts in the master snapshot with their
	// source timestamps, so the next fill compares equal and no-ops.
	err = c.client.StateCtx(func(s *state.State) error {
		s.SetFunction(f, false)
		for _, cm := range comments {
			s.SetComment(cm, false)
		}
		if vars, err := target.GetStackVariables(addr); err == nil {
			for _, v := range vars {
				s.SetStackVariable(v, false)
			}
		}
		return nil
	})
	if err != nil {
		return false, &ApplyError{Op: "fill-function", User: user, Err: err}
	}

	c.refreshView()
	return true, nil
}

func (c *Controller) fillStackVariables(user string, addr uint64, target *state.State, flog *logrus.Entry) error {
	vars, err := target.GetStackVariables(addr)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return &ApplyError{Op: "fill-stack-variables", User: user, Err: err}
	}

	// The tool's current frame view lets equal renames and retypes
	// short-circuit without an engine write.
	frame, _ := c.tool.StackFrame(addr)

	structsFilled := false
	for _, off := range artifact.SortedOffsets(vars) {
		v := vars[off]
		toolOff, err := v.OffsetFor(c.tool.OffsetType())
		if err != nil {
			flog.WithError(err).WithField("offset", artifact.OffsetKey(off)).
				Warn("skipping stack variable with unconvertible offset")
			continue
		}
		cur, haveCur := frame[toolOff]
		if v.Name != "" && !(haveCur && cur.Name == v.Name) {
			c.guard.Inc()
			if err := c.tool.RenameStackVariable(addr, toolOff, v.Name); err != nil {
				c.guard.Dec()
				flog.WithError(err).WithField("offset", artifact.OffsetKey(off)).
					Warn("renaming stack variable failed")
			}
		}
		if v.Type == "" || (haveCur && cur.Type == v.Type) {
			continue
		}
		if !c.tool.KnownType(v.Type) {
			if !structsFilled {
				structsFilled = true
				if _, err := c.FillStructs(user); err != nil {
					flog.WithError(err).Warn("struct fill before retype failed")
				}
			}
			if !c.tool.KnownType(v.Type) {
				flog.WithError(&TypeConversionError{Type: v.Type}).
					WithField("offset", artifact.OffsetKey(off)).
					Warn("keeping tool type for stack variable")
				continue
			}
		}
		c.guard.Inc()
		if err := c.tool.SetStackVariableType(addr, toolOff, v.Type); err != nil {
			c.guard.Dec()
			flog.WithError(err).WithField("offset", artifact.OffsetKey(off)).
				Warn("retyping stack variable failed")
		}
	}
	return nil
}

// FillStructs applies every struct from user's snapshot into the tool,
// skipping each struct whose master copy is already content-equal.
// Returns the number of structs defined.
func (c *Controller) FillStructs(user string) (int, error) {
	target, err := c.client.GetState(user)
	if err != nil {
		return 0, &ApplyError{Op: "fill-structs", User: user, Err: err}
	}
	master, err := c.client.GetState("")
	if err != nil {
		return 0, &ApplyError{Op: "fill-structs", User: user, Err: err}
	}

	applied := make([]artifact.Struct, 0)
	for _, st := range target.StructList() {
		if cur, err := master.GetStruct(st.Name); err == nil && cur.Equal(st) {
			continue
		}
		c.guard.Inc()
		if err := c.tool.DefineStruct(st); err != nil {
			c.guard.Dec()
			log.WithError(err).WithFields(logrus.Fields{"user": user, "struct": st.Name}).
				Warn("defining struct failed")
			continue
		}
		applied = append(applied, st)
	}
	if len(applied) == 0 {
		return 0, nil
	}

	err = c.client.StateCtx(func(s *state.State) error {
		for _, st := range applied {
			s.SetStruct(st, "", false)
		}
		return nil
	})
	if err != nil {
		return 0, &ApplyError{Op: "fill-structs", User: user, Err: err}
	}
	return len(applied), nil
}

// SyncAll replays a user's entire snapshot into the tool: structs
// first so types resolve, then every function.
func (c *Controller) SyncAll(user string) error {
	if _, err := c.FillStructs(user); err != nil {
		return err
	}
	target, err := c.client.GetState(user)
	if err != nil {
		return &ApplyError{Op: "sync-all", User: user, Err: err}
	}
	var firstErr error
	for _, addr := range artifact.SortedFunctionAddrs(target.Functions) {
		if _, err := c.FillFunction(user, addr); err != nil {
			log.WithError(err).WithField("func", util.AddrKey(addr)).Warn("function sync failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ForceSyncStates replaces the master snapshot with another user's and
// publishes it, then replays it into the tool.
func (c *Controller) ForceSyncStates(user string) error {
	if err := c.client.SyncStates(user); err != nil {
		return fmt.Errorf("syncing states from %s: %w", user, err)
	}
	if err := c.client.Push(); err != nil {
		return err
	}
	return c.SyncAll(user)
}

//
// Auto-sync scheduling
//

// ScheduleFunctionSync registers a fill task for (user, addr). With
// autoSync set the task replays on every tick and view refresh until
// toggled off.
func (c *Controller) ScheduleFunctionSync(user string, addr uint64, autoSync bool) {
	c.tasks.Add(c.fillTask(user, addr), autoSync)
}

// ToggleFunctionAutoSync flips the auto-sync flag for (user, addr) and
// returns the new flag.
func (c *Controller) ToggleFunctionAutoSync(user string, addr uint64) bool {
	return c.tasks.ToggleAutoSync(c.fillTask(user, addr))
}

func (c *Controller) fillTask(user string, addr uint64) scheduler.UpdateTask {
	return scheduler.NewUpdateTask(scheduler.OpFillFunction, user, addr, func() error {
		_, err := c.FillFunction(user, addr)
		return err
	})
}

func toolHasName(tool Tool, addr uint64, name string) bool {
	f, err := tool.FunctionAt(addr)
	return err == nil && f.Name == name
}

func (c *Controller) refreshView() {
	if c.headless {
		return
	}
	c.tool.RefreshView()
}
