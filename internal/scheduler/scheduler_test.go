package scheduler

import (
	"errors"
	"testing"
)

func TestQueue_OrderAndDrain(t *testing.T) {
	q := NewQueue()
	var ran []int
	for i := 0; i < 3; i++ {
		i := i
		q.Push("", func() error {
			ran = append(ran, i)
			return nil
		})
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 pending commands, got %d", q.Len())
	}

	for q.EvalOne() {
	}
	if len(ran) != 3 || ran[0] != 0 || ran[1] != 1 || ran[2] != 2 {
		t.Errorf("expected commands in enqueue order, got %v", ran)
	}
	if q.EvalOne() {
		t.Error("expected EvalOne on an empty queue to report false")
	}
}

func TestQueue_KeyedPushCollapses(t *testing.T) {
	q := NewQueue()
	var got string
	q.Push("struct:header_t", func() error { got = "first"; return nil })
	q.Push("", func() error { return nil })
	q.Push("struct:header_t", func() error { got = "second"; return nil })

	if q.Len() != 2 {
		t.Fatalf("expected keyed pushes to collapse, got %d pending", q.Len())
	}

	// The collapsed command keeps its original queue position and
	// carries the latest closure.
	q.EvalOne()
	if got != "second" {
		t.Errorf("expected the latest closure to run first, got %q", got)
	}
}

func TestQueue_FailedCommandDoesNotBlock(t *testing.T) {
	q := NewQueue()
	ran := false
	q.Push("", func() error { return errors.New("boom") })
	q.Push("", func() error { ran = true; return nil })

	q.EvalOne()
	q.EvalOne()
	if !ran {
		t.Error("expected the command behind a failure to still run")
	}
}

func TestTaskState_Dedup(t *testing.T) {
	ts := NewTaskState()
	runs := 0
	task := func() UpdateTask {
		return NewUpdateTask(OpFillFunction, "alice", 0x4011a0, func() error {
			runs++
			return nil
		})
	}

	ts.Add(task(), true)
	ts.Add(task(), true)
	ts.Add(NewUpdateTask(OpFillFunction, "alice", 0x402200, func() error { return nil }), false)

	if ts.Len() != 2 {
		t.Fatalf("expected identical tasks to deduplicate, got %d", ts.Len())
	}

	ts.DoNeededUpdates()
	if runs != 1 {
		t.Errorf("expected the deduplicated task to run once, got %d", runs)
	}
	if ts.Len() != 1 {
		t.Errorf("expected the one-shot task to be removed, got %d remaining", ts.Len())
	}
}

func TestTaskState_Toggle(t *testing.T) {
	ts := NewTaskState()
	task := NewUpdateTask(OpFillFunction, "alice", 0x4011a0, func() error { return nil })

	// Toggling an unknown task registers it flagged on.
	if !ts.ToggleAutoSync(task) {
		t.Error("expected first toggle to enable auto-sync")
	}
	if ts.ToggleAutoSync(task) {
		t.Error("expected second toggle to disable auto-sync")
	}
	if !ts.ToggleAutoSync(task) {
		t.Error("expected third toggle to enable again")
	}
	if !ts.AutoSynced(task) {
		t.Error("expected flag to read back enabled")
	}
}

func TestTaskState_OneShotRunsOnceAutoRecurs(t *testing.T) {
	ts := NewTaskState()
	var ran []string
	ts.Add(NewUpdateTask(OpFillFunction, "alice", 1, func() error {
		ran = append(ran, "auto")
		return nil
	}), true)
	ts.Add(NewUpdateTask(OpFillFunction, "alice", 2, func() error {
		ran = append(ran, "oneshot")
		return nil
	}), false)

	ts.DoNeededUpdates()
	if len(ran) != 2 {
		t.Fatalf("expected both tasks to run on the first round, got %v", ran)
	}

	// The one-shot is gone; the auto-synced task replays.
	ran = nil
	ts.DoNeededUpdates()
	if len(ran) != 1 || ran[0] != "auto" {
		t.Errorf("expected only the auto-synced task on the second round, got %v", ran)
	}
}

func TestTaskState_FailingTaskIsolated(t *testing.T) {
	ts := NewTaskState()
	ran := false
	ts.Add(NewUpdateTask(OpFillFunction, "alice", 1, func() error {
		return errors.New("boom")
	}), true)
	ts.Add(NewUpdateTask(OpFillFunction, "alice", 2, func() error {
		ran = true
		return nil
	}), true)

	ts.DoNeededUpdates()
	if !ran {
		t.Error("expected tasks after a failure to still run")
	}
}

func TestAPIGuard_Clamp(t *testing.T) {
	var g APIGuard

	// Analyst change with no pending engine writes passes through.
	if g.Observe() {
		t.Error("expected observe on empty counter to report analyst change")
	}
	if g.Observe() {
		t.Error("expected counter to clamp at zero, never go negative")
	}

	g.Inc()
	g.Add(2)
	if g.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", g.Pending())
	}
	for i := 0; i < 3; i++ {
		if !g.Observe() {
			t.Fatalf("expected observe %d to consume an engine write", i)
		}
	}
	if g.Observe() {
		t.Error("expected counter drained after three observes")
	}
}

func TestAPIGuard_DecUndoesFailedWrite(t *testing.T) {
	var g APIGuard

	g.Inc()
	g.Dec()
	if g.Observe() {
		t.Error("expected a decremented write to leave nothing to consume")
	}

	// Dec on an empty counter clamps like Observe does.
	g.Dec()
	if g.Pending() != 0 {
		t.Errorf("expected counter to stay at zero, got %d", g.Pending())
	}
}
