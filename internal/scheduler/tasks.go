package scheduler

import (
	"fmt"
	"sync"
)

// Op names an update-task operation for identity purposes.
type Op string

// Update-task operations.
const (
	OpFillFunction Op = "fill-function"
	OpFillStructs  Op = "fill-structs"
)

// UpdateTask is one deferred apply operation identified by its
// operation and arguments. Two tasks with the same identity are the
// same task; re-adding one refreshes its auto-sync flag instead of
// queueing a duplicate.
type UpdateTask struct {
	Op       Op
	User     string
	FuncAddr uint64

	fn func() error
}

// NewUpdateTask binds an operation identity to its closure.
func NewUpdateTask(op Op, user string, funcAddr uint64, fn func() error) UpdateTask {
	return UpdateTask{Op: op, User: user, FuncAddr: funcAddr, fn: fn}
}

// Key returns the task's identity. The closure never participates.
func (t UpdateTask) Key() string {
	return fmt.Sprintf("%s|%s|%x", t.Op, t.User, t.FuncAddr)
}

// Run executes the task.
func (t UpdateTask) Run() error {
	return t.fn()
}

// TaskState is the ordered table of known update tasks and their
// auto-sync flags. Order is insertion order, so DoNeededUpdates
// replays flagged tasks oldest first.
type TaskState struct {
	mu    sync.Mutex
	order []string
	tasks map[string]UpdateTask
	auto  map[string]bool
}

// NewTaskState returns an empty task table.
func NewTaskState() *TaskState {
	return &TaskState{
		tasks: make(map[string]UpdateTask),
		auto:  make(map[string]bool),
	}
}

// Add registers a task, deduplicating by identity. A task added
// without autoSync runs once on the next update round; with autoSync
// it recurs until toggled off. The flag of an existing task is
// overwritten, not accumulated.
func (ts *TaskState) Add(t UpdateTask, autoSync bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	key := t.Key()
	if _, ok := ts.tasks[key]; !ok {
		ts.order = append(ts.order, key)
	}
	ts.tasks[key] = t
	ts.auto[key] = autoSync
}

// ToggleAutoSync flips the auto-sync flag of the identified task.
// Toggling an unknown task registers it flagged on, so a toggle from
// the UI is never lost to ordering races with Add.
func (ts *TaskState) ToggleAutoSync(t UpdateTask) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	key := t.Key()
	if _, ok := ts.tasks[key]; !ok {
		ts.order = append(ts.order, key)
		ts.tasks[key] = t
		ts.auto[key] = true
		return true
	}
	ts.auto[key] = !ts.auto[key]
	return ts.auto[key]
}

// AutoSynced reports the task's current flag.
func (ts *TaskState) AutoSynced(t UpdateTask) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.auto[t.Key()]
}

// Len returns the number of registered tasks.
func (ts *TaskState) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.order)
}

// DoNeededUpdates runs every pending task once, oldest first. One-shot
// tasks are removed after their run; auto-synced tasks stay and replay
// on the next round. The task set is snapshotted under the lock and
// executed outside it, so a task may safely re-register itself. One
// failing task is logged and skipped; the rest still run.
func (ts *TaskState) DoNeededUpdates() {
	ts.mu.Lock()
	pending := make([]UpdateTask, 0, len(ts.order))
	keep := ts.order[:0]
	for _, key := range ts.order {
		pending = append(pending, ts.tasks[key])
		if ts.auto[key] {
			keep = append(keep, key)
			continue
		}
		delete(ts.tasks, key)
		delete(ts.auto, key)
	}
	ts.order = keep
	ts.mu.Unlock()

	for _, t := range pending {
		if err := t.Run(); err != nil {
			log.WithError(err).WithField("task", t.Key()).Warn("sync task failed")
		}
	}
}
