// Package scheduler holds the in-session work queues: the ordered
// command queue drained by the background tick, the deduplicated
// update-task table behind auto-sync, and the counter that suppresses
// change events caused by the engine's own writes.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "scheduler")

// Command is one deferred unit of work, usually a push closure bound
// to its arguments at enqueue time.
type Command func() error

// Queue is an ordered command queue with key-based collapsing. Pushing
// a command under an existing key replaces the queued command in
// place, keeping its position; this is how repeated edits to the same
// struct collapse to one pending write.
type Queue struct {
	mu    sync.Mutex
	order []string
	cmds  map[string]Command
	seq   uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{cmds: make(map[string]Command)}
}

// Push enqueues cmd under key. An empty key gets a unique ordinal so
// the command never collapses with another.
func (q *Queue) Push(key string, cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if key == "" {
		q.seq++
		key = fmt.Sprintf("cmd-%d", q.seq)
	}
	if _, ok := q.cmds[key]; !ok {
		q.order = append(q.order, key)
	}
	q.cmds[key] = cmd
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// EvalOne pops and runs the oldest command. The command executes
// outside the queue lock; a failing command is logged and dropped, it
// never blocks the commands behind it. Returns false when the queue
// was empty.
func (q *Queue) EvalOne() bool {
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return false
	}
	key := q.order[0]
	q.order = q.order[1:]
	cmd := q.cmds[key]
	delete(q.cmds, key)
	q.mu.Unlock()

	if err := cmd(); err != nil {
		log.WithError(err).WithField("key", key).Warn("queued command failed")
	}
	return true
}
