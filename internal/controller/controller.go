// Package controller coordinates the whole sync session: it receives
// change events from the tool, queues pushes, applies other users'
// artifacts into the tool, and drives the background tick loop.
package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"revsync/internal/client"
	"revsync/internal/scheduler"
)

var log = logrus.WithField("pkg", "controller")

const (
	tickInterval       = time.Second
	infoReloadInterval = 10 * time.Second
)

// SyncStatus is the coarse session state shown in info surfaces.
type SyncStatus int

const (
	StatusDisconnected SyncStatus = iota
	StatusConnectedNoRemote
	StatusConnected
)

func (s SyncStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusConnectedNoRemote:
		return "connected (no remote)"
	default:
		return "disconnected"
	}
}

// InfoReloader redraws an info surface from the latest session data.
// Surfaces come and go with UI windows; a closed surface returns an
// error and is simply skipped that round.
type InfoReloader func(users []string, st client.Status) error

// Controller wires the client, the queues, and the tool together.
type Controller struct {
	client *client.Client
	tool   Tool

	queue *scheduler.Queue
	tasks *scheduler.TaskState
	guard *scheduler.APIGuard

	mu         sync.Mutex
	reloaders  []InfoReloader
	lastReload time.Time
	updating   bool
	headless   bool

	tickEvery time.Duration
	infoEvery time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a controller bound to a connected client and a tool.
func New(cl *client.Client, tool Tool) *Controller {
	return &Controller{
		client:    cl,
		tool:      tool,
		queue:     scheduler.NewQueue(),
		tasks:     scheduler.NewTaskState(),
		guard:     &scheduler.APIGuard{},
		tickEvery: tickInterval,
		infoEvery: infoReloadInterval,
	}
}

// SetHeadless disables view refreshes for scripted sessions.
func (c *Controller) SetHeadless(h bool) { c.headless = h }

// Client exposes the underlying session for command surfaces.
func (c *Controller) Client() *client.Client { return c.client }

// Tasks exposes the auto-sync task table.
func (c *Controller) Tasks() *scheduler.TaskState { return c.tasks }

// AddInfoReloader registers an info surface for the periodic reload.
func (c *Controller) AddInfoReloader(r InfoReloader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloaders = append(c.reloaders, r)
}

// Start launches the background loop: one tick per second pulls
// (self-throttled by the client), drains one queued command, replays
// auto-sync tasks, and reloads info surfaces every ten seconds.
func (c *Controller) Start() {
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

// Stop halts the background loop and waits for the current tick.
func (c *Controller) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	c.wg.Wait()
	c.stop = nil
}

func (c *Controller) tick() {
	if err := c.client.Pull(); err != nil && !errors.Is(err, client.ErrNotConnected) {
		log.WithError(err).Debug("pull failed, will retry next window")
	}
	c.queue.EvalOne()
	c.runUpdates()
	c.maybeReloadInfo()
}

// runUpdates is the single entry point for the update-task table. The
// tick loop and view-refresh hooks both land here; whichever arrives
// while a round is in flight skips, so fills never run concurrently
// with each other and a refresh fired from inside an apply never
// recurses. Skipped work is picked up on the next tick.
func (c *Controller) runUpdates() {
	c.mu.Lock()
	if c.updating {
		c.mu.Unlock()
		return
	}
	c.updating = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.updating = false
		c.mu.Unlock()
	}()
	c.tasks.DoNeededUpdates()
}

func (c *Controller) maybeReloadInfo() {
	c.mu.Lock()
	if time.Since(c.lastReload) < c.infoEvery || len(c.reloaders) == 0 {
		c.mu.Unlock()
		return
	}
	c.lastReload = time.Now()
	reloaders := make([]InfoReloader, len(c.reloaders))
	copy(reloaders, c.reloaders)
	c.mu.Unlock()

	users, err := c.client.Users()
	if err != nil {
		if !errors.Is(err, client.ErrNotConnected) {
			log.WithError(err).Debug("listing users for info reload failed")
		}
		return
	}
	st := c.client.Status()
	for _, r := range reloaders {
		if err := r(users, st); err != nil {
			log.WithError(err).Debug("info surface reload skipped")
		}
	}
}

// OnViewRefreshed runs auto-sync tasks when the tool redraws a view.
// The engine's own applies end in a redraw; runUpdates keeps a refresh
// triggered by an apply from starting another apply.
func (c *Controller) OnViewRefreshed() {
	c.runUpdates()
}

// Status summarizes the session.
func (c *Controller) Status() SyncStatus {
	st := c.client.Status()
	switch {
	case !st.Connected:
		return StatusDisconnected
	case !st.HasRemote:
		return StatusConnectedNoRemote
	default:
		return StatusConnected
	}
}
