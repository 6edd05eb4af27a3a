// Package reaper collects child state changes and folds them into the job
// table.
//
// The reaper is the only caller of wait4 in the interpreter. Foreground
// waits go through Wait, which blocks on the same bookkeeping the SIGCHLD
// path updates, so both paths always agree on a group's state.
package reaper

import (
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"myshell/internal/jobs"
)

// ErrStopped is returned by Wait once the reaper has been stopped.
var ErrStopped = errors.New("reaper stopped")

// Status is the observed state of a process group.
type Status struct {
	State jobs.State
	// ExitCode of the most recently launched member, valid once State is Done.
	ExitCode int
}

// Event is one drained child state change.
type Event struct {
	PID    int
	Status unix.WaitStatus
}

// WaitFunc reports one pending child state change without blocking. It
// returns pid <= 0 when nothing is pending.
type WaitFunc func() (pid int, status unix.WaitStatus, err error)

func wait4Any() (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
	return pid, ws, err
}

type memberState int

const (
	memberRunning memberState = iota
	memberStopped
	memberExited
)

type group struct {
	members  map[int]memberState
	order    []int
	exitCode int
	state    jobs.State
}

func (g *group) derive() jobs.State {
	live := 0
	stopped := false
	for _, st := range g.members {
		switch st {
		case memberRunning:
			live++
		case memberStopped:
			live++
			stopped = true
		}
	}
	switch {
	case live == 0:
		return jobs.Done
	case stopped:
		return jobs.Stopped
	default:
		return jobs.Running
	}
}

type Reaper struct {
	table   *jobs.Table
	logger  *log.Logger
	wait    WaitFunc
	getpgid func(pid int) (int, error)

	// hold serializes draining against pipeline launches.
	hold sync.Mutex

	mu     sync.Mutex
	cond   *sync.Cond
	groups map[int]*group
	owner  map[int]int
	// exit codes of groups that finished before anyone waited on them
	finished map[int]int
	stopped  bool

	sigs chan os.Signal
	done chan struct{}
}

func New(table *jobs.Table, logger *log.Logger) *Reaper {
	return NewWithWait(table, logger, wait4Any)
}

// NewWithWait builds a reaper that drains events from wait instead of wait4.
func NewWithWait(table *jobs.Table, logger *log.Logger, wait WaitFunc) *Reaper {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &Reaper{
		table:    table,
		logger:   logger,
		wait:     wait,
		getpgid:  unix.Getpgid,
		groups:   make(map[int]*group),
		owner:    make(map[int]int),
		finished: make(map[int]int),
		sigs:     make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start subscribes to SIGCHLD and drains on every notification.
func (r *Reaper) Start() {
	signal.Notify(r.sigs, unix.SIGCHLD)
	go func() {
		for {
			select {
			case <-r.done:
				return
			case <-r.sigs:
				r.Drain()
			}
		}
	}()
	r.kick()
}

func (r *Reaper) Stop() {
	signal.Stop(r.sigs)

	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.done)
	}
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *Reaper) kick() {
	select {
	case r.sigs <- unix.SIGCHLD:
	default:
	}
}

// Hold suspends draining until Release. Children that change state in the
// meantime stay pending in the kernel and are collected after Release.
func (r *Reaper) Hold() {
	r.hold.Lock()
}

func (r *Reaper) Release() {
	r.hold.Unlock()
	r.kick()
}

// Track records pid as a member of pgid.
func (r *Reaper) Track(pgid, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[pgid]
	if !ok {
		g = &group{members: make(map[int]memberState), state: jobs.Running}
		r.groups[pgid] = g
		delete(r.finished, pgid)
	}
	g.members[pid] = memberRunning
	g.order = append(g.order, pid)
	r.owner[pid] = pgid
}

// Members returns the tracked pids of a live group in launch order.
func (r *Reaper) Members(pgid int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[pgid]
	if !ok {
		return nil
	}
	return append([]int(nil), g.order...)
}

// State reports the current state of a live group.
func (r *Reaper) State(pgid int) (jobs.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[pgid]
	if !ok {
		return jobs.Done, false
	}
	return g.state, true
}

// Drain collects every pending child state change.
func (r *Reaper) Drain() {
	r.hold.Lock()
	defer r.hold.Unlock()

	for {
		pid, status, err := r.wait()
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return
		}
		r.Apply(Event{PID: pid, Status: status})
	}
}

// Apply folds a single child state change into the group records and the
// job table.
func (r *Reaper) Apply(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pgid, tracked := r.owner[ev.PID]
	if !tracked {
		r.applyUntracked(ev)
		return
	}
	g := r.groups[pgid]

	ws := ev.Status
	switch {
	case ws.Stopped():
		g.members[ev.PID] = memberStopped
	case ws.Continued():
		g.members[ev.PID] = memberRunning
	case ws.Exited() || ws.Signaled():
		g.members[ev.PID] = memberExited
		delete(r.owner, ev.PID)
		if len(g.order) > 0 && g.order[len(g.order)-1] == ev.PID {
			g.exitCode = exitCode(ws)
		}
	default:
		return
	}

	state := g.derive()
	r.logger.Printf("reaper: pid %d group %d -> %s", ev.PID, pgid, state)
	g.state = state
	r.table.SetStateByGroup(pgid, state)
	if state == jobs.Done {
		delete(r.groups, pgid)
		r.finished[pgid] = g.exitCode
	}
	r.cond.Broadcast()
}

// applyUntracked handles a child the interpreter did not launch through a
// pipeline. Live processes can still be mapped to their group; exits cannot
// and are dropped.
func (r *Reaper) applyUntracked(ev Event) {
	ws := ev.Status
	if !ws.Stopped() && !ws.Continued() {
		r.logger.Printf("reaper: dropping exit of untracked pid %d", ev.PID)
		return
	}
	pgid, err := r.getpgid(ev.PID)
	if err != nil {
		return
	}
	state := jobs.Running
	if ws.Stopped() {
		state = jobs.Stopped
	}
	r.table.SetStateByGroup(pgid, state)
}

// Wait blocks until pgid is stopped or every member has exited.
func (r *Reaper) Wait(pgid int) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		g, ok := r.groups[pgid]
		if !ok {
			code := r.finished[pgid]
			delete(r.finished, pgid)
			return Status{State: jobs.Done, ExitCode: code}, nil
		}
		if g.state != jobs.Running {
			return Status{State: g.state, ExitCode: g.exitCode}, nil
		}
		if r.stopped {
			return Status{State: g.state}, ErrStopped
		}
		r.cond.Wait()
	}
}

// Continue resumes a group. The group is marked running before SIGCONT is
// sent so a following Wait blocks until the next stop or exit.
func (r *Reaper) Continue(pgid int) error {
	r.mu.Lock()
	if g, ok := r.groups[pgid]; ok {
		for pid, st := range g.members {
			if st == memberStopped {
				g.members[pid] = memberRunning
			}
		}
		g.state = g.derive()
	}
	r.table.SetStateByGroup(pgid, jobs.Running)
	r.mu.Unlock()

	return r.Signal(pgid, unix.SIGCONT)
}

// Signal sends sig to every process in the group.
func (r *Reaper) Signal(pgid int, sig unix.Signal) error {
	if pgid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(-pgid, sig)
}

func exitCode(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
