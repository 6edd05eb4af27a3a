package reaper

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"myshell/internal/jobs"
)

// Linux wait status encodings.
func exited(code int) unix.WaitStatus { return unix.WaitStatus(code << 8) }

func signaled(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(sig) }

func stopped(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(int(sig)<<8 | 0x7f) }

var continued = unix.WaitStatus(0xffff)

type script struct {
	events []Event
}

func (s *script) wait() (int, unix.WaitStatus, error) {
	if len(s.events) == 0 {
		return 0, 0, nil
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev.PID, ev.Status, nil
}

func newScripted(table *jobs.Table, events ...Event) (*Reaper, *script) {
	s := &script{events: events}
	return NewWithWait(table, nil, s.wait), s
}

func TestDrainAppliesLastNotification(t *testing.T) {
	cases := map[string]struct {
		statuses []unix.WaitStatus
		expected jobs.State
	}{
		"stop":               {[]unix.WaitStatus{stopped(unix.SIGTSTP)}, jobs.Stopped},
		"stop-continue":      {[]unix.WaitStatus{stopped(unix.SIGTSTP), continued}, jobs.Running},
		"stop-continue-stop": {[]unix.WaitStatus{stopped(unix.SIGTSTP), continued, stopped(unix.SIGTTIN)}, jobs.Stopped},
		"exit":               {[]unix.WaitStatus{exited(0)}, jobs.Done},
		"killed":             {[]unix.WaitStatus{signaled(unix.SIGKILL)}, jobs.Done},
		"stop-then-exit":     {[]unix.WaitStatus{stopped(unix.SIGSTOP), signaled(unix.SIGTERM)}, jobs.Done},
		"exit-then-anything": {[]unix.WaitStatus{exited(1), continued, stopped(unix.SIGSTOP)}, jobs.Done},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			table := jobs.NewTable(0)
			id, _ := table.Create(100, "sleep 100", jobs.Running)

			var events []Event
			for _, ws := range tc.statuses {
				events = append(events, Event{PID: 100, Status: ws})
			}
			r, _ := newScripted(table, events...)
			r.getpgid = func(pid int) (int, error) { return 0, unix.ESRCH }
			r.Track(100, 100)

			// All pending events are drained by a single call.
			r.Drain()

			job, ok := table.FindByID(id)
			require.True(t, ok)
			assert.Equal(t, tc.expected, job.State)
		})
	}
}

func TestGroupDoneOnlyWhenAllMembersExit(t *testing.T) {
	table := jobs.NewTable(0)
	id, _ := table.Create(10, "a | b | c", jobs.Running)

	r, s := newScripted(table)
	r.Track(10, 10)
	r.Track(10, 11)
	r.Track(10, 12)

	s.events = []Event{{PID: 10, Status: exited(0)}, {PID: 11, Status: exited(0)}}
	r.Drain()

	job, _ := table.FindByID(id)
	assert.Equal(t, jobs.Running, job.State)
	assert.Equal(t, []int{10, 11, 12}, r.Members(10))

	s.events = []Event{{PID: 12, Status: exited(4)}}
	r.Drain()

	job, _ = table.FindByID(id)
	assert.Equal(t, jobs.Done, job.State)
	assert.Nil(t, r.Members(10))

	status, err := r.Wait(10)
	assert.NoError(t, err)
	assert.Equal(t, jobs.Done, status.State)
	assert.Equal(t, 4, status.ExitCode, "exit code comes from the last stage")
}

func TestSignaledExitCode(t *testing.T) {
	table := jobs.NewTable(0)
	r, _ := newScripted(table, Event{PID: 7, Status: signaled(unix.SIGTERM)})
	r.Track(7, 7)
	r.Drain()

	status, err := r.Wait(7)
	assert.NoError(t, err)
	assert.Equal(t, 128+int(unix.SIGTERM), status.ExitCode)
}

func TestUntrackedEvents(t *testing.T) {
	table := jobs.NewTable(0)
	id, _ := table.Create(300, "external", jobs.Running)

	r, _ := newScripted(table,
		Event{PID: 301, Status: stopped(unix.SIGSTOP)},
		Event{PID: 999, Status: exited(0)},
	)
	r.getpgid = func(pid int) (int, error) {
		if pid == 301 {
			return 300, nil
		}
		return 0, unix.ESRCH
	}
	r.Drain()

	job, _ := table.FindByID(id)
	assert.Equal(t, jobs.Stopped, job.State)
}

func TestWaitBlocksUntilStateChange(t *testing.T) {
	table := jobs.NewTable(0)
	r, _ := newScripted(table)
	r.Track(50, 50)

	result := make(chan Status, 1)
	go func() {
		status, _ := r.Wait(50)
		result <- status
	}()

	select {
	case <-result:
		t.Fatal("Wait returned while the group was running")
	case <-time.After(50 * time.Millisecond):
	}

	r.Apply(Event{PID: 50, Status: stopped(unix.SIGTSTP)})

	select {
	case status := <-result:
		assert.Equal(t, jobs.Stopped, status.State)
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe the stop")
	}
}

func TestWaitUnknownGroupIsDone(t *testing.T) {
	r, _ := newScripted(jobs.NewTable(0))
	status, err := r.Wait(12345)
	assert.NoError(t, err)
	assert.Equal(t, jobs.Done, status.State)
}

func TestStopReleasesWaiters(t *testing.T) {
	r, _ := newScripted(jobs.NewTable(0))
	r.Track(60, 60)

	errs := make(chan error, 1)
	go func() {
		_, err := r.Wait(60)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestHoldDefersDrain(t *testing.T) {
	table := jobs.NewTable(0)
	r, s := newScripted(table)
	r.Track(70, 70)
	s.events = []Event{{PID: 70, Status: exited(0)}}

	r.Hold()
	drained := make(chan struct{})
	go func() {
		r.Drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain ran while held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []int{70}, r.Members(70))

	r.Release()
	<-drained
	assert.Nil(t, r.Members(70))
}

// startJob launches a background job while reaping is held, the way the
// executor does, so the table knows the group before any event is drained.
func startJob(t *testing.T, r *Reaper, table *jobs.Table, name string, args ...string) (pgid, id int) {
	t.Helper()

	path, err := exec.LookPath(name)
	require.NoError(t, err)

	r.Hold()
	defer r.Release()

	proc, err := os.StartProcess(path, append([]string{name}, args...), &os.ProcAttr{
		Files: []*os.File{nil, nil, os.Stderr},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	require.NoError(t, err)
	r.Track(proc.Pid, proc.Pid)
	id, _ = table.Create(proc.Pid, name, jobs.Running)
	proc.Release()
	return proc.Pid, id
}

func TestRealProcessExit(t *testing.T) {
	table := jobs.NewTable(0)
	r := New(table, nil)
	r.Start()
	defer r.Stop()

	pgid, id := startJob(t, r, table, "sh", "-c", "exit 3")

	status, err := r.Wait(pgid)
	require.NoError(t, err)
	assert.Equal(t, jobs.Done, status.State)
	assert.Equal(t, 3, status.ExitCode)

	job, _ := table.FindByID(id)
	assert.Equal(t, jobs.Done, job.State)
}

func TestRealProcessStopContinueKill(t *testing.T) {
	table := jobs.NewTable(0)
	r := New(table, nil)
	r.Start()
	defer r.Stop()

	pgid, id := startJob(t, r, table, "sleep", "30")

	require.NoError(t, r.Signal(pgid, unix.SIGSTOP))
	status, err := r.Wait(pgid)
	require.NoError(t, err)
	assert.Equal(t, jobs.Stopped, status.State)
	job, _ := table.FindByID(id)
	assert.Equal(t, jobs.Stopped, job.State)

	require.NoError(t, r.Continue(pgid))
	job, _ = table.FindByID(id)
	assert.Equal(t, jobs.Running, job.State)

	require.NoError(t, r.Signal(pgid, unix.SIGKILL))
	status, err = r.Wait(pgid)
	require.NoError(t, err)
	assert.Equal(t, jobs.Done, status.State)
	assert.Equal(t, 128+int(unix.SIGKILL), status.ExitCode)
}
