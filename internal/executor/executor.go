package executor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"myshell/internal/jobs"
	"myshell/internal/parser"
	"myshell/internal/reaper"
)

// DefaultMaxStages bounds the commands in one pipeline when none is configured.
const DefaultMaxStages = 32

var (
	ErrTooManyStages     = errors.New("too many pipeline stages")
	ErrBuiltinInPipeline = errors.New("builtins cannot run inside a pipeline")
	ErrNothingLaunched   = errors.New("no stage could be started")
)

// Terminal is the foreground handoff the executor needs.
type Terminal interface {
	Enabled() bool
	Fd() int
	Give(pgid int) error
	Reclaim() error
}

// Builtins runs commands that live inside the shell process.
type Builtins interface {
	IsBuiltin(name string) bool
	Run(args []string, stdout io.Writer) int
}

// Executor turns parsed lines into process groups.
type Executor struct {
	Table    *jobs.Table
	Reaper   *reaper.Reaper
	Terminal Terminal
	Builtins Builtins

	MaxStages int

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	Logger *log.Logger

	// Self is started in place of a stage that cannot run; see RunStageFailure.
	Self string

	fgMutex       sync.RWMutex
	currentFgPgid int
}

func New(table *jobs.Table, r *reaper.Reaper, term Terminal, builtins Builtins) *Executor {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	return &Executor{
		Table:         table,
		Reaper:        r,
		Terminal:      term,
		Builtins:      builtins,
		MaxStages:     DefaultMaxStages,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		Logger:        log.New(io.Discard, "", 0),
		Self:          self,
		currentFgPgid: -1,
	}
}

// Run executes one line and returns its exit status: the built-in's status,
// the last stage's status for a finished foreground pipeline, 128+SIGTSTP for
// a stopped one and 0 for a background launch.
func (e *Executor) Run(line parser.Line) (int, error) {
	cmds := line.Commands
	if len(cmds) == 0 {
		return 0, nil
	}

	limit := e.MaxStages
	if limit <= 0 {
		limit = DefaultMaxStages
	}
	if len(cmds) > limit {
		return 1, fmt.Errorf("%w: %d (max %d)", ErrTooManyStages, len(cmds), limit)
	}

	if len(cmds) == 1 && e.isBuiltin(cmds[0]) {
		return e.runBuiltin(cmds[0])
	}
	for _, cmd := range cmds {
		if e.isBuiltin(cmd) {
			return 1, fmt.Errorf("%s: %w", cmd.Name(), ErrBuiltinInPipeline)
		}
	}

	pgid, err := e.launch(line)
	if pgid == 0 {
		return 1, err
	}
	if err != nil {
		fmt.Fprintf(e.Stderr, "myshell: %v\n", err)
	}

	if line.Background {
		return 0, nil
	}
	return e.waitForeground(pgid, line.Text)
}

func (e *Executor) isBuiltin(cmd parser.Command) bool {
	return e.Builtins != nil && e.Builtins.IsBuiltin(cmd.Name())
}

func (e *Executor) runBuiltin(cmd parser.Command) (int, error) {
	files := stageFiles{stdin: e.Stdin, stdout: e.Stdout}
	if err := redirect(cmd, &files); err != nil {
		return ExitRedirectFailure, err
	}
	defer files.close()

	return e.Builtins.Run(cmd.Args, files.stdout), nil
}

// launch starts every stage of the line in one process group and returns
// the group id. Reaping is held throughout, so no member is collected before
// the whole group exists and, for background lines, before the job is in the
// table.
func (e *Executor) launch(line parser.Line) (int, error) {
	e.Reaper.Hold()
	defer e.Reaper.Release()

	var (
		pgid      int
		prevRead  *os.File
		launchErr error
	)
	n := len(line.Commands)

	for i, cmd := range line.Commands {
		files := stageFiles{stdin: prevRead, stdout: e.Stdout}
		if i == 0 {
			stdin, err := e.firstStdin(line.Background)
			if err != nil {
				launchErr = err
				break
			}
			files.stdin = stdin
			if stdin != e.Stdin {
				files.owned = append(files.owned, stdin)
			}
		}

		var nextRead *os.File
		if i < n-1 {
			r, w, err := os.Pipe()
			if err != nil {
				files.close()
				launchErr = fmt.Errorf("pipe: %w", err)
				break
			}
			nextRead = r
			files.stdout = w
			files.owned = append(files.owned, w)
		}
		if prevRead != nil {
			files.owned = append(files.owned, prevRead)
		}

		pid, err := e.startStage(cmd, &files, pgid, line.Background)
		// The child holds its own copies now.
		files.close()
		prevRead = nextRead

		if err != nil {
			e.Logger.Printf("stage %d of %q not started: %v", i, line.Text, err)
			fmt.Fprintln(e.Stderr, err)
			continue
		}
		if pgid == 0 {
			pgid = pid
		}
		e.Reaper.Track(pgid, pid)
		e.Logger.Printf("stage %d of %q: pid %d group %d", i, line.Text, pid, pgid)
	}
	if prevRead != nil {
		prevRead.Close()
	}

	if pgid == 0 {
		if launchErr == nil {
			launchErr = ErrNothingLaunched
		}
		return 0, launchErr
	}

	if line.Background {
		id, ok := e.Table.Create(pgid, line.Text, jobs.Running)
		if !ok {
			e.Logger.Printf("job table full, %q (group %d) not tracked", line.Text, pgid)
			fmt.Fprintf(e.Stdout, "[-] %d\n", pgid)
		} else {
			fmt.Fprintf(e.Stdout, "[%d] %d\n", id, pgid)
		}
	}
	return pgid, launchErr
}

// firstStdin is the terminal, except for background lines in a shell
// without job control, which read /dev/null.
func (e *Executor) firstStdin(background bool) (*os.File, error) {
	if !background || e.Terminal.Enabled() {
		return e.Stdin, nil
	}
	return os.Open(os.DevNull)
}

// startStage starts one stage as a member of pgid, or as the leader of a new
// group when pgid is 0. A stage that cannot run its program is replaced by a
// stand-in that reports the error and exits with the matching status.
func (e *Executor) startStage(cmd parser.Command, files *stageFiles, pgid int, background bool) (int, error) {
	sys := &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
	if pgid == 0 && !background && e.Terminal.Enabled() {
		// Take the terminal in the child too, before exec, so the program
		// never runs in the background of its own terminal.
		sys.Foreground = true
		sys.Ctty = e.Terminal.Fd()
	}
	attr := &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{files.stdin, files.stdout, e.Stderr},
		Sys:   sys,
	}

	if err := redirect(cmd, files); err != nil {
		return e.startFailure(attr, ExitRedirectFailure, fmt.Sprintf("myshell: %v", err))
	}
	attr.Files[0], attr.Files[1] = files.stdin, files.stdout

	path, err := exec.LookPath(cmd.Name())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return e.startFailure(attr, ExitNotFound, fmt.Sprintf("myshell: %s: command not found", cmd.Name()))
		}
		return e.startFailure(attr, ExitLaunchFailure, fmt.Sprintf("myshell: %s: %v", cmd.Name(), err))
	}

	proc, err := os.StartProcess(path, cmd.Args, attr)
	if err != nil {
		return e.startFailure(attr, ExitLaunchFailure, fmt.Sprintf("myshell: %s: %v", cmd.Name(), err))
	}
	pid := proc.Pid
	// The reaper collects the child with wait4; drop the runtime's handle.
	proc.Release()
	return pid, nil
}

func (e *Executor) startFailure(attr *os.ProcAttr, code int, msg string) (int, error) {
	attr.Env = stageFailureEnv(code, msg)
	proc, err := os.StartProcess(e.Self, []string{e.Self}, attr)
	if err != nil {
		return 0, fmt.Errorf("%s (%w)", msg, err)
	}
	pid := proc.Pid
	proc.Release()
	return pid, nil
}

// waitForeground gives pgid the terminal and blocks until it stops or
// finishes. The terminal comes back to the shell on every path.
func (e *Executor) waitForeground(pgid int, text string) (int, error) {
	e.setCurrentFgPgid(pgid)
	defer e.setCurrentFgPgid(-1)

	if err := e.Terminal.Give(pgid); err != nil {
		e.Logger.Printf("give terminal to %d: %v", pgid, err)
	}
	defer func() {
		if rerr := e.Terminal.Reclaim(); rerr != nil {
			e.Logger.Printf("reclaim terminal: %v", rerr)
		}
	}()

	status, err := e.Reaper.Wait(pgid)
	if err != nil {
		return 1, err
	}

	if status.State == jobs.Stopped {
		id, ok := e.registerStopped(pgid, text)
		if ok {
			fmt.Fprintf(e.Stdout, "\n[%d]+  Stopped  %s\n", id, text)
		}
		return 128 + int(unix.SIGTSTP), nil
	}
	return status.ExitCode, nil
}

// registerStopped records a stopped foreground group. The group's state is
// read again with reaping held, since it may have moved on since Wait
// returned.
func (e *Executor) registerStopped(pgid int, text string) (int, bool) {
	e.Reaper.Hold()
	defer e.Reaper.Release()

	state, live := e.Reaper.State(pgid)
	if !live {
		return 0, false
	}
	id, ok := e.Table.Create(pgid, text, state)
	if !ok {
		e.Logger.Printf("job table full, stopped group %d not tracked", pgid)
	}
	return id, ok
}

func (e *Executor) setCurrentFgPgid(pgid int) {
	e.fgMutex.Lock()
	defer e.fgMutex.Unlock()
	e.currentFgPgid = pgid
}

// CurrentFgPgid is the group being waited on in the foreground, or -1.
func (e *Executor) CurrentFgPgid() int {
	e.fgMutex.RLock()
	defer e.fgMutex.RUnlock()
	return e.currentFgPgid
}

// SendSignalToFg forwards sig to the foreground group, if any. Without job
// control the terminal's signals reach only the shell, which passes them on
// through here.
func (e *Executor) SendSignalToFg(sig unix.Signal) {
	if pgid := e.CurrentFgPgid(); pgid > 0 {
		_ = e.Reaper.Signal(pgid, sig)
	}
}
