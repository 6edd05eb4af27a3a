package builtins

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"

	"myshell/internal/jobs"
)

var (
	colorRunning = color.New(color.FgGreen)
	colorStopped = color.New(color.FgYellow, color.Bold)
)

func (d *Dispatcher) stateString(s jobs.State) string {
	if !d.Color {
		return s.String()
	}
	switch s {
	case jobs.Running:
		return colorRunning.Sprint(s)
	case jobs.Stopped:
		return colorStopped.Sprint(s)
	default:
		return s.String()
	}
}

// Jobs lists the jobs that are still running or stopped.
func Jobs(d *Dispatcher, args []string, w io.Writer) int {
	d.Table.Compact()
	for _, job := range d.Table.List() {
		fmt.Fprintf(w, "[%d] %d %s %s\n", job.ID, job.PGID, d.stateString(job.State), job.Command)
	}
	return 0
}

// Fg resumes a job in the foreground and waits for it.
func Fg(d *Dispatcher, args []string, w io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintf(d.Stderr, "usage: %s <job>\n", args[0])
		return 1
	}
	job, ok := d.lookupJob(args[0], args[1])
	if !ok {
		return 1
	}
	fmt.Fprintln(w, job.Command)

	if err := d.Terminal.Give(job.PGID); err != nil {
		d.logf("fg: give terminal to %d: %v", job.PGID, err)
	}
	defer func() {
		if err := d.Terminal.Reclaim(); err != nil {
			d.logf("fg: reclaim terminal: %v", err)
		}
	}()

	if err := d.Groups.Continue(job.PGID); err != nil {
		d.logf("fg: continue %d: %v", job.PGID, err)
	}
	status, err := d.Groups.Wait(job.PGID)
	if err != nil {
		fmt.Fprintf(d.Stderr, "%s: %v\n", args[0], err)
		return 1
	}

	if status.State == jobs.Stopped {
		d.Table.SetState(job.ID, jobs.Stopped)
		fmt.Fprintf(w, "\n[%d]+  Stopped  %s\n", job.ID, job.Command)
		return 128 + int(unix.SIGTSTP)
	}
	d.Table.SetState(job.ID, jobs.Done)
	return status.ExitCode
}

// Bg resumes a stopped job without waiting for it.
func Bg(d *Dispatcher, args []string, w io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintf(d.Stderr, "usage: %s <job>\n", args[0])
		return 1
	}
	job, ok := d.lookupJob(args[0], args[1])
	if !ok {
		return 1
	}

	if err := d.Groups.Continue(job.PGID); err != nil {
		fmt.Fprintf(d.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	d.Table.SetState(job.ID, jobs.Running)
	fmt.Fprintf(w, "[%d]+ %s &\n", job.ID, job.Command)
	return 0
}

// Kill signals every process of a job and marks it done without waiting
// for the group to exit.
func Kill(d *Dispatcher, args []string, w io.Writer) int {
	opts := getopt.New()
	sigName := opts.StringLong("signal", 's', "TERM", "signal to send", "SIGNAL")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")
	opts.SetParameters("<job>")

	err := opts.Getopt(args, nil)
	if err != nil || *helpOpt || opts.NArgs() != 1 {
		if err != nil {
			fmt.Fprintln(d.Stderr, err)
		}
		opts.PrintUsage(d.Stderr)
		return 1
	}

	sig, err := ParseSignal(*sigName)
	if err != nil {
		fmt.Fprintf(d.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	job, ok := d.lookupJob(args[0], opts.Arg(0))
	if !ok {
		return 1
	}

	if err := d.Groups.Signal(job.PGID, sig); err != nil {
		fmt.Fprintf(d.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	// A stopped group only acts on the signal once it runs again.
	if job.State == jobs.Stopped && sig != unix.SIGKILL && sig != unix.SIGCONT {
		if err := d.Groups.Signal(job.PGID, unix.SIGCONT); err != nil {
			d.logf("kill: continue %d: %v", job.PGID, err)
		}
	}
	d.Table.SetState(job.ID, jobs.Done)
	return 0
}

var errInvalidSignal = errors.New("invalid signal")

// ParseSignal accepts a signal name with or without the SIG prefix, in any
// case, or a signal number.
func ParseSignal(s string) (unix.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || unix.SignalName(unix.Signal(n)) == "" {
			return 0, fmt.Errorf("%w: %s", errInvalidSignal, s)
		}
		return unix.Signal(n), nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("%w: %s", errInvalidSignal, s)
	}
	return sig, nil
}

func init() {
	AllBuiltins["jobs"] = BuiltinFunc(Jobs)
	AllBuiltins["fg"] = BuiltinFunc(Fg)
	AllBuiltins["bg"] = BuiltinFunc(Bg)
	AllBuiltins["kill"] = BuiltinFunc(Kill)
}
