// Package builtins holds the commands that run inside the interpreter
// process: job control and the few commands that must change the
// interpreter's own state.
package builtins

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"myshell/internal/jobs"
	"myshell/internal/reaper"
)

// AllBuiltins holds every registered builtin by name.
var AllBuiltins = make(map[string]Builtin)

type Builtin interface {
	Main(d *Dispatcher, args []string, stdout io.Writer) int
}

type BuiltinFunc func(d *Dispatcher, args []string, stdout io.Writer) int

func (f BuiltinFunc) Main(d *Dispatcher, args []string, stdout io.Writer) int {
	return f(d, args, stdout)
}

var _ Builtin = (BuiltinFunc)(nil)

// Groups is the process group control the job builtins need.
type Groups interface {
	Wait(pgid int) (reaper.Status, error)
	Continue(pgid int) error
	Signal(pgid int, sig unix.Signal) error
}

type Terminal interface {
	Give(pgid int) error
	Reclaim() error
}

type History interface {
	Lines() []string
	Clear()
	Save() error
}

// Dispatcher runs builtins against the interpreter's job table.
type Dispatcher struct {
	Table    *jobs.Table
	Groups   Groups
	Terminal Terminal
	History  History

	Stderr io.Writer
	Logger *log.Logger

	// Color enables coloured job states in listings.
	Color bool

	// Exit ends the interpreter. It is called by the exit builtin after
	// history has been saved.
	Exit func(code int)
}

func New(table *jobs.Table, groups Groups, term Terminal) *Dispatcher {
	return &Dispatcher{
		Table:    table,
		Groups:   groups,
		Terminal: term,
		Stderr:   os.Stderr,
		Logger:   log.New(io.Discard, "", 0),
		Exit:     os.Exit,
	}
}

// IsBuiltin reports whether name runs inside the interpreter.
func (d *Dispatcher) IsBuiltin(name string) bool {
	_, ok := AllBuiltins[name]
	return ok
}

// Run executes a builtin and returns its exit status.
func (d *Dispatcher) Run(args []string, stdout io.Writer) int {
	if len(args) == 0 {
		return 0
	}
	b, ok := AllBuiltins[args[0]]
	if !ok {
		fmt.Fprintf(d.Stderr, "myshell: %s: not a builtin\n", args[0])
		return 1
	}
	return b.Main(d, args, stdout)
}

// Names lists the registered builtins in sorted order.
func Names() []string {
	var names []string
	for name := range AllBuiltins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseJobID accepts "N" or "%N".
func ParseJobID(s string) (int, bool) {
	s = strings.TrimPrefix(s, "%")
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// lookupJob resolves the job named by arg. Unknown, malformed and finished
// jobs are all reported the same way.
func (d *Dispatcher) lookupJob(name, arg string) (jobs.Job, bool) {
	id, ok := ParseJobID(arg)
	if ok {
		job, found := d.Table.FindByID(id)
		if found && job.State != jobs.Done {
			return job, true
		}
	}
	fmt.Fprintf(d.Stderr, "%s: no such job\n", name)
	return jobs.Job{}, false
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}
