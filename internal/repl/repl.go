package repl

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/sys/unix"

	"myshell/internal/executor"
	"myshell/internal/jobs"
	"myshell/internal/parser"
)

// ExitSyntaxError is the status of a line that could not be parsed.
const ExitSyntaxError = 2

type History interface {
	Add(line string)
	Save() error
}

// Shell reads lines, runs them and reports finished background jobs.
type Shell struct {
	Executor *executor.Executor
	Table    *jobs.Table
	History  History

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger

	// Prompt renders the prompt for the working directory.
	Prompt func(cwd string) string
	// Interactive shells print prompts.
	Interactive bool

	lastStatus int
}

func New(exec *executor.Executor, table *jobs.Table, history History) *Shell {
	return &Shell{
		Executor: exec,
		Table:    table,
		History:  history,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Logger:   log.New(io.Discard, "", 0),
		Prompt:   func(cwd string) string { return fmt.Sprintf("mysh:%s$ ", cwd) },
	}
}

// Run reads lines until end of input and returns the status of the last
// one.
func (s *Shell) Run() int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGQUIT, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)
	go s.handleSignals(sigChan, done)

	reader := bufio.NewReader(s.Stdin)
	for {
		s.notifyDone()
		if s.Interactive {
			fmt.Fprint(s.Stdout, s.prompt())
		}

		input, err := reader.ReadString('\n')
		if input != "" {
			s.lastStatus = s.RunLine(input)
		}
		if err != nil {
			if err != io.EOF {
				s.Logger.Printf("read: %v", err)
			}
			break
		}
	}

	if s.Interactive {
		fmt.Fprintln(s.Stdout)
	}
	if s.History != nil {
		if err := s.History.Save(); err != nil {
			s.Logger.Printf("saving history: %v", err)
		}
	}
	return s.lastStatus
}

// RunLine records one line in history and executes it.
func (s *Shell) RunLine(input string) int {
	input = strings.TrimRight(input, "\r\n")
	if strings.TrimSpace(input) == "" {
		return s.lastStatus
	}
	if s.History != nil {
		s.History.Add(input)
	}

	line, err := parser.Parse(input)
	if err != nil {
		fmt.Fprintf(s.Stderr, "myshell: %v\n", err)
		return ExitSyntaxError
	}

	code, err := s.Executor.Run(line)
	if err != nil {
		fmt.Fprintf(s.Stderr, "myshell: %v\n", err)
	}
	s.Logger.Printf("%q exited %d", line.Text, code)
	return code
}

// notifyDone reports and forgets jobs that finished since the last prompt.
func (s *Shell) notifyDone() {
	for _, job := range s.Table.Compact() {
		fmt.Fprintf(s.Stdout, "[%d]  Done  %s\n", job.ID, job.Command)
	}
}

func (s *Shell) prompt() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "?"
	}
	return s.Prompt(cwd)
}

// handleSignals keeps terminal signals from stopping or killing the
// interpreter. Interrupts reach a foreground pipeline through here when the
// shell has no terminal of its own.
func (s *Shell) handleSignals(sigChan <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-sigChan:
			switch sig {
			case unix.SIGINT, unix.SIGQUIT:
				if s.Executor.CurrentFgPgid() > 0 {
					s.Executor.SendSignalToFg(sig.(unix.Signal))
				} else if s.Interactive {
					fmt.Fprint(s.Stdout, "\n"+s.prompt())
				}
			default:
				s.Logger.Printf("ignoring %v", sig)
			}
		}
	}
}
