package builtins

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pborman/getopt/v2"
)

// Cd changes the interpreter's working directory, to $HOME by default.
func Cd(d *Dispatcher, args []string, w io.Writer) int {
	switch len(args) {
	case 1:
		args = append(args, os.Getenv("HOME"))
		fallthrough
	case 2:
		if err := os.Chdir(args[1]); err != nil {
			fmt.Fprintf(d.Stderr, "%s: %v\n", args[0], err)
			return 1
		}
	default:
		fmt.Fprintf(d.Stderr, "%s: too many arguments\n", args[0])
		return 1
	}
	return 0
}

func Pwd(d *Dispatcher, args []string, w io.Writer) int {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(d.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	fmt.Fprintln(w, dir)
	return 0
}

func History(d *Dispatcher, args []string, w io.Writer) int {
	opts := getopt.New()
	clearOpt := opts.Bool('c', "clear the history by deleting all entries")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		if err != nil {
			fmt.Fprintln(d.Stderr, err)
		}
		fmt.Fprintln(d.Stderr, "Display or clear the history list.")
		fmt.Fprintln(d.Stderr)
		fmt.Fprintln(d.Stderr, "Options:")
		opts.PrintOptions(d.Stderr)
		return 1
	}
	if d.History == nil {
		return 0
	}

	if *clearOpt {
		d.History.Clear()
		return 0
	}
	for i, line := range d.History.Lines() {
		fmt.Fprintf(w, "% 5d  %s\n", i+1, line)
	}
	return 0
}

// Exit saves history and ends the interpreter.
func Exit(d *Dispatcher, args []string, w io.Writer) int {
	code := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(d.Stderr, "%s: %s: numeric argument required\n", args[0], args[1])
			return 1
		}
		code = n & 0xff
	}

	if d.History != nil {
		if err := d.History.Save(); err != nil {
			d.logf("exit: saving history: %v", err)
		}
	}
	d.Exit(code)
	return code
}

func Help(d *Dispatcher, args []string, w io.Writer) int {
	fmt.Fprintln(w, "myshell, a small job control shell.")
	fmt.Fprintln(w, "Pipelines join commands with |, redirect with <, > and >>, and run")
	fmt.Fprintln(w, "in the background when the line ends with &.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Builtins:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Join(Names(), "\n"))
	return 0
}

func init() {
	AllBuiltins["cd"] = BuiltinFunc(Cd)
	AllBuiltins["pwd"] = BuiltinFunc(Pwd)
	AllBuiltins["history"] = BuiltinFunc(History)
	AllBuiltins["exit"] = BuiltinFunc(Exit)
	AllBuiltins["help"] = BuiltinFunc(Help)
}
