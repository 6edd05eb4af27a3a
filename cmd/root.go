package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"myshell/internal/builtins"
	"myshell/internal/config"
	"myshell/internal/executor"
	"myshell/internal/history"
	"myshell/internal/jobs"
	"myshell/internal/reaper"
	"myshell/internal/repl"
	"myshell/internal/terminal"
)

var (
	cfgPath string
	debug   bool
	command string

	exitStatus int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "myshell",
	Short: "A small job control shell",
	Long: `A small interactive shell with pipelines, redirection and job control.

Lines are read from standard input. With -c a single line is run and its
status becomes the exit status.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		status, err := runShell(afero.NewOsFs(), os.Stdin)
		if err != nil {
			return err
		}
		exitStatus = status
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitStatus)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (defaults are built in)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write diagnostics to stderr")
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "run one line and exit with its status")
}

// openLogger builds the session logger. The returned func closes the log
// file, if one was opened.
func openLogger(fsys afero.Fs, cfg *config.Configuration) (*log.Logger, func(), error) {
	prefix := fmt.Sprintf("myshell[%s] ", uuid.NewString()[:8])
	flags := log.LstdFlags | log.Lmicroseconds

	switch {
	case debug:
		return log.New(os.Stderr, prefix, flags), func() {}, nil
	case cfg.LogFile != "":
		fd, err := fsys.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return log.New(fd, prefix, flags), func() { fd.Close() }, nil
	default:
		return log.New(io.Discard, prefix, flags), func() {}, nil
	}
}

func runShell(fsys afero.Fs, stdin *os.File) (int, error) {
	cfg, err := config.Load(fsys, cfgPath)
	if err != nil {
		return 1, err
	}

	logger, closeLog, err := openLogger(fsys, cfg)
	if err != nil {
		return 1, err
	}
	defer closeLog()

	table := jobs.NewTable(cfg.MaxJobs)
	r := reaper.New(table, logger)
	r.Start()
	defer r.Stop()

	term := terminal.New(stdin)
	if err := term.Init(); err != nil {
		logger.Printf("no job control: %v", err)
	} else if fg, err := term.Foreground(); err == nil {
		logger.Printf("terminal foreground group %d, shell group %d", fg, term.ShellGroup())
	}

	histPath := cfg.HistoryPath()
	if command != "" {
		histPath = ""
	}
	hist := history.New(fsys, histPath, cfg.HistorySize)
	if err := hist.Load(); err != nil {
		logger.Printf("loading history: %v", err)
	}

	dispatcher := builtins.New(table, r, term)
	dispatcher.History = hist
	dispatcher.Logger = logger
	dispatcher.Color = isatty.IsTerminal(os.Stdout.Fd())
	dispatcher.Exit = func(code int) {
		r.Stop()
		closeLog()
		os.Exit(code)
	}

	exec := executor.New(table, r, term, dispatcher)
	exec.MaxStages = cfg.MaxStages
	exec.Stdin = stdin
	exec.Logger = logger

	shell := repl.New(exec, table, hist)
	shell.Stdin = stdin
	shell.Logger = logger
	shell.Prompt = cfg.PromptFor
	shell.Interactive = term.Enabled() && command == ""

	logger.Printf("session started, pid %d", os.Getpid())
	if command != "" {
		return shell.RunLine(command), nil
	}
	return shell.Run(), nil
}
