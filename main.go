package main

import (
	"os"

	"myshell/cmd"
	"myshell/internal/executor"
)

func main() {
	// Stages that cannot be launched re-run this binary to report the error
	// from inside their process group.
	if code, ok := executor.RunStageFailure(os.Stderr); ok {
		os.Exit(code)
	}
	cmd.Execute()
}
