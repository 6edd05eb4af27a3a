package executor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Exit statuses of stages that never got to run their program.
const (
	ExitRedirectFailure = 1
	ExitLaunchFailure   = 126
	ExitNotFound        = 127
)

// StageFailureEnv marks a process started in place of a stage that could not
// be launched. Its value is "<status>:<message>".
const StageFailureEnv = "MYSHELL_STAGE_FAILURE"

// RunStageFailure reports whether this process is such a stand-in. If it is,
// the message has been written to stderr and the caller must exit with code.
//
// A failing stage still becomes a member of its pipeline's process group and
// still holds its pipe ends, so its neighbours see EOF exactly as if the
// program had started and died.
func RunStageFailure(stderr io.Writer) (code int, ok bool) {
	value, ok := os.LookupEnv(StageFailureEnv)
	if !ok {
		return 0, false
	}

	status, msg, _ := strings.Cut(value, ":")
	code, err := strconv.Atoi(status)
	if err != nil {
		code = ExitLaunchFailure
	}
	if msg != "" {
		fmt.Fprintln(stderr, msg)
	}
	return code, true
}

func stageFailureEnv(code int, msg string) []string {
	return []string{fmt.Sprintf("%s=%d:%s", StageFailureEnv, code, msg)}
}
