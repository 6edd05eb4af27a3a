package executor

import (
	"os"

	"myshell/internal/parser"
)

// stageFiles are the descriptors one stage is started with. owned lists the
// files opened for this stage alone, which the parent closes once the stage
// has been started.
type stageFiles struct {
	stdin  *os.File
	stdout *os.File
	owned  []*os.File
}

func (f *stageFiles) close() {
	for _, file := range f.owned {
		file.Close()
	}
	f.owned = nil
}

// redirect binds the stage's "<" and ">"/">>" files over the descriptors the
// pipeline supplied. On error the bindings are left untouched and nothing it
// opened stays open.
func redirect(cmd parser.Command, files *stageFiles) error {
	var stdin, stdout *os.File

	if cmd.Stdin != "" {
		f, err := os.Open(cmd.Stdin)
		if err != nil {
			return err
		}
		stdin = f
	}

	if cmd.Stdout != "" {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if cmd.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(cmd.Stdout, flags, 0644)
		if err != nil {
			if stdin != nil {
				stdin.Close()
			}
			return err
		}
		stdout = f
	}

	if stdin != nil {
		files.stdin = stdin
		files.owned = append(files.owned, stdin)
	}
	if stdout != nil {
		files.stdout = stdout
		files.owned = append(files.owned, stdout)
	}
	return nil
}
