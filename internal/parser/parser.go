package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anmitsu/go-shlex"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("syntax error")

// Command is one pipeline stage.
type Command struct {
	Args []string
	// Stdin is the file named by "<", if any.
	Stdin string
	// Stdout is the file named by ">" or ">>", if any.
	Stdout string
	Append bool
}

func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Line is a parsed command line: the pipeline stages in order and whether it
// ends in "&".
type Line struct {
	Commands   []Command
	Background bool
	// Text is the line as typed, for job listings.
	Text string
}

// Parse splits input into pipeline stages. An empty or blank line yields a
// Line without commands.
func Parse(input string) (Line, error) {
	line := Line{Text: strings.TrimSpace(input)}

	trimmed := line.Text
	if strings.HasSuffix(trimmed, "&") {
		line.Background = true
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "&"))
		if trimmed == "" {
			return Line{}, fmt.Errorf("%w near unexpected token `&'", ErrSyntax)
		}
	}
	if trimmed == "" {
		return line, nil
	}

	parts := strings.Split(trimmed, "|")
	for _, part := range parts {
		tokens, err := shlex.Split(part, true)
		if err != nil {
			return Line{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		if len(tokens) == 0 {
			return Line{}, fmt.Errorf("%w near unexpected token `|'", ErrSyntax)
		}

		cmd, err := ParseCommand(tokens)
		if err != nil {
			return Line{}, err
		}
		line.Commands = append(line.Commands, cmd)
	}

	return line, nil
}

// ParseCommand pulls the redirection operators out of one stage's tokens.
// When an operator repeats, the last one wins.
func ParseCommand(tokens []string) (Command, error) {
	var cmd Command

	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case ">", ">>", "<":
			if i+1 >= len(tokens) {
				return Command{}, fmt.Errorf("%w near unexpected token `newline'", ErrSyntax)
			}
			target := tokens[i+1]
			switch tokens[i] {
			case ">":
				cmd.Stdout = target
				cmd.Append = false
			case ">>":
				cmd.Stdout = target
				cmd.Append = true
			case "<":
				cmd.Stdin = target
			}
			i++
		case "&":
			return Command{}, fmt.Errorf("%w near unexpected token `&'", ErrSyntax)
		default:
			cmd.Args = append(cmd.Args, tokens[i])
		}
	}

	if len(cmd.Args) == 0 {
		return Command{}, fmt.Errorf("%w: missing command", ErrSyntax)
	}
	return cmd, nil
}
