package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		input    string
		expected Line
	}{
		{"", Line{}},
		{"   ", Line{}},
		{"ls -l", Line{
			Commands: []Command{{Args: []string{"ls", "-l"}}},
			Text:     "ls -l",
		}},
		{"sleep 5 &", Line{
			Commands:   []Command{{Args: []string{"sleep", "5"}}},
			Background: true,
			Text:       "sleep 5 &",
		}},
		{"sleep 5&", Line{
			Commands:   []Command{{Args: []string{"sleep", "5"}}},
			Background: true,
			Text:       "sleep 5&",
		}},
		{"ls | grep foo > out.txt", Line{
			Commands: []Command{
				{Args: []string{"ls"}},
				{Args: []string{"grep", "foo"}, Stdout: "out.txt"},
			},
			Text: "ls | grep foo > out.txt",
		}},
		{"cat < in.txt|sort|uniq >> log", Line{
			Commands: []Command{
				{Args: []string{"cat"}, Stdin: "in.txt"},
				{Args: []string{"sort"}},
				{Args: []string{"uniq"}, Stdout: "log", Append: true},
			},
			Text: "cat < in.txt|sort|uniq >> log",
		}},
		{`echo "hello world" 'a b'`, Line{
			Commands: []Command{{Args: []string{"echo", "hello world", "a b"}}},
			Text:     `echo "hello world" 'a b'`,
		}},
		{"echo a > first > second", Line{
			Commands: []Command{{Args: []string{"echo", "a"}, Stdout: "second"}},
			Text:     "echo a > first > second",
		}},
		{"grep x < in | wc -l &", Line{
			Commands: []Command{
				{Args: []string{"grep", "x"}, Stdin: "in"},
				{Args: []string{"wc", "-l"}},
			},
			Background: true,
			Text:       "grep x < in | wc -l &",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			actual, err := Parse(tc.input)

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"&",
		"ls | | wc",
		"| wc",
		"ls |",
		"ls >",
		"cat <",
		"> out.txt",
		`echo "unterminated`,
		"sleep 1 & sleep 2",
		"sleep 1 &&",
	}

	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "ls", Command{Args: []string{"ls", "-a"}}.Name())
	assert.Equal(t, "", Command{}.Name())
}
