// Package history keeps the interpreter's command history and persists it
// as a newline-delimited file.
package history

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const (
	DefaultSize = 200
	FileName    = ".myshell_history"
)

// DefaultPath is the history file in the user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, FileName)
}

// History holds at most max entries, oldest first.
type History struct {
	fs   afero.Fs
	path string
	max  int

	mu    sync.Mutex
	lines []string
}

// New creates an empty history backed by path on fs. An empty path keeps
// history in memory only.
func New(fsys afero.Fs, path string, max int) *History {
	if max < 0 {
		max = DefaultSize
	}
	return &History{fs: fsys, path: path, max: max}
}

// Load reads the history file. A missing file is an empty history.
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}
	data, err := afero.ReadFile(h.fs, h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		h.Add(line)
	}
	return nil
}

// Add records a line. Blank lines and repeats of the previous line are
// skipped.
func (h *History) Add(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.max == 0 {
		return
	}
	if n := len(h.lines); n > 0 && h.lines[n-1] == line {
		return
	}
	h.lines = append(h.lines, line)
	if over := len(h.lines) - h.max; over > 0 {
		h.lines = append([]string(nil), h.lines[over:]...)
	}
}

func (h *History) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = nil
}

// Save overwrites the history file with the current entries.
func (h *History) Save() error {
	if h.path == "" {
		return nil
	}
	h.mu.Lock()
	var b strings.Builder
	for _, line := range h.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	h.mu.Unlock()

	return afero.WriteFile(h.fs, h.path, []byte(b.String()), 0600)
}
