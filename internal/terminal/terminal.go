// Package terminal hands the controlling terminal back and forth between the
// shell and the process groups it launches.
package terminal

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// Controller owns foreground control of one terminal. When the shell's input
// is not a terminal the controller is disabled and every method is a no-op,
// which also disables job control.
type Controller struct {
	fd      int
	enabled bool

	mu        sync.Mutex
	shellPgid int
	modes     *unix.Termios
}

func New(f *os.File) *Controller {
	fd := f.Fd()
	return &Controller{
		fd:        int(fd),
		enabled:   isatty.IsTerminal(fd),
		shellPgid: unix.Getpgrp(),
	}
}

func (c *Controller) Enabled() bool {
	return c.enabled
}

// Fd is the terminal descriptor, for SysProcAttr.Ctty.
func (c *Controller) Fd() int {
	return c.fd
}

// Init moves the shell into its own process group, takes the terminal and
// remembers the terminal modes to restore after every job.
func (c *Controller) Init() error {
	if !c.enabled {
		return nil
	}

	// Fails with EPERM when the shell already leads its session, in which
	// case it already leads its own group too.
	_ = unix.Setpgid(0, 0)

	c.mu.Lock()
	c.shellPgid = unix.Getpgrp()
	c.mu.Unlock()

	if err := setForeground(c.fd, c.shellPgid); err != nil {
		return err
	}

	modes, err := getModes(c.fd)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.modes = modes
	c.mu.Unlock()
	return nil
}

// Give makes pgid the terminal's foreground process group.
func (c *Controller) Give(pgid int) error {
	if !c.enabled {
		return nil
	}
	return setForeground(c.fd, pgid)
}

// Reclaim returns the terminal to the shell and restores the shell's
// terminal modes.
func (c *Controller) Reclaim() error {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	pgid, modes := c.shellPgid, c.modes
	c.mu.Unlock()

	if err := setForeground(c.fd, pgid); err != nil {
		return err
	}
	if modes != nil {
		return setModes(c.fd, modes)
	}
	return nil
}

// Foreground reports the terminal's current foreground process group.
func (c *Controller) Foreground() (int, error) {
	if !c.enabled {
		return 0, unix.ENOTTY
	}
	return unix.IoctlGetInt(c.fd, unix.TIOCGPGRP)
}

// ShellGroup is the shell's own process group.
func (c *Controller) ShellGroup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shellPgid
}
