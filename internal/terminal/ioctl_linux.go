//go:build linux

package terminal

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// setForeground runs TIOCSPGRP with SIGTTOU blocked on the calling thread.
// A shell outside the foreground group would otherwise be sent SIGTTOU, and
// since the Go runtime handles that signal the ioctl would restart forever.
func setForeground(fd, pgid int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var block, old unix.Sigset_t
	sigaddset(&block, unix.SIGTTOU)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &block, &old); err != nil {
		return err
	}
	defer unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)

	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid)
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	set.Val[n/bits] |= 1 << (n % bits)
}

func getModes(fd int) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, unix.TCGETS)
}

func setModes(fd int, modes *unix.Termios) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var block, old unix.Sigset_t
	sigaddset(&block, unix.SIGTTOU)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &block, &old); err != nil {
		return err
	}
	defer unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)

	return unix.IoctlSetTermios(fd, unix.TCSETSW, modes)
}
