//go:build !windows
// +build !windows

package util

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseAddr is a net.ListenConfig Control setting SO_REUSEADDR, so a BIND port can be reused right
// after the previous session released it.
func ReuseAddr(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
