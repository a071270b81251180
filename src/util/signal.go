package util

import (
	"os"
	"os/signal"
	"syscall"
)

// Signal blocks until the process is asked to quit and returns the signal received.
func Signal() os.Signal {
	sign := make(chan os.Signal, 1)
	signal.Notify(sign, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sign)
	return <-sign
}
