//go:build !windows

package main

import (
	"os"
	"syscall"
)

var (
	notifySignals           = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGURG}
	preemptSignal os.Signal = syscall.SIGURG
)
