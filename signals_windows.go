package main

import (
	"os"
	"syscall"
)

var (
	notifySignals = []os.Signal{syscall.SIGTERM, os.Interrupt}
	preemptSignal os.Signal
)
