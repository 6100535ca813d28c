// Package logflags hands out one logger per layer of the tool. Layers that
// were not selected with --log-output still report warnings and errors.
package logflags

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	debugger = false
	dispatch = false
	state    = false
	hooks    = false
	memory   = false

	out io.Writer = colorable.NewColorableStderr()
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.Out = out
	logger.Formatter = &logrus.TextFormatter{
		ForceColors:     isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.WarnLevel
	}
	return logger.WithFields(fields)
}

// Debugger returns true if the target package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for breakpoints and the debug event loop.
func DebuggerLogger() *logrus.Entry {
	return makeLogger(debugger, logrus.Fields{"layer": "debugger"})
}

// DispatchLogger returns a logger for the callback queue.
func DispatchLogger() *logrus.Entry {
	return makeLogger(dispatch, logrus.Fields{"layer": "dispatch"})
}

// StateLogger returns a logger for the game state snapshot.
func StateLogger() *logrus.Entry {
	return makeLogger(state, logrus.Fields{"layer": "state"})
}

// HooksLogger returns a logger for breakpoint callbacks.
func HooksLogger() *logrus.Entry {
	return makeLogger(hooks, logrus.Fields{"layer": "hooks"})
}

// MemoryLogger returns a logger for the remote object model.
func MemoryLogger() *logrus.Entry {
	return makeLogger(memory, logrus.Fields{"layer": "memory"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets layer flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, layer := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(layer) {
		case "debugger":
			debugger = true
		case "dispatch":
			dispatch = true
		case "state":
			state = true
		case "hooks":
			hooks = true
		case "memory":
			memory = true
		case "all":
			debugger, dispatch, state, hooks, memory = true, true, true, true, true
		}
	}
	return nil
}
