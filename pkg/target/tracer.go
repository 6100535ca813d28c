package target

import (
	"context"
	"errors"
)

var (
	// ErrProcessExited is returned once the traced process is gone.
	ErrProcessExited = errors.New("process exited")
	// ErrBreakpointNotExisted is returned for addresses without a breakpoint.
	ErrBreakpointNotExisted = errors.New("breakpoint not existed")
	// ErrBreakpointExisted is returned when an address already has one.
	ErrBreakpointExisted = errors.New("breakpoint already existed")
	// ErrTracerStopped is returned by tracer requests after detach or exit.
	ErrTracerStopped = errors.New("tracer stopped")
)

// ThreadContexts reads and writes thread registers.
type ThreadContexts interface {
	GetThreadContext(tid int) (Context, error)
	SetThreadContext(tid int, ctx Context) error
}

// Tracer is the OS debug API for one attached process. The OS backends
// funnel every request onto the thread that attached.
type Tracer interface {
	ThreadContexts

	// WaitForDebugEvent blocks until the next event or until ctx is done.
	WaitForDebugEvent(ctx context.Context) (DebugEvent, error)
	// ContinueDebugEvent resumes the thread that reported ev. When handled
	// is false the OS's default handling applies.
	ContinueDebugEvent(ev DebugEvent, handled bool) error
	// Detach stops tracing. The process keeps running.
	Detach() error
	Pid() int
}
