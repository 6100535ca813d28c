package target

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procDebugActiveProcess        = modkernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop    = modkernel32.NewProc("DebugActiveProcessStop")
	procDebugSetProcessKillOnExit = modkernel32.NewProc("DebugSetProcessKillOnExit")
	procWaitForDebugEvent         = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent        = modkernel32.NewProc("ContinueDebugEvent")
	procWow64GetThreadContext     = modkernel32.NewProc("Wow64GetThreadContext")
	procWow64SetThreadContext     = modkernel32.NewProc("Wow64SetThreadContext")
)

const (
	dbgContinue            = 0x00010002
	dbgExceptionNotHandled = 0x80010001

	waitTimeoutMillis = 100

	threadAccess = 0x0008 | 0x0010 | 0x0040 // GET_CONTEXT | SET_CONTEXT | QUERY_INFORMATION

	wow64ContextI386 = 0x00010000
	wow64ContextFull = wow64ContextI386 | 0x7 // CONTROL | INTEGER | SEGMENTS
)

// debug event codes
const (
	exceptionDebugEvent     = 1
	createThreadDebugEvent  = 2
	createProcessDebugEvent = 3
	exitThreadDebugEvent    = 4
	exitProcessDebugEvent   = 5
	loadDLLDebugEvent       = 6
)

// debugEvent is DEBUG_EVENT on amd64.
type debugEvent struct {
	Code uint32
	Pid  uint32
	Tid  uint32
	_    uint32
	U    [160]byte
}

type wow64FloatingSaveArea struct {
	ControlWord   uint32
	StatusWord    uint32
	TagWord       uint32
	ErrorOffset   uint32
	ErrorSelector uint32
	DataOffset    uint32
	DataSelector  uint32
	RegisterArea  [80]byte
	Cr0NpxState   uint32
}

// wow64Context is WOW64_CONTEXT, the register file of a 32-bit thread.
type wow64Context struct {
	ContextFlags uint32
	Dr0          uint32
	Dr1          uint32
	Dr2          uint32
	Dr3          uint32
	Dr6          uint32
	Dr7          uint32
	FloatSave    wow64FloatingSaveArea
	SegGs        uint32
	SegFs        uint32
	SegEs        uint32
	SegDs        uint32
	Edi          uint32
	Esi          uint32
	Ebx          uint32
	Edx          uint32
	Ecx          uint32
	Eax          uint32
	Ebp          uint32
	Eip          uint32
	SegCs        uint32
	EFlags       uint32
	Esp          uint32
	SegSs        uint32

	ExtendedRegisters [512]byte
}

// winTracer drives the Win32 debug API for a 32-bit target. Waiting for
// and continuing events is only legal on the thread that attached.
type winTracer struct {
	pid    int
	thread *osThread
	log    *logrus.Entry

	// the break-in of the remote thread DebugActiveProcess injects. Traps
	// in 32-bit code arrive as ExceptionWx86Breakpoint.
	sawBreakIn bool
}

// Attach starts debugging pid. The target keeps running after Detach.
func Attach(pid int) (Tracer, error) {
	t := &winTracer{
		pid:    pid,
		thread: newOSThread(),
		log:    logflags.DebuggerLogger().WithField("pid", pid),
	}
	err := t.thread.Exec(func() error {
		if r, _, e := procDebugActiveProcess.Call(uintptr(pid)); r == 0 {
			return fmt.Errorf("DebugActiveProcess: %w", e)
		}
		if r, _, e := procDebugSetProcessKillOnExit.Call(0); r == 0 {
			t.log.WithError(e).Warn("DebugSetProcessKillOnExit")
		}
		return nil
	})
	if err != nil {
		t.thread.Stop()
		return nil, err
	}
	return t, nil
}

func (t *winTracer) Pid() int {
	return t.pid
}

func (t *winTracer) WaitForDebugEvent(ctx context.Context) (DebugEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return DebugEvent{}, err
		}

		var raw debugEvent
		err := t.thread.Exec(func() error {
			if r, _, e := procWaitForDebugEvent.Call(uintptr(unsafe.Pointer(&raw)), waitTimeoutMillis); r == 0 {
				return e
			}
			return nil
		})
		if errors.Is(err, windows.ERROR_SEM_TIMEOUT) {
			continue
		}
		if err != nil {
			return DebugEvent{}, fmt.Errorf("WaitForDebugEvent: %w", err)
		}

		ev := t.translate(&raw)
		if ev.Kind == EventExitProcess {
			// let the process go, then release the debug thread
			if err := t.ContinueDebugEvent(ev, true); err != nil {
				t.log.WithError(err).Debug("continue exit event")
			}
			t.thread.Stop()
		}
		return ev, nil
	}
}

func (t *winTracer) translate(raw *debugEvent) DebugEvent {
	ev := DebugEvent{Kind: EventOther, Pid: int(raw.Pid), Tid: int(raw.Tid)}

	switch raw.Code {
	case exceptionDebugEvent:
		ev.Kind = EventException
		ev.Code = ExceptionCode(binary.LittleEndian.Uint32(raw.U[0:4]))
		ev.Addr = memory.Address(binary.LittleEndian.Uint64(raw.U[16:24]))
		if ev.Code == ExceptionBreakpoint && !t.sawBreakIn {
			t.sawBreakIn = true
			t.log.WithField("tid", ev.Tid).Debug("attach break-in")
			ev.Kind = EventOther
		}
	case createThreadDebugEvent:
		ev.Kind = EventCreateThread
	case createProcessDebugEvent:
		ev.Kind = EventCreateProcess
		closeFileHandle(raw)
	case exitThreadDebugEvent:
		ev.Kind = EventExitThread
	case exitProcessDebugEvent:
		ev.Kind = EventExitProcess
		ev.ExitCode = int(binary.LittleEndian.Uint32(raw.U[0:4]))
	case loadDLLDebugEvent:
		ev.Kind = EventLoadDLL
		closeFileHandle(raw)
	}
	return ev
}

// closeFileHandle closes the image file handle handed to the debugger by
// create-process and load-dll events.
func closeFileHandle(raw *debugEvent) {
	if h := windows.Handle(binary.LittleEndian.Uint64(raw.U[0:8])); h != 0 {
		windows.CloseHandle(h)
	}
}

func (t *winTracer) ContinueDebugEvent(ev DebugEvent, handled bool) error {
	status := uintptr(dbgContinue)
	if !handled {
		status = dbgExceptionNotHandled
	}
	return t.thread.Exec(func() error {
		if r, _, e := procContinueDebugEvent.Call(uintptr(ev.Pid), uintptr(ev.Tid), status); r == 0 {
			return fmt.Errorf("ContinueDebugEvent: %w", e)
		}
		return nil
	})
}

func (t *winTracer) GetThreadContext(tid int) (Context, error) {
	h, err := windows.OpenThread(threadAccess, false, uint32(tid))
	if err != nil {
		return Context{}, fmt.Errorf("open thread %d: %w", tid, err)
	}
	defer windows.CloseHandle(h)

	var c wow64Context
	c.ContextFlags = wow64ContextFull
	if r, _, e := procWow64GetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c))); r == 0 {
		return Context{}, fmt.Errorf("Wow64GetThreadContext: %w", e)
	}
	return Context{
		Eax: c.Eax, Ebx: c.Ebx, Ecx: c.Ecx, Edx: c.Edx,
		Esi: c.Esi, Edi: c.Edi, Ebp: c.Ebp, Esp: c.Esp,
		Eip: c.Eip, EFlags: c.EFlags,
	}, nil
}

func (t *winTracer) SetThreadContext(tid int, ctx Context) error {
	h, err := windows.OpenThread(threadAccess, false, uint32(tid))
	if err != nil {
		return fmt.Errorf("open thread %d: %w", tid, err)
	}
	defer windows.CloseHandle(h)

	var c wow64Context
	c.ContextFlags = wow64ContextFull
	if r, _, e := procWow64GetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c))); r == 0 {
		return fmt.Errorf("Wow64GetThreadContext: %w", e)
	}
	c.Eax, c.Ebx, c.Ecx, c.Edx = ctx.Eax, ctx.Ebx, ctx.Ecx, ctx.Edx
	c.Esi, c.Edi, c.Ebp, c.Esp = ctx.Esi, ctx.Edi, ctx.Ebp, ctx.Esp
	c.Eip, c.EFlags = ctx.Eip, ctx.EFlags
	if r, _, e := procWow64SetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(&c))); r == 0 {
		return fmt.Errorf("Wow64SetThreadContext: %w", e)
	}
	return nil
}

func (t *winTracer) Detach() error {
	err := t.thread.Exec(func() error {
		if r, _, e := procDebugActiveProcessStop.Call(uintptr(t.pid)); r == 0 {
			return fmt.Errorf("DebugActiveProcessStop: %w", e)
		}
		return nil
	})
	t.thread.Stop()
	if errors.Is(err, ErrTracerStopped) {
		// the process already exited
		return nil
	}
	return err
}
