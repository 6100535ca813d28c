package target

import (
	"fmt"
	"strings"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// EventKind 调试事件类型
type EventKind int

const (
	EventException EventKind = iota
	EventCreateProcess
	EventExitProcess
	EventCreateThread
	EventExitThread
	EventLoadDLL
	EventOther
)

var eventKindNames = map[EventKind]string{
	EventException:     "exception",
	EventCreateProcess: "create-process",
	EventExitProcess:   "exit-process",
	EventCreateThread:  "create-thread",
	EventExitThread:    "exit-thread",
	EventLoadDLL:       "load-dll",
	EventOther:         "other",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExceptionCode uses the Windows exception code space. The Linux tracer
// maps SIGTRAP causes onto the breakpoint and single-step codes and any
// other signal onto ExceptionSignal|signo.
type ExceptionCode uint32

const (
	ExceptionBreakpoint     ExceptionCode = 0x80000003
	ExceptionSingleStep     ExceptionCode = 0x80000004
	ExceptionWx86SingleStep ExceptionCode = 0x4000001E
	ExceptionWx86Breakpoint ExceptionCode = 0x4000001F
	ExceptionSignal         ExceptionCode = 0xE0000000
)

// Trap is the classification the event loop dispatches on.
type Trap int

const (
	TrapNone Trap = iota
	TrapBreakpoint
	TrapSingleStep
	TrapOther
)

func (t Trap) String() string {
	switch t {
	case TrapBreakpoint:
		return "breakpoint"
	case TrapSingleStep:
		return "single-step"
	case TrapOther:
		return "exception"
	default:
		return "event"
	}
}

// TrapFlag is the single-step bit of EFLAGS.
const TrapFlag = 0x100

// Context is the 32-bit register file of a target thread.
type Context struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi, Ebp, Esp uint32
	Eip, EFlags        uint32
}

// PC returns the instruction pointer.
func (c Context) PC() memory.Address {
	return memory.Address(c.Eip)
}

// SetPC sets the instruction pointer.
func (c *Context) SetPC(a memory.Address) {
	c.Eip = uint32(a)
}

// Reg returns a register by name, e.g. "ecx".
func (c Context) Reg(name string) (uint32, bool) {
	switch strings.ToLower(name) {
	case "eax":
		return c.Eax, true
	case "ebx":
		return c.Ebx, true
	case "ecx":
		return c.Ecx, true
	case "edx":
		return c.Edx, true
	case "esi":
		return c.Esi, true
	case "edi":
		return c.Edi, true
	case "ebp":
		return c.Ebp, true
	case "esp":
		return c.Esp, true
	case "eip":
		return c.Eip, true
	case "eflags":
		return c.EFlags, true
	}
	return 0, false
}

// DebugEvent 一次调试事件，由tracer产生，事件循环消费一次
type DebugEvent struct {
	Kind EventKind
	Pid  int
	Tid  int

	// exception events
	Code ExceptionCode
	Addr memory.Address // faulting address; for breakpoints the trap byte

	// Signal is the signal to deliver when the event is not handled. Only
	// the Linux tracer sets it.
	Signal int

	ExitCode int

	// Filled in by the breakpoint manager for the callback: the site name
	// and the registers at the moment of the trap.
	Site    string
	Context Context
}

// Trap classifies the event.
func (ev DebugEvent) Trap() Trap {
	if ev.Kind != EventException {
		return TrapNone
	}
	switch ev.Code {
	case ExceptionBreakpoint, ExceptionWx86Breakpoint:
		return TrapBreakpoint
	case ExceptionSingleStep, ExceptionWx86SingleStep:
		return TrapSingleStep
	default:
		return TrapOther
	}
}

func (ev DebugEvent) String() string {
	if ev.Kind == EventException {
		return fmt.Sprintf("%s tid %d code %#x at %v", ev.Trap(), ev.Tid, uint32(ev.Code), ev.Addr)
	}
	return fmt.Sprintf("%s tid %d", ev.Kind, ev.Tid)
}
