//go:build linux && amd64

package target

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"unsafe"

	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// si_code values of SIGTRAP
const (
	siKernel  = 0x80 // int3
	trapBrkpt = 1
	trapTrace = 2 // single step
)

// Thread 线程信息
type Thread struct {
	Tid    int
	Status unix.WaitStatus
}

// DebuggedProcess 被调试进程信息，所有ptrace请求经由同一个线程发出
type DebuggedProcess struct {
	pid     int
	Command string

	mu         sync.Mutex
	threads    map[int]*Thread
	expectStop map[int]bool // threads whose next SIGSTOP is ours

	interrupted *atomic.Bool
	ptrace      *osThread
	log         *logrus.Entry
}

// Attach traces every thread of pid and resumes them.
func Attach(pid int) (Tracer, error) {
	return AttachTargetProcess(pid)
}

// AttachTargetProcess trace一个目标进程的所有线程
func AttachTargetProcess(pid int) (*DebuggedProcess, error) {
	var err error
	p := &DebuggedProcess{
		pid:         pid,
		threads:     map[int]*Thread{},
		expectStop:  map[int]bool{},
		interrupted: atomic.NewBool(false),
		ptrace:      newOSThread(),
		log:         logflags.DebuggerLogger().WithField("pid", pid),
	}
	defer func() {
		if err != nil {
			p.ptrace.Stop()
		}
	}()

	if !checkPid(pid) {
		err = fmt.Errorf("process %d not existed", pid)
		return nil, err
	}
	if p.Command, err = readProcComm(pid); err != nil {
		return nil, err
	}

	// attach to other threads, and prepare to trace newly created thread
	if err = p.ptrace.Exec(p.updateThreadList); err != nil {
		return nil, err
	}

	err = p.ptrace.Exec(func() error {
		for tid := range p.threads {
			if cerr := unix.PtraceCont(tid, 0); cerr != nil && cerr != unix.ESRCH {
				return fmt.Errorf("thread %d cont error: %v", tid, cerr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.Debugf("attached to %s, %d threads", p.Command, len(p.threads))
	return p, nil
}

// Pid 被调试进程ID
func (p *DebuggedProcess) Pid() int {
	return p.pid
}

func (p *DebuggedProcess) loadThreadList() ([]int, error) {
	threadIDs := []int{}

	tids, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", p.pid))
	for _, tidpath := range tids {
		tid, err := strconv.Atoi(filepath.Base(tidpath))
		if err != nil {
			return nil, err
		}
		threadIDs = append(threadIDs, tid)
	}
	return threadIDs, nil
}

// updateThreadList attaches to every thread and waits for its stop.
//
// PTRACE_O_TRACECLONE makes the kernel trace threads created later; they
// start with a SIGSTOP which WaitForDebugEvent swallows.
func (p *DebuggedProcess) updateThreadList() error {
	tids, err := p.loadThreadList()
	if err != nil {
		return fmt.Errorf("load threads err: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tid := range tids {
		if _, ok := p.threads[tid]; ok {
			continue
		}
		// attach to thread
		err = unix.PtraceAttach(tid)
		if err != nil && err != unix.EPERM {
			// Maybe we have traced tid via PTRACE_O_TRACECLONE.
			return fmt.Errorf("attach thread %d err: %v", tid, err)
		}

		// wait thread
		var status unix.WaitStatus
		if _, err = unix.Wait4(tid, &status, unix.WALL, nil); err != nil {
			return fmt.Errorf("wait thread %d err: %v", tid, err)
		}
		if status.Exited() {
			p.log.Debugf("thread %d already exited", tid)
			continue
		}

		if err = unix.PtraceSetOptions(tid, unix.PTRACE_O_TRACECLONE); err != nil {
			return fmt.Errorf("set PTRACE_O_TRACECLONE err: %v", err)
		}
		p.threads[tid] = &Thread{Tid: tid, Status: status}
	}
	return nil
}

// WaitForDebugEvent waits for the next stop of any traced thread. When ctx
// is done the process is sent a SIGSTOP to unblock the wait; that stop is
// reported as EventOther and never delivered.
func (p *DebuggedProcess) WaitForDebugEvent(ctx context.Context) (DebugEvent, error) {
	stop := context.AfterFunc(ctx, func() {
		p.interrupted.Store(true)
		_ = unix.Kill(p.pid, unix.SIGSTOP)
	})
	defer stop()

	for {
		var status unix.WaitStatus
		wpid, err := unix.Wait4(-1, &status, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			p.ptrace.Stop()
			return DebugEvent{Kind: EventExitProcess, Pid: p.pid, Tid: p.pid}, nil
		}
		if err != nil {
			return DebugEvent{}, fmt.Errorf("wait error: %v", err)
		}

		ev, ok, err := p.translate(wpid, status)
		if err != nil {
			return DebugEvent{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// translate turns a wait status into a DebugEvent.
func (p *DebuggedProcess) translate(tid int, status unix.WaitStatus) (DebugEvent, bool, error) {
	ev := DebugEvent{Pid: p.pid, Tid: tid, Kind: EventOther}

	switch {
	case status.Exited() || status.Signaled():
		p.mu.Lock()
		delete(p.threads, tid)
		p.mu.Unlock()
		if tid == p.pid {
			// nothing left to trace
			p.ptrace.Stop()
			ev.Kind = EventExitProcess
			ev.ExitCode = status.ExitStatus()
			return ev, true, nil
		}
		// an exited thread needs no continue
		p.log.Debugf("thread %d %s", tid, desc(status))
		return ev, false, nil

	case !status.Stopped():
		return ev, false, nil
	}

	sig := status.StopSignal()
	switch {
	case sig == unix.SIGTRAP && status.TrapCause() == unix.PTRACE_EVENT_CLONE:
		var msg uint
		err := p.ptrace.Exec(func() (err error) {
			msg, err = unix.PtraceGetEventMsg(tid)
			return err
		})
		if err == nil {
			p.addThread(int(msg))
		}
		ev.Kind = EventCreateThread
		return ev, true, nil

	case sig == unix.SIGTRAP && status.TrapCause() > 0:
		return ev, true, nil

	case sig == unix.SIGSTOP && p.swallowStop(tid):
		return ev, true, nil

	case sig == unix.SIGTRAP:
		return p.translateTrap(ev)

	default:
		ev.Kind = EventException
		ev.Code = ExceptionSignal | ExceptionCode(sig)
		ev.Signal = int(sig)
		return ev, true, nil
	}
}

func (p *DebuggedProcess) translateTrap(ev DebugEvent) (DebugEvent, bool, error) {
	var (
		code int32
		regs unix.PtraceRegs
	)
	err := p.ptrace.Exec(func() (err error) {
		if code, err = ptraceGetSiginfoCode(ev.Tid); err != nil {
			return err
		}
		return unix.PtraceGetRegs(ev.Tid, &regs)
	})
	if err != nil {
		if err == unix.ESRCH {
			return ev, false, nil
		}
		return ev, false, fmt.Errorf("thread %d trap info: %v", ev.Tid, err)
	}

	ev.Kind = EventException
	ev.Signal = int(unix.SIGTRAP)
	switch code {
	case siKernel, trapBrkpt:
		ev.Code = ExceptionBreakpoint
		ev.Addr = memory.Address(uint32(regs.Rip) - 1)
	case trapTrace:
		ev.Code = ExceptionSingleStep
		ev.Addr = memory.Address(uint32(regs.Rip))
	default:
		ev.Code = ExceptionSignal | ExceptionCode(unix.SIGTRAP)
		ev.Addr = memory.Address(uint32(regs.Rip))
	}
	return ev, true, nil
}

func (p *DebuggedProcess) addThread(tid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.threads[tid]; ok {
		return
	}
	p.threads[tid] = &Thread{Tid: tid}
	p.expectStop[tid] = true
}

// swallowStop reports whether a SIGSTOP of tid was caused by us: the
// first stop of a cloned thread, which may arrive before the clone event
// of its parent, or the interrupt sent by WaitForDebugEvent.
func (p *DebuggedProcess) swallowStop(tid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.threads[tid]; !ok {
		p.threads[tid] = &Thread{Tid: tid}
		return true
	}
	if p.expectStop[tid] {
		delete(p.expectStop, tid)
		return true
	}
	return p.interrupted.CompareAndSwap(true, false)
}

// ContinueDebugEvent restarts the stopped thread, delivering the pending
// signal when the event was not handled.
func (p *DebuggedProcess) ContinueDebugEvent(ev DebugEvent, handled bool) error {
	sig := 0
	if !handled {
		sig = ev.Signal
	}
	err := p.ptrace.Exec(func() error {
		return unix.PtraceCont(ev.Tid, sig)
	})
	if err == unix.ESRCH {
		// thread died while stopped
		return nil
	}
	return err
}

// GetThreadContext 读取线程寄存器
func (p *DebuggedProcess) GetThreadContext(tid int) (Context, error) {
	var regs unix.PtraceRegs
	err := p.ptrace.Exec(func() error {
		return unix.PtraceGetRegs(tid, &regs)
	})
	if err != nil {
		return Context{}, fmt.Errorf("get regs error: %v", err)
	}
	return Context{
		Eax: uint32(regs.Rax), Ebx: uint32(regs.Rbx), Ecx: uint32(regs.Rcx), Edx: uint32(regs.Rdx),
		Esi: uint32(regs.Rsi), Edi: uint32(regs.Rdi), Ebp: uint32(regs.Rbp), Esp: uint32(regs.Rsp),
		Eip: uint32(regs.Rip), EFlags: uint32(regs.Eflags),
	}, nil
}

// SetThreadContext 设置线程寄存器
func (p *DebuggedProcess) SetThreadContext(tid int, ctx Context) error {
	err := p.ptrace.Exec(func() error {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(tid, &regs); err != nil {
			return err
		}
		regs.Rax, regs.Rbx, regs.Rcx, regs.Rdx = uint64(ctx.Eax), uint64(ctx.Ebx), uint64(ctx.Ecx), uint64(ctx.Edx)
		regs.Rsi, regs.Rdi, regs.Rbp, regs.Rsp = uint64(ctx.Esi), uint64(ctx.Edi), uint64(ctx.Ebp), uint64(ctx.Esp)
		regs.Rip, regs.Eflags = uint64(ctx.Eip), uint64(ctx.EFlags)
		return unix.PtraceSetRegs(tid, &regs)
	})
	if err != nil {
		return fmt.Errorf("set regs error: %v", err)
	}
	return nil
}

// Detach stops every thread, clears a pending trap flag and detaches.
func (p *DebuggedProcess) Detach() error {
	p.mu.Lock()
	tids := make([]int, 0, len(p.threads))
	for tid := range p.threads {
		tids = append(tids, tid)
	}
	p.mu.Unlock()

	var errs []error
	for _, tid := range tids {
		err := p.ptrace.Exec(func() error {
			return p.detachThread(tid)
		})
		if errors.Is(err, ErrTracerStopped) {
			// the process already exited
			break
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	p.ptrace.Stop()

	// a SIGSTOP of ours may still be pending
	_ = unix.Kill(p.pid, unix.SIGCONT)
	return errors.Join(errs...)
}

func (p *DebuggedProcess) detachThread(tid int) error {
	if err := unix.Tgkill(p.pid, tid, unix.SIGSTOP); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return fmt.Errorf("thread %d stop error: %v", tid, err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(tid, &status, unix.WALL, nil); err != nil {
		return fmt.Errorf("thread %d wait error: %v", tid, err)
	}
	if !status.Stopped() {
		return nil
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err == nil && regs.Eflags&TrapFlag != 0 {
		regs.Eflags &^= TrapFlag
		_ = unix.PtraceSetRegs(tid, &regs)
	}
	if err := unix.PtraceDetach(tid); err != nil && err != unix.ESRCH {
		return fmt.Errorf("thread %d detached error: %v", tid, err)
	}
	p.log.Debugf("thread %d detached succ", tid)
	return nil
}

// ptraceGetSiginfoCode returns si_code of the signal that stopped tid.
func ptraceGetSiginfoCode(tid int) (int32, error) {
	var info [128]byte
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&info[0])), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	// si_signo, si_errno, si_code
	return int32(binary.LittleEndian.Uint32(info[8:])), nil
}

// checkPid check whether pid is a live process
func checkPid(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func desc(status unix.WaitStatus) string {
	switch {
	case status.Continued():
		return "continued"
	case status.Exited():
		return "exited: " + strconv.Itoa(status.ExitStatus())
	case status.Signaled():
		return "signaled: " + status.Signal().String()
	case status.Stopped():
		return "stopped: " + status.StopSignal().String()
	case status.CoreDump():
		return "coredump"
	default:
		return strconv.Itoa(int(status))
	}
}
