package memory

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ProcessMemory accesses the memory of a live process.
//
// Reads go through process_vm_readv, writes through /proc/<pid>/mem, which
// also patches read-only text pages for a ptrace attached tracer. Neither
// needs the tracee to be stopped or the call to come from the tracer thread,
// so breakpoint callbacks may use it from the dispatch worker.
type ProcessMemory struct {
	pid int
	mem *os.File
}

// OpenProcessMemory opens the address space of pid.
func OpenProcessMemory(pid int) (*ProcessMemory, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open process memory: %w", err)
	}
	return &ProcessMemory{pid: pid, mem: f}, nil
}

func (p *ProcessMemory) ReadMemory(addr Address, size int) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	local := []unix.Iovec{{Base: (*byte)(unsafe.Pointer(&buf[0]))}}
	local[0].SetLen(size)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: size}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err == unix.ENOSYS || err == unix.EPERM {
		// kernels without CMA, fall back to the mem file
		n, err = p.mem.ReadAt(buf, int64(addr))
	}
	if err != nil {
		return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: err}
	}
	if n != size {
		return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: ErrShortTransfer}
	}
	return buf, nil
}

func (p *ProcessMemory) WriteMemory(addr Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := p.mem.WriteAt(data, int64(addr))
	if err != nil {
		return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: err}
	}
	if n != len(data) {
		return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: ErrShortTransfer}
	}
	return nil
}

// Close releases the mem file.
func (p *ProcessMemory) Close() error {
	return p.mem.Close()
}
