package memory

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// processAllAccess is PROCESS_ALL_ACCESS on Vista and later.
const processAllAccess = 0x1F0FFF

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = modkernel32.NewProc("FlushInstructionCache")
)

// ProcessMemory accesses the memory of a live process through
// ReadProcessMemory and WriteProcessMemory, flushing the instruction cache
// after every write. Both are safe to call from any
// thread, so breakpoint callbacks may use it from the dispatch worker.
type ProcessMemory struct {
	pid    int
	handle windows.Handle
}

// OpenProcessMemory opens pid with full access.
func OpenProcessMemory(pid int) (*ProcessMemory, error) {
	h, err := windows.OpenProcess(processAllAccess, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return &ProcessMemory{pid: pid, handle: h}, nil
}

// Handle returns the process handle, owned by p.
func (p *ProcessMemory) Handle() windows.Handle {
	return p.handle
}

func (p *ProcessMemory) ReadMemory(addr Address, size int) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(p.handle, uintptr(addr), &buf[0], uintptr(size), &n)
	if err != nil {
		return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: err}
	}
	if n != uintptr(size) {
		return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: ErrShortTransfer}
	}
	return buf, nil
}

func (p *ProcessMemory) WriteMemory(addr Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var n uintptr
	err := windows.WriteProcessMemory(p.handle, uintptr(addr), &data[0], uintptr(len(data)), &n)
	if err != nil {
		return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: err}
	}
	if n != uintptr(len(data)) {
		return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: ErrShortTransfer}
	}
	// writes are mostly trap bytes patched into code
	if r, _, e := procFlushInstructionCache.Call(uintptr(p.handle), uintptr(addr), uintptr(len(data))); r == 0 {
		return &AccessError{Op: "flush", Addr: addr, Size: len(data), Err: e}
	}
	return nil
}

// Close releases the process handle.
func (p *ProcessMemory) Close() error {
	return windows.CloseHandle(p.handle)
}
