//go:build !linux && !windows

package memory

import (
	"fmt"
	"runtime"
)

// ProcessMemory is unavailable on this platform.
type ProcessMemory struct{}

// OpenProcessMemory always fails on this platform.
func OpenProcessMemory(pid int) (*ProcessMemory, error) {
	return nil, fmt.Errorf("remote memory access not supported on %s", runtime.GOOS)
}

func (p *ProcessMemory) ReadMemory(addr Address, size int) ([]byte, error) {
	return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: ErrUnmapped}
}

func (p *ProcessMemory) WriteMemory(addr Address, data []byte) error {
	return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: ErrUnmapped}
}

func (p *ProcessMemory) Close() error {
	return nil
}
