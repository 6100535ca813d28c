// Package memory reads and writes the address space of a traced process.
//
// Every access is all or nothing: a transfer that moves fewer bytes than
// requested is reported as an error, never as a partial result. Freed and
// unmapped addresses are an everyday condition for callers of this package,
// so failures are plain error values and callers are expected to skip the
// update that needed them.
package memory

import (
	"errors"
	"fmt"
	"strconv"
)

// Address 被调试进程地址空间中的地址，不能当作本进程指针解引用
type Address uint64

// Add returns the address off bytes after a.
func (a Address) Add(off int64) Address {
	return Address(int64(a) + off)
}

func (a Address) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// ParseAddress accepts 0x-prefixed hex, 0-prefixed octal or decimal.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address(v), nil
}

// Reader reads size bytes at addr.
type Reader interface {
	ReadMemory(addr Address, size int) ([]byte, error)
}

// Writer writes data at addr.
type Writer interface {
	WriteMemory(addr Address, data []byte) error
}

// Accessor is the remote memory primitive everything else is built on.
type Accessor interface {
	Reader
	Writer
}

var (
	// ErrShortTransfer is returned when the OS moved fewer bytes than asked.
	ErrShortTransfer = errors.New("short transfer")
	// ErrUnmapped is returned by Sparse for addresses it does not back.
	ErrUnmapped = errors.New("address not mapped")
)

// AccessError describes a failed read or write.
type AccessError struct {
	Op   string // "read" or "write"
	Addr Address
	Size int
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s %d bytes at %v: %v", e.Op, e.Size, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}
