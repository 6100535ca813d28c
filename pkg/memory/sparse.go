package memory

import (
	"sync"
)

// Sparse is an in-memory address space backed byte by byte. It stands in
// for a live target when replaying captured layouts and in tests. Reads and
// writes touching any unmapped byte fail as a whole, like the OS backends.
type Sparse struct {
	mu    sync.RWMutex
	bytes map[Address]byte
}

// NewSparse returns an empty address space.
func NewSparse() *Sparse {
	return &Sparse{bytes: map[Address]byte{}}
}

// Map makes data readable at addr, overwriting whatever was there.
func (s *Sparse) Map(addr Address, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.bytes[addr.Add(int64(i))] = b
	}
}

// Unmap removes size bytes at addr. Later accesses to them fail.
func (s *Sparse) Unmap(addr Address, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < size; i++ {
		delete(s.bytes, addr.Add(int64(i)))
	}
}

// MapUint32 maps one little-endian dword.
func (s *Sparse) MapUint32(addr Address, v uint32) {
	buf := make([]byte, 4)
	PutUint32(buf, v)
	s.Map(addr, buf)
}

// MapFloat32 maps one little-endian float.
func (s *Sparse) MapFloat32(addr Address, v float32) {
	buf := make([]byte, 4)
	PutFloat32(buf, v)
	s.Map(addr, buf)
}

func (s *Sparse) ReadMemory(addr Address, size int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]byte, size)
	for i := range out {
		b, ok := s.bytes[addr.Add(int64(i))]
		if !ok {
			return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: ErrUnmapped}
		}
		out[i] = b
	}
	return out, nil
}

func (s *Sparse) WriteMemory(addr Address, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range data {
		if _, ok := s.bytes[addr.Add(int64(i))]; !ok {
			return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: ErrUnmapped}
		}
	}
	for i, b := range data {
		s.bytes[addr.Add(int64(i))] = b
	}
	return nil
}
