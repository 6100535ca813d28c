package object

import (
	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// Hop is one pointer followed by Probe: the dword at Slot of the object at
// From held the next address on the path.
type Hop struct {
	From memory.Address
	Slot int
	To   memory.Address
}

// Probe searches the pointer graph below start for a non-empty container
// item, following at most depth links and reading width dwords per object.
// Addresses are visited once. It returns the path to the first container
// found, or false.
func (m *Model) Probe(start memory.Address, depth, width int) ([]Hop, bool) {
	visited := map[memory.Address]bool{}
	var path []Hop

	var search func(addr memory.Address, depth int) bool
	search = func(addr memory.Address, depth int) bool {
		if visited[addr] {
			return false
		}
		visited[addr] = true

		if m.Classify(addr) == KindComplex {
			subs, err := Complex{Addr: addr}.SubItems(m.mem)
			if err == nil && len(subs) > 0 {
				return true
			}
		}
		if depth == 0 {
			return false
		}

		slots, err := memory.ReadUint32s(m.mem, addr, width)
		if err != nil {
			return false
		}
		for i, v := range slots {
			if v == 0 {
				continue
			}
			next := memory.Address(v)
			path = append(path, Hop{From: addr, Slot: i, To: next})
			if search(next, depth-1) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if !search(start, depth) {
		return nil, false
	}
	return path, true
}

// DumpLine is one object printed by Dump.
type DumpLine struct {
	Addr   memory.Address
	Values []uint32
	Err    error
}

// Dump prints width dwords at addr, then follows the first dword as a
// pointer, up to depth objects. It stops at the first unreadable object or
// at an address already printed.
func Dump(r memory.Reader, addr memory.Address, depth, width int) []DumpLine {
	var (
		lines   []DumpLine
		visited = map[memory.Address]bool{}
	)
	for i := 0; i < depth && !visited[addr]; i++ {
		visited[addr] = true
		vals, err := memory.ReadUint32s(r, addr, width)
		lines = append(lines, DumpLine{Addr: addr, Values: vals, Err: err})
		if err != nil || len(vals) == 0 {
			break
		}
		addr = memory.Address(vals[0])
	}
	return lines
}
