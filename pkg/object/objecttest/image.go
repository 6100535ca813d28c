// Package objecttest builds fake target address spaces holding game objects.
package objecttest

import (
	"sync"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
)

// descriptor chains for the two markers
const (
	SimpleDescriptor  memory.Address = 0x00500000
	ComplexDescriptor memory.Address = 0x00500100

	simpleCode  memory.Address = 0x00600000
	complexCode memory.Address = 0x00600100

	heapBase memory.Address = 0x01000000
)

// Image is a Sparse address space with a bump allocator.
type Image struct {
	*memory.Sparse

	mu   sync.Mutex
	next memory.Address
}

// New returns an image with both type descriptors mapped.
func New() *Image {
	im := &Image{Sparse: memory.NewSparse(), next: heapBase}
	im.MapUint32(SimpleDescriptor, uint32(simpleCode))
	im.MapUint32(simpleCode.Add(4), object.MarkerSimple)
	im.MapUint32(ComplexDescriptor, uint32(complexCode))
	im.MapUint32(complexCode.Add(4), object.MarkerComplex)
	return im
}

// Alloc maps size zero bytes and returns their address. Allocations are
// 16 byte aligned and never reused.
func (im *Image) Alloc(size int) memory.Address {
	im.mu.Lock()
	addr := im.next
	im.next = im.next.Add(int64((size + 0x1f) &^ 0xf))
	im.mu.Unlock()

	im.Map(addr, make([]byte, size))
	return addr
}

// Simple allocates a plain item.
func (im *Image) Simple(itemID, ingredientID int32) memory.Address {
	addr := im.Alloc(0x40)
	im.MapUint32(addr, uint32(SimpleDescriptor))
	im.MapUint32(addr.Add(0x2C), uint32(itemID))
	im.MapUint32(addr.Add(0x30), uint32(ingredientID))
	return addr
}

// Complex allocates a container holding subs.
func (im *Image) Complex(subs ...memory.Address) memory.Address {
	addr := im.Alloc(0x80)
	im.MapUint32(addr, uint32(ComplexDescriptor))
	im.MapUint32(addr.Add(22*4), uint32(len(subs)))
	if len(subs) > 0 {
		list := im.Alloc(4 * len(subs))
		for i, s := range subs {
			im.MapUint32(list.Add(int64(4*i)), uint32(s))
		}
		im.MapUint32(addr.Add(30*4), uint32(list))
	}
	return addr
}

// Customer allocates a customer with the given order lines.
func (im *Image) Customer(id int32, orders ...object.OrderEntry) memory.Address {
	addr := im.Alloc(0x490)
	im.MapUint32(addr, uint32(ComplexDescriptor))
	im.MapUint32(addr.Add(0x488), uint32(id))

	begin := im.Alloc(object.OrderEntrySize*len(orders) + 0x10)
	for i, o := range orders {
		e := begin.Add(int64(i * object.OrderEntrySize))
		im.MapUint32(e, uint32(o.NumCopies))
		im.MapUint32(e.Add(4), uint32(o.NumComplete))
		if o.RobotComplete {
			im.Map(e.Add(8), []byte{1})
		}
		im.MapUint32(e.Add(12), uint32(o.Item))
		im.MapUint32(e.Add(24), uint32(o.HideCount))
		im.MapFloat32(e.Add(28), o.GroupOffsetX)
		im.MapFloat32(e.Add(32), o.GroupOffsetY)
		im.MapUint32(e.Add(40), uint32(o.CustomParam))
	}
	im.MapUint32(addr.Add(0x15C), uint32(begin))
	im.MapUint32(addr.Add(0x160), uint32(begin.Add(int64(object.OrderEntrySize*len(orders)))))
	return addr
}

// Ring links contents into a circular list behind a sentinel whose content
// is not an item. It returns the sentinel and the item nodes in order.
func (im *Image) Ring(contents ...memory.Address) (sentinel memory.Address, nodes []memory.Address) {
	sentinel = im.Alloc(object.NodeSize)
	all := []memory.Address{sentinel}
	for range contents {
		all = append(all, im.Alloc(object.NodeSize))
	}
	for i, n := range all {
		prev := all[(i+len(all)-1)%len(all)]
		next := all[(i+1)%len(all)]
		im.MapUint32(n, uint32(prev))
		im.MapUint32(n.Add(4), uint32(next))
		if i > 0 {
			im.MapUint32(n.Add(8), uint32(contents[i-1]))
		}
	}
	return sentinel, all[1:]
}

// Free clobbers the type descriptor of the object at addr, the way the
// target's allocator does when it recycles a block.
func (im *Image) Free(addr memory.Address) {
	im.MapUint32(addr, 0xfeeefeee)
}
