package object

import (
	"fmt"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

const (
	offCustomerID  = 0x488
	offOrdersBegin = 0x15C
	offOrdersEnd   = 0x160

	// OrderEntrySize is the stride of the order vector.
	OrderEntrySize = 48
	// MaxOrderEntries bounds the order vector length we accept.
	MaxOrderEntries = 64
)

// Customer 顾客，与组合物品共用类型标记
type Customer struct {
	Addr memory.Address
}

func (c Customer) String() string {
	return fmt.Sprintf("customer@%v", c.Addr)
}

// IsCustomer reports whether addr currently holds a customer.
func (m *Model) IsCustomer(addr memory.Address) bool {
	return m.Classify(addr) == KindComplex
}

func (c Customer) ID(r memory.Reader) (int32, error) {
	return memory.ReadInt32(r, c.Addr.Add(offCustomerID))
}

// OrderEntry is one line of a customer's order.
type OrderEntry struct {
	NumCopies       int32
	NumComplete     int32
	RobotComplete   bool
	Item            memory.Address
	FlyList         memory.Address
	Draw            bool
	InThoughtBubble bool
	Required        bool
	IsFree          bool
	HideCount       int32
	GroupOffsetX    float32
	GroupOffsetY    float32
	HiliteAll       bool
	SpecialDraw     bool
	CustomParam     int32
}

// Pending reports whether copies of the entry are still owed.
func (o OrderEntry) Pending() bool {
	return o.NumComplete < o.NumCopies
}

// Orders reads the customer's order vector.
func (c Customer) Orders(r memory.Reader) ([]OrderEntry, error) {
	bounds, err := memory.ReadUint32s(r, c.Addr.Add(offOrdersBegin), 2)
	if err != nil {
		return nil, err
	}
	begin, end := memory.Address(bounds[0]), memory.Address(bounds[1])
	if end < begin || (end-begin)%OrderEntrySize != 0 {
		return nil, fmt.Errorf("%v: order vector [%v, %v): %w", c.Addr, begin, end, ErrCorrupt)
	}
	n := int((end - begin) / OrderEntrySize)
	if n > MaxOrderEntries {
		return nil, fmt.Errorf("%v: %d order entries: %w", c.Addr, n, ErrCorrupt)
	}
	if n == 0 {
		return nil, nil
	}

	buf, err := r.ReadMemory(begin, n*OrderEntrySize)
	if err != nil {
		return nil, err
	}
	orders := make([]OrderEntry, n)
	for i := range orders {
		orders[i] = decodeOrderEntry(buf[i*OrderEntrySize : (i+1)*OrderEntrySize])
	}
	return orders, nil
}

func decodeOrderEntry(b []byte) OrderEntry {
	return OrderEntry{
		NumCopies:       int32(memory.Uint32(b[0:])),
		NumComplete:     int32(memory.Uint32(b[4:])),
		RobotComplete:   b[8] != 0,
		Item:            memory.Address(memory.Uint32(b[12:])),
		FlyList:         memory.Address(memory.Uint32(b[16:])),
		Draw:            b[20] != 0,
		InThoughtBubble: b[21] != 0,
		Required:        b[22] != 0,
		IsFree:          b[23] != 0,
		HideCount:       int32(memory.Uint32(b[24:])),
		GroupOffsetX:    memory.Float32(b[28:]),
		GroupOffsetY:    memory.Float32(b[32:]),
		HiliteAll:       b[36] != 0,
		SpecialDraw:     b[37] != 0,
		CustomParam:     int32(memory.Uint32(b[40:])),
	}
}

// OrderItem classifies the item an order entry refers to.
func (m *Model) OrderItem(o OrderEntry) (Item, error) {
	return m.Item(o.Item)
}
