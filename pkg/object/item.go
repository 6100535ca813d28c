package object

import (
	"fmt"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// Kind 物品类型
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSimple
	KindComplex
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// field offsets shared by both item shapes
const (
	offX             = 0x24
	offY             = 0x28
	offItemID        = 0x2C
	offIngredientID  = 0x30
	offConveyorIndex = 0x38

	// header dwords of a container, see Complex.SubItems
	complexHeaderDwords = 32
	complexCountDword   = 22
	complexListDword    = 30

	// MaxSubItems bounds the slots of a container.
	MaxSubItems = 32
)

// Item is an address tagged with the shape it classified as. Consumers
// switch on Kind and use Simple or Complex to reach the fields.
type Item struct {
	Kind Kind
	Addr memory.Address
}

func (it Item) String() string {
	return fmt.Sprintf("%s@%v", it.Kind, it.Addr)
}

// Simple returns the item as a Simple view if it is one.
func (it Item) Simple() (Simple, bool) {
	return Simple{Addr: it.Addr}, it.Kind == KindSimple
}

// Complex returns the item as a Complex view if it is one.
func (it Item) Complex() (Complex, bool) {
	return Complex{Addr: it.Addr}, it.Kind == KindComplex
}

// ConveyorIndex reads the conveyor slot of either shape.
func (it Item) ConveyorIndex(r memory.Reader) (int32, error) {
	switch it.Kind {
	case KindSimple:
		return Simple{Addr: it.Addr}.ConveyorIndex(r)
	case KindComplex:
		return Complex{Addr: it.Addr}.ConveyorIndex(r)
	default:
		return -1, fmt.Errorf("%v: %w", it.Addr, ErrNotItem)
	}
}

// Simple 单一食材
type Simple struct {
	Addr memory.Address
}

// SimpleFields is one consistent read of a Simple item.
type SimpleFields struct {
	Addr          memory.Address
	X, Y          float32
	ItemID        int32
	IngredientID  int32
	ConveyorIndex int32
}

// Read fetches every field in a single transfer.
func (s Simple) Read(r memory.Reader) (SimpleFields, error) {
	const size = offConveyorIndex + 4 - offX
	buf, err := r.ReadMemory(s.Addr.Add(offX), size)
	if err != nil {
		return SimpleFields{}, err
	}
	at := func(off int) []byte { return buf[off-offX:] }

	f := SimpleFields{Addr: s.Addr}
	f.X = memory.Float32(at(offX))
	f.Y = memory.Float32(at(offY))
	f.ItemID = int32(memory.Uint32(at(offItemID)))
	f.IngredientID = int32(memory.Uint32(at(offIngredientID)))
	f.ConveyorIndex = int32(memory.Uint32(at(offConveyorIndex)))
	return f, nil
}

func (s Simple) ItemID(r memory.Reader) (int32, error) {
	return memory.ReadInt32(r, s.Addr.Add(offItemID))
}

func (s Simple) IngredientID(r memory.Reader) (int32, error) {
	return memory.ReadInt32(r, s.Addr.Add(offIngredientID))
}

func (s Simple) ConveyorIndex(r memory.Reader) (int32, error) {
	return memory.ReadInt32(r, s.Addr.Add(offConveyorIndex))
}

// Position returns the game space coordinates.
func (s Simple) Position(r memory.Reader) (x, y float32, err error) {
	return position(r, s.Addr)
}

// SetItemID writes the item id.
func (s Simple) SetItemID(w memory.Writer, v int32) error {
	return memory.WriteInt32(w, s.Addr.Add(offItemID), v)
}

// SetIngredientID writes the ingredient id.
func (s Simple) SetIngredientID(w memory.Writer, v int32) error {
	return memory.WriteInt32(w, s.Addr.Add(offIngredientID), v)
}

// Complex 组合物品，最多包含32个单一食材
type Complex struct {
	Addr memory.Address
}

func (c Complex) ConveyorIndex(r memory.Reader) (int32, error) {
	return memory.ReadInt32(r, c.Addr.Add(offConveyorIndex))
}

// Position returns the game space coordinates of the container.
func (c Complex) Position(r memory.Reader) (x, y float32, err error) {
	return position(r, c.Addr)
}

// SubItems returns the contained items. The count is read from the
// container header and must lie within [0, MaxSubItems].
func (c Complex) SubItems(r memory.Reader) ([]Simple, error) {
	header, err := memory.ReadUint32s(r, c.Addr, complexHeaderDwords)
	if err != nil {
		return nil, err
	}
	count := int32(header[complexCountDword])
	if count < 0 || count > MaxSubItems {
		return nil, fmt.Errorf("%v: %d sub items: %w", c.Addr, count, ErrCorrupt)
	}
	if count == 0 {
		return nil, nil
	}

	ptrs, err := memory.ReadUint32s(r, memory.Address(header[complexListDword]), int(count))
	if err != nil {
		return nil, err
	}
	subs := make([]Simple, 0, count)
	for _, p := range ptrs {
		subs = append(subs, Simple{Addr: memory.Address(p)})
	}
	return subs, nil
}

func position(r memory.Reader, addr memory.Address) (x, y float32, err error) {
	if x, err = memory.ReadFloat32(r, addr.Add(offX)); err != nil {
		return 0, 0, err
	}
	if y, err = memory.ReadFloat32(r, addr.Add(offY)); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
