package gamestate

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
)

// itemHash digests the fields a consumer would redraw for. Coordinates are
// floored, so only moves of a whole unit or more register. An item that
// can no longer be read hashes to zero.
func (s *State) itemHash(it object.Item) uint64 {
	d := xxhash.New()
	var buf [4]byte
	put := func(v int32) {
		memory.PutUint32(buf[:], uint32(v))
		d.Write(buf[:])
	}
	putSimple := func(f object.SimpleFields) {
		put(f.ItemID)
		put(f.IngredientID)
		put(f.ConveyorIndex)
		put(floor(f.X))
		put(floor(f.Y))
	}

	switch it.Kind {
	case object.KindSimple:
		simple, _ := it.Simple()
		f, err := simple.Read(s.mem)
		if err != nil {
			return 0
		}
		putSimple(f)
	case object.KindComplex:
		cplx, _ := it.Complex()
		subs, err := cplx.SubItems(s.mem)
		if err != nil {
			return 0
		}
		for _, sub := range subs {
			f, err := sub.Read(s.mem)
			if err != nil {
				return 0
			}
			putSimple(f)
		}
		x, y, err := cplx.Position(s.mem)
		if err != nil {
			return 0
		}
		put(floor(x))
		put(floor(y))
	default:
		return 0
	}
	return d.Sum64()
}

func floor(f float32) int32 {
	return int32(math.Floor(float64(f)))
}
