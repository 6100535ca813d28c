package gamestate

import (
	"errors"
	"sync"
	"testing"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/hitzhangjie/bs3mem/pkg/object/objecttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(t *testing.T, opts ...Option) (*State, *objecttest.Image) {
	t.Helper()
	im := objecttest.New()
	m, err := object.NewModel(im)
	require.NoError(t, err)
	return New(m, opts...), im
}

func itemIDs(t *testing.T, im *objecttest.Image, items []object.Item) []int32 {
	t.Helper()
	var ids []int32
	for _, it := range items {
		s, ok := it.Simple()
		require.True(t, ok)
		id, err := s.ItemID(im)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAcceptable(t *testing.T) {
	for _, tc := range []struct {
		n         int
		expected  int32
		tolerance int
		want      bool
	}{
		{0, 0, 1, false},
		{1, 0, 1, true},
		{2, 3, 1, true},
		{1, 3, 1, false},
		{3, 3, 0, true},
		{2, 3, 0, false},
		{5, 3, 1, true},
	} {
		assert.Equal(t, tc.want, Acceptable(tc.n, tc.expected, tc.tolerance), "%+v", tc)
	}
}

func TestConveyorEndToEnd(t *testing.T) {
	s, im := newState(t)

	_, nodes := im.Ring(im.Simple(10, 1), im.Simple(20, 2), im.Simple(30, 3))
	s.SetNumConveyorItems(3)

	items, _, err := s.Model().ConveyorFrom(nodes[1])
	require.NoError(t, err)
	require.True(t, s.AcceptConveyorBatch(items))

	got := s.GetConveyorItems()
	require.Len(t, got, 3)
	assert.Equal(t, []int32{10, 20, 30}, itemIDs(t, im, got))
	assert.True(t, s.IsDirty())
	assert.True(t, s.NeedsSorting())
}

func TestRejectedBatchKeepsPrevious(t *testing.T) {
	s, im := newState(t)

	first := []memory.Address{im.Simple(1, 0), im.Simple(2, 0)}
	_, nodes := im.Ring(first...)
	s.SetNumConveyorItems(2)
	items, _, err := s.Model().ConveyorFrom(nodes[0])
	require.NoError(t, err)
	require.True(t, s.AcceptConveyorBatch(items))

	// a list of four with the middle node freed mid read
	var next []memory.Address
	for i := 0; i < 4; i++ {
		next = append(next, im.Simple(int32(10+i), 0))
	}
	_, nodes = im.Ring(next...)
	w := s.Model().Traverse(nodes[3])
	im.Free(next[2])
	items, err = s.Model().Materialize(w.Nodes)
	assert.True(t, errors.Is(err, object.ErrInconsistentBatch))
	assert.Empty(t, items)
	assert.False(t, s.AcceptConveyorBatch(items))

	// a batch well short of the expected count is refused too
	s.SetNumConveyorItems(4)
	assert.False(t, s.AcceptConveyorBatch([]object.Item{{Kind: object.KindSimple, Addr: next[0]}, {Kind: object.KindSimple, Addr: next[1]}}))

	assert.Equal(t, []int32{1, 2}, itemIDs(t, im, s.GetConveyorItems()))
}

func TestDirtyFlag(t *testing.T) {
	s, im := newState(t)

	addr := im.Simple(5, 5)
	im.MapFloat32(addr.Add(0x24), 100.2)
	s.SetConveyorItems([]object.Item{{Kind: object.KindSimple, Addr: addr}})
	require.True(t, s.IsDirty())

	s.Update()
	assert.False(t, s.IsDirty())
	assert.False(t, s.CheckItemsDirty())

	// a sub unit move stays clean
	im.MapFloat32(addr.Add(0x24), 100.9)
	assert.False(t, s.CheckItemsDirty())

	im.MapFloat32(addr.Add(0x24), 101.9)
	assert.True(t, s.CheckItemsDirty())
	s.Update()
	assert.False(t, s.CheckItemsDirty())

	// the edge is consumed once
	im.MapFloat32(addr.Add(0x28), -3)
	assert.True(t, s.CheckItemsDirty())
	assert.True(t, s.CheckItemsDirty())
	s.Update()
	assert.False(t, s.IsDirty())

	s.SetBBPercent(0.5)
	assert.True(t, s.TakeDirty())
	assert.False(t, s.TakeDirty())
	s.SetBBPercent(0.25)
	assert.True(t, s.IsDirty())
	s.Update()

	// scalars only dirty on change
	s.SetBBPercent(0)
	s.SetNumConveyorItems(0)
	assert.False(t, s.IsDirty())
	s.SetBBPercent(0.25)
	assert.True(t, s.IsDirty())
	assert.Equal(t, float32(0.25), s.BBPercent())
	s.Update()
	s.SetNumConveyorItems(7)
	assert.True(t, s.IsDirty())
	assert.Equal(t, int32(7), s.NumConveyorItems())
}

func TestDirtyOnFreedItem(t *testing.T) {
	s, im := newState(t)

	cplx := im.Complex(im.Simple(1, 1))
	s.SetConveyorItems([]object.Item{{Kind: object.KindComplex, Addr: cplx}})
	s.Update()
	assert.False(t, s.CheckItemsDirty())

	// the first sub item's list vanishes
	im.MapUint32(cplx.Add(30*4), 0x0badf000)
	assert.True(t, s.CheckItemsDirty())
}

func TestSortAndAdjustFirstItem(t *testing.T) {
	s, im := newState(t, WithMaxItemID(12))

	a, b, c := im.Simple(3, 3), im.Simple(11, 11), im.Simple(7, 7)
	im.MapUint32(a.Add(0x38), 0)
	im.MapUint32(b.Add(0x38), 2)
	im.MapUint32(c.Add(0x38), 1)
	s.SetConveyorItems([]object.Item{
		{Kind: object.KindSimple, Addr: a},
		{Kind: object.KindSimple, Addr: b},
		{Kind: object.KindSimple, Addr: c},
	})

	s.SortConveyorItems()
	assert.False(t, s.NeedsSorting())
	assert.Equal(t, []int32{11, 7, 3}, itemIDs(t, im, s.GetConveyorItems()))

	// 11 + 1 hits the bound
	assert.True(t, errors.Is(s.IncrementFirstItem(), ErrItemIDRange))
	require.NoError(t, s.DecrementFirstItem())
	f, err := object.Simple{Addr: b}.Read(im)
	require.NoError(t, err)
	assert.Equal(t, int32(10), f.ItemID)
	assert.Equal(t, int32(10), f.IngredientID)

	// an empty conveyor is a no-op
	s.Reset()
	assert.NoError(t, s.IncrementFirstItem())
}

func TestAddRemoveItem(t *testing.T) {
	s, im := newState(t)

	a := im.Simple(1, 1)
	sub := im.Simple(2, 2)
	box := im.Complex(sub)

	assert.True(t, s.AddItemFromAddress(a))
	assert.True(t, s.AddItemFromAddress(sub))
	assert.False(t, s.AddItemFromAddress(0x0badf000))
	require.Len(t, s.GetConveyorItems(), 2)

	// removing a container drops the tracked sub item
	assert.True(t, s.RemoveItemFromAddress(box))
	assert.Equal(t, []int32{1}, itemIDs(t, im, s.GetConveyorItems()))

	assert.True(t, s.RemoveItemFromAddress(a))
	assert.False(t, s.RemoveItemFromAddress(a))
	assert.Empty(t, s.GetConveyorItems())
}

func TestGetConveyorItemsFiltersInvalid(t *testing.T) {
	s, im := newState(t)
	a, b := im.Simple(1, 1), im.Simple(2, 2)
	s.SetConveyorItems([]object.Item{{Kind: object.KindSimple, Addr: a}, {Kind: object.KindSimple, Addr: b}})

	got := s.GetConveyorItems()
	im.Free(a)
	// earlier snapshots are not affected
	require.Len(t, got, 2)
	assert.Equal(t, []int32{2}, itemIDs(t, im, s.GetConveyorItems()))
}

func TestCustomers(t *testing.T) {
	s, im := newState(t)

	c1 := object.Customer{Addr: im.Customer(1)}
	c2 := object.Customer{Addr: im.Customer(2)}
	assert.True(t, s.AddCustomer(c1))
	assert.False(t, s.AddCustomer(c1))
	assert.True(t, s.AddCustomer(c2))
	assert.False(t, s.AddCustomer(object.Customer{Addr: im.Simple(1, 1)}))

	got := s.GetCustomers()
	assert.Equal(t, []object.Customer{c1, c2}, got)

	s.Update()
	im.Free(c1.Addr)
	assert.Equal(t, []object.Customer{c2}, s.GetCustomers())
	assert.True(t, s.IsDirty())
	// the returned copy is not the internal slice
	assert.Equal(t, c1, got[0])

	s.Update()
	s.RemoveCustomer(5)
	assert.False(t, s.IsDirty())
	s.RemoveCustomer(0)
	assert.True(t, s.IsDirty())
	assert.Empty(t, s.GetCustomers())
}

func TestConcurrentAccess(t *testing.T) {
	s, im := newState(t)

	var batches [][]object.Item
	for i := 0; i < 4; i++ {
		var items []object.Item
		for j := 0; j < 5; j++ {
			items = append(items, object.Item{Kind: object.KindSimple, Addr: im.Simple(int32(i*10+j), 0)})
		}
		batches = append(batches, items)
	}
	cust := object.Customer{Addr: im.Customer(9)}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				s.SetConveyorItems(batches[(i+n)%len(batches)])
				s.AddCustomer(cust)
				s.SetBBPercent(float32(n))
			}
		}(i)
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				items := s.GetConveyorItems()
				assert.True(t, len(items) == 0 || len(items) == 5)
				s.GetCustomers()
				s.CheckItemsDirty()
				s.SortConveyorItems()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.GetCustomers(), 1)
}
