// Package gamestate holds the snapshot that breakpoint callbacks populate
// and consumers read.
//
// The conveyor and the customers sit behind separate locks so that updates
// to one never wait for the other. Readers always get copies. A dirty flag
// is raised whenever an observable value changes and cleared by Update once
// a consumer has reacted.
package gamestate

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// DefaultTolerance is how many items a conveyor batch may be short of the
// expected count and still be accepted.
const DefaultTolerance = 1

// ErrItemIDRange is returned when a written item id is out of range.
var ErrItemIDRange = errors.New("item id out of range")

// State 游戏状态快照
type State struct {
	model *object.Model
	mem   memory.Accessor
	log   *logrus.Entry

	tolerance int
	maxItemID int32

	itemsMu sync.Mutex
	items   []object.Item
	hashes  map[memory.Address]uint64

	customersMu sync.Mutex
	customers   []object.Customer

	dirty        atomic.Bool
	needsSorting atomic.Bool
	bbPercent    atomic.Float32
	numItems     atomic.Int32
}

// Option configures a State.
type Option func(*State)

// WithTolerance sets how far below the expected count an accepted conveyor
// batch may be.
func WithTolerance(n int) Option {
	return func(s *State) {
		s.tolerance = n
	}
}

// WithMaxItemID bounds ids written by IncrementFirstItem and
// DecrementFirstItem to [0, n). Zero only rejects negative ids.
func WithMaxItemID(n int32) Option {
	return func(s *State) {
		s.maxItemID = n
	}
}

// New returns an empty state reading target memory through model.
func New(model *object.Model, opts ...Option) *State {
	s := &State{
		model:     model,
		mem:       model.Memory(),
		log:       logflags.StateLogger(),
		tolerance: DefaultTolerance,
		hashes:    map[memory.Address]uint64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the object model the state validates with.
func (s *State) Model() *object.Model {
	return s.model
}

// IsDirty reports whether anything changed since the last Update.
func (s *State) IsDirty() bool {
	return s.dirty.Load()
}

// Update acknowledges the current state.
func (s *State) Update() {
	s.dirty.Store(false)
}

// TakeDirty clears the dirty flag and reports whether it was set. A change
// made after it returns raises the flag again.
func (s *State) TakeDirty() bool {
	return s.dirty.CompareAndSwap(true, false)
}

// NeedsSorting reports whether the conveyor changed since the last sort.
func (s *State) NeedsSorting() bool {
	return s.needsSorting.Load()
}

// BBPercent returns the BurgerBot progress.
func (s *State) BBPercent() float32 {
	return s.bbPercent.Load()
}

// SetBBPercent 设置BurgerBot进度，值变化时置脏
func (s *State) SetBBPercent(v float32) {
	if s.bbPercent.Swap(v) != v {
		s.dirty.Store(true)
	}
}

// NumConveyorItems returns the item count the game last reported.
func (s *State) NumConveyorItems() int32 {
	return s.numItems.Load()
}

// SetNumConveyorItems 设置传送带物品数量，值变化时置脏
func (s *State) SetNumConveyorItems(n int32) {
	if s.numItems.Swap(n) != n {
		s.dirty.Store(true)
	}
}

// Acceptable reports whether a batch of n items is plausible given the
// expected count. An empty batch never is.
func Acceptable(n int, expected int32, tolerance int) bool {
	return n > 0 && n >= int(expected)-tolerance
}

// AcceptConveyorBatch replaces the conveyor with items if the batch is
// plausible given the expected count, and reports whether it did. A
// rejected batch leaves the previous snapshot in place.
func (s *State) AcceptConveyorBatch(items []object.Item) bool {
	expected := s.numItems.Load()
	if !Acceptable(len(items), expected, s.tolerance) {
		conveyorBatches.WithLabelValues("rejected").Inc()
		s.log.Debugf("rejected batch of %d items, expected %d", len(items), expected)
		return false
	}
	s.SetConveyorItems(items)
	conveyorBatches.WithLabelValues("accepted").Inc()
	return true
}

// SetConveyorItems replaces the conveyor unconditionally.
func (s *State) SetConveyorItems(items []object.Item) {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	s.items = append(s.items[:0:0], items...)
	s.hashes = make(map[memory.Address]uint64, len(items))
	for _, it := range s.items {
		s.hashes[it.Addr] = s.itemHash(it)
	}
	s.needsSorting.Store(true)
	s.dirty.Store(true)
}

// GetConveyorItems returns the tracked items that still validate.
func (s *State) GetConveyorItems() []object.Item {
	items := s.trackedItems()
	out := items[:0]
	for _, it := range items {
		if s.model.IsValid(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s *State) trackedItems() []object.Item {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	return append([]object.Item(nil), s.items...)
}

// AddItemFromAddress appends the item at addr if it classifies.
func (s *State) AddItemFromAddress(addr memory.Address) bool {
	it, err := s.model.Item(addr)
	if err != nil {
		s.log.WithError(err).Debug("add item skipped")
		return false
	}

	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	s.items = append(s.items, it)
	s.hashes[it.Addr] = s.itemHash(it)
	s.needsSorting.Store(true)
	s.dirty.Store(true)
	return true
}

// RemoveItemFromAddress drops the tracked item at addr. If none is tracked
// there and addr is a container, the first tracked item that is one of its
// sub-items is dropped instead.
func (s *State) RemoveItemFromAddress(addr memory.Address) bool {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	if s.removeItemLocked(addr) {
		return true
	}
	if s.model.Classify(addr) != object.KindComplex {
		return false
	}
	subs, err := object.Complex{Addr: addr}.SubItems(s.mem)
	if err != nil {
		return false
	}
	for _, it := range s.items {
		for _, sub := range subs {
			if it.Addr == sub.Addr {
				return s.removeItemLocked(it.Addr)
			}
		}
	}
	return false
}

func (s *State) removeItemLocked(addr memory.Address) bool {
	for i, it := range s.items {
		if it.Addr == addr {
			s.items = append(s.items[:i], s.items[i+1:]...)
			delete(s.hashes, addr)
			s.dirty.Store(true)
			return true
		}
	}
	return false
}

// SortConveyorItems orders the conveyor by descending conveyor index, the
// order items leave the belt in. It does nothing if the conveyor has not
// changed since the last sort.
func (s *State) SortConveyorItems() {
	if !s.needsSorting.Load() {
		return
	}

	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	idx := make(map[memory.Address]int32, len(s.items))
	for _, it := range s.items {
		i, err := it.ConveyorIndex(s.mem)
		if err != nil {
			i = -1
		}
		idx[it.Addr] = i
	}
	sort.SliceStable(s.items, func(i, j int) bool {
		return idx[s.items[i].Addr] > idx[s.items[j].Addr]
	})
	s.needsSorting.Store(false)
}

// CheckItemsDirty rehashes every tracked item, raises the dirty flag if
// any hash moved and returns the flag.
func (s *State) CheckItemsDirty() bool {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	for _, it := range s.items {
		h := s.itemHash(it)
		if old, ok := s.hashes[it.Addr]; !ok || old != h {
			s.hashes[it.Addr] = h
			s.dirty.Store(true)
		}
	}
	return s.dirty.Load()
}

// IncrementFirstItem bumps the id fields of the head of the conveyor.
func (s *State) IncrementFirstItem() error {
	return s.adjustFirstItem(1)
}

// DecrementFirstItem lowers the id fields of the head of the conveyor.
func (s *State) DecrementFirstItem() error {
	return s.adjustFirstItem(-1)
}

// adjustFirstItem writes item id and ingredient id of the first item, if
// it is a Simple one, to its current item id plus delta.
func (s *State) adjustFirstItem(delta int32) error {
	s.SortConveyorItems()

	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()

	if len(s.items) == 0 {
		return nil
	}
	simple, ok := s.items[0].Simple()
	if !ok || !s.model.IsValid(s.items[0]) {
		return nil
	}
	id, err := simple.ItemID(s.mem)
	if err != nil {
		return err
	}
	v := id + delta
	if v < 0 || (s.maxItemID > 0 && v >= s.maxItemID) {
		return fmt.Errorf("%d: %w", v, ErrItemIDRange)
	}
	if err := simple.SetItemID(s.mem, v); err != nil {
		return err
	}
	return simple.SetIngredientID(s.mem, v)
}

// GetCustomers prunes customers that no longer validate and returns a copy
// of the rest.
func (s *State) GetCustomers() []object.Customer {
	s.customersMu.Lock()
	defer s.customersMu.Unlock()

	kept := s.customers[:0]
	for _, c := range s.customers {
		if s.model.IsCustomer(c.Addr) {
			kept = append(kept, c)
		}
	}
	if len(kept) != len(s.customers) {
		s.log.Debugf("pruned %d customers", len(s.customers)-len(kept))
		s.dirty.Store(true)
	}
	s.customers = kept
	return append([]object.Customer(nil), kept...)
}

// AddCustomer tracks c if it validates and is not tracked already.
func (s *State) AddCustomer(c object.Customer) bool {
	if !s.model.IsCustomer(c.Addr) {
		return false
	}

	s.customersMu.Lock()
	defer s.customersMu.Unlock()
	for _, have := range s.customers {
		if have.Addr == c.Addr {
			return false
		}
	}
	s.customers = append(s.customers, c)
	s.dirty.Store(true)
	return true
}

// RemoveCustomer drops the customer at index, ignoring indexes out of range.
func (s *State) RemoveCustomer(index int) {
	s.customersMu.Lock()
	defer s.customersMu.Unlock()
	if index < 0 || index >= len(s.customers) {
		return
	}
	s.customers = append(s.customers[:index], s.customers[index+1:]...)
	s.dirty.Store(true)
}

// Reset forgets the conveyor, the customers and the expected count.
func (s *State) Reset() {
	func() {
		s.itemsMu.Lock()
		defer s.itemsMu.Unlock()
		s.items = nil
		s.hashes = map[memory.Address]uint64{}
	}()
	func() {
		s.customersMu.Lock()
		defer s.customersMu.Unlock()
		s.customers = nil
	}()
	s.numItems.Store(0)
	s.needsSorting.Store(false)
	s.dirty.Store(true)
}
