// Package object interprets raw target memory as the game's objects.
//
// The target carries no type tags. An object's shape is recognized by
// following its first dword to the runtime type descriptor, following that
// once more and reading a marker dword four bytes in. Two marker values are
// known: one for plain items and one for containers (also used by customers).
// Everything returned by this package is a view over an address; it must be
// revalidated before its fields are trusted, since the target frees and
// reuses memory at will.
package object

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/sirupsen/logrus"
)

const (
	// MarkerSimple identifies a single ingredient item.
	MarkerSimple uint32 = 1317794187
	// MarkerComplex identifies a container item, and customers.
	MarkerComplex uint32 = 113766795

	markerOffset = 0x4

	// DefaultMaxHops bounds list walks. It was picked empirically and is
	// not a known maximum list length in the target.
	DefaultMaxHops = 100
	// DefaultMarkerCacheSize is the number of descriptors remembered.
	DefaultMarkerCacheSize = 128
)

var (
	// ErrNotItem is returned when an address does not classify as an item.
	ErrNotItem = errors.New("not a recognized item")
	// ErrInconsistentBatch is returned when a node list contains a node
	// that no longer classifies, e.g. when it was read mid mutation.
	ErrInconsistentBatch = errors.New("inconsistent node batch")
	// ErrCorrupt is returned when a length or count read from the target
	// fails a sanity bound.
	ErrCorrupt = errors.New("implausible layout")
)

// Model classifies and walks objects in one target's memory.
type Model struct {
	mem     memory.Accessor
	markers *lru.Cache // descriptor address -> Kind
	maxHops int
	log     *logrus.Entry
}

// Option configures a Model.
type Option func(*Model) error

// WithMaxHops sets the cap on list walks.
func WithMaxHops(n int) Option {
	return func(m *Model) error {
		if n <= 0 {
			return fmt.Errorf("max hops must be positive, got %d", n)
		}
		m.maxHops = n
		return nil
	}
}

// WithMarkerCache sets how many recognized descriptors are remembered.
// Zero disables the cache.
func WithMarkerCache(size int) Option {
	return func(m *Model) error {
		if size <= 0 {
			m.markers = nil
			return nil
		}
		c, err := lru.New(size)
		if err != nil {
			return err
		}
		m.markers = c
		return nil
	}
}

// NewModel returns a Model reading through mem.
func NewModel(mem memory.Accessor, opts ...Option) (*Model, error) {
	m := &Model{
		mem:     mem,
		maxHops: DefaultMaxHops,
		log:     logflags.MemoryLogger(),
	}
	opts = append([]Option{WithMarkerCache(DefaultMarkerCacheSize)}, opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Memory returns the accessor the model reads through.
func (m *Model) Memory() memory.Accessor {
	return m.mem
}

// MaxHops returns the configured walk cap.
func (m *Model) MaxHops() int {
	return m.maxHops
}

// Classify reports the shape of the object at addr. Any failed read along
// the descriptor chain, or an unknown marker, yields KindUnknown.
func (m *Model) Classify(addr memory.Address) Kind {
	desc, err := memory.ReadPointer(m.mem, addr)
	if err != nil {
		return KindUnknown
	}
	if m.markers != nil {
		if k, ok := m.markers.Get(desc); ok {
			return k.(Kind)
		}
	}

	code, err := memory.ReadPointer(m.mem, desc)
	if err != nil {
		return KindUnknown
	}
	marker, err := memory.ReadUint32(m.mem, code.Add(markerOffset))
	if err != nil {
		return KindUnknown
	}

	k := kindOf(marker)
	// descriptors live in the image and never move; only cache hits
	if k != KindUnknown && m.markers != nil {
		m.markers.Add(desc, k)
	}
	return k
}

// Item classifies addr and returns it as an Item.
func (m *Model) Item(addr memory.Address) (Item, error) {
	k := m.Classify(addr)
	if k == KindUnknown {
		return Item{}, fmt.Errorf("%v: %w", addr, ErrNotItem)
	}
	return Item{Kind: k, Addr: addr}, nil
}

// IsValid reports whether it still classifies as the kind it was created
// with.
func (m *Model) IsValid(it Item) bool {
	return it.Kind != KindUnknown && m.Classify(it.Addr) == it.Kind
}

func kindOf(marker uint32) Kind {
	switch marker {
	case MarkerSimple:
		return KindSimple
	case MarkerComplex:
		return KindComplex
	default:
		return KindUnknown
	}
}
