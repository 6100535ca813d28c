package object

import (
	"fmt"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
)

// Materialize turns traversed nodes into items. The batch is all or
// nothing: if any node's content fails to classify, the list was read while
// the target was changing it and the whole batch is discarded.
func (m *Model) Materialize(nodes []Node) ([]Item, error) {
	items := make([]Item, 0, len(nodes))
	for i, n := range nodes {
		k := m.Classify(n.Content)
		if k == KindUnknown {
			return nil, fmt.Errorf("node %d at %v, content %v: %w", i, n.Addr, n.Content, ErrInconsistentBatch)
		}
		items = append(items, Item{Kind: k, Addr: n.Content})
	}
	return items, nil
}

// ConveyorFrom walks the list containing start and materializes it.
func (m *Model) ConveyorFrom(start memory.Address) ([]Item, Walk, error) {
	w := m.Traverse(start)
	items, err := m.Materialize(w.Nodes)
	return items, w, err
}
