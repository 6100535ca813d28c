package object

import (
	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/sirupsen/logrus"
)

// NodeSize is the size of a list node: prev, next, content.
const NodeSize = 3 * memory.PointerSize

// Node is one element of the target's circular doubly linked lists. Each
// list has a sentinel node whose content is not an item.
type Node struct {
	Addr    memory.Address
	Prev    memory.Address
	Next    memory.Address
	Content memory.Address
}

// ReadNode reads the node at addr in one transfer.
func (m *Model) ReadNode(addr memory.Address) (Node, error) {
	v, err := memory.ReadUint32s(m.mem, addr, 3)
	if err != nil {
		return Node{}, err
	}
	return Node{
		Addr:    addr,
		Prev:    memory.Address(v[0]),
		Next:    memory.Address(v[1]),
		Content: memory.Address(v[2]),
	}, nil
}

// Walk is the result of Traverse.
type Walk struct {
	Nodes    []Node
	Sentinel memory.Address
	// Degraded is set when no sentinel was found within the hop cap. Nodes
	// then holds only the start node.
	Degraded bool
	// Truncated is set when a read failed or the forward walk hit the cap.
	// Nodes holds what was collected up to that point.
	Truncated bool
}

// Traverse collects every item node of the list containing start, in list
// order from the sentinel. It walks backward from start until a node's
// content fails to classify, which marks the sentinel, then forward from
// the sentinel until it comes back around.
//
// If start itself is the sentinel the list is walked from its next node,
// so an empty list yields no nodes. Traverse never follows more than
// MaxHops links in either direction.
func (m *Model) Traverse(start memory.Address) Walk {
	log := m.log.WithField("start", start)

	first, sentinel, w, ok := m.findSentinel(start, log)
	if !ok {
		return w
	}

	w = Walk{Sentinel: sentinel}
	for cur := first; cur != sentinel; {
		if len(w.Nodes) >= m.maxHops {
			log.Debugf("forward walk hit cap of %d nodes", m.maxHops)
			w.Truncated = true
			break
		}
		n, err := m.ReadNode(cur)
		if err != nil {
			log.WithError(err).Debug("forward walk stopped")
			w.Truncated = true
			break
		}
		w.Nodes = append(w.Nodes, n)
		cur = n.Next
	}
	return w
}

// findSentinel walks backward from start. When ok is false the returned
// Walk is final.
func (m *Model) findSentinel(start memory.Address, log *logrus.Entry) (first, sentinel memory.Address, w Walk, ok bool) {
	var (
		startNode Node
		last      memory.Address
		cur       = start
	)
	for hops := 0; ; hops++ {
		n, err := m.ReadNode(cur)
		if err != nil {
			log.WithError(err).Debug("backward walk stopped")
			return 0, 0, Walk{Truncated: true}, false
		}
		if hops == 0 {
			startNode = n
		}

		if m.Classify(n.Content) == KindUnknown {
			if cur == start {
				return n.Next, cur, Walk{}, true
			}
			return last, cur, Walk{}, true
		}

		if hops >= m.maxHops {
			log.Debugf("no sentinel within %d hops", m.maxHops)
			return 0, 0, Walk{Nodes: []Node{startNode}, Degraded: true}, false
		}
		last = cur
		cur = n.Prev
	}
}
