package calltree

import (
	"fmt"

	"fortio.org/safecast"
)

// NodeID addresses a Node inside the pool of the View owning it. IDs are
// reused after a node is released.
type NodeID uint32

// Node aggregates every span observed on one call path. Times are seconds.
type Node struct {
	Name      string
	SortOrder int

	TimeTotal            float64
	TimeTotalAvgPerInst  float64
	TimeTotalAvgPerFrame float64
	TimeTotalMin         float64
	TimeTotalMax         float64
	TimeSelfAvgPerFrame  float64
	Instances            int
	RecursionDepth       int

	// UI state, never touched by aggregation.
	Opened   bool
	Selected bool

	LastSeenAge int

	children []NodeID
}

// Children returns the IDs of the node's children in display order. The
// slice must not be modified.
func (n *Node) Children() []NodeID { return n.children }

// Empty reports whether the node carries no data for the current cycle.
func (n *Node) Empty() bool { return n.Instances == 0 }

func (n *Node) resetAggregates() {
	n.TimeTotal = 0
	n.TimeTotalAvgPerInst = 0
	n.TimeTotalAvgPerFrame = 0
	n.TimeTotalMin = 0
	n.TimeTotalMax = 0
	n.TimeSelfAvgPerFrame = 0
	n.Instances = 0
}

func (n *Node) reset() {
	children := n.children[:0]
	*n = Node{Opened: true, children: children}
}

// pool is an arena of nodes addressed by NodeID. Released slots go on a free
// list; at most limit of them keep their Node allocated for reuse.
type pool struct {
	slots  []*Node
	free   []NodeID
	pooled int
	limit  int
}

func (p *pool) alloc(name string) NodeID {
	if k := len(p.free); k > 0 {
		id := p.free[k-1]
		p.free = p.free[:k-1]
		n := p.slots[id]
		if n == nil {
			n = &Node{Opened: true}
			p.slots[id] = n
		} else {
			p.pooled--
		}
		n.Name = name
		return id
	}

	id, err := safecast.Conv[NodeID](len(p.slots))
	if err != nil {
		panic(fmt.Errorf("calltree: node pool overflow: %w", err))
	}
	p.slots = append(p.slots, &Node{Name: name, Opened: true})
	return id
}

func (p *pool) get(id NodeID) *Node {
	return p.slots[id]
}

// release returns id and its whole subtree to the pool.
func (p *pool) release(id NodeID) {
	n := p.slots[id]
	for _, child := range n.children {
		p.release(child)
	}
	if p.pooled < p.limit {
		n.reset()
		p.pooled++
	} else {
		p.slots[id] = nil
	}
	p.free = append(p.free, id)
}

func (p *pool) live() int {
	return len(p.slots) - len(p.free)
}
