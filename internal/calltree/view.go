package calltree

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"

	"scopetrace/internal/trace"
)

// Defaults used when Options leave a field zero.
const (
	DefaultKeepAlive = 2
	DefaultPoolLimit = 10000
)

// Options configures a View.
type Options struct {
	// KeepAlive is the number of update cycles a node may go unobserved
	// before it is released.
	KeepAlive int
	// PoolLimit caps the number of released nodes kept for reuse.
	PoolLimit int
	Logger    *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.PoolLimit <= 0 {
		o.PoolLimit = DefaultPoolLimit
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// View rebuilds the call tree of one Buffer from its flat span stream.
//
// While connected the tree is written by UpdateCallback on the producing
// goroutine, so tree reads (Roots, Node, Walk, FindRecursive) panic until
// Disconnect. All other methods belong to the admin goroutine.
type View struct {
	reg       *trace.Registry
	log       *zap.Logger
	keepAlive int

	mu          sync.Mutex
	pool        pool
	roots       []NodeID
	source      weak.Pointer[trace.Buffer]
	connected   bool
	sourceName  string
	frameCount  int
	sortCounter int
	timeout     float64

	srcStack []trace.Entry
	dstStack []NodeID

	applied atomic.Uint64
	dropped atomic.Uint64
}

var _ trace.Consumer = (*View)(nil)

// NewView creates a disconnected, empty View over reg.
func NewView(reg *trace.Registry, opts Options) *View {
	opts = opts.withDefaults()
	return &View{
		reg:       reg,
		log:       opts.Logger.Named("view"),
		keepAlive: opts.KeepAlive,
		pool:      pool{limit: opts.PoolLimit},
	}
}

// Connect attaches the view to the first live buffer selected by pattern
// (see trace.MatchName). A previous connection is dropped first. Updates
// arriving more than timeout seconds from now are ignored. Reports whether a
// buffer was found.
func (v *View) Connect(pattern string, timeout float64) bool {
	if v.IsConnected() {
		v.Disconnect(nil)
	}

	b := v.reg.FindBuffer(pattern)
	if b == nil {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	unlock := b.LockForConnect()
	defer unlock()

	if b.Name() != v.sourceName {
		v.resetLocked()
		v.sourceName = b.Name()
	}
	b.AttachLocked(v)
	v.source = weak.Make(b)
	v.connected = true
	v.frameCount = 0
	v.sortCounter = 0
	v.timeout = v.reg.Now() + timeout
	v.preUpdateLocked()

	v.log.Debug("connected", zap.String("source", b.Name()), zap.Float64("timeout", timeout))
	return true
}

// Disconnect detaches the view from its buffer. When prev viewed the same
// source, its nodes missing here are carried over and its UI state is synced
// into this view; counts are never summed. Stale nodes are then released and
// derived statistics recomputed.
func (v *View) Disconnect(prev *View) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.connected {
		if b := v.source.Value(); b != nil {
			unlock := b.LockForConnect()
			b.DetachLocked(v)
			unlock()
		}
		v.connected = false
		v.source = weak.Pointer[trace.Buffer]{}
		v.log.Debug("disconnected", zap.String("source", v.sourceName), zap.Int("frames", v.frameCount))
	}

	if prev != nil && prev != v {
		prev.mu.Lock()
		if !prev.connected && prev.sourceName == v.sourceName {
			v.mergeLocked(prev)
		}
		prev.mu.Unlock()
	}

	v.postUpdateLocked()
}

// IsConnected reports whether the view is attached to a buffer.
func (v *View) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// ConnectionName returns the name of the buffer the tree was built from.
func (v *View) ConnectionName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sourceName
}

// FrameCount returns the number of frames seen since the last Connect.
func (v *View) FrameCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frameCount
}

// TickFrame counts one application frame for buffers that do not count
// their own frames. Called by the admin goroutine once per frame.
func (v *View) TickFrame() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return
	}
	b := v.source.Value()
	if b == nil || !b.AutomaticFrameIncrement() || v.reg.Now() > v.timeout {
		return
	}
	v.frameCount++
	v.sortCounter = 0
}

// UpdateCallback folds a chronologically ordered, well nested batch of spans
// into the tree. Batches from a buffer the view is no longer connected to,
// or arriving after the connection timeout, are dropped.
func (v *View) UpdateCallback(src *trace.Buffer, spans []trace.Entry, incrementFrame bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.connected || v.source.Value() != src || v.reg.Now() > v.timeout {
		v.dropped.Add(1)
		return
	}
	v.applyLocked(spans)
	if incrementFrame {
		v.frameCount++
		v.sortCounter = 0
	}
	v.applied.Add(1)
}

func (v *View) applyLocked(spans []trace.Entry) {
	srcStack := v.srcStack[:0]
	dstStack := v.dstStack[:0]

	for _, e := range spans {
		for len(srcStack) > 0 {
			top := srcStack[len(srcStack)-1]
			if top.End > e.End || (top.End == e.End && top.Depth < e.Depth) {
				break
			}
			srcStack = srcStack[:len(srcStack)-1]
			dstStack = dstStack[:len(dstStack)-1]
		}
		srcStack = append(srcStack, e)

		siblings := &v.roots
		if len(dstStack) > 0 {
			siblings = &v.pool.get(dstStack[len(dstStack)-1]).children
		}
		id := v.childLocked(siblings, e.Name)
		dstStack = append(dstStack, id)

		n := v.pool.get(id)
		d := e.Duration()
		if n.Instances == 0 {
			n.TimeTotalMin = d
			n.TimeTotalMax = d
		} else {
			n.TimeTotalMin = min(n.TimeTotalMin, d)
			n.TimeTotalMax = max(n.TimeTotalMax, d)
		}
		n.TimeTotal += d
		n.Instances++
		n.RecursionDepth = len(dstStack) - 1
		n.LastSeenAge = 0
		n.SortOrder = v.sortCounter
		v.sortCounter++
	}

	// keep the backing arrays, drop references to span names
	clear(srcStack)
	v.srcStack = srcStack[:0]
	v.dstStack = dstStack[:0]
}

// childLocked finds the sibling called name, appending a new node if none
// exists.
func (v *View) childLocked(siblings *[]NodeID, name string) NodeID {
	for _, id := range *siblings {
		if v.pool.get(id).Name == name {
			return id
		}
	}
	id := v.pool.alloc(name)
	*siblings = append(*siblings, id)
	return id
}

// preUpdateLocked zeroes all aggregates, keeping tree shape and UI state.
func (v *View) preUpdateLocked() {
	v.walkLocked(v.roots, 0, func(_ NodeID, n *Node, _ int) bool {
		n.resetAggregates()
		return true
	})
}

// postUpdateLocked ages every node, releases the stale ones, recomputes
// derived statistics and restores first-seen order.
func (v *View) postUpdateLocked() {
	frames := float64(max(v.frameCount, 1))
	v.roots = v.postUpdateList(v.roots, frames)
}

func (v *View) postUpdateList(ids []NodeID, frames float64) []NodeID {
	for i := 0; i < len(ids); {
		n := v.pool.get(ids[i])
		n.LastSeenAge++
		if n.LastSeenAge > v.keepAlive {
			v.pool.release(ids[i])
			last := len(ids) - 1
			ids[i] = ids[last]
			ids = ids[:last]
			continue
		}

		n.children = v.postUpdateList(n.children, frames)
		if n.Instances > 0 {
			n.TimeTotalAvgPerInst = n.TimeTotal / float64(n.Instances)
		}
		n.TimeTotalAvgPerFrame = n.TimeTotal / frames
		n.TimeSelfAvgPerFrame = n.TimeTotalAvgPerFrame
		for _, c := range n.children {
			n.TimeSelfAvgPerFrame -= v.pool.get(c).TimeTotalAvgPerFrame
		}
		i++
	}

	slices.SortStableFunc(ids, func(a, b NodeID) int {
		return cmp.Compare(v.pool.get(a).SortOrder, v.pool.get(b).SortOrder)
	})
	return ids
}

// mergeLocked carries nodes of prev over into v. Both locks must be held.
func (v *View) mergeLocked(prev *View) {
	v.roots = v.mergeList(v.roots, prev, prev.roots)
}

func (v *View) mergeList(dst []NodeID, prev *View, src []NodeID) []NodeID {
	for _, sid := range src {
		sn := prev.pool.get(sid)

		match := -1
		for j, did := range dst {
			if v.pool.get(did).Name == sn.Name {
				match = j
				break
			}
		}

		if match < 0 {
			if sn.LastSeenAge <= v.keepAlive {
				dst = append(dst, v.copyFrom(prev, sid))
			}
			continue
		}

		dn := v.pool.get(dst[match])
		dn.Opened = sn.Opened
		dn.Selected = sn.Selected
		dn.LastSeenAge = min(dn.LastSeenAge, sn.LastSeenAge)
		dn.children = v.mergeList(dn.children, prev, sn.children)
	}
	return dst
}

// copyFrom duplicates the subtree of prev rooted at sid into v's pool,
// without aggregates.
func (v *View) copyFrom(prev *View, sid NodeID) NodeID {
	sn := prev.pool.get(sid)
	id := v.pool.alloc(sn.Name)
	n := v.pool.get(id)
	n.SortOrder = sn.SortOrder
	n.RecursionDepth = sn.RecursionDepth
	n.LastSeenAge = sn.LastSeenAge
	n.Opened = sn.Opened
	n.Selected = sn.Selected
	for _, c := range sn.children {
		if prev.pool.get(c).LastSeenAge > v.keepAlive {
			continue
		}
		n.children = append(n.children, v.copyFrom(prev, c))
	}
	return id
}

// Reset releases the whole tree.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

func (v *View) resetLocked() {
	for _, id := range v.roots {
		v.pool.release(id)
	}
	v.roots = v.roots[:0]
}

func (v *View) mustBeDisconnectedLocked(op string) {
	if v.connected {
		panic("calltree: " + op + " while the view is connected to " + v.sourceName)
	}
}

// Roots returns the root node IDs in display order.
func (v *View) Roots() []NodeID {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mustBeDisconnectedLocked("Roots")
	return slices.Clone(v.roots)
}

// Node returns the node with the given ID. Only the Opened and Selected
// fields may be written.
func (v *View) Node(id NodeID) *Node {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mustBeDisconnectedLocked("Node")
	return v.pool.get(id)
}

// Walk visits the tree depth-first in display order. Children of a node are
// skipped when fn returns false for it.
func (v *View) Walk(fn func(id NodeID, n *Node, depth int) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mustBeDisconnectedLocked("Walk")
	v.walkLocked(v.roots, 0, fn)
}

func (v *View) walkLocked(ids []NodeID, depth int, fn func(NodeID, *Node, int) bool) {
	for _, id := range ids {
		n := v.pool.get(id)
		if fn(id, n, depth) {
			v.walkLocked(n.children, depth+1, fn)
		}
	}
}

// FindRecursive returns the first node called name in depth-first order.
func (v *View) FindRecursive(name string) (NodeID, *Node, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mustBeDisconnectedLocked("FindRecursive")

	var (
		foundID NodeID
		found   *Node
	)
	v.walkLocked(v.roots, 0, func(id NodeID, n *Node, _ int) bool {
		if found != nil {
			return false
		}
		if n.Name == name {
			foundID, found = id, n
			return false
		}
		return true
	})
	return foundID, found, found != nil
}

// Select marks the nodes called name as selected, unselects every other
// node and opens the ancestors of the matches. Returns the match count.
func (v *View) Select(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mustBeDisconnectedLocked("Select")
	return v.selectList(v.roots, name)
}

func (v *View) selectList(ids []NodeID, name string) int {
	matches := 0
	for _, id := range ids {
		n := v.pool.get(id)
		n.Selected = n.Name == name
		below := v.selectList(n.children, name)
		if below > 0 {
			n.Opened = true
		}
		if n.Selected {
			matches++
		}
		matches += below
	}
	return matches
}

// Stats is a point-in-time summary used by metrics.
type Stats struct {
	BatchesApplied uint64
	BatchesDropped uint64
	NodesLive      int
	NodesPooled    int
}

// Stats returns the view counters.
func (v *View) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{
		BatchesApplied: v.applied.Load(),
		BatchesDropped: v.dropped.Load(),
		NodesLive:      v.pool.live(),
		NodesPooled:    v.pool.pooled,
	}
}
