// Package ui renders the displaying call-tree view, either as an
// interactive Bubble Tea program or as plain text.
package ui

import (
	"slices"

	"scopetrace/internal/calltree"
)

// Row is one visible line of the tree. Times are seconds.
type Row struct {
	Path        []string // names from the root down to this node
	Depth       int
	HasChildren bool
	Opened      bool
	Selected    bool
	Empty       bool

	Instances    int
	AvgPerFrame  float64
	SelfPerFrame float64
	AvgPerInst   float64
	Min, Max     float64
}

// Name returns the node name.
func (r Row) Name() string { return r.Path[len(r.Path)-1] }

// Rows flattens the visible part of v: children of closed nodes are left
// out. v must be disconnected.
func Rows(v *calltree.View) []Row {
	var (
		rows []Row
		path []string
	)
	v.Walk(func(_ calltree.NodeID, n *calltree.Node, depth int) bool {
		path = append(path[:depth], n.Name)
		rows = append(rows, Row{
			Path:         slices.Clone(path),
			Depth:        depth,
			HasChildren:  len(n.Children()) > 0,
			Opened:       n.Opened,
			Selected:     n.Selected,
			Empty:        n.Empty(),
			Instances:    n.Instances,
			AvgPerFrame:  n.TimeTotalAvgPerFrame,
			SelfPerFrame: n.TimeSelfAvgPerFrame,
			AvgPerInst:   n.TimeTotalAvgPerInst,
			Min:          n.TimeTotalMin,
			Max:          n.TimeTotalMax,
		})
		return n.Opened
	})
	return rows
}

// lookup resolves a path of names to a node. Node IDs are per view, so rows
// address nodes by path instead.
func lookup(v *calltree.View, path []string) *calltree.Node {
	ids := v.Roots()
	var found *calltree.Node
	for _, name := range path {
		found = nil
		for _, id := range ids {
			if n := v.Node(id); n.Name == name {
				found = n
				break
			}
		}
		if found == nil {
			return nil
		}
		ids = found.Children()
	}
	return found
}

// Toggle flips the Opened state of the node at path. Reports whether the
// node exists.
func Toggle(v *calltree.View, path []string) bool {
	n := lookup(v, path)
	if n == nil {
		return false
	}
	n.Opened = !n.Opened
	return true
}

// SelectPath selects the node at path and unselects every other node.
func SelectPath(v *calltree.View, path []string) bool {
	target := lookup(v, path)
	v.Walk(func(_ calltree.NodeID, n *calltree.Node, _ int) bool {
		n.Selected = n == target
		return true
	})
	return target != nil
}
