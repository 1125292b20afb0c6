// Package testkit holds assertions shared by tests of packages that produce
// timelines.
package testkit

import (
	"fmt"

	"scopetrace/internal/trace"
)

// CheckTimeline runs the timeline invariants on drained entries:
// 1) every entry ends no earlier than it begins
// 2) entries are sorted by Beginning
// 3) entries are well nested and Depth is the nesting depth
func CheckTimeline(entries []trace.Entry) error {
	var open []trace.Entry
	for i, e := range entries {
		if e.End < e.Beginning {
			return fmt.Errorf("entry %d %q ends before it begins: %v < %v", i, e.Name, e.End, e.Beginning)
		}
		if i > 0 && e.Beginning < entries[i-1].Beginning {
			return fmt.Errorf("entry %d %q begins before entry %d", i, e.Name, i-1)
		}

		for len(open) > 0 && !open[len(open)-1].Contains(e) {
			top := open[len(open)-1]
			if e.Beginning < top.End {
				return fmt.Errorf("entry %d %q overlaps %q without nesting", i, e.Name, top.Name)
			}
			open = open[:len(open)-1]
		}
		if e.Depth != len(open) {
			return fmt.Errorf("entry %d %q has depth %d, nested %d deep", i, e.Name, e.Depth, len(open))
		}
		open = append(open, e)
	}
	return nil
}
