// Package calltree reconstructs per-context call trees from the flat span
// stream of a trace.Buffer and aggregates timing statistics per call path.
package calltree
