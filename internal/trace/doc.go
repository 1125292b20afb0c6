// Package trace provides the capture side of the scope profiler.
//
// Instrumented code records nested timed spans into a per-context Buffer.
// Every goroutine (or virtual queue, such as a GPU timer readback) that
// instruments owns exactly one Buffer and is the only writer to it. A single
// admin goroutine drains buffers, connects call-tree views to them and
// exports reports.
//
// # Usage
//
//	reg := trace.Init(trace.Options{})
//	defer trace.Teardown()
//
//	buf := reg.CreateBuffer("Worker 1", false, false)
//	defer buf.Release()
//
//	ctx = trace.WithBuffer(ctx, buf)
//	defer trace.Scope(ctx, "LoadAsset")()
//
// # Buffers
//
// Begin and End append to an owner-local staging slice without locking. Once
// the open-scope stack empties, staged spans are flushed under the buffer lock
// into a front/back timeline that keeps roughly MaxCaptureDuration seconds of
// history, and are handed to the attached Consumer, if any.
//
// # Registry
//
// The Registry keeps weak references to every Buffer ever registered.
// Released or collected buffers are pruned opportunistically while
// enumerating. The Registry never keeps a Buffer alive.
package trace
