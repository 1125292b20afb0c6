package trace

import (
	"context"
	"sync/atomic"
)

func nopEnd() {}

// Scope opens a span on the buffer carried by ctx and returns the function
// closing it:
//
//	defer trace.Scope(ctx, "Update")()
//
// Without a buffer in ctx both calls are no-ops.
func Scope(ctx context.Context, name string) func() {
	return ScopeSub(ctx, name, 0)
}

// ScopeSub is Scope with an explicit sub-category ID.
func ScopeSub(ctx context.Context, name string, subID int) func() {
	b := FromContext(ctx)
	if b == nil {
		return nopEnd
	}
	h := b.Begin(name, subID)
	return func() { b.End(h) }
}

// Site is a static instrumentation point. Each pass through the site gets
// the next sub ID, which lets CPU and GPU spans of the same pass be matched.
type Site struct {
	name   string
	loopID atomic.Int32
}

// NewSite creates a Site. Declare it once, at package level or in a
// long-lived struct.
func NewSite(name string) *Site {
	return &Site{name: name}
}

// Name returns the span name recorded by the site.
func (s *Site) Name() string { return s.name }

// Scope opens a span on the buffer carried by ctx.
func (s *Site) Scope(ctx context.Context) func() {
	b := FromContext(ctx)
	if b == nil {
		return nopEnd
	}
	return s.ScopeOn(b)
}

// ScopeOn opens a span on b directly.
func (s *Site) ScopeOn(b *Buffer) func() {
	subID := int(s.loopID.Add(1) - 1)
	h := b.Begin(s.name, subID)
	return func() { b.End(h) }
}
