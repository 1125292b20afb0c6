package trace

import "context"

// ctxKey is the key type for storing a Buffer in context.
type ctxKey struct{}

// WithBuffer attaches the buffer of the current execution context to ctx.
// Only the goroutine owning b may instrument with the returned context.
func WithBuffer(ctx context.Context, b *Buffer) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext extracts the Buffer from context.
// If not found, returns nil and instrumentation becomes a no-op.
func FromContext(ctx context.Context) *Buffer {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(ctxKey{}).(*Buffer)
	return b
}
