package trace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"scopetrace/internal/trace"
)

func TestScope_NoBufferIsNoop(t *testing.T) {
	end := trace.Scope(context.Background(), "nothing")
	require.NotPanics(t, end)
	require.Nil(t, trace.FromContext(context.Background()))
}

func TestScope_RecordsOnContextBuffer(t *testing.T) {
	clock := trace.NewManualClock(0)
	b := trace.NewBuffer("Worker", false, false, trace.Options{Clock: clock, FlushThreshold: 1})
	ctx := trace.WithBuffer(context.Background(), b)

	func() {
		defer trace.Scope(ctx, "outer")()
		clock.Advance(0.002)
		func() {
			defer trace.ScopeSub(ctx, "inner", 7)()
			clock.Advance(0.001)
		}()
	}()

	out := b.Capture(nil)
	require.Len(t, out, 2)
	require.Equal(t, "outer", out[0].Name)
	require.InDelta(t, 0.003, out[0].Duration(), 1e-12)
	require.Equal(t, "inner", out[1].Name)
	require.Equal(t, 7, out[1].SubID)
	require.Equal(t, 1, out[1].Depth)
}

func TestSite_SubIDsIncrementPerPass(t *testing.T) {
	b := trace.NewBuffer("Worker", false, false, trace.Options{Clock: trace.NewManualClock(0), FlushThreshold: 1})
	site := trace.NewSite("Shadows")
	ctx := trace.WithBuffer(context.Background(), b)

	for i := 0; i < 3; i++ {
		site.Scope(ctx)()
	}
	site.ScopeOn(b)()

	out := b.Capture(nil)
	require.Len(t, out, 4)
	for i, e := range out {
		require.Equal(t, "Shadows", e.Name)
		require.Equal(t, i, e.SubID)
	}
}
