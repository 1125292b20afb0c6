package trace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopetrace/internal/trace"
)

func recordSpan(b *trace.Buffer, clock *trace.ManualClock, name string, d float64) {
	h := b.Begin(name, 0)
	clock.Advance(d)
	b.End(h)
	b.Flush()
}

func TestRegistry_EnumeratePrunesReleased(t *testing.T) {
	reg := trace.NewRegistry(trace.Options{Clock: trace.NewManualClock(0)})
	a := reg.CreateBuffer("Worker 1", false, false)
	b := reg.CreateBuffer("Worker 2", false, false)
	main := reg.CreateMainBuffer("Main")

	require.True(t, reg.NamesChanged())
	require.False(t, reg.NamesChanged())
	require.Equal(t, []string{"Worker 1", "Worker 2", "Main"}, reg.EnumerateThreadNames())
	require.Same(t, main, reg.Main())

	b.Release()
	require.True(t, reg.NamesChanged())
	require.Equal(t, []string{"Worker 1", "Main"}, reg.EnumerateThreadNames())

	main.Release()
	require.Nil(t, reg.Main())
	require.Len(t, reg.Buffers(), 1)
	require.Same(t, a, reg.Buffers()[0])
}

func TestMatchName(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"Main", "Main", true},
		{"Main", "Main thread", false},
		{"Worker*", "Worker 3", true},
		{"Worker*", "Worker", true},
		{"Worker*", "!!GPU", false},
		{"*", "anything", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, trace.MatchName(tt.pattern, tt.name), "%q vs %q", tt.pattern, tt.name)
	}
}

func TestRegistry_FindBuffer(t *testing.T) {
	reg := trace.NewRegistry(trace.Options{Clock: trace.NewManualClock(0)})
	reg.CreateMainBuffer("Main")
	w2 := reg.CreateBuffer("Worker 2", false, false)
	w1 := reg.CreateBuffer("Worker 1", false, false)

	require.Same(t, w2, reg.FindBuffer("Worker*"))
	require.Same(t, w1, reg.FindBuffer("Worker 1"))
	require.Nil(t, reg.FindBuffer("Worker"))
	require.Nil(t, reg.FindBuffer(""))

	w2.Release()
	require.Same(t, w1, reg.FindBuffer("Worker*"))
}

func TestRegistry_SnapshotForExport(t *testing.T) {
	clock := trace.NewManualClock(0)
	reg := trace.NewRegistry(trace.Options{Clock: clock})
	worker := reg.CreateBuffer("Worker", false, false)
	main := reg.CreateMainBuffer("Main")

	recordSpan(worker, clock, "old", 1)    // [0, 1]
	recordSpan(main, clock, "Update", 1)   // [1, 2]
	recordSpan(worker, clock, "recent", 1) // [2, 3]

	snap := reg.SnapshotForExport(1.5)
	require.Equal(t, 3.0, snap.Time)
	require.Len(t, snap.Threads, 2)

	require.Equal(t, "Main", snap.Threads[0].Name)
	require.Empty(t, snap.Threads[0].Timeline)

	require.Equal(t, "Worker", snap.Threads[1].Name)
	require.Equal(t, worker.ContextID(), snap.Threads[1].ContextID)
	require.Len(t, snap.Threads[1].Timeline, 1)
	require.Equal(t, "recent", snap.Threads[1].Timeline[0].Name)

	// buffers were drained
	require.Zero(t, worker.Pending())
	require.Zero(t, main.Pending())

	stats := reg.Stats()
	require.Equal(t, 2, stats.Buffers)
	require.EqualValues(t, 3, stats.SpansRecorded)
	require.EqualValues(t, 3, stats.SpansDrained)
}

func TestRegistry_SnapshotOfEmptyRegistry(t *testing.T) {
	reg := trace.NewRegistry(trace.Options{Clock: trace.NewManualClock(5)})
	snap := reg.SnapshotForExport(4)
	require.Empty(t, snap.Threads)
	require.Equal(t, 5.0, snap.Time)
}

func TestRegistry_ClearKeepsBuffersUsable(t *testing.T) {
	clock := trace.NewManualClock(0)
	reg := trace.NewRegistry(trace.Options{Clock: clock})
	b := reg.CreateMainBuffer("Main")
	reg.Clear()

	require.Empty(t, reg.EnumerateThreadNames())
	require.Nil(t, reg.Main())
	require.True(t, b.Alive())
	recordSpan(b, clock, "still works", 0.001)
	require.Equal(t, 1, b.Pending())
}

func TestInitDefaultTeardown(t *testing.T) {
	require.Panics(t, func() { trace.Default() })

	reg := trace.Init(trace.Options{})
	defer trace.Teardown()
	require.Same(t, reg, trace.Default())
	require.Panics(t, func() { trace.Init(trace.Options{}) })

	b := reg.CreateBuffer("Worker", false, false)
	trace.Teardown()
	require.Empty(t, reg.EnumerateThreadNames())
	require.True(t, b.Alive())
	require.Panics(t, func() { trace.Default() })

	// a second teardown is harmless
	trace.Teardown()
}

func TestRegistry_StatsAreCumulative(t *testing.T) {
	clock := trace.NewManualClock(0)
	reg := trace.NewRegistry(trace.Options{Clock: clock})

	worker := reg.CreateBuffer("Worker", true, false)
	h := worker.Begin("job", 0)
	clock.Advance(0.001)
	worker.End(h)
	worker.Flush()

	gpu := reg.CreateBuffer("!!GPU", false, true)
	gpu.BatchAddFrame([]trace.Entry{{Name: "Frame", Beginning: 0, End: 0.001}})

	require.EqualValues(t, 2, reg.Stats().SpansRecorded)

	worker.Release()
	gpu.Release()
	stats := reg.Stats()
	require.Zero(t, stats.Buffers)
	require.EqualValues(t, 2, stats.SpansRecorded)
}
