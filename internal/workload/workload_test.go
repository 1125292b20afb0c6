package workload_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopetrace/internal/testkit"
	"scopetrace/internal/trace"
	"scopetrace/internal/workload"
)

func countNamed(entries []trace.Entry, name string) int {
	n := 0
	for _, e := range entries {
		if e.Name == name {
			n++
		}
	}
	return n
}

func TestWorkload_RunsFixedFrames(t *testing.T) {
	reg := trace.NewRegistry(trace.Options{})
	w := workload.New(reg, workload.Config{
		Workers:          2,
		FrameRate:        1000,
		Frames:           4,
		GPULatencyFrames: 2,
		Scale:            0.01,
		Seed:             1,
	})
	require.NoError(t, w.Run(context.Background()))

	require.ElementsMatch(t,
		[]string{workload.MainName, workload.GPUName, "Worker 1", "Worker 2"},
		reg.EnumerateThreadNames())
	require.Equal(t, workload.MainName, reg.Main().Name())
	for _, name := range []string{"Worker 1", "Worker 2"} {
		require.True(t, reg.FindBuffer(name).AutomaticFrameIncrement(), name)
	}
	require.False(t, reg.FindBuffer(workload.GPUName).AutomaticFrameIncrement())

	snap := reg.SnapshotForExport(60)
	byName := map[string]trace.ThreadTimeline{}
	for _, th := range snap.Threads {
		byName[th.Name] = th
	}

	main := byName[workload.MainName].Timeline
	assert.Equal(t, 4, countNamed(main, "Frame"))
	assert.Equal(t, 4, countNamed(main, "Physics"))
	assert.Equal(t, 4, countNamed(main, "Shadows"))

	gpu := byName[workload.GPUName]
	assert.True(t, gpu.IsGPU)
	assert.Equal(t, 4, countNamed(gpu.Timeline, "GPU Frame"), "in-flight frames are resolved at exit")

	for _, name := range []string{workload.MainName, "Worker 1", "Worker 2"} {
		require.NoError(t, testkit.CheckTimeline(byName[name].Timeline), name)
	}

	jobs := len(byName["Worker 1"].Timeline) + len(byName["Worker 2"].Timeline)
	assert.Equal(t, 4*2*2, jobs)

	w.Close()
	require.Empty(t, reg.EnumerateThreadNames())
}

func TestWorkload_StopsOnCancel(t *testing.T) {
	reg := trace.NewRegistry(trace.Options{})
	w := workload.New(reg, workload.Config{FrameRate: 500, Scale: 0.01})
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	require.NotNil(t, reg.Main())
}
