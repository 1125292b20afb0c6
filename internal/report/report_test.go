package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopetrace/internal/report"
	"scopetrace/internal/trace"
)

func decodeEvents(t *testing.T, data []byte) []report.Event {
	t.Helper()
	var events []report.Event
	require.NoError(t, json.Unmarshal(data, &events), "output:\n%s", data)
	return events
}

func TestExportReport_NestedSpans(t *testing.T) {
	clock := trace.NewManualClock(1.000)
	reg := trace.NewRegistry(trace.Options{Clock: clock})
	b := reg.CreateBuffer("Worker", false, false)

	parent := b.Begin("Load", 3)
	clock.Advance(0.001)
	child := b.Begin("Parse", 4)
	clock.Advance(0.0005)
	b.End(child)
	clock.Advance(0.0005)
	b.End(parent)
	b.Flush()

	var buf bytes.Buffer
	require.NoError(t, report.ExportReport(&buf, reg, 1, report.Options{Category: "scope"}))

	events := decodeEvents(t, buf.Bytes())
	require.Len(t, events, 2)
	p, c := events[0], events[1]

	assert.Equal(t, report.Event{
		Cat: "scope", Name: "Load", Ph: "X", Pid: 1, Tid: "Worker",
		Ts: p.Ts, Dur: p.Dur, Args: report.Args{SubID: 3},
	}, p)
	assert.InDelta(t, -2000, p.Ts, 1e-6)
	assert.InDelta(t, 2000, p.Dur, 1e-6)
	assert.InDelta(t, -1000, c.Ts, 1e-6)
	assert.InDelta(t, 500, c.Dur, 1e-6)
	assert.Greater(t, c.Ts, p.Ts)
	assert.LessOrEqual(t, c.Ts+c.Dur, p.Ts+p.Dur)
	assert.Equal(t, 4, c.Args.SubID)
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, trace.Snapshot{Time: 3}, report.Options{}))
	require.Equal(t, "[]\n", buf.String())

	buf.Reset()
	snap := trace.Snapshot{Threads: []trace.ThreadTimeline{{Name: "Idle"}, {Name: "Idle 2"}}}
	require.NoError(t, report.Write(&buf, snap, report.Options{}))
	require.Equal(t, "[]\n", buf.String())
}

func TestWrite_SeparatorsAndCategories(t *testing.T) {
	snap := trace.Snapshot{
		Time: 10,
		Threads: []trace.ThreadTimeline{
			{Name: "!!GPU", IsGPU: true, Timeline: []trace.Entry{
				{Name: "Shadows", Beginning: 9, End: 9.5},
			}},
			{Name: "Empty"},
			{Name: "Main", Timeline: []trace.Entry{
				{Name: "broken", Beginning: 9.6, End: 9.2},
				{Name: "Update", Beginning: 9.6, End: 9.7},
			}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, snap, report.Options{}))

	events := decodeEvents(t, buf.Bytes())
	require.Len(t, events, 2)
	assert.Equal(t, "gpu", events[0].Cat)
	assert.Equal(t, "!!GPU", events[0].Tid)
	assert.Equal(t, "cpu", events[1].Cat)
	assert.Equal(t, "Update", events[1].Name)
	assert.InDelta(t, -400000, events[1].Ts, 1e-6)
	assert.InDelta(t, 100000, events[1].Dur, 1e-6)
}

func TestWriteFile_Numbering(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	snap := trace.Snapshot{Threads: []trace.ThreadTimeline{{Name: "Main", Timeline: []trace.Entry{
		{Name: "Update", Beginning: 0, End: 1},
	}}}}

	first, err := report.WriteFile(dir, "", snap, report.Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "chrome_tracing_001.json"), first)

	second, err := report.WriteFile(dir, "", snap, report.Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "chrome_tracing_002.json"), second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Len(t, decodeEvents(t, data), 1)
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	snap := trace.Snapshot{
		Time: 42.5,
		Threads: []trace.ThreadTimeline{{
			Name:      "Main",
			ContextID: 7,
			Timeline: []trace.Entry{
				{Name: "Update", SubID: 1, Beginning: 40, End: 41, Depth: 0},
				{Name: "Physics", SubID: 2, Beginning: 40.1, End: 40.4, Depth: 1},
			},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, report.EncodeSnapshot(&buf, snap))
	got, err := report.DecodeSnapshot(&buf)
	require.NoError(t, err)
	require.Equal(t, snap, got)
}

func TestSnapshot_DecodeGarbage(t *testing.T) {
	_, err := report.DecodeSnapshot(bytes.NewReader([]byte("not msgpack")))
	require.Error(t, err)
}
