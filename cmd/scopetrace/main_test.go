package main

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

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scopetrace.toml")
	content := "[log]\nlevel = \"error\"\n\n[report]\ndir = " + `"` + filepath.ToSlash(dir) + `"` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeTestSnapshot(t *testing.T, dir string) string {
	t.Helper()
	snap := trace.Snapshot{
		Time: 10,
		Threads: []trace.ThreadTimeline{
			{Name: "Main", Timeline: []trace.Entry{
				{Name: "Frame", Beginning: 9, End: 9.016, Depth: 0},
				{Name: "Update", Beginning: 9.001, End: 9.005, Depth: 1, SubID: 2},
			}},
			{Name: "!!GPU", IsGPU: true, Timeline: []trace.Entry{
				{Name: "Frame", Beginning: 9, End: 9.010, Depth: 0},
			}},
		},
	}
	path := filepath.Join(dir, "snap.msgpack")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, report.EncodeSnapshot(f, snap))
	require.NoError(t, f.Close())
	return path
}

func TestReadMode(t *testing.T) {
	for in, want := range map[string]mode{"": modeAuto, "AUTO": modeAuto, " on ": modeOn, "off": modeOff} {
		got, err := readMode("ui", in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := readMode("ui", "sometimes")
	require.EqualError(t, err, `invalid --ui value "sometimes" (expected auto|on|off)`)
}

func TestVersionJSON(t *testing.T) {
	t.Cleanup(func() { versionJSON, versionFull = false, false })

	out, _, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var payload versionPayload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "scopetrace", payload.Tool)
	assert.Equal(t, "0.1.0-dev", payload.Version)
	assert.Empty(t, payload.GitCommit)

	out, _, err = execute(t, "version", "--json", "--full")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "unknown", payload.GitCommit)
	assert.Equal(t, "unknown", payload.BuildDate)
}

func TestVersionPretty(t *testing.T) {
	t.Cleanup(func() { versionJSON, versionFull = false, false })

	out, _, err := execute(t, "--color", "off", "version")
	require.NoError(t, err)
	assert.Equal(t, "scopetrace 0.1.0-dev\n", out)
}

func TestConvertWritesChromeJSON(t *testing.T) {
	dir := t.TempDir()
	snapPath := writeTestSnapshot(t, dir)

	out, _, err := execute(t, "convert", snapPath, "--category", "frame")
	require.NoError(t, err)

	var events []report.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, "frame", e.Cat)
		assert.Equal(t, "X", e.Ph)
	}
	assert.Equal(t, 2, events[1].Args.SubID)
}

func TestThreadsListsSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapPath := writeTestSnapshot(t, dir)

	out, _, err := execute(t, "--color", "off", "threads", snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "thread")
	assert.Regexp(t, `Main\s+cpu\s+2\s+16\.000`, out)
	assert.Regexp(t, `!!GPU\s+gpu\s+1\s+10\.000`, out)
}

func TestConvertRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	_, _, err := execute(t, "convert", path)
	require.Error(t, err)
}

func TestReportRecordsWorkload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	snapPath := filepath.Join(dir, "run.msgpack")

	out, _, err := execute(t, "--config", cfgPath, "--quiet", "report",
		"--duration", "0.2", "--frame-rate", "100", "--scale", "0.1",
		"-o", "-", "--snapshot", snapPath)
	require.NoError(t, err)

	var events []report.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	names := map[string]bool{}
	for _, e := range events {
		names[e.Name] = true
		assert.Equal(t, "scope", e.Cat)
	}
	assert.True(t, names["Frame"])

	snap, err := readSnapshot(snapPath)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Threads)
}
