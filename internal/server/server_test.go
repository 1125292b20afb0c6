package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopetrace/internal/metrics"
	"scopetrace/internal/report"
	"scopetrace/internal/server"
	"scopetrace/internal/trace"
	"scopetrace/internal/viewswap"
)

type fixture struct {
	clock *trace.ManualClock
	reg   *trace.Registry
	main  *trace.Buffer
	sw    *viewswap.Swapper
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := trace.NewManualClock(10)
	reg := trace.NewRegistry(trace.Options{Clock: clock})
	main := reg.CreateMainBuffer("Main")
	reg.CreateBuffer("Worker 1", false, false)
	sw := viewswap.New(reg, viewswap.Options{})
	m := metrics.New(reg, sw)

	srv := httptest.NewServer(server.New(reg, sw, m, server.Options{
		Report: report.Options{Category: "scope"},
	}).Handler())
	t.Cleanup(srv.Close)
	return &fixture{clock: clock, reg: reg, main: main, sw: sw, srv: srv}
}

func (f *fixture) frame(name string, d float64) {
	h := f.main.Begin(name, 0)
	f.clock.Advance(d)
	f.main.End(h)
	f.main.Flush()
}

func (f *fixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rsp.Body.Close() })
	return rsp
}

func TestServer_Threads(t *testing.T) {
	f := newFixture(t)
	f.sw.Tick(0)

	rsp := f.do(t, http.MethodGet, "/api/threads")
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var body struct {
		Threads  []string `json:"threads"`
		Selected string   `json:"selected"`
		Enabled  bool     `json:"enabled"`
	}
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&body))
	assert.Equal(t, []string{"Main", "Worker 1"}, body.Threads)
	assert.Equal(t, "Main", body.Selected)
	assert.True(t, body.Enabled)
}

func TestServer_ReportAndSnapshot(t *testing.T) {
	f := newFixture(t)
	f.frame("Update", 0.005)

	rsp := f.do(t, http.MethodGet, "/api/report?duration=1")
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var events []report.Event
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "Update", events[0].Name)
	assert.Equal(t, "Main", events[0].Tid)
	assert.InDelta(t, 5000, events[0].Dur, 1e-6)

	// the report drained the buffer
	f.frame("Update", 0.002)
	rsp = f.do(t, http.MethodGet, "/api/snapshot")
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var raw bytes.Buffer
	_, err := raw.ReadFrom(rsp.Body)
	require.NoError(t, err)
	snap, err := report.DecodeSnapshot(&raw)
	require.NoError(t, err)
	require.Len(t, snap.Threads, 2)
	require.Len(t, snap.Threads[0].Timeline, 1)

	rsp = f.do(t, http.MethodGet, "/api/report?duration=-1")
	require.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestServer_ViewAndSelection(t *testing.T) {
	f := newFixture(t)
	f.sw.Swap()
	f.frame("Update", 0.004)

	rsp := f.do(t, http.MethodPost, "/api/select_node/Update")
	require.Equal(t, http.StatusNoContent, rsp.StatusCode)
	f.sw.Swap()

	rsp = f.do(t, http.MethodGet, "/api/view")
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var view server.ViewJSON
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&view))
	assert.Equal(t, "Main", view.Source)
	require.Len(t, view.Roots, 1)
	assert.Equal(t, "Update", view.Roots[0].Name)
	assert.Equal(t, 1, view.Roots[0].Instances)
	assert.InDelta(t, 4, view.Roots[0].TotalMS, 1e-6)
	assert.True(t, view.Roots[0].Selected)

	rsp = f.do(t, http.MethodPost, "/api/select/Worker*")
	require.Equal(t, http.StatusNoContent, rsp.StatusCode)
	assert.Equal(t, "Worker*", f.sw.Selected())

	rsp = f.do(t, http.MethodPost, "/api/viewing/off")
	require.Equal(t, http.StatusNoContent, rsp.StatusCode)
	assert.False(t, f.sw.Enabled())

	rsp = f.do(t, http.MethodPost, "/api/viewing/maybe")
	require.Equal(t, http.StatusNotFound, rsp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/threads")

	rsp := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(rsp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `scopetrace_http_requests_total{method="GET",route="/api/threads",status="200"} 1`)
	assert.Contains(t, body.String(), "scopetrace_buffers 2")
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	reg := trace.NewRegistry(trace.Options{Clock: trace.NewManualClock(0)})
	s := server.New(reg, nil, nil, server.Options{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	rsp, err := http.Get("http://" + l.Addr().String() + "/api/view")
	require.NoError(t, err)
	_ = rsp.Body.Close()
	require.Equal(t, http.StatusNotFound, rsp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
