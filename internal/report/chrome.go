// Package report exports trace snapshots as Chrome Trace Event JSON, the
// format read by chrome://tracing, Perfetto and speedscope.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"scopetrace/internal/trace"
)

// Event is one complete ("X") event of the Chrome trace format.
type Event struct {
	Cat  string  `json:"cat"`
	Name string  `json:"name"`
	Ph   string  `json:"ph"`
	Pid  int     `json:"pid"`
	Tid  string  `json:"tid"`
	Ts   float64 `json:"ts"`  // microseconds relative to the export time
	Dur  float64 `json:"dur"` // microseconds
	Args Args    `json:"args"`
}

// Args carries the per-event payload.
type Args struct {
	SubID int `json:"subID"`
}

const (
	phaseComplete = "X"
	processID     = 1
)

// Options configures the exporter.
type Options struct {
	// Category is written as "cat" for every event. Empty means "cpu" or
	// "gpu" depending on the context.
	Category string
}

// ExportReport drains reg and writes the spans of the last duration seconds
// to w.
func ExportReport(w io.Writer, reg *trace.Registry, duration float64, opts Options) error {
	return Write(w, reg.SnapshotForExport(duration), opts)
}

// Write serializes snap as one JSON array with an event per span. Spans
// ending before they begin are skipped. An empty snapshot gives "[]".
func Write(w io.Writer, snap trace.Snapshot, opts Options) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return err
	}

	written := 0
	for _, th := range snap.Threads {
		cat := opts.Category
		if cat == "" {
			cat = "cpu"
			if th.IsGPU {
				cat = "gpu"
			}
		}
		for _, e := range th.Timeline {
			if e.End < e.Beginning {
				continue
			}
			data, err := json.Marshal(Event{
				Cat:  cat,
				Name: e.Name,
				Ph:   phaseComplete,
				Pid:  processID,
				Tid:  th.Name,
				Ts:   micros(e.Beginning - snap.Time),
				Dur:  micros(e.End - e.Beginning),
				Args: Args{SubID: e.SubID},
			})
			if err != nil {
				return fmt.Errorf("encode %q on %q: %w", e.Name, th.Name, err)
			}
			sep := ",\n"
			if written == 0 {
				sep = "\n"
			}
			if _, err := bw.WriteString(sep); err != nil {
				return err
			}
			if _, err := bw.Write(data); err != nil {
				return err
			}
			written++
		}
	}

	if written > 0 {
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("]\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// micros converts seconds to microseconds rounded to the nanosecond.
func micros(seconds float64) float64 {
	return math.Round(seconds*1e9) / 1e3
}
