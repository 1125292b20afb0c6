// Package server serves live traces over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"scopetrace/internal/calltree"
	"scopetrace/internal/metrics"
	"scopetrace/internal/report"
	"scopetrace/internal/trace"
	"scopetrace/internal/viewswap"
)

// Options configures a Server.
type Options struct {
	ReportDuration float64 // default export window in seconds
	Report         report.Options
	Logger         *zap.Logger
}

// Server exposes the registry, the displaying view and the metrics.
type Server struct {
	reg     *trace.Registry
	sw      *viewswap.Swapper
	metrics *metrics.Metrics
	opts    Options
	log     *zap.Logger
	router  *mux.Router
}

// New wires the routes.
func New(reg *trace.Registry, sw *viewswap.Swapper, m *metrics.Metrics, opts Options) *Server {
	if opts.ReportDuration <= 0 {
		opts.ReportDuration = trace.DefaultMaxCaptureDuration
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		reg:     reg,
		sw:      sw,
		metrics: m,
		opts:    opts,
		log:     opts.Logger.Named("server"),
		router:  mux.NewRouter(),
	}

	r := s.router
	r.Use(s.observe)
	r.HandleFunc("/api/threads", s.listThreads).Methods(http.MethodGet)
	r.HandleFunc("/api/report", s.chromeReport).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", s.snapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/view", s.displayedView).Methods(http.MethodGet)
	r.HandleFunc("/api/select/{source}", s.selectSource).Methods(http.MethodPost)
	r.HandleFunc("/api/select_node/{name}", s.selectNode).Methods(http.MethodPost)
	r.HandleFunc("/api/viewing/{state:on|off}", s.setViewing).Methods(http.MethodPost)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Serve answers requests on l until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.log.Info("serving", zap.String("addr", l.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
		}
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

// duration reads the optional ?duration= window in seconds.
func (s *Server) duration(r *http.Request) (float64, error) {
	q := r.URL.Query().Get("duration")
	if q == "" {
		return s.opts.ReportDuration, nil
	}
	d, err := strconv.ParseFloat(q, 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", q)
	}
	return d, nil
}

type threadsRsp struct {
	Threads  []string `json:"threads"`
	Selected string   `json:"selected"`
	Enabled  bool     `json:"enabled"`
}

func (s *Server) listThreads(w http.ResponseWriter, _ *http.Request) {
	rsp := threadsRsp{Threads: s.reg.EnumerateThreadNames()}
	if s.sw != nil {
		rsp.Selected = s.sw.Selected()
		rsp.Enabled = s.sw.Enabled()
	}
	if rsp.Threads == nil {
		rsp.Threads = []string{}
	}
	s.writeJSON(w, rsp)
}

func (s *Server) chromeReport(w http.ResponseWriter, r *http.Request) {
	d, err := s.duration(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.ExportReport(w, s.reg, d, s.opts.Report); err != nil {
		s.log.Warn("export report", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.ReportsWritten.Inc()
	}
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	d, err := s.duration(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/x-msgpack")
	if err := report.EncodeSnapshot(w, s.reg.SnapshotForExport(d)); err != nil {
		s.log.Warn("encode snapshot", zap.Error(err))
	}
}

// NodeJSON is the wire form of a call tree node. Times are milliseconds.
type NodeJSON struct {
	Name           string     `json:"name"`
	Instances      int        `json:"instances"`
	TotalMS        float64    `json:"total_ms"`
	AvgPerFrameMS  float64    `json:"avg_per_frame_ms"`
	AvgPerInstMS   float64    `json:"avg_per_inst_ms"`
	SelfPerFrameMS float64    `json:"self_per_frame_ms"`
	MinMS          float64    `json:"min_ms"`
	MaxMS          float64    `json:"max_ms"`
	Selected       bool       `json:"selected,omitempty"`
	Children       []NodeJSON `json:"children,omitempty"`
}

// ViewJSON is the wire form of the displaying view.
type ViewJSON struct {
	Source string     `json:"source"`
	Frames int        `json:"frames"`
	Roots  []NodeJSON `json:"roots"`
}

func nodesJSON(v *calltree.View, ids []calltree.NodeID) []NodeJSON {
	out := make([]NodeJSON, 0, len(ids))
	for _, id := range ids {
		n := v.Node(id)
		out = append(out, NodeJSON{
			Name:           n.Name,
			Instances:      n.Instances,
			TotalMS:        n.TimeTotal * 1e3,
			AvgPerFrameMS:  n.TimeTotalAvgPerFrame * 1e3,
			AvgPerInstMS:   n.TimeTotalAvgPerInst * 1e3,
			SelfPerFrameMS: n.TimeSelfAvgPerFrame * 1e3,
			MinMS:          n.TimeTotalMin * 1e3,
			MaxMS:          n.TimeTotalMax * 1e3,
			Selected:       n.Selected,
			Children:       nodesJSON(v, n.Children()),
		})
	}
	return out
}

func (s *Server) displayedView(w http.ResponseWriter, _ *http.Request) {
	if s.sw == nil {
		http.Error(w, "no live view", http.StatusNotFound)
		return
	}
	var rsp ViewJSON
	s.sw.Display(func(v *calltree.View) {
		rsp = ViewJSON{
			Source: v.ConnectionName(),
			Frames: v.FrameCount(),
			Roots:  nodesJSON(v, v.Roots()),
		}
	})
	s.writeJSON(w, rsp)
}

func (s *Server) selectSource(w http.ResponseWriter, r *http.Request) {
	if s.sw == nil {
		http.Error(w, "no live view", http.StatusNotFound)
		return
	}
	s.sw.Select(mux.Vars(r)["source"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectNode(w http.ResponseWriter, r *http.Request) {
	if s.sw == nil {
		http.Error(w, "no live view", http.StatusNotFound)
		return
	}
	s.sw.SelectNode(mux.Vars(r)["name"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setViewing(w http.ResponseWriter, r *http.Request) {
	if s.sw == nil {
		http.Error(w, "no live view", http.StatusNotFound)
		return
	}
	s.sw.SetEnabled(mux.Vars(r)["state"] == "on")
	w.WriteHeader(http.StatusNoContent)
}
