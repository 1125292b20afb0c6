// Package workload runs a synthetic instrumented application: a main frame
// loop, a pool of worker goroutines and a virtual GPU queue whose spans
// arrive a few frames late.
package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scopetrace/internal/trace"
)

// Names of the buffers created by a Workload.
const (
	MainName = "Main"
	GPUName  = "!!GPU"
)

// Config configures a Workload.
type Config struct {
	Workers          int     // worker goroutines, default 3
	FrameRate        float64 // frames per second, default 60
	Frames           int     // frames to run, 0 means until the context is done
	GPULatencyFrames int     // frames between submit and GPU readback, default 2, negative for none
	Scale            float64 // multiplies every simulated duration, default 1
	Seed             uint64
	Logger           *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 60
	}
	if c.GPULatencyFrames < 0 {
		c.GPULatencyFrames = 0
	} else if c.GPULatencyFrames == 0 {
		c.GPULatencyFrames = 2
	}
	if c.Scale <= 0 {
		c.Scale = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Workload owns the buffers it creates until Close.
type Workload struct {
	reg *trace.Registry
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	buffers []*trace.Buffer
}

// New creates a Workload recording into reg.
func New(reg *trace.Registry, cfg Config) *Workload {
	cfg = cfg.withDefaults()
	return &Workload{
		reg: reg,
		cfg: cfg,
		log: cfg.Logger.Named("workload"),
	}
}

func (w *Workload) keep(b *trace.Buffer) *trace.Buffer {
	w.mu.Lock()
	w.buffers = append(w.buffers, b)
	w.mu.Unlock()
	return b
}

// Close releases every buffer created by Run.
func (w *Workload) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.buffers {
		b.Release()
	}
	w.buffers = nil
}

type job struct {
	name  string
	subID int
	cost  time.Duration
}

// Run drives the frame loop and the workers until Frames frames are done or
// ctx is cancelled.
func (w *Workload) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, w.cfg.Workers*4)

	for i := range w.cfg.Workers {
		name := fmt.Sprintf("Worker %d", i+1)
		g.Go(func() error {
			return w.worker(gctx, name, jobs)
		})
	}
	g.Go(func() error {
		defer close(jobs)
		return w.mainLoop(gctx, jobs)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	w.log.Debug("workload finished")
	return nil
}

func (w *Workload) worker(ctx context.Context, name string, jobs <-chan job) error {
	b := w.keep(w.reg.CreateBuffer(name, true, false))
	ctx = trace.WithBuffer(ctx, b)

	for j := range jobs {
		end := trace.ScopeSub(ctx, j.name, j.subID)
		w.busy(ctx, j.cost)
		end()
	}
	b.Flush()
	return nil
}

type frameState struct {
	rng     *rand.Rand
	gpu     *trace.Buffer
	pending [][]trace.Entry
}

func (w *Workload) mainLoop(ctx context.Context, jobs chan<- job) error {
	main := w.keep(w.reg.CreateMainBuffer(MainName))
	gpu := w.keep(w.reg.CreateBuffer(GPUName, false, true))
	ctx = trace.WithBuffer(ctx, main)

	st := &frameState{
		rng: rand.New(rand.NewPCG(w.cfg.Seed, w.cfg.Seed^0x9e3779b97f4a7c15)),
		gpu: gpu,
	}

	ticker := time.NewTicker(time.Duration(float64(time.Second) / w.cfg.FrameRate))
	defer ticker.Stop()

	for f := 0; w.cfg.Frames == 0 || f < w.cfg.Frames; f++ {
		if err := w.frame(ctx, st, jobs); err != nil {
			break
		}
		if !waitTick(ctx, ticker) {
			break
		}
	}

	// resolve the queries still in flight
	for _, entries := range st.pending {
		gpu.BatchAddFrame(entries)
	}
	main.Flush()
	return nil
}

var (
	siteShadows = trace.NewSite("Shadows")
	siteOpaque  = trace.NewSite("Opaque")
	sitePost    = trace.NewSite("PostProcess")
)

func (w *Workload) frame(ctx context.Context, st *frameState, jobs chan<- job) error {
	defer trace.Scope(ctx, "Frame")()

	func() {
		defer trace.Scope(ctx, "Update")()
		w.step(ctx, st, "Input", 0.2)
		w.step(ctx, st, "Physics", 1.5)
		w.step(ctx, st, "Animation", 0.8)
	}()

	err := func() error {
		defer trace.Scope(ctx, "Dispatch")()
		for i := range w.cfg.Workers * 2 {
			j := job{
				name:  [...]string{"Decode", "Cull", "Stream"}[i%3],
				subID: i,
				cost:  w.jitter(st, 1.0),
			}
			select {
			case jobs <- j:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}()
	if err != nil {
		return err
	}

	func() {
		defer trace.Scope(ctx, "Render")()
		submitted := w.clock().Now()
		var gpuFrame []trace.Entry
		gpuFrame = append(gpuFrame, trace.Entry{Name: "GPU Frame", Beginning: submitted})
		cursor := submitted
		for _, pass := range []struct {
			site *trace.Site
			cost float64
		}{{siteShadows, 1.2}, {siteOpaque, 3.0}, {sitePost, 0.9}} {
			end := pass.site.Scope(ctx)
			w.busy(ctx, w.jitter(st, 0.1))
			end()

			d := w.jitter(st, pass.cost).Seconds()
			gpuFrame = append(gpuFrame, trace.Entry{
				Name:      pass.site.Name(),
				Beginning: cursor,
				End:       cursor + d,
				Depth:     1,
			})
			cursor += d
		}
		gpuFrame[0].End = cursor
		st.pending = append(st.pending, gpuFrame)
	}()

	if len(st.pending) > w.cfg.GPULatencyFrames {
		st.gpu.BatchAddFrame(st.pending[0])
		st.pending = st.pending[1:]
	}
	return nil
}

func (w *Workload) clock() trace.Clock { return w.reg.Clock() }

func waitTick(ctx context.Context, ticker *time.Ticker) bool {
	select {
	case <-ticker.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Workload) step(ctx context.Context, st *frameState, name string, costMS float64) {
	defer trace.Scope(ctx, name)()
	w.busy(ctx, w.jitter(st, costMS))
}

// jitter returns costMS milliseconds, scaled, give or take 25%.
func (w *Workload) jitter(st *frameState, costMS float64) time.Duration {
	f := 0.75 + 0.5*st.rng.Float64()
	return time.Duration(costMS * f * w.cfg.Scale * float64(time.Millisecond))
}

func (w *Workload) busy(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
