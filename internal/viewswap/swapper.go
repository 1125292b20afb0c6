// Package viewswap double-buffers call-tree views so a display can read a
// stable tree while the next one is being collected.
package viewswap

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"scopetrace/internal/calltree"
	"scopetrace/internal/trace"
)

// DefaultInterval is the swap period in seconds.
const DefaultInterval = 1.5

// timeoutFactor stretches the connection timeout past the swap period so a
// late swap does not drop the tail of a cycle.
const timeoutFactor = 1.5

// Options configures a Swapper.
type Options struct {
	Interval      float64 // seconds between swaps
	DefaultSource string  // buffer name or prefix selected at start
	View          calltree.Options
	Logger        *zap.Logger
}

// Stats is a point-in-time summary used by metrics.
type Stats struct {
	Swaps      uint64
	Collecting calltree.Stats
	Displaying calltree.Stats
}

// Swapper owns a collecting and a displaying View. Every Interval seconds
// the collecting view is disconnected, merged with the displaying one and
// the two trade places.
type Swapper struct {
	reg      *trace.Registry
	log      *zap.Logger
	interval float64
	initial  string

	mu         sync.Mutex
	collecting *calltree.View
	displaying *calltree.View
	enabled    bool
	selected   string
	names      []string
	sinceSwap  float64
	requests   []string
	swaps      uint64
}

// New creates an enabled Swapper with empty views.
func New(reg *trace.Registry, opts Options) *Swapper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.View.Logger == nil {
		opts.View.Logger = opts.Logger
	}
	return &Swapper{
		reg:        reg,
		log:        opts.Logger.Named("swapper"),
		interval:   opts.Interval,
		initial:    opts.DefaultSource,
		collecting: calltree.NewView(reg, opts.View),
		displaying: calltree.NewView(reg, opts.View),
		enabled:    true,
		selected:   opts.DefaultSource,
		sinceSwap:  opts.Interval,
	}
}

// Tick advances the swapper by dt seconds of wall time. It counts one frame
// on the collecting view and swaps once Interval has elapsed. The first Tick
// after New or re-enabling swaps right away to start collecting.
func (s *Swapper) Tick(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}

	s.refreshNamesLocked()
	s.collecting.TickFrame()
	s.sinceSwap += dt
	if s.sinceSwap >= s.interval {
		s.swapLocked()
	}
}

// Swap forces a swap right away.
func (s *Swapper) Swap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.refreshNamesLocked()
	s.swapLocked()
}

func (s *Swapper) swapLocked() {
	s.collecting.Disconnect(s.displaying)
	s.collecting, s.displaying = s.displaying, s.collecting
	s.sinceSwap = 0
	s.swaps++

	for _, name := range s.requests {
		s.displaying.Select(name)
	}
	s.requests = s.requests[:0]

	if s.selected != "" {
		s.collecting.Connect(s.selected, s.interval*timeoutFactor)
	}
	s.log.Debug("views swapped",
		zap.String("source", s.selected),
		zap.Bool("connected", s.collecting.IsConnected()),
		zap.Uint64("swaps", s.swaps))
}

func (s *Swapper) refreshNamesLocked() {
	if !s.reg.NamesChanged() && s.names != nil {
		return
	}
	s.names = s.reg.EnumerateThreadNames()
	if s.selected == "" {
		if main := s.reg.Main(); main != nil {
			s.selected = main.Name()
		} else if len(s.names) > 0 {
			s.selected = s.names[0]
		}
	}
}

// ThreadNames returns the names of the live buffers as of the last tick.
func (s *Swapper) ThreadNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshNamesLocked()
	return slices.Clone(s.names)
}

// Select makes source (a buffer name or a prefix ending in
// trace.WildcardSuffix) the source of the next collection cycle.
func (s *Swapper) Select(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = source
}

// Selected returns the current source name or pattern.
func (s *Swapper) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SelectNode asks for every node called name to be selected once the next
// tree becomes visible.
func (s *Swapper) SelectNode(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, name)
}

// SetEnabled turns collection on or off. Disabling drops the connection and
// both trees; enabling resumes on the next Tick.
func (s *Swapper) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if enabled {
		return
	}
	s.collecting.Disconnect(nil)
	s.collecting.Reset()
	s.displaying.Reset()
	s.names = nil
	s.requests = nil
	s.sinceSwap = s.interval
	s.selected = s.initial
	s.log.Debug("viewing disabled")
}

// Enabled reports whether collection is on.
func (s *Swapper) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Display calls fn with the displaying view. The view is disconnected and
// will not be swapped until fn returns, so its tree may be read and its
// Opened and Selected fields written.
func (s *Swapper) Display(fn func(v *calltree.View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.displaying)
}

// Stats returns the swapper and view counters.
func (s *Swapper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Swaps:      s.swaps,
		Collecting: s.collecting.Stats(),
		Displaying: s.displaying.Stats(),
	}
}

// Close disconnects the collecting view.
func (s *Swapper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collecting.Disconnect(nil)
}

// Run ticks the swapper every period until ctx is done, then closes it.
// Run is the admin goroutine: nothing else may call Tick meanwhile.
func (s *Swapper) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer s.Close()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			s.Tick(now.Sub(last).Seconds())
			last = now
		case <-ctx.Done():
			return nil
		}
	}
}
