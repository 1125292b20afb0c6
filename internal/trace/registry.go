package trace

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"
)

// Defaults used when Options leave a field zero.
const (
	DefaultMaxCaptureDuration = 4.0 // seconds
	DefaultFlushThreshold     = 16
	DefaultFlushInterval      = 1.0 / 30.0 // seconds
)

// WildcardSuffix marks a name pattern as a prefix match.
const WildcardSuffix = "*"

// Options configures a Registry and the buffers it creates.
type Options struct {
	Clock              Clock   // defaults to SystemClock
	MaxCaptureDuration float64 // seconds of history kept per buffer
	FlushThreshold     int     // staged spans before a flush
	FlushInterval      float64 // seconds between flushes below the threshold
	Logger             *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.MaxCaptureDuration <= 0 {
		o.MaxCaptureDuration = DefaultMaxCaptureDuration
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = DefaultFlushThreshold
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Registry is the directory of all capture buffers of a process.
type Registry struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	buffers []weak.Pointer[Buffer]
	main    weak.Pointer[Buffer]

	namesDirty atomic.Bool
	recorded   atomic.Uint64
	drained    atomic.Uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts: opts,
		log:  opts.Logger.Named("registry"),
	}
}

// Clock returns the clock shared by the registry and its buffers.
func (r *Registry) Clock() Clock { return r.opts.Clock }

// Now is a shorthand for r.Clock().Now().
func (r *Registry) Now() float64 { return r.opts.Clock.Now() }

// Options returns the effective options.
func (r *Registry) Options() Options { return r.opts }

// CreateBuffer creates and registers a buffer. The caller owns the buffer
// and must keep it alive; the registry only holds a weak reference.
func (r *Registry) CreateBuffer(name string, automaticFrameIncrement, isGPU bool) *Buffer {
	b := NewBuffer(name, automaticFrameIncrement, isGPU, r.opts)
	r.RegisterBuffer(b)
	return b
}

// CreateMainBuffer creates the distinguished main-context buffer. Frames on
// the main context are counted automatically.
func (r *Registry) CreateMainBuffer(name string) *Buffer {
	b := r.CreateBuffer(name, true, false)
	r.mu.Lock()
	r.main = weak.Make(b)
	r.mu.Unlock()
	return b
}

// RegisterBuffer adds a weak reference to b. Safe to call from any goroutine.
func (r *Registry) RegisterBuffer(b *Buffer) {
	b.onChange = r.markNamesDirty
	b.onRecord = func(n uint64) { r.recorded.Add(n) }

	r.mu.Lock()
	r.buffers = append(r.buffers, weak.Make(b))
	r.mu.Unlock()

	r.markNamesDirty()
	r.log.Debug("buffer registered",
		zap.String("name", b.Name()),
		zap.Uint64("context_id", b.ContextID()),
		zap.Bool("gpu", b.IsGPU()))
}

func (r *Registry) markNamesDirty() {
	r.namesDirty.Store(true)
}

// NamesChanged reports whether buffers were created or released since the
// last call.
func (r *Registry) NamesChanged() bool {
	return r.namesDirty.Swap(false)
}

// Main returns the main buffer, or nil if it is gone or was never created.
func (r *Registry) Main() *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return liveValue(r.main)
}

func liveValue(p weak.Pointer[Buffer]) *Buffer {
	b := p.Value()
	if b == nil || !b.Alive() {
		return nil
	}
	return b
}

// liveLocked returns the live buffers in registration order and prunes dead
// references. r.mu must be held.
func (r *Registry) liveLocked() []*Buffer {
	live := make([]*Buffer, 0, len(r.buffers))
	kept := r.buffers[:0]
	for _, p := range r.buffers {
		b := liveValue(p)
		if b == nil {
			continue
		}
		kept = append(kept, p)
		live = append(live, b)
	}
	if pruned := len(r.buffers) - len(kept); pruned > 0 {
		clear(r.buffers[len(kept):])
		r.log.Debug("pruned dead buffers", zap.Int("count", pruned))
	}
	r.buffers = kept
	return live
}

// Buffers returns the live buffers in registration order.
func (r *Registry) Buffers() []*Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked()
}

// EnumerateThreadNames returns the names of all live buffers in
// registration order, pruning dead references as a side effect.
func (r *Registry) EnumerateThreadNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.liveLocked()
	names := make([]string, len(live))
	for i, b := range live {
		names[i] = b.Name()
	}
	return names
}

// MatchName reports whether name is selected by pattern. A pattern ending in
// WildcardSuffix matches every name starting with the rest of the pattern;
// otherwise names must be equal.
func MatchName(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, WildcardSuffix); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// FindBuffer returns the first registered live buffer selected by pattern,
// or nil.
func (r *Registry) FindBuffer(pattern string) *Buffer {
	if pattern == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.liveLocked() {
		if MatchName(pattern, b.Name()) {
			return b
		}
	}
	return nil
}

// ThreadTimeline is the drained history of one buffer.
type ThreadTimeline struct {
	Name      string  `msgpack:"name"`
	ContextID uint64  `msgpack:"context_id"`
	IsGPU     bool    `msgpack:"gpu"`
	Timeline  []Entry `msgpack:"timeline"`
}

// Snapshot is the registry-wide result of SnapshotForExport.
type Snapshot struct {
	Time    float64          `msgpack:"time"` // clock reading the snapshot was taken at
	Threads []ThreadTimeline `msgpack:"threads"`
}

// SnapshotForExport drains every live buffer and keeps the spans that began
// within the last maxAge seconds. Threads are sorted by name.
func (r *Registry) SnapshotForExport(maxAge float64) Snapshot {
	var threads []ThreadTimeline

	r.mu.Lock()
	for _, b := range r.liveLocked() {
		spans := b.Capture(nil)
		r.drained.Add(uint64(len(spans)))
		threads = append(threads, ThreadTimeline{
			Name:      b.Name(),
			ContextID: b.ContextID(),
			IsGPU:     b.IsGPU(),
			Timeline:  spans,
		})
	}
	r.mu.Unlock()

	now := r.Now()
	oldest := now - maxAge
	for i := range threads {
		threads[i].Timeline = keepSince(threads[i].Timeline, oldest)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Name < threads[j].Name
	})

	return Snapshot{Time: now, Threads: threads}
}

// keepSince drops the entries that began before oldest. Entries are sorted
// by Beginning, so this is a prefix cut.
func keepSince(entries []Entry, oldest float64) []Entry {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Beginning >= oldest
	})
	return entries[i:]
}

// Stats is a point-in-time summary used by metrics.
type Stats struct {
	Buffers       int
	SpansRecorded uint64
	SpansDrained  uint64
}

// Stats summarizes the registry. Span counts are cumulative and include
// buffers released since.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	live := r.liveLocked()
	r.mu.Unlock()

	return Stats{
		Buffers:       len(live),
		SpansRecorded: r.recorded.Load(),
		SpansDrained:  r.drained.Load(),
	}
}

// Clear drops every reference, including the main one. Buffers themselves
// are not touched.
func (r *Registry) Clear() {
	r.mu.Lock()
	clear(r.buffers)
	r.buffers = nil
	r.main = weak.Pointer[Buffer]{}
	r.mu.Unlock()
	r.markNamesDirty()
}

var (
	globalMu       sync.Mutex
	globalRegistry *Registry
)

// Init creates the process-wide registry. Calling Init twice without
// Teardown panics.
func Init(opts Options) *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalRegistry != nil {
		panic("trace: Init called twice")
	}
	globalRegistry = NewRegistry(opts)
	return globalRegistry
}

// Default returns the process-wide registry created by Init.
func Default() *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalRegistry == nil {
		panic("trace: Default called before Init")
	}
	return globalRegistry
}

// Teardown clears and forgets the process-wide registry.
func Teardown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalRegistry == nil {
		return
	}
	globalRegistry.Clear()
	globalRegistry = nil
}
