package trace

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Consumer receives spans flushed by the Buffer it is attached to.
//
// UpdateCallback runs on the producing goroutine, after the buffer lock has
// been released. spans are chronologically ordered and well nested; the
// slice is only valid for the duration of the call.
type Consumer interface {
	UpdateCallback(src *Buffer, spans []Entry, incrementFrame bool)
}

// Handle identifies an open span returned by Begin.
type Handle int

var globalContextIDs uint64

// nextContextID returns a unique, monotonically increasing context ID.
func nextContextID() uint64 {
	return atomic.AddUint64(&globalContextIDs, 1)
}

// Buffer stores the spans recorded by one execution context.
//
// Begin, End, Flush and BatchAddFrame must only be called by the owning
// context. Capture, Attach and Detach may be called from the admin goroutine.
type Buffer struct {
	name                    string
	contextID               uint64
	automaticFrameIncrement bool
	isGPU                   bool

	clock          Clock
	maxCapture     float64
	flushThreshold int
	flushInterval  float64

	// owned by the producing context
	local     []Entry
	open      []Handle
	nextFlush float64

	mu       sync.Mutex
	timeline timeline
	attached Consumer

	released atomic.Bool
	recorded atomic.Uint64
	onChange func()
	onRecord func(n uint64)
}

// NewBuffer creates an unregistered Buffer. Most callers want
// Registry.CreateBuffer instead.
func NewBuffer(name string, automaticFrameIncrement, isGPU bool, opts Options) *Buffer {
	opts = opts.withDefaults()
	return &Buffer{
		name:                    name,
		contextID:               nextContextID(),
		automaticFrameIncrement: automaticFrameIncrement,
		isGPU:                   isGPU,
		clock:                   opts.Clock,
		maxCapture:              opts.MaxCaptureDuration,
		flushThreshold:          opts.FlushThreshold,
		flushInterval:           opts.FlushInterval,
	}
}

// Name returns the display name of the context.
func (b *Buffer) Name() string { return b.name }

// ContextID returns the process-unique ID of the context.
func (b *Buffer) ContextID() uint64 { return b.contextID }

// AutomaticFrameIncrement reports whether frames are counted by the viewer's
// TickFrame rather than by the producer.
func (b *Buffer) AutomaticFrameIncrement() bool { return b.automaticFrameIncrement }

// IsGPU reports whether the buffer is a virtual context fed by hardware timers.
func (b *Buffer) IsGPU() bool { return b.isGPU }

// Clock returns the clock the buffer stamps spans with.
func (b *Buffer) Clock() Clock { return b.clock }

// Begin opens a span.
func (b *Buffer) Begin(name string, subID int) Handle {
	now := b.clock.Now()
	b.local = append(b.local, Entry{
		Name:      name,
		SubID:     subID,
		Beginning: now,
		End:       now,
		Depth:     len(b.open),
	})
	h := Handle(len(b.local) - 1)
	b.open = append(b.open, h)
	return h
}

// End closes the innermost open span, which must be h. Closing spans out of
// order is an instrumentation bug and panics.
func (b *Buffer) End(h Handle) {
	now := b.clock.Now()
	if len(b.open) == 0 {
		panic(fmt.Sprintf("trace: End on %q with no open span", b.name))
	}
	top := b.open[len(b.open)-1]
	if top != h {
		panic(fmt.Sprintf("trace: mismatched End on %q: closing %q while %q is innermost",
			b.name, b.entryName(h), b.local[top].Name))
	}

	b.local[h].End = now
	b.open = b.open[:len(b.open)-1]

	if len(b.open) == 0 && (len(b.local) >= b.flushThreshold || now >= b.nextFlush) {
		b.flush(now)
	}
}

func (b *Buffer) entryName(h Handle) string {
	if h < 0 || int(h) >= len(b.local) {
		return fmt.Sprintf("<handle %d>", h)
	}
	return b.local[h].Name
}

// OpenDepth returns the number of currently open spans.
func (b *Buffer) OpenDepth() int {
	return len(b.open)
}

// Flush publishes staged spans right away. No span may be open.
func (b *Buffer) Flush() {
	if len(b.open) != 0 {
		panic(fmt.Sprintf("trace: Flush on %q with %d open spans", b.name, len(b.open)))
	}
	if len(b.local) == 0 {
		return
	}
	b.flush(b.clock.Now())
}

func (b *Buffer) flush(now float64) {
	b.mu.Lock()
	b.timeline.append(b.local)
	b.timeline.defrag(now - b.maxCapture)
	consumer := b.attached
	b.mu.Unlock()

	if consumer != nil {
		consumer.UpdateCallback(b, b.local, false)
	}

	b.addRecorded(len(b.local))
	b.local = b.local[:0]
	b.nextFlush = now + b.flushInterval
}

// BatchAddFrame appends one frame of already resolved spans, typically
// produced by a hardware timer readback several frames after the fact.
// Delivery to the attached consumer counts as a new frame.
func (b *Buffer) BatchAddFrame(entries []Entry) {
	if len(b.open) != 0 {
		panic(fmt.Sprintf("trace: BatchAddFrame on %q with %d open spans", b.name, len(b.open)))
	}
	if b.automaticFrameIncrement {
		panic(fmt.Sprintf("trace: BatchAddFrame on %q which counts frames automatically", b.name))
	}
	now := b.clock.Now()

	b.mu.Lock()
	b.timeline.append(entries)
	b.timeline.defrag(now - b.maxCapture)
	consumer := b.attached
	b.mu.Unlock()

	if consumer != nil {
		consumer.UpdateCallback(b, entries, true)
	}
	b.addRecorded(len(entries))
}

func (b *Buffer) addRecorded(n int) {
	b.recorded.Add(uint64(n))
	if b.onRecord != nil {
		b.onRecord(uint64(n))
	}
}

// Capture drains all flushed spans into out in chronological, well nested
// order and returns the extended slice.
func (b *Buffer) Capture(out []Entry) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeline.drainTo(out)
}

// Pending returns the number of flushed spans awaiting Capture.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeline.len()
}

// Attach makes c the consumer of future flushes. Attaching a second consumer
// panics.
func (b *Buffer) Attach(c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached != nil {
		panic(fmt.Sprintf("trace: buffer %q already has an attached consumer", b.name))
	}
	b.attached = c
}

// Detach removes c. c must be the attached consumer.
func (b *Buffer) Detach(c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached != c {
		panic(fmt.Sprintf("trace: detaching a consumer that is not attached to %q", b.name))
	}
	b.attached = nil
}

// LockForConnect acquires the buffer lock and returns the unlock function.
// Callers holding their own lock must take it before this one.
func (b *Buffer) LockForConnect() func() {
	b.mu.Lock()
	return b.mu.Unlock
}

// AttachLocked is Attach for callers already holding LockForConnect.
func (b *Buffer) AttachLocked(c Consumer) {
	if b.attached != nil {
		panic(fmt.Sprintf("trace: buffer %q already has an attached consumer", b.name))
	}
	b.attached = c
}

// DetachLocked is Detach for callers already holding LockForConnect. It is a
// no-op when c is not the attached consumer.
func (b *Buffer) DetachLocked(c Consumer) bool {
	if b.attached != c {
		return false
	}
	b.attached = nil
	return true
}

// Attached reports whether a consumer is attached.
func (b *Buffer) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached != nil
}

// Release marks the buffer as dead. Registries drop it on their next
// enumeration and viewers treat it as disconnected.
func (b *Buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	if b.onChange != nil {
		b.onChange()
	}
}

// Alive reports whether Release has not been called.
func (b *Buffer) Alive() bool {
	return !b.released.Load()
}

// Recorded returns the total number of spans flushed so far.
func (b *Buffer) Recorded() uint64 {
	return b.recorded.Load()
}
