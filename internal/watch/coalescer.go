package watch

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Stream names one of the three change buffers.
type Stream int

const (
	StreamObjects Stream = iota
	StreamRefs
	StreamHead
	numStreams
)

func (s Stream) String() string {
	switch s {
	case StreamObjects:
		return "objects"
	case StreamRefs:
		return "refs"
	case StreamHead:
		return "head"
	default:
		return "unknown"
	}
}

// Change describes one notification: the watched location and the entry
// name the notification was about.
type Change struct {
	Path string
	Name string
	Op   fsnotify.Op
}

// Batch is the set of changes one flush cycle processes.
type Batch struct {
	Objects []Change
	Refs    []Change
	Head    []Change
}

// Len returns the number of changes across all streams.
func (b Batch) Len() int {
	return len(b.Objects) + len(b.Refs) + len(b.Head)
}

// DefaultQuiescence is how long the repository must stay quiet before a
// flush cycle starts.
const DefaultQuiescence = 500 * time.Millisecond

// Coalescer buffers changes per stream and arms a single shared timer.
// Every accepted change pushes the flush back by the quiescence delay.
type Coalescer struct {
	mu       sync.Mutex
	delay    time.Duration
	maxDelay time.Duration
	buffers  [numStreams][]Change
	timer    *time.Timer
	first    time.Time
	gen      uint64 // identifies the armed timer
	stopped  bool
	flush    func(Batch)
}

// NewCoalescer creates a coalescer calling flush with the buffered batch
// once no change has been staged for delay. A positive maxDelay bounds the
// time between the first change of a batch and its flush.
func NewCoalescer(delay, maxDelay time.Duration, flush func(Batch)) *Coalescer {
	if delay <= 0 {
		delay = DefaultQuiescence
	}
	return &Coalescer{
		delay:    delay,
		maxDelay: maxDelay,
		flush:    flush,
	}
}

// Stage buffers ch on stream. A change with the same path and name as one
// already buffered on that stream is dropped; the return value reports
// whether ch was kept.
func (c *Coalescer) Stage(stream Stream, ch Change) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || stream < 0 || stream >= numStreams {
		return false
	}
	for _, buffered := range c.buffers[stream] {
		if buffered.Path == ch.Path && buffered.Name == ch.Name {
			return false
		}
	}
	c.buffers[stream] = append(c.buffers[stream], ch)

	now := time.Now()
	if c.first.IsZero() {
		c.first = now
	}
	wait := c.delay
	if c.maxDelay > 0 {
		if remaining := c.maxDelay - now.Sub(c.first); remaining < wait {
			wait = max(remaining, 0)
		}
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(wait, func() { c.fire(gen) })
	return true
}

// Pending returns the number of changes buffered on stream.
func (c *Coalescer) Pending(stream Stream) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stream < 0 || stream >= numStreams {
		return 0
	}
	return len(c.buffers[stream])
}

// take swaps the buffers for empty ones. Callers hold c.mu.
func (c *Coalescer) take() Batch {
	b := Batch{
		Objects: c.buffers[StreamObjects],
		Refs:    c.buffers[StreamRefs],
		Head:    c.buffers[StreamHead],
	}
	c.buffers = [numStreams][]Change{}
	c.first = time.Time{}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return b
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	// A timer replaced by Stage may still run once it has been re-armed.
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	b := c.take()
	c.mu.Unlock()

	if b.Len() == 0 || c.flush == nil {
		return
	}
	c.flush(b)
}

// Flush runs the pending batch now, in the caller's goroutine.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	b := c.take()
	c.mu.Unlock()
	if b.Len() == 0 || c.flush == nil {
		return
	}
	c.flush(b)
}

// Stop cancels the pending timer and drops buffered changes. Later stages
// are ignored.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.take()
	c.stopped = true
}
