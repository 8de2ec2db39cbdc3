package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Dispatcher runs flush cycles. Phases run in a fixed order so that ref and
// HEAD lookups find the objects ingested in the same cycle.
type Dispatcher struct {
	engine *Engine
	logger *slog.Logger

	mu     sync.Mutex // serializes cycles
	cycles atomic.Int64
}

// NewDispatcher creates a dispatcher for engine.
func NewDispatcher(engine *Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = engine.logger
	}
	return &Dispatcher{engine: engine, logger: logger}
}

// Cycles returns how many cycles have completed.
func (d *Dispatcher) Cycles() int64 {
	return d.cycles.Load()
}

// Run processes one batch: objects, then deferred pointers, then refs,
// then HEAD. Failures are logged per change and never stop the cycle. A
// cycle started while another runs waits for it to finish.
func (d *Dispatcher) Run(ctx context.Context, b Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cycle := d.cycles.Load() + 1
	log := d.logger.With("cycle", cycle)
	log.Debug("flush cycle", "objects", len(b.Objects), "refs", len(b.Refs), "head", len(b.Head))

	d.phase(ctx, log, StreamObjects, b.Objects, func(ctx context.Context, ch Change) error {
		return d.engine.IngestShard(ctx, ch.Name)
	})
	d.engine.ResolveDeferred()
	d.phase(ctx, log, StreamRefs, b.Refs, func(ctx context.Context, _ Change) error {
		return d.engine.ReconcileRefs(ctx)
	})
	d.phase(ctx, log, StreamHead, b.Head, func(ctx context.Context, _ Change) error {
		return d.engine.ReconcileHead(ctx)
	})

	d.cycles.Add(1)
}

// phase runs handle for every change concurrently and waits for all of them.
func (d *Dispatcher) phase(ctx context.Context, log *slog.Logger, stream Stream, changes []Change, handle func(context.Context, Change) error) {
	var g errgroup.Group
	for _, ch := range changes {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					log.Error("change handler failed", "stream", stream, "path", ch.Path, "name", ch.Name, "error", err)
				}
			}()
			return handle(ctx, ch)
		})
	}
	// Errors were logged above; one failed change must not hide the others.
	_ = g.Wait()
}
