// Package watch keeps a graph.Store consistent with a repository metadata
// directory as it changes on disk.
//
// Filesystem notifications are staged into one of three streams (objects,
// refs, head) by a Coalescer. Once the repository has been quiet for the
// quiescence delay the Dispatcher runs one cycle: object ingestion, then
// reference reconciliation, then HEAD reconciliation, each phase fanned out
// and fully awaited before the next starts.
package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/linsyking/git-visualizer/internal/graph"
)

// Explorer classifies a single object and lists the objects it references.
type Explorer interface {
	Explore(ctx context.Context, sourceDir, id string) (graph.Object, error)
}

// ObjectLister enumerates every object of a metadata directory. Explorers
// that implement it let Prime see packed objects too.
type ObjectLister interface {
	Objects(ctx context.Context, sourceDir string) ([]string, error)
}

// HeadResolver turns raw HEAD content into a commit id.
type HeadResolver interface {
	Resolve(raw []byte) (string, error)
}

// Sink receives graph deltas. Calls for one change are made in order; the
// sink is responsible for fanning them out to subscribers.
type Sink interface {
	NodeAdded(n *graph.Node)
	NodeRemoved(n *graph.Node)
	EdgeAdded(from, to string)
	EdgeRemoved(from, to string)
}

type discardSink struct{}

func (discardSink) NodeAdded(*graph.Node)   {}
func (discardSink) NodeRemoved(*graph.Node) {}
func (discardSink) EdgeAdded(_, _ string)   {}
func (discardSink) EdgeRemoved(_, _ string) {}

var (
	// DefaultIgnorePatterns match the lock files and temporary objects git
	// leaves in shard directories while writing.
	DefaultIgnorePatterns = []string{"*.lock", "tmp_*"}
	// DefaultRefIgnorePatterns match the lock files git leaves in
	// refs/heads. Branch names may otherwise start with anything, tmp_
	// included.
	DefaultRefIgnorePatterns = []string{"*.lock"}
)

// Options configures an Engine.
type Options struct {
	// GitDir is the metadata directory path recorded as each node's source.
	GitDir string
	// FS is rooted at GitDir; every disk read goes through it.
	FS       billy.Filesystem
	Store    *graph.Store
	Explorer Explorer
	Resolver HeadResolver
	Sink     Sink
	// IgnorePatterns are doublestar patterns matched against entry names
	// in shard directories.
	IgnorePatterns []string
	// RefIgnorePatterns are matched against entry names in refs/heads.
	RefIgnorePatterns []string
	Logger            *slog.Logger
}

// Engine holds the three reconciliation handlers and the state they share.
type Engine struct {
	gitDir   string
	fs       billy.Filesystem
	store    *graph.Store
	explorer Explorer
	resolver HeadResolver
	sink     Sink
	ignore   []string
	refIgn   []string
	logger   *slog.Logger

	mu       sync.Mutex
	deferred map[string]string // ref node id -> missing target id
}

// NewEngine creates an engine. Store, Sink, both ignore lists and Logger
// have usable defaults; FS, Explorer and Resolver are required.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		gitDir:   opts.GitDir,
		fs:       opts.FS,
		store:    opts.Store,
		explorer: opts.Explorer,
		resolver: opts.Resolver,
		sink:     opts.Sink,
		ignore:   opts.IgnorePatterns,
		refIgn:   opts.RefIgnorePatterns,
		logger:   opts.Logger,
		deferred: make(map[string]string),
	}
	if e.store == nil {
		e.store = graph.NewStore()
	}
	if e.sink == nil {
		e.sink = discardSink{}
	}
	if e.ignore == nil {
		e.ignore = DefaultIgnorePatterns
	}
	if e.refIgn == nil {
		e.refIgn = DefaultRefIgnorePatterns
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Store returns the graph the engine maintains.
func (e *Engine) Store() *graph.Store {
	return e.store
}

func ignored(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// guard runs fn, logging a panic instead of letting it take the process
// down.
func (e *Engine) guard(item string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic", "item", item, "panic", r)
		}
	}()
	fn()
}

func isObjectID(s string) bool {
	return plumbing.IsHash(s)
}

// point makes ref designate targetID. When the target is not registered yet
// the update waits in the deferred set until ResolveDeferred finds it.
func (e *Engine) point(ref *graph.Node, targetID string) {
	if !e.store.Has(targetID) {
		e.mu.Lock()
		e.deferred[ref.ID] = targetID
		e.mu.Unlock()
		e.logger.Debug("deferring pointer to unknown object", "ref", ref.ID, "target", targetID)
		return
	}
	e.forget(ref.ID)

	old, hadOld, changed := ref.Repoint(targetID)
	if !changed {
		return
	}
	if hadOld {
		e.sink.EdgeRemoved(ref.ID, old)
	}
	e.sink.EdgeAdded(ref.ID, targetID)
}

func (e *Engine) forget(refID string) {
	e.mu.Lock()
	delete(e.deferred, refID)
	e.mu.Unlock()
}

// Deferred returns the pending pointer updates keyed by ref id.
func (e *Engine) Deferred() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.deferred))
	for ref, target := range e.deferred {
		out[ref] = target
	}
	return out
}

// ResolveDeferred applies every deferred pointer update whose target has
// been registered since. The dispatcher calls it after each object phase.
func (e *Engine) ResolveDeferred() {
	for refID, targetID := range e.Deferred() {
		if !e.store.Has(targetID) {
			continue
		}
		ref := e.store.Get(refID)
		if ref == nil {
			e.forget(refID)
			continue
		}
		e.point(ref, targetID)
	}
}
