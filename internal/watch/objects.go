package watch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/linsyking/git-visualizer/internal/graph"
)

// shardLen is the length of the directory prefix loose objects live under.
const shardLen = 2

// IngestShard registers every new object stored under objects/<shard>.
// Notifications for anything but a shard directory are ignored.
func (e *Engine) IngestShard(ctx context.Context, shard string) error {
	return e.ingestShard(ctx, shard, true)
}

func (e *Engine) ingestShard(ctx context.Context, shard string, broadcast bool) error {
	if len(shard) != shardLen {
		return nil
	}

	entries, err := e.fs.ReadDir(e.fs.Join("objects", shard))
	if err != nil {
		return &ItemError{Stream: StreamObjects, Item: shard, Err: err}
	}

	var g errgroup.Group
	for _, entry := range entries {
		if entry.IsDir() || ignored(e.ignore, entry.Name()) {
			continue
		}
		id := shard + entry.Name()
		if !isObjectID(id) {
			e.logger.Debug("skipping non-object entry", "shard", shard, "name", entry.Name())
			continue
		}
		g.Go(func() error {
			e.guard(id, func() { e.ingestObject(ctx, id, broadcast) })
			return nil
		})
	}
	return g.Wait()
}

// ingestObject registers id, explores it and, for commits, emits the node
// together with its commit children. Known ids are left alone unless they
// are HEAD placeholders waiting for their object.
func (e *Engine) ingestObject(ctx context.Context, id string, broadcast bool) {
	n, created := e.store.GetOrCreate(id, func() *graph.Node {
		return graph.NewNode(id, graph.KindUnknown, e.gitDir, "")
	})
	placeholder := n.Placeholder()
	if !created && !placeholder {
		return
	}
	e.logger.Debug("new object", "id", id, "placeholder", placeholder)

	obj, err := e.explorer.Explore(ctx, e.gitDir, id)
	if err != nil {
		e.logger.Warn("object exploration failed", "id", id, "error", err)
		if placeholder {
			// Already visible; the next notification for its shard retries.
			return
		}
		// The node stays registered with an undetermined kind, which is
		// neither tree nor blob, so it is still broadcast below.
	} else {
		children := make([]string, len(obj.Children))
		for i, c := range obj.Children {
			children[i] = c.ID
		}
		n.Resolve(obj.Kind, children)
	}

	if n.Kind().Hidden() || !broadcast {
		return
	}

	e.sink.NodeAdded(n)
	for _, c := range obj.Children {
		if c.Kind != graph.KindCommit {
			continue
		}
		child := e.store.Get(c.ID)
		if child == nil {
			// Not registered: its own ingestion must still explore it.
			child = graph.NewNode(c.ID, graph.KindCommit, e.gitDir, "")
		}
		e.sink.NodeAdded(child)
		e.sink.EdgeAdded(n.ID, child.ID)
	}
}

// ingestAll registers ids without broadcasting, at most limit at a time.
func (e *Engine) ingestAll(ctx context.Context, ids []string, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.guard(id, func() { e.ingestObject(gctx, id, false) })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ingesting objects: %w", err)
	}
	return nil
}
