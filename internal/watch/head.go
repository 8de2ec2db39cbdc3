package watch

import (
	"context"

	"github.com/go-git/go-billy/v5/util"

	"github.com/linsyking/git-visualizer/internal/graph"
)

const headFile = "HEAD"

// ReconcileHead points the HEAD node at the commit HEAD currently resolves
// to. On any read or resolution failure the previous pointer is kept.
func (e *Engine) ReconcileHead(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := util.ReadFile(e.fs, headFile)
	if err != nil {
		return &ItemError{Stream: StreamHead, Item: headFile, Err: err}
	}
	id, err := e.resolver.Resolve(raw)
	if err != nil {
		return &ItemError{Stream: StreamHead, Item: headFile, Err: err}
	}

	head := e.headNode()
	target, created := e.store.GetOrCreate(id, func() *graph.Node {
		return graph.NewPlaceholder(id, e.gitDir)
	})
	if created {
		e.logger.Debug("HEAD points at unknown object", "target", id)
		e.sink.NodeAdded(target)
	}
	e.point(head, target.ID)
	return nil
}

// headNode returns the HEAD node, creating it on first use.
func (e *Engine) headNode() *graph.Node {
	head, created := e.store.GetOrCreate(graph.HeadID, func() *graph.Node {
		return graph.NewNode(graph.HeadID, graph.KindHead, e.gitDir, graph.HeadID)
	})
	if created {
		e.sink.NodeAdded(head)
	}
	return head
}
