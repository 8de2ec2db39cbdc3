package watch

import (
	"context"
	"fmt"
	"runtime"
)

// Prime builds the graph from scratch before watching starts: every object
// (packed ones too when the explorer can list them), then the branches,
// then HEAD.
func (e *Engine) Prime(ctx context.Context) error {
	e.headNode()

	if lister, ok := e.explorer.(ObjectLister); ok {
		ids, err := lister.Objects(ctx, e.gitDir)
		if err != nil {
			return fmt.Errorf("priming graph: %w", err)
		}
		if err := e.ingestAll(ctx, ids, 4*runtime.GOMAXPROCS(0)); err != nil {
			return fmt.Errorf("priming graph: %w", err)
		}
	} else if err := e.primeLoose(ctx); err != nil {
		return fmt.Errorf("priming graph: %w", err)
	}

	if err := e.ReconcileRefs(ctx); err != nil {
		return fmt.Errorf("priming graph: %w", err)
	}
	e.ResolveDeferred()
	if err := e.ReconcileHead(ctx); err != nil {
		// An unborn or unreadable HEAD is not fatal; the watcher will see it
		// being written.
		e.logger.Warn("priming HEAD failed", "error", err)
	}

	e.logger.Info("graph primed", "nodes", e.store.Len(), "branches", len(e.store.Branches()))
	return nil
}

func (e *Engine) primeLoose(ctx context.Context) error {
	entries, err := e.fs.ReadDir("objects")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() || len(entry.Name()) != shardLen {
			continue
		}
		if err := e.ingestShard(ctx, entry.Name(), false); err != nil {
			e.logger.Warn("priming shard failed", "shard", entry.Name(), "error", err)
		}
	}
	return nil
}
