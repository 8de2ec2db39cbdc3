// Package git classifies repository objects and resolves HEAD using go-git.
package git

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/linsyking/git-visualizer/internal/graph"
)

// Explorer reads single objects out of a metadata directory.
type Explorer struct {
	pool *storagePool
}

// NewExplorer creates an explorer that opens metadata directories from disk.
func NewExplorer() *Explorer {
	return &Explorer{pool: newStoragePool(nil)}
}

// NewExplorerFS creates an explorer that reads dir through fs.
func NewExplorerFS(dir string, fs billy.Filesystem) *Explorer {
	e := NewExplorer()
	e.pool.preload(dir, fs)
	return e
}

// IsID reports whether s is a full object id.
func IsID(s string) bool {
	return plumbing.IsHash(s)
}

// Explore returns the kind of object id stored under sourceDir along with
// the objects it references.
func (e *Explorer) Explore(ctx context.Context, sourceDir, id string) (graph.Object, error) {
	if err := ctx.Err(); err != nil {
		return graph.Object{}, err
	}
	if !IsID(id) {
		return graph.Object{}, &ExploreError{ID: id, Err: ErrInvalidID}
	}

	st := e.pool.get(sourceDir)
	obj, err := st.EncodedObject(plumbing.AnyObject, plumbing.NewHash(id))
	if err != nil {
		return graph.Object{}, &ExploreError{ID: id, Err: err}
	}

	switch obj.Type() {
	case plumbing.CommitObject:
		c := &object.Commit{}
		if err := c.Decode(obj); err != nil {
			return graph.Object{}, &ExploreError{ID: id, Err: err}
		}
		children := make([]graph.Child, 0, len(c.ParentHashes)+1)
		children = append(children, graph.Child{ID: c.TreeHash.String(), Kind: graph.KindTree})
		for _, p := range c.ParentHashes {
			children = append(children, graph.Child{ID: p.String(), Kind: graph.KindCommit})
		}
		return graph.Object{Kind: graph.KindCommit, Children: children}, nil

	case plumbing.TreeObject:
		t := &object.Tree{}
		if err := t.Decode(obj); err != nil {
			return graph.Object{}, &ExploreError{ID: id, Err: err}
		}
		children := make([]graph.Child, 0, len(t.Entries))
		for _, entry := range t.Entries {
			switch entry.Mode {
			case filemode.Submodule:
				// Gitlinks name commits of another repository.
				continue
			case filemode.Dir:
				children = append(children, graph.Child{ID: entry.Hash.String(), Kind: graph.KindTree})
			default:
				children = append(children, graph.Child{ID: entry.Hash.String(), Kind: graph.KindBlob})
			}
		}
		return graph.Object{Kind: graph.KindTree, Children: children}, nil

	case plumbing.BlobObject:
		return graph.Object{Kind: graph.KindBlob}, nil

	default:
		return graph.Object{}, &ExploreError{ID: id, Err: fmt.Errorf("%w: %s", ErrUnsupportedObject, obj.Type())}
	}
}

// Objects lists the id of every object stored under sourceDir, loose and
// packed.
func (e *Explorer) Objects(ctx context.Context, sourceDir string) ([]string, error) {
	st := e.pool.get(sourceDir)
	iter, err := st.IterEncodedObjects(plumbing.AnyObject)
	if err != nil {
		return nil, fmt.Errorf("listing objects in %s: %w", sourceDir, err)
	}
	defer iter.Close()

	var ids []string
	err = iter.ForEach(func(obj plumbing.EncodedObject) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids = append(ids, obj.Hash().String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects in %s: %w", sourceDir, err)
	}
	return ids, nil
}
