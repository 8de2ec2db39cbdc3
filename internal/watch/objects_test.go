package watch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linsyking/git-visualizer/internal/graph"
)

func TestIngestShard_CommitBroadcast(t *testing.T) {
	f := newFixture(t)
	parent, commit, tree := id("ab01"), id("ab02"), id("cd01")
	f.addCommit(parent)
	f.explorer.set(commit, graph.KindCommit,
		graph.Child{ID: tree, Kind: graph.KindTree},
		graph.Child{ID: parent, Kind: graph.KindCommit},
	)
	f.writeObject(t, commit)

	require.NoError(t, f.engine.IngestShard(context.Background(), "ab"))

	n := f.store.Get(commit)
	require.NotNil(t, n)
	assert.Equal(t, graph.KindCommit, n.Kind())
	assert.Equal(t, []string{tree, parent}, n.Children())
	assert.Equal(t, []string{
		"addnode " + commit,
		"addnode " + parent,
		"addedge " + commit + "->" + parent,
	}, f.sink.all(), "only the commit child is broadcast")
	assert.False(t, f.store.Has(tree), "non-commit children are linked by id only")
}

func TestIngestShard_Idempotent(t *testing.T) {
	f := newFixture(t)
	commit := id("ab02")
	f.explorer.set(commit, graph.KindCommit)
	f.writeObject(t, commit)
	ctx := context.Background()

	require.NoError(t, f.engine.IngestShard(ctx, "ab"))
	require.NoError(t, f.engine.IngestShard(ctx, "ab"))

	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 1, f.explorer.callCount(commit))
	assert.Equal(t, []string{"addnode " + commit}, f.sink.all())
}

func TestIngestShard_TreesAndBlobsStayHidden(t *testing.T) {
	f := newFixture(t)
	tree, blob := id("ab03"), id("ab04")
	f.explorer.set(tree, graph.KindTree, graph.Child{ID: blob, Kind: graph.KindBlob})
	f.explorer.set(blob, graph.KindBlob)
	f.writeObject(t, tree)
	f.writeObject(t, blob)

	require.NoError(t, f.engine.IngestShard(context.Background(), "ab"))

	assert.Empty(t, f.sink.all())
	assert.Equal(t, graph.KindTree, f.store.Get(tree).Kind())
	assert.Equal(t, graph.KindBlob, f.store.Get(blob).Kind())
	assert.Equal(t, []string{blob}, f.store.Get(tree).Children())
}

func TestIngestShard_IgnoresArtifactsAndOtherNotifications(t *testing.T) {
	f := newFixture(t)
	commit := id("ab05")
	f.explorer.set(commit, graph.KindCommit)
	f.writeObject(t, commit)
	f.writeFile(t, "objects/ab/tmp_obj_Xy12Ab", "partial")
	f.writeFile(t, "objects/ab/"+commit[2:]+".lock", "")
	f.writeFile(t, "objects/ab/README", "")
	require.NoError(t, f.fs.MkdirAll("objects/pack", 0755))
	ctx := context.Background()

	require.NoError(t, f.engine.IngestShard(ctx, "pack"))
	require.NoError(t, f.engine.IngestShard(ctx, "info"))
	require.NoError(t, f.engine.IngestShard(ctx, ""))
	assert.Equal(t, 0, f.store.Len())

	require.NoError(t, f.engine.IngestShard(ctx, "ab"))
	assert.Equal(t, 1, f.store.Len())
	assert.True(t, f.store.Has(commit))
}

func TestIngestShard_MissingShard(t *testing.T) {
	f := newFixture(t)

	err := f.engine.IngestShard(context.Background(), "ef")
	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, StreamObjects, itemErr.Stream)
	assert.Equal(t, "ef", itemErr.Item)
}

func TestIngestShard_ExplorationFailureStillBroadcast(t *testing.T) {
	f := newFixture(t)
	broken := id("ab06")
	f.writeObject(t, broken)

	require.NoError(t, f.engine.IngestShard(context.Background(), "ab"))

	n := f.store.Get(broken)
	require.NotNil(t, n, "node stays registered")
	assert.Equal(t, graph.KindUnknown, n.Kind())
	assert.Equal(t, []string{"addnode " + broken}, f.sink.all())
}

func TestIngestShard_UpgradesPlaceholder(t *testing.T) {
	f := newFixture(t)
	commit := id("ab07")
	f.store.Add(graph.NewPlaceholder(commit, testGitDir))
	f.explorer.set(commit, graph.KindCommit)
	f.writeObject(t, commit)

	require.NoError(t, f.engine.IngestShard(context.Background(), "ab"))

	n := f.store.Get(commit)
	assert.False(t, n.Placeholder())
	assert.Equal(t, graph.KindCommit, n.Kind())
	assert.Equal(t, []string{"addnode " + commit}, f.sink.all())
	assert.Empty(t, f.store.Branches())
}
