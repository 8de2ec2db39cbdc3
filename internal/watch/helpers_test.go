package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"

	"github.com/linsyking/git-visualizer/internal/git"
	"github.com/linsyking/git-visualizer/internal/graph"
)

const testGitDir = "/repo/.git"

// id builds a 40 character object id from a short readable prefix.
func id(prefix string) string {
	return prefix + strings.Repeat("0", 40-len(prefix))
}

type delta struct {
	Op   string
	From string
	To   string
}

func (d delta) String() string {
	if d.To == "" {
		return d.Op + " " + d.From
	}
	return d.Op + " " + d.From + "->" + d.To
}

// recorder is a Sink that keeps every delta in emission order.
type recorder struct {
	mu     sync.Mutex
	deltas []delta
}

func (r *recorder) add(d delta) {
	r.mu.Lock()
	r.deltas = append(r.deltas, d)
	r.mu.Unlock()
}

func (r *recorder) NodeAdded(n *graph.Node)     { r.add(delta{Op: "addnode", From: n.ID}) }
func (r *recorder) NodeRemoved(n *graph.Node)   { r.add(delta{Op: "removenode", From: n.ID}) }
func (r *recorder) EdgeAdded(from, to string)   { r.add(delta{Op: "addedge", From: from, To: to}) }
func (r *recorder) EdgeRemoved(from, to string) { r.add(delta{Op: "removeedge", From: from, To: to}) }

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.deltas))
	for i, d := range r.deltas {
		out[i] = d.String()
	}
	return out
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.deltas {
		if d.Op == op {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.deltas = nil
	r.mu.Unlock()
}

// fakeExplorer answers from a fixed table of objects.
type fakeExplorer struct {
	mu      sync.Mutex
	objects map[string]graph.Object
	calls   map[string]int
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{
		objects: make(map[string]graph.Object),
		calls:   make(map[string]int),
	}
}

func (f *fakeExplorer) set(id string, kind graph.Kind, children ...graph.Child) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id] = graph.Object{Kind: kind, Children: children}
}

func (f *fakeExplorer) Explore(_ context.Context, _ string, id string) (graph.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	obj, ok := f.objects[id]
	if !ok {
		return graph.Object{}, fmt.Errorf("object %s: %w", id, errors.New("not found"))
	}
	return obj, nil
}

func (f *fakeExplorer) Objects(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.objects))
	for id := range f.objects {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeExplorer) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fixture struct {
	fs       billy.Filesystem
	store    *graph.Store
	explorer *fakeExplorer
	sink     *recorder
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("objects", 0755))
	require.NoError(t, fs.MkdirAll(headsDir, 0755))

	f := &fixture{
		fs:       fs,
		store:    graph.NewStore(),
		explorer: newFakeExplorer(),
		sink:     &recorder{},
	}
	f.engine = NewEngine(Options{
		GitDir:   testGitDir,
		FS:       fs,
		Store:    f.store,
		Explorer: f.explorer,
		Resolver: git.NewHeadResolver(fs),
		Sink:     f.sink,
	})
	return f
}

// writeObject creates the loose object file for oid.
func (f *fixture) writeObject(t *testing.T, oid string) {
	t.Helper()
	require.NoError(t, util.WriteFile(f.fs, f.fs.Join("objects", oid[:2], oid[2:]), []byte("x"), 0444))
}

func (f *fixture) writeBranch(t *testing.T, name, oid string) {
	t.Helper()
	require.NoError(t, util.WriteFile(f.fs, f.fs.Join(headsDir, name), []byte(oid+"\n"), 0644))
}

func (f *fixture) removeBranch(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, f.fs.Remove(f.fs.Join(headsDir, name)))
}

func (f *fixture) writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(f.fs, name, []byte(content), 0644))
}

// addCommit registers oid as an already known commit.
func (f *fixture) addCommit(oid string) *graph.Node {
	n, _ := f.store.Add(graph.NewNode(oid, graph.KindCommit, testGitDir, ""))
	return n
}
