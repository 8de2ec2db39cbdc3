package graph

import (
	"slices"
	"strings"
	"sync"
)

// Store maps node ids to nodes. It is created once per watched repository
// and handed to everything that reads or mutates the graph.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{nodes: make(map[string]*Node)}
}

// Get returns the node registered under id, or nil.
func (s *Store) Get(id string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[id]
}

// Has reports whether id is registered.
func (s *Store) Has(id string) bool {
	return s.Get(id) != nil
}

// Add registers n unless its id is already taken. It returns the node held
// by the store and whether n was the one added.
func (s *Store) Add(n *Node) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.nodes[n.ID]; ok {
		return existing, false
	}
	s.nodes[n.ID] = n
	return n, true
}

// GetOrCreate returns the node for id, registering the one built by create
// when there is none.
func (s *Store) GetOrCreate(id string, create func() *Node) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.nodes[id]; ok {
		return existing, false
	}
	n := create()
	s.nodes[id] = n
	return n, true
}

// Remove unregisters id and reports whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return false
	}
	delete(s.nodes, id)
	return true
}

// Len returns the number of registered nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Branches returns every named branch node. Placeholders created for HEAD
// targets are not branches and are left out.
func (s *Store) Branches() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, n := range s.nodes {
		if n.Kind() == KindBranch && !n.Placeholder() {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Placeholders returns the nodes HEAD created for ids that have not been
// ingested yet.
func (s *Store) Placeholders() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, n := range s.nodes {
		if n.Placeholder() {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Edge is the wire representation of a child relation.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// NewEdge builds the edge from -> to. The id format matches what the viewer
// computes when it removes an edge.
func NewEdge(from, to string) Edge {
	return Edge{ID: from + "_" + to, From: from, To: to}
}

// Snapshot is the full graph as served to a viewer that just connected.
type Snapshot struct {
	Nodes []View `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot returns every registered node and every relation between
// registered nodes, ordered by id. Nodes whose exploration failed are
// included with an empty type, as they are when broadcast.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	present := func(id string) bool {
		_, ok := s.nodes[id]
		return ok
	}
	snap := Snapshot{Nodes: []View{}, Edges: []Edge{}}
	slices.SortFunc(nodes, func(a, b *Node) int { return strings.Compare(a.ID, b.ID) })
	for _, n := range nodes {
		snap.Nodes = append(snap.Nodes, n.View())
		for _, child := range n.Children() {
			if present(child) {
				snap.Edges = append(snap.Edges, NewEdge(n.ID, child))
			}
		}
	}
	s.mu.RUnlock()
	return snap
}
