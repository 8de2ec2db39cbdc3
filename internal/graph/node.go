// Package graph holds the in-memory mirror of a repository's object and
// reference structure.
package graph

import "sync"

// Kind classifies a node. The string values are the ones the browser viewer
// filters on.
type Kind string

const (
	// KindUnknown marks an object node whose exploration has not succeeded.
	KindUnknown Kind = ""
	KindHead    Kind = "head"
	KindBranch  Kind = "branch"
	KindCommit  Kind = "commit"
	KindTree    Kind = "tree"
	KindBlob    Kind = "blob"
)

// HeadID is the reserved id of the HEAD node.
const HeadID = "HEAD"

// IsRef reports whether nodes of this kind hold a single mutable pointer.
func (k Kind) IsRef() bool {
	return k == KindHead || k == KindBranch
}

// Hidden reports whether object ingestion keeps nodes of this kind out of
// the broadcast stream.
func (k Kind) Hidden() bool {
	return k == KindTree || k == KindBlob
}

// Child is a typed reference to another object, as reported by exploration.
type Child struct {
	ID   string
	Kind Kind
}

// Object is the result of exploring a single repository object.
type Object struct {
	Kind     Kind
	Children []Child
}

// Node is one repository element. Children are relations by id; the Store
// owns the nodes they name.
type Node struct {
	ID        string
	SourceDir string
	Label     string

	mu          sync.RWMutex
	kind        Kind
	children    []string
	placeholder bool
}

// NewNode creates an unregistered node.
func NewNode(id string, kind Kind, sourceDir, label string) *Node {
	return &Node{
		ID:        id,
		SourceDir: sourceDir,
		Label:     label,
		kind:      kind,
	}
}

// NewPlaceholder creates a branch-kind node standing in for an id that HEAD
// points at before the object itself has been ingested.
func NewPlaceholder(id, sourceDir string) *Node {
	n := NewNode(id, KindBranch, sourceDir, "")
	n.placeholder = true
	return n
}

// Kind returns the node's current kind.
func (n *Node) Kind() Kind {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind
}

// Placeholder reports whether the node still stands in for an unexplored id.
func (n *Node) Placeholder() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.placeholder
}

// Children returns a copy of the node's child ids.
func (n *Node) Children() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

// Pointer returns the single child of a ref-kind node.
func (n *Node) Pointer() (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.children) == 0 {
		return "", false
	}
	return n.children[0], true
}

// Repoint makes target the node's only child. It returns the replaced
// pointer, if any, and whether anything changed. The comparison and the
// write happen under one lock so that concurrent callers observe a single
// change.
func (n *Node) Repoint(target string) (old string, hadOld, changed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.children) > 0 {
		old, hadOld = n.children[0], true
		if old == target {
			return old, true, false
		}
	}
	n.children = []string{target}
	return old, hadOld, true
}

// ClearPointer drops the node's child and returns it.
func (n *Node) ClearPointer() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.children) == 0 {
		return "", false
	}
	old := n.children[0]
	n.children = nil
	return old, true
}

// Resolve records the explored kind and children of an object node. A
// placeholder becomes a regular object node. Children are only ever set
// once; later calls keep the original relations.
func (n *Node) Resolve(kind Kind, children []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kind = kind
	n.placeholder = false
	if n.children == nil && len(children) > 0 {
		n.children = append([]string(nil), children...)
	}
}

// View is the wire representation of a node.
type View struct {
	ID    string `json:"id"`
	Type  Kind   `json:"type"`
	Label string `json:"label,omitempty"`
}

// Detail is the node representation served by the node data endpoint.
type Detail struct {
	View
	SourceDir string   `json:"sourceDir"`
	Children  []string `json:"children"`
}

// View returns the node's wire representation.
func (n *Node) View() View {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return View{ID: n.ID, Type: n.kind, Label: n.Label}
}

// Detail returns the node with its children.
func (n *Node) Detail() Detail {
	d := Detail{
		View:      n.View(),
		SourceDir: n.SourceDir,
		Children:  n.Children(),
	}
	if d.Children == nil {
		d.Children = []string{}
	}
	return d
}
