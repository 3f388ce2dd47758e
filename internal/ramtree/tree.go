package ramtree

import (
	"strings"
	"time"
)

// Tree is the singleton directory tree, rooted at Root.
type Tree struct {
	Root *Node
}

// New creates a Tree with a freshly-initialized root directory.
func New(now time.Time) *Tree {
	return &Tree{Root: NewRoot(now)}
}

// splitComponents splits an absolute path on '/', treating runs of
// consecutive separators as one and dropping empty leading/trailing
// components implicitly (spec.md §4.2).
func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Resolve walks path from the root, matching each component against
// children by exact byte equality. The empty path and "/" both resolve to
// the root.
func (t *Tree) Resolve(path string) (*Node, bool) {
	components := splitComponents(path)

	cur := t.Root
	for _, c := range components {
		child, ok := cur.LookUpChild(c)
		if !ok {
			return nil, false
		}
		cur = child
	}

	return cur, true
}

// SplitParent locates the last path component, resolves everything before it
// to a Directory, and returns that directory along with the trailing
// component as the leaf name. If the prefix does not resolve to an existing
// directory, ok is false (the caller surfaces NotFound).
func (t *Tree) SplitParent(path string) (parent *Node, name string, ok bool) {
	components := splitComponents(path)
	if len(components) == 0 {
		// "/" and "" have no parent to split into.
		return nil, "", false
	}

	name = components[len(components)-1]

	cur := t.Root
	for _, c := range components[:len(components)-1] {
		child, found := cur.LookUpChild(c)
		if !found {
			return nil, "", false
		}
		cur = child
	}

	if !cur.IsDir() {
		return nil, "", false
	}

	return cur, name, true
}

// InsertChild prepends node to parent's children, points node back at
// parent, and bumps parent's link count (spec.md invariant 3) and
// modification times.
//
// REQUIRES: parent.IsDir()
func InsertChild(parent, node *Node, now time.Time) {
	node.Parent = parent
	parent.Children = append([]*Node{node}, parent.Children...)
	parent.Attr.Nlink++
	parent.Attr.Mtime = now
	parent.Attr.Ctime = now
}

// Detach removes node from its parent's children, decrementing the parent's
// link count and touching its modification times. It does not free node or
// its payload; that is the caller's responsibility via the Capacity
// Accountant.
//
// REQUIRES: node.Parent != nil
func Detach(node *Node, now time.Time) {
	parent := node.Parent
	for i, c := range parent.Children {
		if c == node {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}

	parent.Attr.Nlink--
	parent.Attr.Mtime = now
	parent.Attr.Ctime = now
	node.Parent = nil
}
