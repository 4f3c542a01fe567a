// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package calltree

import (
	"sort"

	"github.com/parascope/runtime/pkg/definitions"
)

// Tree is one location's call tree, rooted at a KindThreadRoot node. It owns
// every Node reachable from Root; Node.Parent is a non-owning back-reference
// (see spec.md §9's guidance against live cyclic references).
type Tree struct {
	Root *Node
}

// NewTree creates a tree with a fresh thread-root node.
func NewTree() *Tree {
	return &Tree{Root: &Node{kind: KindThreadRoot, callpath: definitions.Invalid}}
}

// NewNode allocates a detached node of the given kind and payload. It is not
// part of any tree until passed to AddChild.
func (t *Tree) NewNode(kind NodeKind, payload Payload) *Node {
	return &Node{kind: kind, payload: payload, callpath: definitions.Invalid}
}

// AddChild appends child as the new last child of parent.
func (t *Tree) AddChild(parent, child *Node) {
	child.parent = parent
	child.nextSibling = nil
	if parent.firstChild == nil {
		parent.firstChild = child
	} else {
		parent.lastChild.nextSibling = child
	}
	parent.lastChild = child
}

// FindOrCreateChild searches parent's children for an exact (kind, payload)
// match, returning it if found; otherwise it creates, links, and returns a
// fresh child with firstEnterTime recorded.
func (t *Tree) FindOrCreateChild(parent *Node, kind NodeKind, payload Payload, firstEnterTime uint64) (*Node, bool) {
	for c := parent.firstChild; c != nil; c = c.nextSibling {
		if c.kind == kind && payload.Equal(kind, c.payload) {
			return c, false
		}
	}
	child := &Node{kind: kind, payload: payload, firstEnterTime: firstEnterTime, hasFirstEnter: true, callpath: definitions.Invalid}
	t.AddChild(parent, child)
	return child, true
}

// RemoveNode unlinks node from parent's child list. node's own subtree is
// left intact for the caller to re-parent elsewhere (see MoveChildren) or
// discard.
func (t *Tree) RemoveNode(parent, node *Node) {
	if parent.firstChild == node {
		parent.firstChild = node.nextSibling
		if parent.lastChild == node {
			parent.lastChild = node.nextSibling
		}
		node.parent = nil
		node.nextSibling = nil
		return
	}
	for c := parent.firstChild; c != nil; c = c.nextSibling {
		if c.nextSibling == node {
			c.nextSibling = node.nextSibling
			if parent.lastChild == node {
				parent.lastChild = c
			}
			node.parent = nil
			node.nextSibling = nil
			return
		}
	}
}

// MoveChildren reparents every child of from under to, preserving their
// relative order and appending after to's existing children. Used by thread
// expansion (re-parenting orphaned thread-start children under the
// thread-root) and task restructuring (moving subtrees under the
// artificial grouping nodes).
func (t *Tree) MoveChildren(from, to *Node) {
	c := from.firstChild
	for c != nil {
		next := c.nextSibling
		c.nextSibling = nil
		c.parent = to
		if to.firstChild == nil {
			to.firstChild = c
		} else {
			to.lastChild.nextSibling = c
		}
		to.lastChild = c
		c = next
	}
	from.firstChild = nil
	from.lastChild = nil
}

// MergeNodeInclusive accumulates src's inclusive-time accumulator into dst.
func (t *Tree) MergeNodeInclusive(dst, src *Node) {
	dst.inclusive.Sum += src.inclusive.Sum
	dst.inclusive.IntermediateSum += src.inclusive.IntermediateSum
}

// MergeNodeDense accumulates every dense metric slot of src into dst.
func (t *Tree) MergeNodeDense(dst, src *Node) {
	for i := range src.dense {
		d := dst.Dense(i)
		d.Sum += src.dense[i].Sum
		d.IntermediateSum += src.dense[i].IntermediateSum
	}
}

// MergeNodeSparse accumulates every sparse entry of src into dst, following
// each metric's own accumulation rule (sum for uint64/tuple counters,
// sum for double counters — absolute-point sparse entries are merged by
// the caller choosing the more recent value since mode is not tracked per
// entry here).
func (t *Tree) MergeNodeSparse(dst, src *Node) {
	if src.sparse == nil {
		return
	}
	if dst.sparse == nil {
		dst.sparse = make(map[definitions.Handle]SparseValue, len(src.sparse))
	}
	for metric, v := range src.sparse {
		existing, ok := dst.sparse[metric]
		if !ok {
			dst.sparse[metric] = v
			continue
		}
		switch v.Kind {
		case SparseDouble:
			existing.Double += v.Double
		case SparseUint64:
			existing.UInt64 += v.UInt64
		case SparseTuple:
			existing.TupleSum += v.TupleSum
			existing.TupleCount += v.TupleCount
		}
		existing.Kind = v.Kind
		dst.sparse[metric] = existing
	}
}

// SubtractNode removes other's previously-merged dense and inclusive
// contribution from n, the complement of MergeNodeInclusive/MergeNodeDense.
// Used when post-processing detaches a subtree whose metrics had already
// been folded into an ancestor.
func (t *Tree) SubtractNode(n, other *Node) {
	n.inclusive.Sum -= other.inclusive.Sum
	n.inclusive.IntermediateSum -= other.inclusive.IntermediateSum
	for i := range other.dense {
		if i >= len(n.dense) {
			break
		}
		n.dense[i].Sum -= other.dense[i].Sum
		n.dense[i].IntermediateSum -= other.dense[i].IntermediateSum
	}
}

// CopyNode returns a detached deep copy of src's own fields (metrics,
// count, callpath), with no parent/child/sibling links. Used by untied-task
// migration to duplicate the call chain up to the root before reattaching
// the original to the new host location (spec.md §4.4).
func (t *Tree) CopyNode(src *Node) *Node {
	cp := &Node{
		kind:           src.kind,
		payload:        src.payload,
		inclusive:      src.inclusive,
		count:          src.count,
		firstEnterTime: src.firstEnterTime,
		hasFirstEnter:  src.hasFirstEnter,
		callpath:       src.callpath,
	}
	cp.dense = append([]Accumulator(nil), src.dense...)
	if src.sparse != nil {
		cp.sparse = make(map[definitions.Handle]SparseValue, len(src.sparse))
		for k, v := range src.sparse {
			cp.sparse[k] = v
		}
	}
	return cp
}

// CopyAllDenseMetrics overwrites dst's inclusive and dense accumulators with
// src's, without touching identity (kind/payload), count, or links.
func (t *Tree) CopyAllDenseMetrics(dst, src *Node) {
	dst.inclusive = src.inclusive
	dst.dense = append([]Accumulator(nil), src.dense...)
}

// ForAll walks the subtree rooted at root in depth-first pre-order, calling
// fn on every node. Traversal stops as soon as fn returns false; ForAll then
// also returns false so a caller composing nested calls can propagate the
// stop.
func (t *Tree) ForAll(root *Node, fn func(*Node) bool) bool {
	if root == nil {
		return true
	}
	if !fn(root) {
		return false
	}
	for c := root.firstChild; c != nil; c = c.nextSibling {
		if !t.ForAll(c, fn) {
			return false
		}
	}
	return true
}

// SortSubtree stably sorts the children of every node in the subtree rooted
// at root according to less.
func (t *Tree) SortSubtree(root *Node, less func(a, b *Node) bool) {
	if root == nil {
		return
	}
	var children []*Node
	for c := root.firstChild; c != nil; c = c.nextSibling {
		children = append(children, c)
	}
	sort.SliceStable(children, func(i, j int) bool { return less(children[i], children[j]) })

	root.firstChild = nil
	root.lastChild = nil
	for _, c := range children {
		c.nextSibling = nil
		if root.firstChild == nil {
			root.firstChild = c
		} else {
			root.lastChild.nextSibling = c
		}
		root.lastChild = c
	}
	for _, c := range children {
		t.SortSubtree(c, less)
	}
}
