// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package postprocess implements the Post-Processing Pipeline: the fixed
// sequence of in-memory call-tree transformations applied once per process
// between measurement stop and output (spec.md §4.6).
package postprocess

import (
	"fmt"

	"github.com/parascope/runtime/pkg/calltree"
)

// ExpandThreads implements step 1: every thread-start node in tree is
// replaced by the call-path of its creation site, found by following
// Payload.ForkNode (chasing through further thread-start creation sites, if
// any). A thread-start node with no creation site has its children
// re-parented directly under tree's root.
func ExpandThreads(tree *calltree.Tree) error {
	var starts []*calltree.Node
	tree.ForAll(tree.Root, func(n *calltree.Node) bool {
		if n.Kind() == calltree.KindThreadStart {
			starts = append(starts, n)
		}
		return true
	})

	for _, n := range starts {
		target := n.Payload().ForkNode
		for target != nil && target.Kind() == calltree.KindThreadStart {
			target = target.Payload().ForkNode
		}
		if target == nil {
			target = tree.Root
		}
		parent := n.Parent()
		if parent == nil {
			return fmt.Errorf("postprocess: thread-start node has no parent, tree is malformed")
		}
		tree.MoveChildren(n, target)
		tree.RemoveNode(parent, n)
	}
	return nil
}
