// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package postprocess

import (
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

// AssignCallpathsOnMaster implements step 4: every node in master's tree
// without a callpath handle gets a new Callpath record (parent's callpath,
// this node's region, this node's folded parameters) attached, visited in
// DFS order so a node's parent is always already assigned.
func AssignCallpathsOnMaster(master *calltree.Tree, catalog *definitions.Catalog) error {
	var walkErr error
	master.ForAll(master.Root, func(n *calltree.Node) bool {
		if err := ensureCallpath(catalog, n); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	return walkErr
}

func ensureCallpath(catalog *definitions.Catalog, n *calltree.Node) error {
	if n.HasCallpathHandle() {
		return nil
	}
	parentCP := definitions.Invalid
	if p := n.Parent(); p != nil {
		parentCP = p.CallpathHandle()
	}
	h, _, err := catalog.NewCallpath(parentCP, n.Payload().Region, n.Parameters())
	if err != nil {
		return err
	}
	n.SetCallpathHandle(h)
	return nil
}

// MatchCallpathsOnWorkers implements step 5: for worker's tree, DFS-walk
// each node, find (or create, with zero metrics) the corresponding node on
// master, and copy its callpath handle down. This leaves master holding the
// union of every location's callpaths.
func MatchCallpathsOnWorkers(worker, master *calltree.Tree, catalog *definitions.Catalog) error {
	return matchNode(master, worker.Root, master.Root, catalog)
}

func matchNode(masterTree *calltree.Tree, w, m *calltree.Node, catalog *definitions.Catalog) error {
	if err := ensureCallpath(catalog, m); err != nil {
		return err
	}
	w.SetCallpathHandle(m.CallpathHandle())

	for wc := w.FirstChild(); wc != nil; wc = wc.NextSibling() {
		mc, _ := masterTree.FindOrCreateChild(m, wc.Kind(), wc.Payload(), 0)
		if err := matchNode(masterTree, wc, mc, catalog); err != nil {
			return err
		}
	}
	return nil
}
