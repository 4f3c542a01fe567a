// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package postprocess

import (
	"sort"

	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

// numberOfThreadsMetricName is the synthesized dense-style sparse metric
// left on an aggregated pseudo-thread by key-thread clustering.
const numberOfThreadsMetricName = "number_of_threads"

// ClusterKeyThreads implements step 6: once thread expansion (step 1) has
// spliced every worker thread's subtree in as a sibling at its fork point, a
// "team" is the set of siblings sharing the same (kind, region) — i.e. the
// same region entered by every team member. Of three or more members, the
// first (the master, by virtue of entering the region before expansion
// spliced the others in), the fastest, and the slowest (by inclusive time
// alone; no idle-time metric is subtracted) are kept; the rest are
// merged into one aggregated pseudo-thread carrying a number_of_threads
// metric. The aggregated node is tagged KindKeyThreadAggregate rather than
// reusing the team's own kind, so a second pass over an already-clustered
// tree groups it separately from the three untouched survivors instead of
// folding them in again: clusterChildren keys teams by (kind, region), and
// three survivors plus one KindKeyThreadAggregate node never share a key.
// Swaps are performed by relinking nodes, never by copying metrics onto an
// existing survivor.
func ClusterKeyThreads(tree *calltree.Tree, catalog *definitions.Catalog) error {
	metric, err := numberOfThreadsMetric(catalog)
	if err != nil {
		return err
	}
	var parents []*calltree.Node
	tree.ForAll(tree.Root, func(n *calltree.Node) bool {
		parents = append(parents, n)
		return true
	})
	for _, parent := range parents {
		clusterChildren(tree, parent, metric)
	}
	return nil
}

func numberOfThreadsMetric(catalog *definitions.Catalog) (definitions.Handle, error) {
	name, _, err := catalog.NewString(numberOfThreadsMetricName)
	if err != nil {
		return definitions.Invalid, err
	}
	unit, _, err := catalog.NewString("threads")
	if err != nil {
		return definitions.Invalid, err
	}
	h, _, err := catalog.NewMetric(name, unit, definitions.MetricValueUint64, definitions.MetricModeAbsolute, 0, 0, false, definitions.Invalid)
	return h, err
}

func clusterChildren(tree *calltree.Tree, parent *calltree.Node, metric definitions.Handle) {
	groups := make(map[groupKey][]*calltree.Node)
	var order []groupKey
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		k := groupKey{kind: c.Kind(), region: c.Payload().Region}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	for _, k := range order {
		members := groups[k]
		if len(members) < 3 {
			continue
		}
		mergeTeam(tree, parent, members, metric)
	}
}

type groupKey struct {
	kind   calltree.NodeKind
	region definitions.Handle
}

// mergeTeam keeps the master (first encountered), the fastest, and the
// slowest member untouched, and folds every other member into one new
// aggregated node.
func mergeTeam(tree *calltree.Tree, parent *calltree.Node, members []*calltree.Node, metric definitions.Handle) {
	master := members[0]

	sorted := append([]*calltree.Node(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Inclusive().Sum < sorted[j].Inclusive().Sum
	})
	fastest, slowest := sorted[0], sorted[len(sorted)-1]

	keep := map[*calltree.Node]bool{master: true, fastest: true, slowest: true}
	var toMerge []*calltree.Node
	for _, m := range members {
		if !keep[m] {
			toMerge = append(toMerge, m)
		}
	}
	if len(toMerge) == 0 {
		return
	}

	agg := tree.NewNode(calltree.KindKeyThreadAggregate, members[0].Payload())
	for _, m := range toMerge {
		tree.RemoveNode(parent, m)
		tree.MergeNodeInclusive(agg, m)
		tree.MergeNodeDense(agg, m)
		tree.MergeNodeSparse(agg, m)
	}
	agg.TriggerSparse(metric, calltree.SparseUint64, definitions.MetricModeAbsolute, uint64(len(toMerge)), 0)
	tree.AddChild(parent, agg)
}
