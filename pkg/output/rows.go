// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package output implements the core-to-collaborator Output API (spec.md
// §6): an ordered iterator over unified definitions, a (callpath, location)
// metric row walk assembled from the Call-Tree Store's dense and sparse
// accumulators, the per-process mapping tables, and a batching Writer that
// stages rows for an external output collaborator. The on-disk encoding and
// container layout stay out of scope, as spec.md §1 excludes them.
package output

import (
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

// RowKind tags which of Row's value fields is populated.
type RowKind uint8

const (
	// RowUint64 carries an integer-valued dense metric, the inclusive-time
	// accumulator (Metric left Invalid), or a SparseUint64 entry.
	RowUint64 RowKind = iota
	// RowDouble carries a SparseDouble entry.
	RowDouble
	// RowTuple carries a SparseTuple entry: UInt64 holds the running sum,
	// TupleCount the trigger count. Whether the collaborator reports the
	// sum or the sum/count average is the Metric's ProfilingSemantics call,
	// not this package's.
	RowTuple
)

// Row is one (callpath, location) metric value, the unit spec.md §6's
// Output API item (b) streams to the collaborator.
type Row struct {
	Location   definitions.Handle
	Callpath   definitions.Handle
	Metric     definitions.Handle // Invalid marks the node's inclusive-time row.
	Kind       RowKind
	UInt64     uint64
	Double     float64
	TupleCount uint64
}

// CollectRows walks tree in depth-first order and appends one inclusive-time
// row plus one row per populated dense slot and sparse entry for every node
// that has already been assigned a callpath handle (postprocess.Run's
// AssignCallpathsOnMaster/MatchCallpathsOnWorkers steps must have already
// run; a node without a callpath handle is mid-tree bookkeeping — a
// parameter-folding or task-pointer node — never an output row). denseMetrics
// is the slot-order handle list a Core produced via DenseMetrics; it must be
// the same list that recorded metricValues into this tree's nodes.
func CollectRows(tree *calltree.Tree, location definitions.Handle, denseMetrics []definitions.Handle) []Row {
	var rows []Row
	tree.ForAll(tree.Root, func(n *calltree.Node) bool {
		if !n.HasCallpathHandle() {
			return true
		}
		cp := n.CallpathHandle()

		rows = append(rows, Row{
			Location: location,
			Callpath: cp,
			Metric:   definitions.Invalid,
			Kind:     RowUint64,
			UInt64:   n.Inclusive().Sum,
		})

		for i, metric := range denseMetrics {
			if i >= n.DenseLen() {
				break
			}
			rows = append(rows, Row{
				Location: location,
				Callpath: cp,
				Metric:   metric,
				Kind:     RowUint64,
				UInt64:   n.Dense(i).Sum,
			})
		}

		n.ForEachSparse(func(metric definitions.Handle, v calltree.SparseValue) {
			row := Row{Location: location, Callpath: cp, Metric: metric}
			switch v.Kind {
			case calltree.SparseDouble:
				row.Kind = RowDouble
				row.Double = v.Double
			case calltree.SparseTuple:
				row.Kind = RowTuple
				row.UInt64 = v.TupleSum
				row.TupleCount = v.TupleCount
			default:
				row.Kind = RowUint64
				row.UInt64 = v.UInt64
			}
			rows = append(rows, row)
		})
		return true
	})
	return rows
}
