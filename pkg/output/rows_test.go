// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package output_test

import (
	"testing"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *definitions.Catalog {
	t.Helper()
	total, page := uint32(64*1024), uint32(256)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	pm := alloc.CreateMiscPageManager(a)
	return definitions.NewCatalog(pm)
}

// TestCollectRowsSkipsNodesWithoutCallpath checks a node that never went
// through postprocess's callpath assignment contributes no rows, while a
// sibling that did contributes its inclusive, dense, and sparse rows.
func TestCollectRowsSkipsNodesWithoutCallpath(t *testing.T) {
	cat := newCatalog(t)
	loc := definitions.Handle{Type: definitions.KindLocation}
	metricA := definitions.Handle{Type: definitions.KindMetric, Movable: alloc.NewMovableForDecode(1, 0)}
	metricB := definitions.Handle{Type: definitions.KindMetric, Movable: alloc.NewMovableForDecode(1, 64)}

	tree := calltree.NewTree()
	withCallpath := tree.NewNode(calltree.KindRegion, calltree.Payload{})
	tree.AddChild(tree.Root, withCallpath)
	cp, _, err := cat.NewCallpath(definitions.Invalid, definitions.Invalid, nil)
	require.NoError(t, err)
	withCallpath.SetCallpathHandle(cp)
	withCallpath.Inclusive().Sum = 42
	withCallpath.Dense(0).Sum = 7
	withCallpath.TriggerSparse(metricA, calltree.SparseDouble, definitions.MetricModeAbsolute, 0, 3.5)

	withoutCallpath := tree.NewNode(calltree.KindRegion, calltree.Payload{})
	tree.AddChild(tree.Root, withoutCallpath)
	withoutCallpath.Inclusive().Sum = 99

	rows := output.CollectRows(tree, loc, []definitions.Handle{metricB})

	for _, r := range rows {
		assert.Equal(t, cp, r.Callpath, "every row must belong to the node that was assigned a callpath")
		assert.Equal(t, loc, r.Location)
	}

	var gotInclusive, gotDense, gotSparse bool
	for _, r := range rows {
		switch {
		case r.Metric == definitions.Invalid:
			gotInclusive = true
			assert.Equal(t, uint64(42), r.UInt64)
		case r.Metric == metricB:
			gotDense = true
			assert.Equal(t, uint64(7), r.UInt64)
		case r.Metric == metricA:
			gotSparse = true
			assert.Equal(t, output.RowDouble, r.Kind)
			assert.InDelta(t, 3.5, r.Double, 1e-9)
		}
	}
	assert.True(t, gotInclusive)
	assert.True(t, gotDense)
	assert.True(t, gotSparse)
	assert.Len(t, rows, 3)
}

// TestCollectRowsTupleAssemblesSumAndCount checks a SparseTuple entry
// carries its running sum and trigger count through unassembled, leaving
// the sum/count-vs-average decision to the collaborator.
func TestCollectRowsTupleAssemblesSumAndCount(t *testing.T) {
	cat := newCatalog(t)
	tree := calltree.NewTree()
	n := tree.NewNode(calltree.KindRegion, calltree.Payload{})
	tree.AddChild(tree.Root, n)
	cp, _, err := cat.NewCallpath(definitions.Invalid, definitions.Invalid, nil)
	require.NoError(t, err)
	n.SetCallpathHandle(cp)

	metric := definitions.Handle{Type: definitions.KindMetric, Movable: alloc.NewMovableForDecode(1, 0)}
	n.TriggerSparse(metric, calltree.SparseTuple, definitions.MetricModeAccumulated, 10, 0)
	n.TriggerSparse(metric, calltree.SparseTuple, definitions.MetricModeAccumulated, 20, 0)

	rows := output.CollectRows(tree, definitions.Invalid, nil)
	require.Len(t, rows, 2) // inclusive + the one sparse tuple entry

	var tuple output.Row
	for _, r := range rows {
		if r.Metric == metric {
			tuple = r
		}
	}
	assert.Equal(t, output.RowTuple, tuple.Kind)
	assert.Equal(t, uint64(30), tuple.UInt64)
	assert.Equal(t, uint64(2), tuple.TupleCount)
}
