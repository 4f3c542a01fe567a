// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

func TestSnapshotNodeReportsRegionNameAndCounts(t *testing.T) {
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	catalog := definitions.NewCatalog(alloc.CreateMiscPageManager(a))

	region := mustRegion(logr.Discard(), catalog, "outer")

	tree := calltree.NewTree()
	child := tree.NewNode(calltree.KindRegion, calltree.Payload{Region: region})
	tree.AddChild(tree.Root, child)
	child.IncCount()
	child.Inclusive().Sum = 42

	snap := snapshotNode(catalog, tree.Root)
	require.Len(t, snap.Children, 1)
	require.Equal(t, "outer", snap.Children[0].Region)
	require.Equal(t, uint64(1), snap.Children[0].Count)
	require.Equal(t, uint64(42), snap.Children[0].Inclusive)
}
