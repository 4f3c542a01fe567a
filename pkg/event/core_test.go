// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package event_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/errors"
	"github.com/parascope/runtime/pkg/event"
	"github.com/parascope/runtime/pkg/task"
	"github.com/stretchr/testify/require"
)

// newTestCore builds a Core backed by a fresh in-memory catalog, plus one
// registered location, for event-path tests.
func newTestCore(t *testing.T) (*event.Core, *task.State) {
	t.Helper()
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	pm := alloc.CreateMiscPageManager(a)
	catalog := definitions.NewCatalog(pm)

	core, err := event.NewCore(catalog, logr.Discard())
	require.NoError(t, err)

	name, _, err := catalog.NewString("node0:0")
	require.NoError(t, err)
	locHandle, _, err := catalog.NewLocation(name, definitions.LocationCPUThread, definitions.Invalid, 0)
	require.NoError(t, err)

	return core, core.RegisterLocation(locHandle)
}

func newTestRegion(t *testing.T, core *event.Core, catalog *definitions.Catalog, name string) definitions.Handle {
	t.Helper()
	n, _, err := catalog.NewString(name)
	require.NoError(t, err)
	r, _, err := catalog.NewRegion(n, definitions.Invalid, 0, 0, definitions.ParadigmUser, definitions.RegionRoleFunction)
	require.NoError(t, err)
	return r
}

// TestRegisterDenseMetricIsIdempotentAndOrdered checks repeat registration
// of the same metric returns its original slot, and DenseMetrics reports
// the handles in the order they were first registered — the order
// CollectRows in pkg/output relies on to zip against Node.Dense(i).
func TestRegisterDenseMetricIsIdempotentAndOrdered(t *testing.T) {
	core, _ := newTestCore(t)
	a := definitions.Handle{Type: definitions.KindMetric, Movable: alloc.NewMovableForDecode(1, 0)}
	b := definitions.Handle{Type: definitions.KindMetric, Movable: alloc.NewMovableForDecode(1, 64)}

	require.Equal(t, 0, core.RegisterDenseMetric(a))
	require.Equal(t, 1, core.RegisterDenseMetric(b))
	require.Equal(t, 0, core.RegisterDenseMetric(a), "re-registering must return the original slot")

	require.Equal(t, []definitions.Handle{a, b}, core.DenseMetrics())
}

func TestEnterExitAccumulatesInclusiveAndDense(t *testing.T) {
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	pm := alloc.CreateMiscPageManager(a)
	catalog := definitions.NewCatalog(pm)
	core, err := event.NewCore(catalog, logr.Discard())
	require.NoError(t, err)

	name, _, err := catalog.NewString("node0:0")
	require.NoError(t, err)
	locHandle, _, err := catalog.NewLocation(name, definitions.LocationCPUThread, definitions.Invalid, 0)
	require.NoError(t, err)
	loc := core.RegisterLocation(locHandle)

	region := newTestRegion(t, core, catalog, "foo")

	require.NoError(t, core.Enter(loc, region, 100, []uint64{10}))
	require.NoError(t, core.Exit(loc, region, 150, []uint64{40}))

	node := loc.ImplicitTask.CurrentNode
	require.NotNil(t, node)
	require.Equal(t, node, loc.Tree.Root, "cursor returns to the thread root after a matching exit")

	child := loc.Tree.Root.FirstChild()
	require.NotNil(t, child)
	require.Equal(t, uint64(50), child.Inclusive().Sum)
	require.Equal(t, uint64(30), child.Dense(0).Sum)
	require.Equal(t, uint64(1), child.Count())
}

func TestExitMismatchIsFatal(t *testing.T) {
	core, loc := newTestCore(t)
	catalog := definitions.NewCatalog(alloc.CreateMiscPageManager(mustAllocator(t)))
	region1 := newTestRegion(t, core, catalog, "a")
	region2 := newTestRegion(t, core, catalog, "b")

	require.NoError(t, core.Enter(loc, region1, 0, nil))
	err := core.Exit(loc, region2, 1, nil)
	require.Error(t, err)
	require.True(t, errors.IsFatal(err))
}

func mustAllocator(t *testing.T) *alloc.Allocator {
	t.Helper()
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	return a
}

func TestNestedEnterExitPropagatesToAncestors(t *testing.T) {
	core, loc := newTestCore(t)
	catalog := definitions.NewCatalog(alloc.CreateMiscPageManager(mustAllocator(t)))
	outer := newTestRegion(t, core, catalog, "outer")
	inner := newTestRegion(t, core, catalog, "inner")

	require.NoError(t, core.Enter(loc, outer, 0, nil))
	require.NoError(t, core.Enter(loc, inner, 10, nil))
	require.NoError(t, core.Exit(loc, inner, 15, nil))
	require.NoError(t, core.Exit(loc, outer, 30, nil))

	outerNode := loc.Tree.Root.FirstChild()
	require.Equal(t, uint64(30), outerNode.Inclusive().Sum)
	innerNode := outerNode.FirstChild()
	require.Equal(t, uint64(5), innerNode.Inclusive().Sum)
}

func TestParameterPseudoEnterIsFoldedUnderCurrentNode(t *testing.T) {
	core, loc := newTestCore(t)
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	pm := alloc.CreateMiscPageManager(a)
	catalog := definitions.NewCatalog(pm)

	region := newTestRegion(t, core, catalog, "region")
	paramName, _, err := catalog.NewString("n")
	require.NoError(t, err)
	param, _, err := catalog.NewParameter(paramName, definitions.ParameterInt64)
	require.NoError(t, err)

	require.NoError(t, core.Enter(loc, region, 0, nil))
	core.ParameterInt64(loc, param, 42, 1)

	paramNode := loc.Tree.Root.FirstChild().FirstChild()
	require.NotNil(t, paramNode)
	require.Equal(t, int64(42), paramNode.Payload().ParamInt)
	require.Same(t, paramNode, loc.CurrentTask.CurrentNode)
}

func TestTaskLifecycleAndMigrationCounter(t *testing.T) {
	core, locA := newTestCore(t)
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	pm := alloc.CreateMiscPageManager(a)
	catalog := definitions.NewCatalog(pm)

	nameB, _, err := catalog.NewString("node0:1")
	require.NoError(t, err)
	locHandleB, _, err := catalog.NewLocation(nameB, definitions.LocationCPUThread, definitions.Invalid, 1)
	require.NoError(t, err)
	locB := core.RegisterLocation(locHandleB)

	td := core.TaskCreate(locA, 1, 0, true) // untied
	require.NoError(t, core.TaskSwitchStart(locA, td, 0, nil))
	require.Error(t, core.TaskSwitchStart(locA, td, 5, nil), "a second task_switch_start must be fatal")

	region := newTestRegion(t, core, catalog, "work")
	require.NoError(t, core.Enter(locA, region, 1, nil))

	// Suspend on locA by switching back to the implicit task, then resume
	// the untied task on locB: this must bump locB's migration counter and
	// must not disturb locA's own implicit-task cursor.
	require.NoError(t, core.TaskSwitch(locA, locA.ImplicitTask, 20, nil))
	require.NoError(t, core.TaskSwitch(locB, td, 21, nil))

	require.Equal(t, uint64(1), locB.MigrationWin)
	require.Equal(t, uint64(0), locA.MigrationWin)
	require.Same(t, td, locB.CurrentTask)

	require.NoError(t, core.TaskComplete(td))
	require.Error(t, core.TaskComplete(td), "a second task_complete must be fatal")
}

func TestTiedTaskCannotCarryMigrationCopy(t *testing.T) {
	core, loc := newTestCore(t)
	td := core.TaskCreate(loc, 7, 0, false) // tied
	require.NoError(t, core.TaskSwitchStart(loc, td, 0, nil))
	require.NoError(t, core.TaskSwitch(loc, loc.ImplicitTask, 10, nil))
	require.Nil(t, td.PendingHandoff, "tied tasks never produce a migration copy")
}
