// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package postprocess_test

import (
	"testing"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/postprocess"
	"github.com/parascope/runtime/pkg/task"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *definitions.Catalog {
	t.Helper()
	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	return definitions.NewCatalog(alloc.CreateMiscPageManager(a))
}

func newRegion(t *testing.T, catalog *definitions.Catalog, name string, role definitions.RegionRole) definitions.Handle {
	t.Helper()
	n, _, err := catalog.NewString(name)
	require.NoError(t, err)
	r, _, err := catalog.NewRegion(n, definitions.Invalid, 0, 0, definitions.ParadigmUser, role)
	require.NoError(t, err)
	return r
}

func addRegionChild(tree *calltree.Tree, parent *calltree.Node, region definitions.Handle) *calltree.Node {
	child, _ := tree.FindOrCreateChild(parent, calltree.KindRegion, calltree.Payload{Region: region}, 0)
	return child
}

func TestExpandThreadsReparentsUnderCreationSite(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	region := newRegion(t, catalog, "main_loop", definitions.RegionRoleFunction)
	creationSite := addRegionChild(tree, tree.Root, region)

	// Simulate a worker thread's root node, forked from creationSite, spliced
	// in as a child of tree's root the way adapter wiring would place it.
	workerRoot := tree.NewNode(calltree.KindThreadStart, calltree.Payload{ForkNode: creationSite})
	tree.AddChild(tree.Root, workerRoot)
	work := addRegionChild(tree, workerRoot, newRegion(t, catalog, "worker_body", definitions.RegionRoleFunction))
	work.Inclusive().Sum = 5

	require.NoError(t, postprocess.ExpandThreads(tree))

	// workerRoot is gone; its child now hangs off creationSite.
	found := false
	tree.ForAll(creationSite, func(n *calltree.Node) bool {
		if n == work {
			found = true
		}
		return true
	})
	require.True(t, found, "worker_body must be re-parented under its creation site")

	for c := tree.Root.FirstChild(); c != nil; c = c.NextSibling() {
		require.NotEqual(t, calltree.KindThreadStart, c.Kind(), "thread-start node must be removed")
	}
}

func TestExpandThreadsFallsBackToRootWithNoCreationSite(t *testing.T) {
	tree := calltree.NewTree()
	orphan := tree.NewNode(calltree.KindThreadStart, calltree.Payload{})
	tree.AddChild(tree.Root, orphan)
	catalog := newTestCatalog(t)
	work := addRegionChild(tree, orphan, newRegion(t, catalog, "body", definitions.RegionRoleFunction))

	require.NoError(t, postprocess.ExpandThreads(tree))

	require.Same(t, tree.Root, work.Parent())
}

func TestRestructureTasksGroupsUnderArtificialNode(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)

	task1 := tree.NewNode(calltree.KindTaskRoot, calltree.Payload{})
	tree.AddChild(tree.Root, task1)
	task1.Inclusive().Sum = 10

	task2 := tree.NewNode(calltree.KindTaskRoot, calltree.Payload{})
	tree.AddChild(tree.Root, task2)
	task2.Inclusive().Sum = 7

	other := addRegionChild(tree, tree.Root, newRegion(t, catalog, "not_a_task", definitions.RegionRoleFunction))

	require.NoError(t, postprocess.RestructureTasks(tree, catalog))

	// The grouping node is appended after the remaining top-level children.
	group := tree.Root.FirstChild().NextSibling()
	require.Equal(t, calltree.KindCollapse, group.Kind())
	require.Equal(t, uint64(17), group.Inclusive().Sum)

	var childCount int
	for c := group.FirstChild(); c != nil; c = c.NextSibling() {
		childCount++
	}
	require.Equal(t, 2, childCount)
	require.Same(t, other, tree.Root.FirstChild(), "non-task sibling is untouched and stays outside the group")
}

func TestRestructureTasksIsNoopWithNoTasks(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	addRegionChild(tree, tree.Root, newRegion(t, catalog, "plain", definitions.RegionRoleFunction))

	require.NoError(t, postprocess.RestructureTasks(tree, catalog))

	require.Equal(t, calltree.KindRegion, tree.Root.FirstChild().Kind())
}

func newParamInt(tree *calltree.Tree, parent *calltree.Node, param definitions.Handle, value int64) *calltree.Node {
	n := tree.NewNode(calltree.KindParameterInt, calltree.Payload{Parameter: param, ParamInt: value})
	tree.AddChild(parent, n)
	return n
}

func TestFoldParametersCollapsesChainAndReparentsChildren(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	region := addRegionChild(tree, tree.Root, newRegion(t, catalog, "f", definitions.RegionRoleFunction))

	pName, _, err := catalog.NewString("n")
	require.NoError(t, err)
	param, _, err := catalog.NewParameter(pName, definitions.ParameterInt64)
	require.NoError(t, err)

	p1 := newParamInt(tree, region, param, 1)
	grandchild := addRegionChild(tree, p1, newRegion(t, catalog, "inner", definitions.RegionRoleFunction))
	grandchild.Inclusive().Sum = 99

	require.NoError(t, postprocess.FoldParameters(tree, catalog))

	require.Len(t, region.Parameters(), 1)
	require.Equal(t, int64(1), region.Parameters()[0].IntValue)
	require.Same(t, region, grandchild.Parent())
}

func TestFoldParametersRewritesInstanceParameterInPlace(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	region := addRegionChild(tree, tree.Root, newRegion(t, catalog, "loop_body", definitions.RegionRoleFunction))

	instName, _, err := catalog.NewString("instance")
	require.NoError(t, err)
	instParam, _, err := catalog.NewParameter(instName, definitions.ParameterInt64)
	require.NoError(t, err)

	instNode := newParamInt(tree, region, instParam, 3)
	grandchild := addRegionChild(tree, instNode, newRegion(t, catalog, "body", definitions.RegionRoleFunction))
	grandchild.Inclusive().Sum = 12

	require.NoError(t, postprocess.FoldParameters(tree, catalog))

	// instNode remains parented under region but is now a region node whose
	// name encodes the instance value.
	require.Same(t, region, instNode.Parent())
	require.Equal(t, calltree.KindRegion, instNode.Kind())
	def, err := catalog.Regions.Deref(instNode.Payload().Region)
	require.NoError(t, err)
	name, err := catalog.String(def.Name)
	require.NoError(t, err)
	require.Equal(t, "loop_body[3]", name)

	// grandchild was left in place under instNode, not spliced away.
	require.Same(t, instNode, grandchild.Parent())
}

func TestAssignAndMatchCallpaths(t *testing.T) {
	catalog := newTestCatalog(t)
	master := calltree.NewTree()
	worker := calltree.NewTree()

	regionA := newRegion(t, catalog, "a", definitions.RegionRoleFunction)
	regionB := newRegion(t, catalog, "b", definitions.RegionRoleFunction)

	masterA := addRegionChild(master, master.Root, regionA)
	addRegionChild(master, masterA, regionB)

	// worker only ever entered "a", never "b".
	addRegionChild(worker, worker.Root, regionA)

	require.NoError(t, postprocess.AssignCallpathsOnMaster(master, catalog))
	require.True(t, master.Root.HasCallpathHandle())
	require.True(t, masterA.HasCallpathHandle())

	require.NoError(t, postprocess.MatchCallpathsOnWorkers(worker, master, catalog))
	workerA := worker.Root.FirstChild()
	require.Equal(t, masterA.CallpathHandle(), workerA.CallpathHandle())
}

func TestMatchCallpathsCreatesZeroMetricNodeOnMaster(t *testing.T) {
	catalog := newTestCatalog(t)
	master := calltree.NewTree()
	worker := calltree.NewTree()

	regionA := newRegion(t, catalog, "a", definitions.RegionRoleFunction)
	regionOnlyOnWorker := newRegion(t, catalog, "only_worker", definitions.RegionRoleFunction)

	addRegionChild(master, master.Root, regionA)

	workerA := addRegionChild(worker, worker.Root, regionA)
	workerOnly := addRegionChild(worker, workerA, regionOnlyOnWorker)
	workerOnly.Inclusive().Sum = 42

	require.NoError(t, postprocess.AssignCallpathsOnMaster(master, catalog))
	require.NoError(t, postprocess.MatchCallpathsOnWorkers(worker, master, catalog))

	masterA := master.Root.FirstChild()
	masterOnly := masterA.FirstChild()
	require.NotNil(t, masterOnly)
	require.Equal(t, uint64(0), masterOnly.Inclusive().Sum, "master's newly created node carries no metrics from worker")
	require.Equal(t, workerOnly.CallpathHandle(), masterOnly.CallpathHandle())
}

func TestClusterKeyThreadsMergesAllButFastestSlowestAndFirst(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	region := newRegion(t, catalog, "team_region", definitions.RegionRoleFunction)

	sums := []uint64{10, 50, 5, 20, 30}
	var members []*calltree.Node
	for _, s := range sums {
		n := tree.NewNode(calltree.KindRegion, calltree.Payload{Region: region})
		tree.AddChild(tree.Root, n)
		n.Inclusive().Sum = s
		members = append(members, n)
	}

	require.NoError(t, postprocess.ClusterKeyThreads(tree, catalog))

	var survivors []*calltree.Node
	for c := tree.Root.FirstChild(); c != nil; c = c.NextSibling() {
		survivors = append(survivors, c)
	}
	// master (members[0], sum 10), fastest (sum 5), slowest (sum 50) kept
	// untouched, plus one aggregated node for the remaining two (20, 30).
	require.Len(t, survivors, 4)

	var aggregate *calltree.Node
	for _, s := range survivors {
		if s != members[0] && s != members[1] && s != members[2] {
			aggregate = s
		}
	}
	require.NotNil(t, aggregate)
	require.Equal(t, uint64(50), aggregate.Inclusive().Sum, "20+30 merged")
}

func TestClusterKeyThreadsLeavesSmallGroupsAlone(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	region := newRegion(t, catalog, "pair_region", definitions.RegionRoleFunction)

	n1 := tree.NewNode(calltree.KindRegion, calltree.Payload{Region: region})
	tree.AddChild(tree.Root, n1)
	n2 := tree.NewNode(calltree.KindRegion, calltree.Payload{Region: region})
	tree.AddChild(tree.Root, n2)

	require.NoError(t, postprocess.ClusterKeyThreads(tree, catalog))

	var count int
	for c := tree.Root.FirstChild(); c != nil; c = c.NextSibling() {
		count++
	}
	require.Equal(t, 2, count, "fewer than three members is left untouched")
}

// buildKeyThreadScenario returns two locations: master has a five-member
// key-thread team under its root (exercising step 6's merge), worker has a
// smaller team of the same region (exercising steps 4-5's master/worker
// match against a node master didn't independently cluster the same way).
func buildKeyThreadScenario(t *testing.T, catalog *definitions.Catalog) []*task.State {
	t.Helper()
	region := newRegion(t, catalog, "team_region", definitions.RegionRoleFunction)

	master := task.NewState(definitions.Invalid)
	for _, s := range []uint64{10, 50, 5, 20, 30} {
		n := master.Tree.NewNode(calltree.KindRegion, calltree.Payload{Region: region})
		master.Tree.AddChild(master.Tree.Root, n)
		n.Inclusive().Sum = s
	}

	worker := task.NewState(definitions.Invalid)
	for _, s := range []uint64{1, 2} {
		n := worker.Tree.NewNode(calltree.KindRegion, calltree.Payload{Region: region})
		worker.Tree.AddChild(worker.Tree.Root, n)
		n.Inclusive().Sum = s
	}

	return []*task.State{master, worker}
}

func rootChildren(n *calltree.Node) []*calltree.Node {
	var out []*calltree.Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, c)
	}
	return out
}

func TestRunAssignsCallpathsToEveryNodeIncludingAggregatedKeyThread(t *testing.T) {
	catalog := newTestCatalog(t)
	locations := buildKeyThreadScenario(t, catalog)

	require.NoError(t, postprocess.Run(locations, 0, catalog, postprocess.Options{}))

	survivors := rootChildren(locations[0].Tree.Root)
	require.Len(t, survivors, 4, "master, fastest, slowest, and one aggregated node")

	var sawAggregate bool
	for _, s := range survivors {
		require.True(t, s.HasCallpathHandle(), "every surviving node must have a callpath assigned")
		if s.Kind() == calltree.KindKeyThreadAggregate {
			sawAggregate = true
		}
	}
	require.True(t, sawAggregate, "the merged node must still be reachable and tagged as an aggregate")
}

func TestRunIsIdempotentAfterStepFour(t *testing.T) {
	catalog := newTestCatalog(t)
	locations := buildKeyThreadScenario(t, catalog)

	require.NoError(t, postprocess.Run(locations, 0, catalog, postprocess.Options{}))

	type snapshot struct {
		kind     calltree.NodeKind
		region   definitions.Handle
		sum      uint64
		callpath definitions.Handle
	}
	snapshotOf := func(n *calltree.Node) snapshot {
		return snapshot{kind: n.Kind(), region: n.Payload().Region, sum: n.Inclusive().Sum, callpath: n.CallpathHandle()}
	}

	before := make(map[*calltree.Node]snapshot)
	var beforeOrder []*calltree.Node
	for _, n := range rootChildren(locations[0].Tree.Root) {
		before[n] = snapshotOf(n)
		beforeOrder = append(beforeOrder, n)
	}

	require.NoError(t, postprocess.Run(locations, 0, catalog, postprocess.Options{}))

	after := rootChildren(locations[0].Tree.Root)
	require.Equal(t, beforeOrder, after, "a second Run must not merge, remove, or add any root children")
	for _, n := range after {
		require.Equal(t, before[n], snapshotOf(n), "a second Run must not change an already-clustered node's metrics or callpath")
	}
}

func TestConvertTaskMetricsMovesCountToSparseMetric(t *testing.T) {
	tree := calltree.NewTree()
	catalog := newTestCatalog(t)
	taskRegion := newRegion(t, catalog, "my_task", definitions.RegionRoleTask)
	node := addRegionChild(tree, tree.Root, taskRegion)
	node.IncCount()
	node.IncCount()
	node.IncCount()

	plainRegion := newRegion(t, catalog, "plain", definitions.RegionRoleFunction)
	plainNode := addRegionChild(tree, tree.Root, plainRegion)
	plainNode.IncCount()

	require.NoError(t, postprocess.ConvertTaskMetrics(tree, catalog))

	require.Equal(t, uint64(0), node.Count())
	var found bool
	node.ForEachSparse(func(h definitions.Handle, v calltree.SparseValue) {
		found = true
		require.Equal(t, uint64(3), v.UInt64)
	})
	require.True(t, found, "number_of_switches must be recorded")

	require.Equal(t, uint64(1), plainNode.Count(), "non-task region counts are left untouched")
}
