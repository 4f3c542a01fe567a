// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package event implements the Event Core: the adapter-facing operations
// that drive each location's Task State and Call-Tree Store in response to
// enter/exit/trigger_metric/parameter/task-lifecycle events. Every
// operation here executes on the location's own thread and never blocks.
package event

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
	runtimeerrors "github.com/parascope/runtime/pkg/errors"
	"github.com/parascope/runtime/pkg/task"
)

// Core drives the event path for every location in one process. It holds
// the process-wide Definition Catalog (for looking up region/parameter
// metadata referenced by handle) and one task.State per location.
//
// Core's own bookkeeping (the locations map, the dense-metric registry and
// the communication caches and buffers) is protected by a mutex because locations can be
// registered concurrently with other locations' event processing; every
// other operation here touches only the caller's own task.State and is not
// synchronized, matching spec.md §5's "each Location... accessed only by
// that thread" rule.
type Core struct {
	mu          sync.Mutex
	catalog     *definitions.Catalog
	locations   map[definitions.Handle]*task.State
	taskRegion  definitions.Handle
	commCache   map[string]*definitions.Handle
	commBuffers map[definitions.Handle]*Buffer
	denseIndex  map[definitions.Handle]int
	denseOrder  []definitions.Handle
	log         logr.Logger
}

// NewCore creates an Event Core backed by catalog. A pseudo "task" region is
// registered up front for the task-pointer accounting nodes entered by
// task_switch_start/task_switch.
func NewCore(catalog *definitions.Catalog, log logr.Logger) (*Core, error) {
	name, _, err := catalog.NewString("task")
	if err != nil {
		return nil, runtimeerrors.WrapFatal(err)
	}
	region, _, err := catalog.NewRegion(name, definitions.Invalid, 0, 0, definitions.ParadigmUser, definitions.RegionRoleTask)
	if err != nil {
		return nil, runtimeerrors.WrapFatal(err)
	}
	return &Core{
		catalog:     catalog,
		locations:   make(map[definitions.Handle]*task.State),
		taskRegion:  region,
		commCache:   make(map[string]*definitions.Handle),
		commBuffers: make(map[definitions.Handle]*Buffer),
		denseIndex:  make(map[definitions.Handle]int),
		log:         log.WithName("event"),
	}, nil
}

// RegisterDenseMetric assigns metric the next free dense-accumulator slot,
// or returns its existing slot if it was already registered. The adapter
// must register every strictly-synchronous metric once, before delivering
// any event, in the same order it will later fill metric_values — that
// order is exactly what Node.Dense(idx) indexes by, and is otherwise
// unrecoverable from a slot index alone (spec.md §6's "metric_values has
// exactly the number of slots declared for strictly-synchronous metrics").
func (c *Core) RegisterDenseMetric(metric definitions.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.denseIndex[metric]; ok {
		return idx
	}
	idx := len(c.denseOrder)
	c.denseIndex[metric] = idx
	c.denseOrder = append(c.denseOrder, metric)
	return idx
}

// DenseMetrics returns the strictly-synchronous metric handles in slot
// order, suitable for zipping against calltree.Node.Dense(i) by index when
// assembling output rows.
func (c *Core) DenseMetrics() []definitions.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]definitions.Handle, len(c.denseOrder))
	copy(out, c.denseOrder)
	return out
}

// RegisterLocation creates runtime state for a newly-created Location
// definition. It must be called once, before any event is delivered for
// that location.
func (c *Core) RegisterLocation(handle definitions.Handle) *task.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := task.NewState(handle)
	c.locations[handle] = st
	return st
}

// Location returns the runtime state for handle, or nil if it was never
// registered.
func (c *Core) Location(handle definitions.Handle) *task.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locations[handle]
}

func fatalf(format string, args ...any) error {
	return runtimeerrors.NewFatal(fmt.Sprintf(format, args...))
}

// Enter locates or creates the region child of the current task's cursor,
// pushes it, and records dense-metric start values.
func (c *Core) Enter(loc *task.State, region definitions.Handle, t uint64, metricValues []uint64) error {
	td := loc.CurrentTask
	node, created := loc.Tree.FindOrCreateChild(td.CurrentNode, calltree.KindRegion, calltree.Payload{Region: region}, t)
	if created {
		node.SetFirstEnterTimeIfUnset(t)
	}
	node.IncCount()
	node.Inclusive().StartValue = t
	for i, v := range metricValues {
		d := node.Dense(i)
		d.StartValue = v
	}
	td.CurrentNode = node
	td.Depth++
	return nil
}

// Exit pops to the matching region node, folding elapsed time into its
// dense accumulators and propagating the inclusive delta to every ancestor.
// Exiting a region that is not the top of the current task's stack is a
// fatal inconsistency.
func (c *Core) Exit(loc *task.State, region definitions.Handle, t uint64, metricValues []uint64) error {
	td := loc.CurrentTask
	node := td.CurrentNode
	if node.Kind() != calltree.KindRegion || node.Payload().Region != region {
		return fatalf("event: exit(%s) does not match top of stack on location %s", region, loc.Handle)
	}

	delta := t - node.Inclusive().StartValue
	node.Inclusive().Sum += delta
	for i, v := range metricValues {
		d := node.Dense(i)
		d.Sum += v - d.StartValue
	}

	for anc := node.Parent(); anc != nil; anc = anc.Parent() {
		anc.Inclusive().Sum += delta
	}

	td.CurrentNode = node.Parent()
	td.Depth--
	return nil
}

// TriggerMetricInt64 appends/updates a sparse entry on the current task's
// cursor node.
func (c *Core) TriggerMetricInt64(loc *task.State, metric definitions.Handle, mode definitions.MetricMode, value int64) {
	loc.CurrentTask.CurrentNode.TriggerSparse(metric, calltree.SparseUint64, mode, uint64(value), 0)
}

// TriggerMetricDouble appends/updates a sparse entry on the current task's
// cursor node.
func (c *Core) TriggerMetricDouble(loc *task.State, metric definitions.Handle, mode definitions.MetricMode, value float64) {
	loc.CurrentTask.CurrentNode.TriggerSparse(metric, calltree.SparseDouble, mode, 0, value)
}

// ParameterInt64 is a pseudo-enter: finds or creates an int-valued
// parameter child and leaves the cursor there until the enclosing region
// exits, at which point post-processing folds the chain (spec.md §4.6
// step 3).
func (c *Core) ParameterInt64(loc *task.State, param definitions.Handle, value int64, t uint64) {
	td := loc.CurrentTask
	node, _ := loc.Tree.FindOrCreateChild(td.CurrentNode, calltree.KindParameterInt,
		calltree.Payload{Parameter: param, ParamInt: value}, t)
	td.CurrentNode = node
}

// ParameterString is the string-valued counterpart of ParameterInt64.
func (c *Core) ParameterString(loc *task.State, param definitions.Handle, value definitions.Handle, t uint64) {
	td := loc.CurrentTask
	node, _ := loc.Tree.FindOrCreateChild(td.CurrentNode, calltree.KindParameterString,
		calltree.Payload{Parameter: param, ParamStr: value}, t)
	td.CurrentNode = node
}

// TaskCreate allocates a task descriptor marked migratable per its
// paradigm's tied/untied convention. The task is not yet placed in any
// tree; task_switch_start does that on first execution.
func (c *Core) TaskCreate(loc *task.State, taskID, generation uint64, untied bool) *task.Descriptor {
	root := loc.Tree.NewNode(calltree.KindTaskRoot, calltree.Payload{})
	return task.NewDescriptor(task.ID{TaskID: taskID, Generation: generation}, untied, root)
}

// TaskSwitchStart is called the first time a task descriptor starts
// executing. See spec.md §4.4 for the five-step algorithm this implements.
func (c *Core) TaskSwitchStart(loc *task.State, td *task.Descriptor, t uint64, metricValues []uint64) error {
	if n := td.MarkSwitchStart(); n != 1 {
		return fatalf("event: task %v observed %d task_switch_start events, want exactly 1", td.ID, n)
	}
	return c.switchTo(loc, td, t, metricValues)
}

// TaskSwitch resumes a previously-suspended task, incrementing the host
// location's migration counter if it last ran elsewhere.
func (c *Core) TaskSwitch(loc *task.State, td *task.Descriptor, t uint64, metricValues []uint64) error {
	return c.switchTo(loc, td, t, metricValues)
}

func (c *Core) switchTo(loc *task.State, newTask *task.Descriptor, t uint64, metricValues []uint64) error {
	old := loc.CurrentTask
	if old != loc.ImplicitTask {
		c.suspend(loc, old, t, metricValues)
	}

	if newTask.HasLastLocation() && newTask.LastLocation != loc.Handle {
		loc.MigrationWin++
	}

	if newTask.PendingHandoff != nil {
		loc.Tree.AddChild(loc.Tree.Root, newTask.PendingHandoff)
		newTask.PendingHandoff = nil
	}

	loc.CurrentTask = newTask
	newTask.SetLastLocation(loc.Handle)

	for n := newTask.CurrentNode; n != nil; n = n.Parent() {
		n.Inclusive().StartValue = t
		for i, v := range metricValues {
			n.Dense(i).StartValue = v
		}
	}

	tp, _ := loc.Tree.FindOrCreateChild(loc.ImplicitTask.CurrentNode, calltree.KindRegion, calltree.Payload{Region: c.taskRegion}, t)
	tp.Inclusive().StartValue = t
	for i, v := range metricValues {
		tp.Dense(i).StartValue = v
	}
	newTask.TaskPointerNode = tp
	return nil
}

// suspend implements task_switch_start's step 1 on the outgoing task: exit
// its task-pointer region, fold dense metrics per the tied/untied rule, and
// for untied tasks copy its call chain up to the location root so it can
// legally resume elsewhere.
func (c *Core) suspend(loc *task.State, old *task.Descriptor, t uint64, metricValues []uint64) {
	tp := old.TaskPointerNode
	if tp != nil {
		delta := t - tp.Inclusive().StartValue
		tp.Inclusive().IntermediateSum += delta
		if old.CanMigrate {
			tp.Inclusive().Sum += delta
		}
		for i, v := range metricValues {
			d := tp.Dense(i)
			dd := v - d.StartValue
			d.IntermediateSum += dd
			if old.CanMigrate {
				d.Sum += dd
			}
		}
		old.TaskPointerNode = nil
	}

	if old.CanMigrate {
		c.copyChainForMigration(loc, old)
	}
}

// copyChainForMigration duplicates old's call chain from its current node
// up to its root, leaving the original chain attached to loc's tree (handed
// off via PendingHandoff to whichever location resumes the task next) and
// installing the fresh copy as the task's private cursor.
func (c *Core) copyChainForMigration(loc *task.State, old *task.Descriptor) {
	var chain []*calltree.Node
	for n := old.CurrentNode; n != nil; n = n.Parent() {
		chain = append(chain, n)
		if n == old.RootNode {
			break
		}
	}

	var copies []*calltree.Node
	for i := len(chain) - 1; i >= 0; i-- {
		cp := loc.Tree.CopyNode(chain[i])
		if len(copies) > 0 {
			loc.Tree.AddChild(copies[len(copies)-1], cp)
		}
		copies = append(copies, cp)
	}

	orphanRoot := old.RootNode
	old.RootNode = copies[0]
	old.CurrentNode = copies[len(copies)-1]
	old.PendingHandoff = orphanRoot
}

// TaskComplete releases td after its final exit event. Observing a second
// task_complete for the same descriptor is a fatal inconsistency.
func (c *Core) TaskComplete(td *task.Descriptor) error {
	if !td.MarkComplete() {
		return fatalf("event: task %v observed more than one task_complete", td.ID)
	}
	return nil
}

// SampleContext supplements enter/exit with the original's context-sampling
// use: it records a CallingContext chain (region, source location, parent)
// independent of the call tree, for sampled rather than fully instrumented
// call paths (SPEC_FULL.md's supplement to spec.md §3's data model).
func (c *Core) SampleContext(region, scl, parent definitions.Handle) (definitions.Handle, error) {
	h, _, err := c.catalog.NewCallingContext(region, scl, parent)
	if err != nil {
		return definitions.Invalid, runtimeerrors.WrapFatal(err)
	}
	return h, nil
}
