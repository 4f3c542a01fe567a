// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package task implements the Task State model: the implicit task every
// location always runs, and the explicit, possibly-migratable task
// descriptors created by task_create and placed into the tree by
// task_switch_start. The Event Core (pkg/event) drives these descriptors;
// this package only owns their shape and lifetime bookkeeping.
package task

import (
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

// ID identifies a task descriptor, assigned by the adapter at task_create
// time (paired with a generation counter to distinguish descriptor reuse).
type ID struct {
	TaskID     uint64
	Generation uint64
}

// Descriptor is one task's state, per spec.md §3's Task descriptor fields
// plus the bookkeeping the Event Core needs to implement tied/untied
// migration (TaskPointerNode, PendingHandoff) and the testable invariant
// that exactly one task_switch_start and one task_complete are observed per
// descriptor.
type Descriptor struct {
	ID ID

	// CanMigrate is true for untied tasks, false for tied tasks.
	CanMigrate bool

	Depth       int
	CurrentNode *calltree.Node
	RootNode    *calltree.Node

	// LastLocation is the location this task last ran on. It is meaningful
	// only when HasLastLocation reports true.
	LastLocation definitions.Handle
	hasLastLoc   bool

	// TaskPointerNode is the pseudo task-pointer region node currently
	// entered inside the host location's implicit-task cursor, open
	// between task_switch_start/task_switch and the next suspend.
	TaskPointerNode *calltree.Node

	// PendingHandoff is the original (pre-copy) root of an untied task's
	// call chain, left by a suspend-time migration copy for the next
	// resuming location to adopt (spec.md §4.4's untied dense-update rule).
	PendingHandoff *calltree.Node

	switchStartCount int
	complete         bool
}

// NewDescriptor allocates a task descriptor rooted at rootNode, not yet
// placed into any tree (task_create does not place the task, per spec.md
// §4.4).
func NewDescriptor(id ID, canMigrate bool, rootNode *calltree.Node) *Descriptor {
	return &Descriptor{ID: id, CanMigrate: canMigrate, RootNode: rootNode, CurrentNode: rootNode}
}

// SetLastLocation records loc as the location this task most recently ran
// on.
func (d *Descriptor) SetLastLocation(loc definitions.Handle) {
	d.LastLocation = loc
	d.hasLastLoc = true
}

// HasLastLocation reports whether the task has ever been placed on a
// location.
func (d *Descriptor) HasLastLocation() bool { return d.hasLastLoc }

// MarkSwitchStart increments the switch-start counter, returning the count
// observed so far (including this call). The Event Core uses this to
// enforce spec.md §8's "exactly one task_switch_start per descriptor"
// property.
func (d *Descriptor) MarkSwitchStart() int {
	d.switchStartCount++
	return d.switchStartCount
}

// SwitchStartCount reports how many task_switch_start events this
// descriptor has observed.
func (d *Descriptor) SwitchStartCount() int { return d.switchStartCount }

// MarkComplete marks the descriptor as released. Returns false if it was
// already complete, signaling a double task_complete (a fatal
// inconsistency at the core level).
func (d *Descriptor) MarkComplete() bool {
	if d.complete {
		return false
	}
	d.complete = true
	return true
}

// IsComplete reports whether task_complete has already been observed.
func (d *Descriptor) IsComplete() bool { return d.complete }
