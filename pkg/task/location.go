// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package task

import (
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

// State is one location's mutable runtime state: its call tree, its
// always-present implicit task, whichever task (implicit or explicit) is
// currently executing, and the migration counter. Exactly one goroutine —
// the one driving that location's events — may touch a State; the Event
// Core never locks it.
type State struct {
	Handle definitions.Handle
	Tree   *calltree.Tree

	ImplicitTask *Descriptor
	CurrentTask  *Descriptor

	// MigrationWin counts how many times a task resumed on this location
	// after last running somewhere else.
	MigrationWin uint64
}

// NewState creates a location's runtime state with a fresh implicit task
// rooted at the tree's thread-root.
func NewState(handle definitions.Handle) *State {
	tree := calltree.NewTree()
	implicit := NewDescriptor(ID{}, false, tree.Root)
	return &State{
		Handle:       handle,
		Tree:         tree,
		ImplicitTask: implicit,
		CurrentTask:  implicit,
	}
}

// IsRunningImplicit reports whether this location is currently executing
// its implicit task (no explicit task installed).
func (s *State) IsRunningImplicit() bool { return s.CurrentTask == s.ImplicitTask }
