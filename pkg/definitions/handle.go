// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package definitions implements the Definition Catalog: typed, append-only
// sets of definition records allocated from the paged allocator, with
// per-type hash-based deduplication and a stable handle for every record.
package definitions

import (
	"fmt"

	"github.com/parascope/runtime/pkg/alloc"
)

// Kind tags which typed set a Handle belongs to, since one Catalog hosts
// many record types out of a shared page manager.
type Kind uint8

const (
	KindString Kind = iota
	KindSystemTreeNode
	KindLocationGroup
	KindLocation
	KindRegion
	KindMetric
	KindGroup
	KindCommunicator
	KindInterimCommunicator
	KindCallpath
	KindParameter
	KindRmaWindow
	KindInterruptGenerator
	KindSourceCodeLocation
	KindCallingContext
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindSystemTreeNode:
		return "SystemTreeNode"
	case KindLocationGroup:
		return "LocationGroup"
	case KindLocation:
		return "Location"
	case KindRegion:
		return "Region"
	case KindMetric:
		return "Metric"
	case KindGroup:
		return "Group"
	case KindCommunicator:
		return "Communicator"
	case KindInterimCommunicator:
		return "InterimCommunicator"
	case KindCallpath:
		return "Callpath"
	case KindParameter:
		return "Parameter"
	case KindRmaWindow:
		return "RmaWindow"
	case KindInterruptGenerator:
		return "InterruptGenerator"
	case KindSourceCodeLocation:
		return "SourceCodeLocation"
	case KindCallingContext:
		return "CallingContext"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Handle identifies a single definition record within a Catalog. It pairs
// the record's type with the Movable that addresses its serialized bytes in
// the catalog's page manager, so dereferencing never has to guess which
// typed set owns a bare (page_id, offset) pair.
type Handle struct {
	Type    Kind
	Movable alloc.Movable
}

// Invalid is the sentinel Handle returned before a definition is unified and
// by failed lookups. It is not the zero Handle: Handle{} addresses page 0,
// offset 0 and reports IsValid true.
var Invalid = Handle{Movable: alloc.Invalid}

// IsValid reports whether h addresses a real record.
func (h Handle) IsValid() bool {
	return h.Movable.IsValid()
}

func (h Handle) String() string {
	if !h.IsValid() {
		return "definitions.Invalid"
	}
	return fmt.Sprintf("definitions.Handle{%s,%s}", h.Type, h.Movable)
}

// Header carries the three fields every definition record has regardless of
// type: its position in the per-type singly-linked list, its dense sequence
// number, and the unified back-reference written once by the unification
// engine.
type Header struct {
	SequenceNumber uint32
	Next           Handle
	Unified        Handle
}
