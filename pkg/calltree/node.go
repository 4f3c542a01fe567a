// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package calltree implements the per-location Call-Tree Store: a tree of
// nodes holding dense (strictly-synchronous) and sparse (user-triggered)
// metric accumulators, mutated only by the location that owns it until
// post-processing repoints, merges, or relocates its subtrees.
package calltree

import "github.com/parascope/runtime/pkg/definitions"

// NodeKind classifies what a Node represents in the call tree.
type NodeKind uint8

const (
	KindThreadRoot NodeKind = iota
	KindThreadStart
	KindRegion
	KindParameterInt
	KindParameterString
	KindTaskRoot
	KindCollapse
	KindKeyThreadAggregate
)

// Payload is the type-specific data a Node carries. Which fields are
// meaningful depends on Kind: Region for KindRegion, Parameter(+value) for
// the two parameter kinds, ForkNode for KindThreadStart's creation-site
// back-pointer. ForkNode is a non-owning reference, never traversed as a
// child link.
type Payload struct {
	Region    definitions.Handle
	Parameter definitions.Handle
	ParamInt  int64
	ParamStr  definitions.Handle
	ForkNode  *Node
}

// Equal reports whether p and other are an exact match for the purposes of
// find_or_create_child, given both nodes share kind.
func (p Payload) Equal(kind NodeKind, other Payload) bool {
	switch kind {
	case KindRegion, KindKeyThreadAggregate:
		return p.Region == other.Region
	case KindParameterInt:
		return p.Parameter == other.Parameter && p.ParamInt == other.ParamInt
	case KindParameterString:
		return p.Parameter == other.Parameter && p.ParamStr == other.ParamStr
	case KindThreadStart:
		return p.ForkNode == other.ForkNode
	default:
		return true
	}
}

// Accumulator holds one dense metric slot's running values. start_value is
// recorded at enter; sum accumulates the flushed total; intermediate_sum
// carries the delta not yet folded into sum while a task-suspension window
// is open on this node's spine (spec.md §3, §4.4).
type Accumulator struct {
	StartValue      uint64
	IntermediateSum uint64
	Sum             uint64
}

// SparseValueKind tags the type carried by a SparseValue.
type SparseValueKind uint8

const (
	SparseDouble SparseValueKind = iota
	SparseUint64
	SparseTuple
)

// SparseValue is one (node, metric) sparse entry. Tuple values track both a
// running sum and a trigger count, used by metrics whose profiling
// semantics report an average.
type SparseValue struct {
	Kind       SparseValueKind
	Double     float64
	UInt64     uint64
	TupleSum   uint64
	TupleCount uint64
}

// Node is one call-tree node. Ownership is exclusively parent-to-child;
// Parent is a non-owning back-reference never walked for traversal.
type Node struct {
	kind    NodeKind
	payload Payload

	parent      *Node
	firstChild  *Node
	lastChild   *Node
	nextSibling *Node

	inclusive Accumulator
	dense     []Accumulator
	sparse    map[definitions.Handle]SparseValue

	count          uint64
	firstEnterTime uint64
	hasFirstEnter  bool

	callpath   definitions.Handle
	parameters []definitions.CallpathParameter
}

func (n *Node) Kind() NodeKind       { return n.kind }
func (n *Node) Payload() Payload     { return n.payload }

// SetRegion rewrites the region this node refers to, used by post-processing
// step 3 to retarget a dynamic-region "instance" parameter node onto a
// synthesized region whose name encodes the instance value (spec.md §4.6).
func (n *Node) SetRegion(region definitions.Handle) { n.payload.Region = region }

// SetKind reclassifies n, used by post-processing step 3 to turn a folded
// parameter node into an ordinary region node once its value has been
// absorbed into the enclosing region's synthesized name.
func (n *Node) SetKind(kind NodeKind) { n.kind = kind }
func (n *Node) Parent() *Node        { return n.parent }
func (n *Node) FirstChild() *Node    { return n.firstChild }
func (n *Node) NextSibling() *Node   { return n.nextSibling }
func (n *Node) Count() uint64        { return n.count }
func (n *Node) IncCount()            { n.count++ }
func (n *Node) ClearCount()          { n.count = 0 }

func (n *Node) FirstEnterTime() (uint64, bool) { return n.firstEnterTime, n.hasFirstEnter }

// SetFirstEnterTimeIfUnset records t as the node's first-enter timestamp
// only if one has not already been recorded.
func (n *Node) SetFirstEnterTimeIfUnset(t uint64) {
	if !n.hasFirstEnter {
		n.firstEnterTime = t
		n.hasFirstEnter = true
	}
}

func (n *Node) CallpathHandle() definitions.Handle     { return n.callpath }
func (n *Node) SetCallpathHandle(h definitions.Handle) { n.callpath = h }
func (n *Node) HasCallpathHandle() bool                { return n.callpath.IsValid() }

// Parameters returns the ordered parameter list folded onto this region node
// by post-processing step 3 (spec.md §4.6).
func (n *Node) Parameters() []definitions.CallpathParameter { return n.parameters }

// SetParameters replaces n's folded parameter list.
func (n *Node) SetParameters(params []definitions.CallpathParameter) { n.parameters = params }

// Inclusive returns a mutable pointer to the node's inclusive-time
// accumulator.
func (n *Node) Inclusive() *Accumulator { return &n.inclusive }

// Dense returns a mutable pointer to the dense accumulator for
// strictly-synchronous metric idx, growing the slice on first use so
// callers never have to pre-size it.
func (n *Node) Dense(idx int) *Accumulator {
	for len(n.dense) <= idx {
		n.dense = append(n.dense, Accumulator{})
	}
	return &n.dense[idx]
}

// DenseLen reports how many dense metric slots this node has touched.
func (n *Node) DenseLen() int { return len(n.dense) }

// TriggerSparse records one sparse-metric trigger on n, accumulating
// according to mode: accumulated-mode triggers add into the existing
// value, absolute-point-mode triggers replace it.
func (n *Node) TriggerSparse(metric definitions.Handle, kind SparseValueKind, mode definitions.MetricMode, value uint64, valueDouble float64) {
	if n.sparse == nil {
		n.sparse = make(map[definitions.Handle]SparseValue)
	}
	if mode != definitions.MetricModeAccumulated {
		v := SparseValue{Kind: kind, UInt64: value, Double: valueDouble}
		if kind == SparseTuple {
			v.TupleSum, v.TupleCount = value, 1
		}
		n.sparse[metric] = v
		return
	}
	existing, ok := n.sparse[metric]
	if !ok {
		existing = SparseValue{Kind: kind}
	}
	switch kind {
	case SparseDouble:
		existing.Double += valueDouble
	case SparseUint64:
		existing.UInt64 += value
	case SparseTuple:
		existing.TupleSum += value
		existing.TupleCount++
	}
	existing.Kind = kind
	n.sparse[metric] = existing
}

// Sparse returns the recorded sparse value for metric and whether one
// exists.
func (n *Node) Sparse(metric definitions.Handle) (SparseValue, bool) {
	v, ok := n.sparse[metric]
	return v, ok
}

// ForEachSparse iterates n's sparse entries in unspecified order.
func (n *Node) ForEachSparse(fn func(definitions.Handle, SparseValue)) {
	for k, v := range n.sparse {
		fn(k, v)
	}
}
