// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify

import (
	"fmt"
	"math"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/definitions"
)

// kinds is the dependency-respecting merge order for the fourteen definition
// types the hypercube reduction carries. InterimCommunicators is
// deliberately excluded: spec.md §4.8 resolves it through the separate
// communicator-unification protocol, not through this per-type hash merge.
var kinds = []definitions.Kind{
	definitions.KindString,
	definitions.KindSystemTreeNode,
	definitions.KindLocationGroup,
	definitions.KindLocation,
	definitions.KindSourceCodeLocation,
	definitions.KindParameter,
	definitions.KindRegion,
	definitions.KindMetric,
	definitions.KindGroup,
	definitions.KindCommunicator,
	definitions.KindCallingContext,
	definitions.KindCallpath,
	definitions.KindRmaWindow,
	definitions.KindInterruptGenerator,
}

// invalidSeq is the UINT32_MAX sentinel spec.md §4.8 uses for "no mapping
// entry", preserved rather than resolved by compose.
const invalidSeq = math.MaxUint32

// Mapping translates one source catalog's per-kind dense sequence numbers
// into handles in a more-unified destination catalog, one slice per kind
// indexed by sequence number.
type Mapping map[definitions.Kind][]definitions.Handle

func newMapping() Mapping {
	m := make(Mapping, len(kinds)+1)
	for _, k := range kinds {
		m[k] = nil
	}
	m[definitions.KindInterimCommunicator] = nil
	return m
}

func (m Mapping) set(kind definitions.Kind, seq uint32, h definitions.Handle) {
	s := m[kind]
	for uint32(len(s)) <= seq {
		s = append(s, definitions.Invalid)
	}
	s[seq] = h
	m[kind] = s
}

func (m Mapping) get(kind definitions.Kind, seq uint32) definitions.Handle {
	s := m[kind]
	if seq >= uint32(len(s)) {
		return definitions.Invalid
	}
	return s[seq]
}

// headerOf dispatches to the Header method of whichever typed Set owns h,
// since Go generics cannot abstract over the Catalog's fifteen differently
// typed *Set[T] fields directly.
func headerOf(cat *definitions.Catalog, h definitions.Handle) (definitions.Header, error) {
	switch h.Type {
	case definitions.KindString:
		return cat.Strings.Header(h)
	case definitions.KindSystemTreeNode:
		return cat.SystemTreeNodes.Header(h)
	case definitions.KindLocationGroup:
		return cat.LocationGroups.Header(h)
	case definitions.KindLocation:
		return cat.Locations.Header(h)
	case definitions.KindRegion:
		return cat.Regions.Header(h)
	case definitions.KindMetric:
		return cat.Metrics.Header(h)
	case definitions.KindGroup:
		return cat.Groups.Header(h)
	case definitions.KindCommunicator:
		return cat.Communicators.Header(h)
	case definitions.KindInterimCommunicator:
		return cat.InterimCommunicators.Header(h)
	case definitions.KindCallpath:
		return cat.Callpaths.Header(h)
	case definitions.KindParameter:
		return cat.Parameters.Header(h)
	case definitions.KindRmaWindow:
		return cat.RmaWindows.Header(h)
	case definitions.KindInterruptGenerator:
		return cat.InterruptGenerators.Header(h)
	case definitions.KindSourceCodeLocation:
		return cat.SourceCodeLocations.Header(h)
	case definitions.KindCallingContext:
		return cat.CallingContexts.Header(h)
	default:
		return definitions.Header{}, fmt.Errorf("unify: unknown kind %s", h.Type)
	}
}

// setUnifiedOf dispatches to the SetUnified method of whichever typed Set
// owns h, mirroring headerOf.
func setUnifiedOf(cat *definitions.Catalog, h, unified definitions.Handle) error {
	switch h.Type {
	case definitions.KindString:
		return cat.Strings.SetUnified(h, unified)
	case definitions.KindSystemTreeNode:
		return cat.SystemTreeNodes.SetUnified(h, unified)
	case definitions.KindLocationGroup:
		return cat.LocationGroups.SetUnified(h, unified)
	case definitions.KindLocation:
		return cat.Locations.SetUnified(h, unified)
	case definitions.KindRegion:
		return cat.Regions.SetUnified(h, unified)
	case definitions.KindMetric:
		return cat.Metrics.SetUnified(h, unified)
	case definitions.KindGroup:
		return cat.Groups.SetUnified(h, unified)
	case definitions.KindCommunicator:
		return cat.Communicators.SetUnified(h, unified)
	case definitions.KindInterimCommunicator:
		return cat.InterimCommunicators.SetUnified(h, unified)
	case definitions.KindCallpath:
		return cat.Callpaths.SetUnified(h, unified)
	case definitions.KindParameter:
		return cat.Parameters.SetUnified(h, unified)
	case definitions.KindRmaWindow:
		return cat.RmaWindows.SetUnified(h, unified)
	case definitions.KindInterruptGenerator:
		return cat.InterruptGenerators.SetUnified(h, unified)
	case definitions.KindSourceCodeLocation:
		return cat.SourceCodeLocations.SetUnified(h, unified)
	case definitions.KindCallingContext:
		return cat.CallingContexts.SetUnified(h, unified)
	default:
		return fmt.Errorf("unify: unknown kind %s", h.Type)
	}
}

// translate maps h, a handle in cat, through mapping into the destination
// catalog mapping was built against. Invalid passes through unchanged, the
// same convention parent/name/etc. reference fields use throughout
// pkg/definitions.
func translate(cat *definitions.Catalog, mapping Mapping, h definitions.Handle) (definitions.Handle, error) {
	if !h.IsValid() {
		return definitions.Invalid, nil
	}
	hdr, err := headerOf(cat, h)
	if err != nil {
		return definitions.Invalid, err
	}
	mapped := mapping.get(h.Type, hdr.SequenceNumber)
	if !mapped.IsValid() {
		return definitions.Invalid, fmt.Errorf("unify: no mapping for %s seq %d", h.Type, hdr.SequenceNumber)
	}
	return mapped, nil
}

// forEachOfKinds visits every handle in cat across all fourteen mergeable
// kinds, in kinds order, stopping early if visit returns false. It
// centralizes the same per-kind ForEach dispatch snapshot.go's
// recordsForKind needs, for callers that only need handles, not attrs.
func forEachOfKinds(cat *definitions.Catalog, visit func(definitions.Handle) bool) {
	cat.Strings.ForEach(func(h definitions.Handle, _ *definitions.StringDef) bool { return visit(h) })
	cat.SystemTreeNodes.ForEach(func(h definitions.Handle, _ *definitions.SystemTreeNodeDef) bool { return visit(h) })
	cat.LocationGroups.ForEach(func(h definitions.Handle, _ *definitions.LocationGroupDef) bool { return visit(h) })
	cat.Locations.ForEach(func(h definitions.Handle, _ *definitions.LocationDef) bool { return visit(h) })
	cat.SourceCodeLocations.ForEach(func(h definitions.Handle, _ *definitions.SourceCodeLocationDef) bool { return visit(h) })
	cat.Parameters.ForEach(func(h definitions.Handle, _ *definitions.ParameterDef) bool { return visit(h) })
	cat.Regions.ForEach(func(h definitions.Handle, _ *definitions.RegionDef) bool { return visit(h) })
	cat.Metrics.ForEach(func(h definitions.Handle, _ *definitions.MetricDef) bool { return visit(h) })
	cat.Groups.ForEach(func(h definitions.Handle, _ *definitions.GroupDef) bool { return visit(h) })
	cat.Communicators.ForEach(func(h definitions.Handle, _ *definitions.CommunicatorDef) bool { return visit(h) })
	cat.CallingContexts.ForEach(func(h definitions.Handle, _ *definitions.CallingContextDef) bool { return visit(h) })
	cat.Callpaths.ForEach(func(h definitions.Handle, _ *definitions.CallpathDef) bool { return visit(h) })
	cat.RmaWindows.ForEach(func(h definitions.Handle, _ *definitions.RmaWindowDef) bool { return visit(h) })
	cat.InterruptGenerators.ForEach(func(h definitions.Handle, _ *definitions.InterruptGeneratorDef) bool { return visit(h) })
}

// encodeMapping/decodeMapping ship a Mapping across ipc.Comm in the scatter
// phase: one count-prefixed run of (page id, offset) pairs per kind, in
// kinds order, mirroring snapshot's Records framing. Invalid entries
// round-trip through alloc.Invalid's own page/offset sentinel.
func encodeMapping(m Mapping) []byte {
	var b []byte
	for _, kind := range kinds {
		s := m[kind]
		b = appendU32(b, uint32(len(s)))
		for _, h := range s {
			b = appendU32(b, h.Movable.PageID())
			b = appendU32(b, h.Movable.Offset())
		}
	}
	return b
}

func decodeMapping(b []byte) (Mapping, error) {
	m := newMapping()
	for _, kind := range kinds {
		var n uint32
		var err error
		if n, b, err = takeU32(b); err != nil {
			return nil, err
		}
		s := make([]definitions.Handle, n)
		for i := range s {
			var page, off uint32
			if page, b, err = takeU32(b); err != nil {
				return nil, err
			}
			if off, b, err = takeU32(b); err != nil {
				return nil, err
			}
			s[i] = definitions.Handle{Type: kind, Movable: alloc.NewMovableForDecode(page, off)}
		}
		m[kind] = s
	}
	return m, nil
}

// resolveHandle translates a handle found inside a just-decoded remote
// record into this merge's destination catalog. idx maps each kind's
// shipped movables back to the sequence number they occupied in the
// sender's catalog (built once per merge from the snapshot's Records
// lists); mapping is the merge's so-far sequence-number-to-destination-
// handle table, which by the fixed kinds merge order always already holds
// an entry for any kind h can reference, including h's own kind when the
// reference is to an earlier (lower-sequence) record of the same type.
func resolveHandle(idx map[definitions.Kind]map[alloc.Movable]int, mapping Mapping, h definitions.Handle) (definitions.Handle, error) {
	if !h.IsValid() {
		return definitions.Invalid, nil
	}
	km, ok := idx[h.Type]
	if !ok {
		return definitions.Invalid, fmt.Errorf("unify: no shipped index for kind %s", h.Type)
	}
	seq, ok := km[h.Movable]
	if !ok {
		return definitions.Invalid, fmt.Errorf("unify: unknown movable for kind %s", h.Type)
	}
	dest := mapping.get(h.Type, uint32(seq))
	if !dest.IsValid() {
		return definitions.Invalid, fmt.Errorf("unify: kind %s seq %d not yet merged", h.Type, seq)
	}
	return dest, nil
}

// compose builds the mapping a child should receive in phase 2 from two
// links: m, the child's own sequence-number-to-this-rank's-unified-so-far
// mapping produced while merging the child's catalog in phase 1; and
// parentMapping, the mapping this rank received back from its own parent
// (sequence number in this rank's unified-so-far catalog to the
// grandparent's-or-root's unified catalog). cat is this rank's unified-so-
// far catalog, the one m's handles address. The result lets the child
// translate directly into the ancestor that ran compose, without ever
// seeing an intermediate rank's renumbering.
func compose(cat *definitions.Catalog, m Mapping, parentMapping Mapping) (Mapping, error) {
	out := newMapping()
	for _, kind := range kinds {
		seqs := m[kind]
		for seq, h := range seqs {
			if !h.IsValid() {
				continue
			}
			hdr, err := headerOf(cat, h)
			if err != nil {
				return nil, err
			}
			final := parentMapping.get(kind, hdr.SequenceNumber)
			out.set(kind, uint32(seq), final)
		}
	}
	return out, nil
}
