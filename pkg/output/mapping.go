// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package output

import (
	"github.com/parascope/runtime/pkg/definitions"
)

// MappingEntry is one local-to-unified translation: the local catalog's
// sequence-numbered record of the given kind and the unified handle
// pkg/unify.Run recorded as its back-link.
type MappingEntry struct {
	Kind     definitions.Kind
	LocalSeq uint32
	Unified  definitions.Handle
}

// CollectMapping walks local's records across every mappable kind — the
// same fourteen kinds pkg/unify's hypercube merge carries, minus
// InterimCommunicator, which never survives past the separate communicator-
// unification protocol — and returns one MappingEntry per record, per
// spec.md §6 Output API item (c). unify.Run must have already completed on
// local, so every record's header carries a valid Unified back-link; a
// record whose back-link is still invalid (never unified) is skipped.
func CollectMapping(local *definitions.Catalog) ([]MappingEntry, error) {
	var entries []MappingEntry
	var outerErr error

	visit := func(kind definitions.Kind, h definitions.Handle, unified definitions.Handle, seq uint32) {
		if !unified.IsValid() {
			return
		}
		entries = append(entries, MappingEntry{Kind: kind, LocalSeq: seq, Unified: unified})
	}

	forEach := func(kind definitions.Kind, header func(definitions.Handle) (definitions.Header, error), each func(func(definitions.Handle) bool)) {
		each(func(h definitions.Handle) bool {
			hdr, err := header(h)
			if err != nil {
				outerErr = err
				return false
			}
			visit(kind, h, hdr.Unified, hdr.SequenceNumber)
			return true
		})
	}

	forEach(definitions.KindString, local.Strings.Header, func(v func(definitions.Handle) bool) {
		local.Strings.ForEach(func(h definitions.Handle, _ *definitions.StringDef) bool { return v(h) })
	})
	forEach(definitions.KindSystemTreeNode, local.SystemTreeNodes.Header, func(v func(definitions.Handle) bool) {
		local.SystemTreeNodes.ForEach(func(h definitions.Handle, _ *definitions.SystemTreeNodeDef) bool { return v(h) })
	})
	forEach(definitions.KindLocationGroup, local.LocationGroups.Header, func(v func(definitions.Handle) bool) {
		local.LocationGroups.ForEach(func(h definitions.Handle, _ *definitions.LocationGroupDef) bool { return v(h) })
	})
	forEach(definitions.KindLocation, local.Locations.Header, func(v func(definitions.Handle) bool) {
		local.Locations.ForEach(func(h definitions.Handle, _ *definitions.LocationDef) bool { return v(h) })
	})
	forEach(definitions.KindSourceCodeLocation, local.SourceCodeLocations.Header, func(v func(definitions.Handle) bool) {
		local.SourceCodeLocations.ForEach(func(h definitions.Handle, _ *definitions.SourceCodeLocationDef) bool { return v(h) })
	})
	forEach(definitions.KindParameter, local.Parameters.Header, func(v func(definitions.Handle) bool) {
		local.Parameters.ForEach(func(h definitions.Handle, _ *definitions.ParameterDef) bool { return v(h) })
	})
	forEach(definitions.KindRegion, local.Regions.Header, func(v func(definitions.Handle) bool) {
		local.Regions.ForEach(func(h definitions.Handle, _ *definitions.RegionDef) bool { return v(h) })
	})
	forEach(definitions.KindMetric, local.Metrics.Header, func(v func(definitions.Handle) bool) {
		local.Metrics.ForEach(func(h definitions.Handle, _ *definitions.MetricDef) bool { return v(h) })
	})
	forEach(definitions.KindGroup, local.Groups.Header, func(v func(definitions.Handle) bool) {
		local.Groups.ForEach(func(h definitions.Handle, _ *definitions.GroupDef) bool { return v(h) })
	})
	forEach(definitions.KindCommunicator, local.Communicators.Header, func(v func(definitions.Handle) bool) {
		local.Communicators.ForEach(func(h definitions.Handle, _ *definitions.CommunicatorDef) bool { return v(h) })
	})
	forEach(definitions.KindCallingContext, local.CallingContexts.Header, func(v func(definitions.Handle) bool) {
		local.CallingContexts.ForEach(func(h definitions.Handle, _ *definitions.CallingContextDef) bool { return v(h) })
	})
	forEach(definitions.KindCallpath, local.Callpaths.Header, func(v func(definitions.Handle) bool) {
		local.Callpaths.ForEach(func(h definitions.Handle, _ *definitions.CallpathDef) bool { return v(h) })
	})
	forEach(definitions.KindRmaWindow, local.RmaWindows.Header, func(v func(definitions.Handle) bool) {
		local.RmaWindows.ForEach(func(h definitions.Handle, _ *definitions.RmaWindowDef) bool { return v(h) })
	})
	forEach(definitions.KindInterruptGenerator, local.InterruptGenerators.Header, func(v func(definitions.Handle) bool) {
		local.InterruptGenerators.ForEach(func(h definitions.Handle, _ *definitions.InterruptGeneratorDef) bool { return v(h) })
	})

	return entries, outerErr
}
