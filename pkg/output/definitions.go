// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package output

import "github.com/parascope/runtime/pkg/definitions"

// WalkDefinitions implements spec.md §6 Output API item (a): an ordered
// iterator over every definition in unified, one kind at a time in the same
// dependency order pkg/unify's hypercube merge uses (so a referenced
// record — a Region's Name string, a Callpath's Region — is always visited
// before anything that points to it). visit stops the walk early by
// returning false.
func WalkDefinitions(unified *definitions.Catalog, visit func(definitions.Kind, definitions.Handle) bool) {
	stop := false
	wrap := func(kind definitions.Kind) func(definitions.Handle) bool {
		return func(h definitions.Handle) bool {
			if stop {
				return false
			}
			if !visit(kind, h) {
				stop = true
				return false
			}
			return true
		}
	}

	unified.Strings.ForEach(func(h definitions.Handle, _ *definitions.StringDef) bool { return wrap(definitions.KindString)(h) })
	unified.SystemTreeNodes.ForEach(func(h definitions.Handle, _ *definitions.SystemTreeNodeDef) bool {
		return wrap(definitions.KindSystemTreeNode)(h)
	})
	unified.LocationGroups.ForEach(func(h definitions.Handle, _ *definitions.LocationGroupDef) bool {
		return wrap(definitions.KindLocationGroup)(h)
	})
	unified.Locations.ForEach(func(h definitions.Handle, _ *definitions.LocationDef) bool { return wrap(definitions.KindLocation)(h) })
	unified.SourceCodeLocations.ForEach(func(h definitions.Handle, _ *definitions.SourceCodeLocationDef) bool {
		return wrap(definitions.KindSourceCodeLocation)(h)
	})
	unified.Parameters.ForEach(func(h definitions.Handle, _ *definitions.ParameterDef) bool { return wrap(definitions.KindParameter)(h) })
	unified.Regions.ForEach(func(h definitions.Handle, _ *definitions.RegionDef) bool { return wrap(definitions.KindRegion)(h) })
	unified.Metrics.ForEach(func(h definitions.Handle, _ *definitions.MetricDef) bool { return wrap(definitions.KindMetric)(h) })
	unified.Groups.ForEach(func(h definitions.Handle, _ *definitions.GroupDef) bool { return wrap(definitions.KindGroup)(h) })
	unified.Communicators.ForEach(func(h definitions.Handle, _ *definitions.CommunicatorDef) bool { return wrap(definitions.KindCommunicator)(h) })
	unified.CallingContexts.ForEach(func(h definitions.Handle, _ *definitions.CallingContextDef) bool {
		return wrap(definitions.KindCallingContext)(h)
	})
	unified.Callpaths.ForEach(func(h definitions.Handle, _ *definitions.CallpathDef) bool { return wrap(definitions.KindCallpath)(h) })
	unified.RmaWindows.ForEach(func(h definitions.Handle, _ *definitions.RmaWindowDef) bool { return wrap(definitions.KindRmaWindow)(h) })
	unified.InterruptGenerators.ForEach(func(h definitions.Handle, _ *definitions.InterruptGeneratorDef) bool {
		return wrap(definitions.KindInterruptGenerator)(h)
	})
}
