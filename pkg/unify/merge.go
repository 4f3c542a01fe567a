// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify

import (
	"fmt"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/definitions"
)

// mergeSnapshot decodes ship's shipped pages and per-kind record lists and
// inserts each record into dest, in the dependency-respecting kinds order,
// deduplicating exactly as a local NewXxx call would (spec.md §4.8: "the
// merge deduplicates using the per-type hash so structurally equal records
// collapse"). It returns the mapping from ship's own sequence numbers to
// the handle each record ended up at in dest.
func mergeSnapshot(dest *definitions.Catalog, ship snapshot) (Mapping, error) {
	if len(ship.Records) != len(kinds) {
		return nil, fmt.Errorf("unify: snapshot carries %d kinds, want %d", len(ship.Records), len(kinds))
	}

	idx := make(map[definitions.Kind]map[alloc.Movable]int, len(kinds))
	for i, kind := range kinds {
		m := make(map[alloc.Movable]int, len(ship.Records[i]))
		for seq, ref := range ship.Records[i] {
			m[ref.Movable] = seq
		}
		idx[kind] = m
	}

	remotePM, err := reconstructPages(ship)
	if err != nil {
		return nil, err
	}

	mapping := newMapping()
	for i, kind := range kinds {
		for seq, ref := range ship.Records[i] {
			raw, err := remotePM.GetAddressFromMovable(ref.Movable, ref.Len)
			if err != nil {
				return nil, fmt.Errorf("unify: %s record %d: %w", kind, seq, err)
			}
			h, err := mergeOne(dest, idx, mapping, kind, raw)
			if err != nil {
				return nil, fmt.Errorf("unify: %s record %d: %w", kind, seq, err)
			}
			mapping.set(kind, uint32(seq), h)
		}
	}
	return mapping, nil
}

func mergeOne(dest *definitions.Catalog, idx map[definitions.Kind]map[alloc.Movable]int, mapping Mapping, kind definitions.Kind, raw []byte) (definitions.Handle, error) {
	resolve := func(h definitions.Handle) (definitions.Handle, error) { return resolveHandle(idx, mapping, h) }

	switch kind {
	case definitions.KindString:
		var d definitions.StringDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		h, _, err := dest.Strings.New(d, string(d.Bytes))
		return h, err

	case definitions.KindSystemTreeNode:
		var d definitions.SystemTreeNodeDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		class, err := resolve(d.Class)
		if err != nil {
			return definitions.Invalid, err
		}
		parent, err := resolve(d.Parent)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name, d.Class, d.Parent = name, class, parent
		key := fmt.Sprintf("%s|%s|%s", name, class, parent)
		h, _, err := dest.SystemTreeNodes.New(d, key)
		return h, err

	case definitions.KindLocationGroup:
		var d definitions.LocationGroupDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		parent, err := resolve(d.Parent)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name, d.Parent = name, parent
		h, _, err := dest.LocationGroups.New(d, "")
		return h, err

	case definitions.KindLocation:
		var d definitions.LocationDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		parentGroup, err := resolve(d.ParentGroup)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name, d.ParentGroup = name, parentGroup
		h, _, err := dest.Locations.New(d, "")
		return h, err

	case definitions.KindSourceCodeLocation:
		var d definitions.SourceCodeLocationDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		file, err := resolve(d.File)
		if err != nil {
			return definitions.Invalid, err
		}
		d.File = file
		key := fmt.Sprintf("%s|%d", file, d.Line)
		h, _, err := dest.SourceCodeLocations.New(d, key)
		return h, err

	case definitions.KindParameter:
		var d definitions.ParameterDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name = name
		key := fmt.Sprintf("%s|%d", name, d.ValueKind)
		h, _, err := dest.Parameters.New(d, key)
		return h, err

	case definitions.KindRegion:
		var d definitions.RegionDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		file, err := resolve(d.File)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name, d.File = name, file
		key := fmt.Sprintf("%s|%s|%d|%d|%d|%d", name, file, d.BeginLine, d.EndLine, d.Paradigm, d.Role)
		h, _, err := dest.Regions.New(d, key)
		return h, err

	case definitions.KindMetric:
		var d definitions.MetricDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		unit, err := resolve(d.Unit)
		if err != nil {
			return definitions.Invalid, err
		}
		parent, err := resolve(d.Parent)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name, d.Unit, d.Parent = name, unit, parent
		key := fmt.Sprintf("%s|%s|%d|%d|%d|%d|%t|%s", name, unit, d.ValueType, d.Mode, d.Base, d.Exponent, d.ProfilingSemantics, parent)
		h, _, err := dest.Metrics.New(d, key)
		return h, err

	case definitions.KindGroup:
		var d definitions.GroupDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		key := fmt.Sprintf("%d|%v", d.Kind, d.Members)
		h, _, err := dest.Groups.New(d, key)
		return h, err

	case definitions.KindCommunicator:
		var d definitions.CommunicatorDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		groups := make([]definitions.Handle, len(d.Groups))
		for i, g := range d.Groups {
			t, err := resolve(g)
			if err != nil {
				return definitions.Invalid, err
			}
			groups[i] = t
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		parent, err := resolve(d.Parent)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Groups, d.Name, d.Parent = groups, name, parent
		key := fmt.Sprintf("%v|%s|%s|%d|%d", groups, name, parent, d.Flags, d.RootID)
		h, _, err := dest.Communicators.New(d, key)
		return h, err

	case definitions.KindCallingContext:
		var d definitions.CallingContextDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		region, err := resolve(d.Region)
		if err != nil {
			return definitions.Invalid, err
		}
		scl, err := resolve(d.SCL)
		if err != nil {
			return definitions.Invalid, err
		}
		parent, err := resolve(d.Parent)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Region, d.SCL, d.Parent = region, scl, parent
		key := fmt.Sprintf("%s|%s|%s", region, scl, parent)
		h, _, err := dest.CallingContexts.New(d, key)
		return h, err

	case definitions.KindCallpath:
		var d definitions.CallpathDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		parent, err := resolve(d.Parent)
		if err != nil {
			return definitions.Invalid, err
		}
		region, err := resolve(d.Region)
		if err != nil {
			return definitions.Invalid, err
		}
		params := make([]definitions.CallpathParameter, len(d.Parameters))
		for i, p := range d.Parameters {
			param, err := resolve(p.Param)
			if err != nil {
				return definitions.Invalid, err
			}
			strValue, err := resolve(p.StrValue)
			if err != nil {
				return definitions.Invalid, err
			}
			params[i] = definitions.CallpathParameter{Param: param, Kind: p.Kind, IntValue: p.IntValue, StrValue: strValue}
		}
		d.Parent, d.Region, d.Parameters = parent, region, params
		key := fmt.Sprintf("%s|%s|%v", parent, region, params)
		h, _, err := dest.Callpaths.New(d, key)
		return h, err

	case definitions.KindRmaWindow:
		var d definitions.RmaWindowDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		comm, err := resolve(d.Communicator)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name, d.Communicator = name, comm
		h, _, err := dest.RmaWindows.New(d, "")
		return h, err

	case definitions.KindInterruptGenerator:
		var d definitions.InterruptGeneratorDef
		if err := d.UnmarshalBinary(raw); err != nil {
			return definitions.Invalid, err
		}
		name, err := resolve(d.Name)
		if err != nil {
			return definitions.Invalid, err
		}
		d.Name = name
		h, _, err := dest.InterruptGenerators.New(d, "")
		return h, err

	default:
		return definitions.Invalid, fmt.Errorf("unify: merge: unhandled kind %s", kind)
	}
}
