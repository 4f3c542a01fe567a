// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definitions

import (
	"fmt"

	"github.com/parascope/runtime/pkg/alloc"
)

// Catalog is one process's Definition Catalog: fifteen typed Sets sharing a
// single page manager. Every New* method below is the public contract's
// `new(T)` operation for its type; Deref/ForEach are exposed on the Set
// fields directly since they need no catalog-level bookkeeping.
type Catalog struct {
	pm *alloc.PageManager

	Strings              *Set[StringDef]
	SystemTreeNodes      *Set[SystemTreeNodeDef]
	LocationGroups       *Set[LocationGroupDef]
	Locations            *Set[LocationDef]
	Regions              *Set[RegionDef]
	Metrics              *Set[MetricDef]
	Groups               *Set[GroupDef]
	Communicators        *Set[CommunicatorDef]
	InterimCommunicators *Set[InterimCommunicatorDef]
	Callpaths            *Set[CallpathDef]
	Parameters           *Set[ParameterDef]
	RmaWindows           *Set[RmaWindowDef]
	InterruptGenerators  *Set[InterruptGeneratorDef]
	SourceCodeLocations  *Set[SourceCodeLocationDef]
	CallingContexts      *Set[CallingContextDef]
}

// NewCatalog creates an empty Definition Catalog allocating from pm. pm is
// typically a "misc" page manager (see pkg/alloc) shared process-wide, since
// definitions outlive any one location.
func NewCatalog(pm *alloc.PageManager) *Catalog {
	return &Catalog{
		pm:                   pm,
		Strings:              newSet[StringDef](pm, KindString, true),
		SystemTreeNodes:      newSet[SystemTreeNodeDef](pm, KindSystemTreeNode, true),
		LocationGroups:       newSet[LocationGroupDef](pm, KindLocationGroup, false),
		Locations:            newSet[LocationDef](pm, KindLocation, false),
		Regions:              newSet[RegionDef](pm, KindRegion, true),
		Metrics:              newSet[MetricDef](pm, KindMetric, true),
		Groups:               newSet[GroupDef](pm, KindGroup, true),
		Communicators:        newSet[CommunicatorDef](pm, KindCommunicator, true),
		InterimCommunicators: newSet[InterimCommunicatorDef](pm, KindInterimCommunicator, true),
		Callpaths:            newSet[CallpathDef](pm, KindCallpath, true),
		Parameters:           newSet[ParameterDef](pm, KindParameter, true),
		RmaWindows:           newSet[RmaWindowDef](pm, KindRmaWindow, false),
		InterruptGenerators:  newSet[InterruptGeneratorDef](pm, KindInterruptGenerator, false),
		SourceCodeLocations:  newSet[SourceCodeLocationDef](pm, KindSourceCodeLocation, true),
		CallingContexts:      newSet[CallingContextDef](pm, KindCallingContext, true),
	}
}

// PageManager returns the page manager backing every Set in c, so the
// unification engine can ship c's pages to a parent rank (spec.md §4.8).
func (c *Catalog) PageManager() *alloc.PageManager {
	return c.pm
}

// NewString interns s, returning the same handle for every equal string
// observed by this catalog.
func (c *Catalog) NewString(s string) (Handle, bool, error) {
	return c.Strings.New(StringDef{Bytes: []byte(s)}, s)
}

// String returns the decoded string content addressed by h.
func (c *Catalog) String(h Handle) (string, error) {
	d, err := c.Strings.Deref(h)
	if err != nil {
		return "", err
	}
	return string(d.Bytes), nil
}

func (c *Catalog) NewSystemTreeNode(name, class, parent Handle) (Handle, bool, error) {
	return c.SystemTreeNodes.New(SystemTreeNodeDef{Name: name, Class: class, Parent: parent},
		fmt.Sprintf("%s|%s|%s", name, class, parent))
}

// NewLocationGroup is never deduplicated: one is created per OS process or
// accelerator context as the adapter discovers it.
func (c *Catalog) NewLocationGroup(name Handle, kind LocationGroupKind, parent Handle) (Handle, bool, error) {
	return c.LocationGroups.New(LocationGroupDef{Name: name, Kind: kind, Parent: parent}, "")
}

// NewLocation is never deduplicated: one is created per stream of events.
func (c *Catalog) NewLocation(name Handle, kind LocationKind, parentGroup Handle, numericID uint64) (Handle, bool, error) {
	return c.Locations.New(LocationDef{Name: name, Kind: kind, ParentGroup: parentGroup, NumericID: numericID}, "")
}

func (c *Catalog) NewRegion(name, file Handle, beginLine, endLine uint32, paradigm Paradigm, role RegionRole) (Handle, bool, error) {
	key := fmt.Sprintf("%s|%s|%d|%d|%d|%d", name, file, beginLine, endLine, paradigm, role)
	return c.Regions.New(RegionDef{
		Name: name, File: file, BeginLine: beginLine, EndLine: endLine, Paradigm: paradigm, Role: role,
	}, key)
}

func (c *Catalog) NewMetric(name, unit Handle, valueType MetricValueType, mode MetricMode, base uint64, exponent int16, profilingSemantics bool, parent Handle) (Handle, bool, error) {
	key := fmt.Sprintf("%s|%s|%d|%d|%d|%d|%t|%s", name, unit, valueType, mode, base, exponent, profilingSemantics, parent)
	return c.Metrics.New(MetricDef{
		Name: name, Unit: unit, ValueType: valueType, Mode: mode,
		Base: base, Exponent: exponent, ProfilingSemantics: profilingSemantics, Parent: parent,
	}, key)
}

func (c *Catalog) NewGroup(kind GroupKind, members []uint64) (Handle, bool, error) {
	return c.Groups.New(GroupDef{Kind: kind, Members: members}, fmt.Sprintf("%d|%v", kind, members))
}

func (c *Catalog) NewCommunicator(groups []Handle, name, parent Handle, flags CommunicatorFlags, rootID uint64) (Handle, bool, error) {
	key := fmt.Sprintf("%v|%s|%s|%d|%d", groups, name, parent, flags, rootID)
	return c.Communicators.New(CommunicatorDef{Groups: groups, Name: name, Parent: parent, Flags: flags, RootID: rootID}, key)
}

// NewInterimCommunicator deduplicates within paradigm using the supplied
// equal func over the opaque per-paradigm payload, per spec.md §4.2's
// interim-type contract (init_payload/equal_payloads). familyKey should
// narrow candidates cheaply (e.g. the parent handle) before equal is
// consulted.
func (c *Catalog) NewInterimCommunicator(paradigm Paradigm, parent Handle, payload []byte, familyKey string, equal func(InterimCommunicatorDef) bool) (Handle, bool, error) {
	return c.InterimCommunicators.NewWithEqual(
		InterimCommunicatorDef{Paradigm: paradigm, Parent: parent, Payload: payload},
		familyKey, equal,
	)
}

func (c *Catalog) NewCallpath(parent, region Handle, parameters []CallpathParameter) (Handle, bool, error) {
	key := fmt.Sprintf("%s|%s|%v", parent, region, parameters)
	return c.Callpaths.New(CallpathDef{Parent: parent, Region: region, Parameters: parameters}, key)
}

func (c *Catalog) NewParameter(name Handle, valueKind ParameterValueKind) (Handle, bool, error) {
	return c.Parameters.New(ParameterDef{Name: name, ValueKind: valueKind}, fmt.Sprintf("%s|%d", name, valueKind))
}

// NewRmaWindow is never deduplicated: each one-sided window is a distinct
// resource even if its name collides with another window's.
func (c *Catalog) NewRmaWindow(name, communicator Handle, flags RmaWindowFlags) (Handle, bool, error) {
	return c.RmaWindows.New(RmaWindowDef{Name: name, Communicator: communicator, Flags: flags}, "")
}

// NewInterruptGenerator is never deduplicated: each sampling source is
// distinct even when two share configuration.
func (c *Catalog) NewInterruptGenerator(name Handle, mode InterruptGeneratorMode, base uint64, exponent int16, period uint64) (Handle, bool, error) {
	return c.InterruptGenerators.New(InterruptGeneratorDef{
		Name: name, Mode: mode, Base: base, Exponent: exponent, Period: period,
	}, "")
}

func (c *Catalog) NewSourceCodeLocation(file Handle, line uint32) (Handle, bool, error) {
	return c.SourceCodeLocations.New(SourceCodeLocationDef{File: file, Line: line}, fmt.Sprintf("%s|%d", file, line))
}

func (c *Catalog) NewCallingContext(region, scl, parent Handle) (Handle, bool, error) {
	key := fmt.Sprintf("%s|%s|%s", region, scl, parent)
	return c.CallingContexts.New(CallingContextDef{Region: region, SCL: scl, Parent: parent}, key)
}
