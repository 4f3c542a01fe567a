// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definitions

// This file holds the attribute structs for the fifteen definition types
// named by the data model, plus their manual MarshalBinary/UnmarshalBinary
// pairs used for unification shipment. Parent/member references are held as
// Handles, never live pointers, so a record can be shipped across a Catalog
// boundary without becoming meaningless.

// LocationGroupKind distinguishes a process from an accelerator context.
type LocationGroupKind uint8

const (
	LocationGroupProcess LocationGroupKind = iota
	LocationGroupAccelerator
)

// LocationKind distinguishes the kind of stream a Location represents.
type LocationKind uint8

const (
	LocationCPUThread LocationKind = iota
	LocationGPU
	LocationMetric
)

// Paradigm tags which parallel programming model produced a Region,
// InterimCommunicator, or InterruptGenerator.
type Paradigm uint8

const (
	ParadigmUser Paradigm = iota
	ParadigmOpenMP
	ParadigmPthread
	ParadigmMPI
	ParadigmSHMEM
	ParadigmCUDA
)

// RegionRole classifies a Region's purpose (function, loop, communication
// wrapper, ...).
type RegionRole uint8

const (
	RegionRoleFunction RegionRole = iota
	RegionRoleLoop
	RegionRoleWrapper
	RegionRoleParallel
	RegionRoleTask
	RegionRoleArtificial
)

// MetricValueType is the storage type of a Metric's samples.
type MetricValueType uint8

const (
	MetricValueInt64 MetricValueType = iota
	MetricValueUint64
	MetricValueDouble
)

// MetricMode distinguishes accumulated from absolute metric samples.
type MetricMode uint8

const (
	MetricModeAccumulated MetricMode = iota
	MetricModeAbsolute
)

// GroupKind classifies what a Group's members are (locations, processes, ...).
type GroupKind uint8

const (
	GroupKindLocations GroupKind = iota
	GroupKindRegions
	GroupKindMetrics
)

// CommunicatorFlags are bit flags on a Communicator definition.
type CommunicatorFlags uint32

const (
	CommunicatorFlagNone  CommunicatorFlags = 0
	CommunicatorFlagInter CommunicatorFlags = 1 << iota
)

// ParameterValueKind is the tag on a CallpathParameter/Parameter value.
type ParameterValueKind uint8

const (
	ParameterInt64 ParameterValueKind = iota
	ParameterUint64
	ParameterString
)

// RmaWindowFlags are bit flags on an RmaWindow definition.
type RmaWindowFlags uint32

const (
	RmaWindowFlagNone   RmaWindowFlags = 0
	RmaWindowFlagCreate RmaWindowFlags = 1 << iota
)

// InterruptGeneratorMode distinguishes count-based from time-based sampling.
type InterruptGeneratorMode uint8

const (
	InterruptGeneratorCount InterruptGeneratorMode = iota
	InterruptGeneratorTime
)

// --- String ---

// StringDef holds the bytes of one deduplicated string; every other
// definition that needs a name refers to one by Handle.
type StringDef struct {
	Bytes []byte
}

func (s StringDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.bytes(s.Bytes)
	return w.buf, nil
}

func (s *StringDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	v, err := r.bytes()
	if err != nil {
		return err
	}
	s.Bytes = v
	return nil
}

// --- SystemTreeNode ---

type SystemTreeNodeDef struct {
	Name   Handle
	Class  Handle
	Parent Handle
}

func (d SystemTreeNodeDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.handle(d.Class)
	w.handle(d.Parent)
	return w.buf, nil
}

func (d *SystemTreeNodeDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	if d.Class, err = r.handle(); err != nil {
		return err
	}
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	return nil
}

// --- LocationGroup ---

type LocationGroupDef struct {
	Name   Handle
	Kind   LocationGroupKind
	Parent Handle
}

func (d LocationGroupDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.uint32(uint32(d.Kind))
	w.handle(d.Parent)
	return w.buf, nil
}

func (d *LocationGroupDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	k, err := r.uint32()
	if err != nil {
		return err
	}
	d.Kind = LocationGroupKind(k)
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	return nil
}

// --- Location ---

type LocationDef struct {
	Name        Handle
	Kind        LocationKind
	ParentGroup Handle
	NumericID   uint64
}

func (d LocationDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.uint32(uint32(d.Kind))
	w.handle(d.ParentGroup)
	w.uint64(d.NumericID)
	return w.buf, nil
}

func (d *LocationDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	k, err := r.uint32()
	if err != nil {
		return err
	}
	d.Kind = LocationKind(k)
	if d.ParentGroup, err = r.handle(); err != nil {
		return err
	}
	if d.NumericID, err = r.uint64(); err != nil {
		return err
	}
	return nil
}

// --- Region ---

type RegionDef struct {
	Name      Handle
	File      Handle
	BeginLine uint32
	EndLine   uint32
	Paradigm  Paradigm
	Role      RegionRole
}

func (d RegionDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.handle(d.File)
	w.uint32(d.BeginLine)
	w.uint32(d.EndLine)
	w.uint32(uint32(d.Paradigm))
	w.uint32(uint32(d.Role))
	return w.buf, nil
}

func (d *RegionDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	if d.File, err = r.handle(); err != nil {
		return err
	}
	if d.BeginLine, err = r.uint32(); err != nil {
		return err
	}
	if d.EndLine, err = r.uint32(); err != nil {
		return err
	}
	p, err := r.uint32()
	if err != nil {
		return err
	}
	d.Paradigm = Paradigm(p)
	role, err := r.uint32()
	if err != nil {
		return err
	}
	d.Role = RegionRole(role)
	return nil
}

// --- Metric ---

type MetricDef struct {
	Name               Handle
	Unit               Handle
	ValueType          MetricValueType
	Mode               MetricMode
	Base               uint64
	Exponent           int16
	ProfilingSemantics bool
	Parent             Handle
}

func (d MetricDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.handle(d.Unit)
	w.uint32(uint32(d.ValueType))
	w.uint32(uint32(d.Mode))
	w.uint64(d.Base)
	w.int16(d.Exponent)
	w.bool(d.ProfilingSemantics)
	w.handle(d.Parent)
	return w.buf, nil
}

func (d *MetricDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	if d.Unit, err = r.handle(); err != nil {
		return err
	}
	vt, err := r.uint32()
	if err != nil {
		return err
	}
	d.ValueType = MetricValueType(vt)
	m, err := r.uint32()
	if err != nil {
		return err
	}
	d.Mode = MetricMode(m)
	if d.Base, err = r.uint64(); err != nil {
		return err
	}
	if d.Exponent, err = r.int16(); err != nil {
		return err
	}
	if d.ProfilingSemantics, err = r.bool(); err != nil {
		return err
	}
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	return nil
}

// --- Group ---

type GroupDef struct {
	Kind    GroupKind
	Members []uint64
}

func (d GroupDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.uint32(uint32(d.Kind))
	w.uint32(uint32(len(d.Members)))
	for _, m := range d.Members {
		w.uint64(m)
	}
	return w.buf, nil
}

func (d *GroupDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	k, err := r.uint32()
	if err != nil {
		return err
	}
	d.Kind = GroupKind(k)
	n, err := r.uint32()
	if err != nil {
		return err
	}
	d.Members = make([]uint64, n)
	for i := range d.Members {
		if d.Members[i], err = r.uint64(); err != nil {
			return err
		}
	}
	return nil
}

// --- Communicator ---

type CommunicatorDef struct {
	Groups []Handle
	Name   Handle
	Parent Handle
	Flags  CommunicatorFlags
	RootID uint64
}

func (d CommunicatorDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.uint32(uint32(len(d.Groups)))
	for _, g := range d.Groups {
		w.handle(g)
	}
	w.handle(d.Name)
	w.handle(d.Parent)
	w.uint32(uint32(d.Flags))
	w.uint64(d.RootID)
	return w.buf, nil
}

func (d *CommunicatorDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	n, err := r.uint32()
	if err != nil {
		return err
	}
	d.Groups = make([]Handle, n)
	for i := range d.Groups {
		if d.Groups[i], err = r.handle(); err != nil {
			return err
		}
	}
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	f, err := r.uint32()
	if err != nil {
		return err
	}
	d.Flags = CommunicatorFlags(f)
	if d.RootID, err = r.uint64(); err != nil {
		return err
	}
	return nil
}

// --- InterimCommunicator ---

// InterimCommunicatorDef is process-local and resolved to a Communicator by
// unification. Payload is opaque to the catalog; paradigms supply their own
// comparable payload type and their own InitPayload/EqualPayloads logic,
// called through NewWithEqual rather than the catalog's own hash path.
type InterimCommunicatorDef struct {
	Paradigm Paradigm
	Parent   Handle
	Payload  []byte
}

func (d InterimCommunicatorDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.uint32(uint32(d.Paradigm))
	w.handle(d.Parent)
	w.bytes(d.Payload)
	return w.buf, nil
}

func (d *InterimCommunicatorDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	p, err := r.uint32()
	if err != nil {
		return err
	}
	d.Paradigm = Paradigm(p)
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	if d.Payload, err = r.bytes(); err != nil {
		return err
	}
	return nil
}

// --- Callpath ---

// CallpathParameter is one tagged-value entry in a Callpath's parameter
// list, the result of parameter folding (spec.md §4.6 step 3).
type CallpathParameter struct {
	Param    Handle
	Kind     ParameterValueKind
	IntValue int64
	StrValue Handle
}

type CallpathDef struct {
	Parent     Handle
	Region     Handle
	Parameters []CallpathParameter
}

func (d CallpathDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Parent)
	w.handle(d.Region)
	w.uint32(uint32(len(d.Parameters)))
	for _, p := range d.Parameters {
		w.handle(p.Param)
		w.uint32(uint32(p.Kind))
		w.int64(p.IntValue)
		w.handle(p.StrValue)
	}
	return w.buf, nil
}

func (d *CallpathDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	if d.Region, err = r.handle(); err != nil {
		return err
	}
	n, err := r.uint32()
	if err != nil {
		return err
	}
	d.Parameters = make([]CallpathParameter, n)
	for i := range d.Parameters {
		if d.Parameters[i].Param, err = r.handle(); err != nil {
			return err
		}
		k, err := r.uint32()
		if err != nil {
			return err
		}
		d.Parameters[i].Kind = ParameterValueKind(k)
		if d.Parameters[i].IntValue, err = r.int64(); err != nil {
			return err
		}
		if d.Parameters[i].StrValue, err = r.handle(); err != nil {
			return err
		}
	}
	return nil
}

// --- Parameter ---

type ParameterDef struct {
	Name      Handle
	ValueKind ParameterValueKind
}

func (d ParameterDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.uint32(uint32(d.ValueKind))
	return w.buf, nil
}

func (d *ParameterDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	k, err := r.uint32()
	if err != nil {
		return err
	}
	d.ValueKind = ParameterValueKind(k)
	return nil
}

// --- RmaWindow ---

type RmaWindowDef struct {
	Name         Handle
	Communicator Handle
	Flags        RmaWindowFlags
}

func (d RmaWindowDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.handle(d.Communicator)
	w.uint32(uint32(d.Flags))
	return w.buf, nil
}

func (d *RmaWindowDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	if d.Communicator, err = r.handle(); err != nil {
		return err
	}
	f, err := r.uint32()
	if err != nil {
		return err
	}
	d.Flags = RmaWindowFlags(f)
	return nil
}

// --- InterruptGenerator ---

type InterruptGeneratorDef struct {
	Name     Handle
	Mode     InterruptGeneratorMode
	Base     uint64
	Exponent int16
	Period   uint64
}

func (d InterruptGeneratorDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Name)
	w.uint32(uint32(d.Mode))
	w.uint64(d.Base)
	w.int16(d.Exponent)
	w.uint64(d.Period)
	return w.buf, nil
}

func (d *InterruptGeneratorDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Name, err = r.handle(); err != nil {
		return err
	}
	m, err := r.uint32()
	if err != nil {
		return err
	}
	d.Mode = InterruptGeneratorMode(m)
	if d.Base, err = r.uint64(); err != nil {
		return err
	}
	if d.Exponent, err = r.int16(); err != nil {
		return err
	}
	if d.Period, err = r.uint64(); err != nil {
		return err
	}
	return nil
}

// --- SourceCodeLocation ---

type SourceCodeLocationDef struct {
	File Handle
	Line uint32
}

func (d SourceCodeLocationDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.File)
	w.uint32(d.Line)
	return w.buf, nil
}

func (d *SourceCodeLocationDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.File, err = r.handle(); err != nil {
		return err
	}
	if d.Line, err = r.uint32(); err != nil {
		return err
	}
	return nil
}

// --- CallingContext ---

// CallingContextDef supports the original's context-sampling paradigm: a
// chain of (region, source location, parent) independent of the call-tree,
// used by pkg/event's SampleContext operation for sampled rather than fully
// instrumented call paths.
type CallingContextDef struct {
	Region Handle
	SCL    Handle
	Parent Handle
}

func (d CallingContextDef) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.handle(d.Region)
	w.handle(d.SCL)
	w.handle(d.Parent)
	return w.buf, nil
}

func (d *CallingContextDef) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if d.Region, err = r.handle(); err != nil {
		return err
	}
	if d.SCL, err = r.handle(); err != nil {
		return err
	}
	if d.Parent, err = r.handle(); err != nil {
		return err
	}
	return nil
}
