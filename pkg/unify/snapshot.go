// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify

import (
	"encoding/binary"
	"fmt"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/definitions"
)

// recordRef locates one definition record inside a shipped page manager:
// the movable handle the sending rank stored it under, and the byte length
// needed to slice it back out. Handle fields decoded out of a record's
// bytes carry the sender's own movables verbatim (MarshalBinary/
// UnmarshalBinary roundtrip page id and offset as plain integers), so a
// movable seen inside one record's attrs always matches a recordRef's
// Movable elsewhere in the same snapshot.
type recordRef struct {
	Movable alloc.Movable
	Len     uint32
}

type pageRecord struct {
	PageID uint32
	Fill   uint32
	Bytes  []byte
}

// snapshot is the wire form of spec.md §4.8's "definition manager struct...
// list of page ids... per-page fill counts... raw page bytes": Records is
// the definition manager struct (the ordered handle lists every Set keeps),
// Pages is the raw page data a moved page manager reconstructs from.
// Records is keyed implicitly by position in the package-level kinds slice
// rather than by an explicit tag, since both ends iterate the same fixed
// order.
type snapshot struct {
	PageSize uint32
	Pages    []pageRecord
	Records  [][]recordRef // indexed the same as kinds
}

// takeSnapshot captures cat's shared page manager and every mergeable kind's
// handle list, in insertion order, ready to ship to a parent or hold
// pending merge into an accumulating unified catalog.
func takeSnapshot(cat *definitions.Catalog) (snapshot, error) {
	pm := cat.PageManager()
	infos := pm.GetPageInfos()
	pages := make([]pageRecord, len(infos))
	for i, info := range infos {
		b, err := pm.PageBytes(info.PageID)
		if err != nil {
			return snapshot{}, err
		}
		pages[i] = pageRecord{PageID: info.PageID, Fill: info.Fill, Bytes: append([]byte(nil), b...)}
	}

	records := make([][]recordRef, len(kinds))
	for i, kind := range kinds {
		records[i] = recordsForKind(cat, kind)
	}

	return snapshot{PageSize: pm.PageSize(), Pages: pages, Records: records}, nil
}

// recordsForKind walks one Set's handles in insertion order, measuring each
// record's encoded length by re-marshaling its already-decoded attrs (pure
// given immutable attrs, so this always matches what is actually sitting in
// the page).
func recordsForKind(cat *definitions.Catalog, kind definitions.Kind) []recordRef {
	var refs []recordRef
	switch kind {
	case definitions.KindString:
		cat.Strings.ForEach(func(h definitions.Handle, d *definitions.StringDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindSystemTreeNode:
		cat.SystemTreeNodes.ForEach(func(h definitions.Handle, d *definitions.SystemTreeNodeDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindLocationGroup:
		cat.LocationGroups.ForEach(func(h definitions.Handle, d *definitions.LocationGroupDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindLocation:
		cat.Locations.ForEach(func(h definitions.Handle, d *definitions.LocationDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindSourceCodeLocation:
		cat.SourceCodeLocations.ForEach(func(h definitions.Handle, d *definitions.SourceCodeLocationDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindParameter:
		cat.Parameters.ForEach(func(h definitions.Handle, d *definitions.ParameterDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindRegion:
		cat.Regions.ForEach(func(h definitions.Handle, d *definitions.RegionDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindMetric:
		cat.Metrics.ForEach(func(h definitions.Handle, d *definitions.MetricDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindGroup:
		cat.Groups.ForEach(func(h definitions.Handle, d *definitions.GroupDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindCommunicator:
		cat.Communicators.ForEach(func(h definitions.Handle, d *definitions.CommunicatorDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindCallingContext:
		cat.CallingContexts.ForEach(func(h definitions.Handle, d *definitions.CallingContextDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindCallpath:
		cat.Callpaths.ForEach(func(h definitions.Handle, d *definitions.CallpathDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindRmaWindow:
		cat.RmaWindows.ForEach(func(h definitions.Handle, d *definitions.RmaWindowDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	case definitions.KindInterruptGenerator:
		cat.InterruptGenerators.ForEach(func(h definitions.Handle, d *definitions.InterruptGeneratorDef) bool {
			refs = append(refs, refFor(h, d))
			return true
		})
	}
	return refs
}

func refFor(h definitions.Handle, marshaler interface{ MarshalBinary() ([]byte, error) }) recordRef {
	b, _ := marshaler.MarshalBinary()
	return recordRef{Movable: h.Movable, Len: uint32(len(b))}
}

// reconstructPages rebuilds a moved (read-only) page manager from shipment,
// suitable for decoding remote records via GetAddressFromMovable.
func reconstructPages(ship snapshot) (*alloc.PageManager, error) {
	pageSize := ship.PageSize
	if pageSize == 0 {
		pageSize = alloc.NaturalAlignment
	}
	totalMemory := pageSize
	a, err := alloc.CreateAllocator(&totalMemory, &pageSize, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("unify: reconstruct pages: %w", err)
	}
	pm := alloc.CreateMovedPageManager(a)
	for _, p := range ship.Pages {
		buf, err := pm.AllocMovedPage(p.PageID, p.Fill)
		if err != nil {
			return nil, fmt.Errorf("unify: reconstruct pages: %w", err)
		}
		copy(buf, p.Bytes)
	}
	return pm, nil
}

// --- wire framing ---

func encodeSnapshot(s snapshot) []byte {
	var b []byte
	b = appendU32(b, s.PageSize)
	b = appendU32(b, uint32(len(s.Pages)))
	for _, p := range s.Pages {
		b = appendU32(b, p.PageID)
		b = appendU32(b, p.Fill)
		b = appendBlob(b, p.Bytes)
	}
	for _, refs := range s.Records {
		b = appendU32(b, uint32(len(refs)))
		for _, r := range refs {
			b = appendU32(b, r.Movable.PageID())
			b = appendU32(b, r.Movable.Offset())
			b = appendU32(b, r.Len)
		}
	}
	return b
}

func decodeSnapshot(b []byte) (snapshot, error) {
	var s snapshot
	var err error
	if s.PageSize, b, err = takeU32(b); err != nil {
		return s, err
	}
	var n uint32
	if n, b, err = takeU32(b); err != nil {
		return s, err
	}
	s.Pages = make([]pageRecord, n)
	for i := range s.Pages {
		if s.Pages[i].PageID, b, err = takeU32(b); err != nil {
			return s, err
		}
		if s.Pages[i].Fill, b, err = takeU32(b); err != nil {
			return s, err
		}
		if s.Pages[i].Bytes, b, err = takeBlob(b); err != nil {
			return s, err
		}
	}

	s.Records = make([][]recordRef, len(kinds))
	for i := range kinds {
		var count uint32
		if count, b, err = takeU32(b); err != nil {
			return s, err
		}
		refs := make([]recordRef, count)
		for j := range refs {
			var page, off, length uint32
			if page, b, err = takeU32(b); err != nil {
				return s, err
			}
			if off, b, err = takeU32(b); err != nil {
				return s, err
			}
			if length, b, err = takeU32(b); err != nil {
				return s, err
			}
			refs[j] = recordRef{Movable: alloc.NewMovableForDecode(page, off), Len: length}
		}
		s.Records[i] = refs
	}
	return s, nil
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("unify: truncated uint32")
	}
	return binary.LittleEndian.Uint32(b), b[4:], nil
}

func appendBlob(b, v []byte) []byte {
	b = appendU32(b, uint32(len(v)))
	return append(b, v...)
}

func takeBlob(b []byte) ([]byte, []byte, error) {
	n, rest, err := takeU32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("unify: truncated blob")
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}
