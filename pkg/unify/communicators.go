// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify

import (
	"context"
	"fmt"
	"sort"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/ipc"
)

// MPICommPayload is the wire format an MPI-style paradigm adapter is
// expected to write into InterimCommunicatorDef.Payload, per spec.md §4.8's
// "Communicator unification (MPI-style paradigm)": the announce tuple
// (global_root_rank, root_id, local_rank, high_bit) plus the communicator's
// total membership, which UnifyCommunicators needs to know when every
// contributor has announced.
type MPICommPayload struct {
	GlobalRootRank uint32
	RootID         uint64
	LocalRank      uint32
	HighBit        bool
	Size           uint32
}

func (p MPICommPayload) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendU32(b, p.GlobalRootRank)
	b = appendU32(b, uint32(p.RootID>>32))
	b = appendU32(b, uint32(p.RootID))
	b = appendU32(b, p.LocalRank)
	b = appendU32(b, boolToU32(p.HighBit))
	b = appendU32(b, p.Size)
	return b, nil
}

func (p *MPICommPayload) UnmarshalBinary(b []byte) error {
	var err error
	var hi, lo uint32
	if p.GlobalRootRank, b, err = takeU32(b); err != nil {
		return err
	}
	if hi, b, err = takeU32(b); err != nil {
		return err
	}
	if lo, b, err = takeU32(b); err != nil {
		return err
	}
	p.RootID = uint64(hi)<<32 | uint64(lo)
	if p.LocalRank, b, err = takeU32(b); err != nil {
		return err
	}
	var hb uint32
	if hb, b, err = takeU32(b); err != nil {
		return err
	}
	p.HighBit = hb != 0
	if p.Size, _, err = takeU32(b); err != nil {
		return err
	}
	return nil
}

func boolToU32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// announce is one rank's contribution to a round of the communicator-
// unification Allgather: either "I have a pending interim communicator to
// unify" (Present, carrying its handle and decoded payload) or an empty
// placeholder once this rank has none left, so every rank keeps
// participating in the collective until the whole world agrees there is
// nothing left to unify.
type announce struct {
	Present bool
	Handle  definitions.Handle
	Payload MPICommPayload
}

func encodeAnnounce(a announce) []byte {
	var b []byte
	b = appendU32(b, boolToU32(a.Present))
	if !a.Present {
		return b
	}
	b = appendU32(b, a.Handle.Movable.PageID())
	b = appendU32(b, a.Handle.Movable.Offset())
	payload, _ := a.Payload.MarshalBinary()
	b = appendBlob(b, payload)
	return b
}

func decodeAnnounce(b []byte) (announce, error) {
	var a announce
	present, b, err := takeU32(b)
	if err != nil {
		return a, err
	}
	a.Present = present != 0
	if !a.Present {
		return a, nil
	}
	var page, off uint32
	if page, b, err = takeU32(b); err != nil {
		return a, err
	}
	if off, b, err = takeU32(b); err != nil {
		return a, err
	}
	a.Handle = definitions.Handle{Type: definitions.KindInterimCommunicator, Movable: alloc.NewMovableForDecode(page, off)}
	var payload []byte
	if payload, _, err = takeBlob(b); err != nil {
		return a, err
	}
	if err := a.Payload.UnmarshalBinary(payload); err != nil {
		return a, err
	}
	return a, nil
}

// nextPendingMPICommunicator returns the lowest-sequence-number interim
// communicator in local that is MPI-style, carries a decodable
// MPICommPayload with more than one member, and has not yet been unified, or
// nil if there is none. Size-1 communicators are left to
// finalizeSelfCommunicators.
func nextPendingMPICommunicator(local *definitions.Catalog) *announce {
	var found *announce
	local.InterimCommunicators.ForEach(func(h definitions.Handle, d *definitions.InterimCommunicatorDef) bool {
		if d.Paradigm != definitions.ParadigmMPI {
			return true
		}
		hdr, err := local.InterimCommunicators.Header(h)
		if err != nil || hdr.Unified.IsValid() {
			return true
		}
		var payload MPICommPayload
		if err := payload.UnmarshalBinary(d.Payload); err != nil {
			return true
		}
		if payload.Size == 1 {
			return true
		}
		found = &announce{Present: true, Handle: h, Payload: payload}
		return false
	})
	return found
}

// UnifyCommunicators runs the communicator-unification protocol (spec.md
// §4.8) to completion for every rank in comm: rounds of Allgather announce
// which interim communicators are still pending, any communicator whose
// full membership has announced in the same round is partitioned into a
// low-side and high-side Group by its high_bit flag and registered as a
// Communicator record in unified, keyed by its paradigm-supplied root_id.
// The round loop ends once nobody has anything left to announce.
//
// selfGroup is a Group handle, already present in unified, used as both
// sides of a self-like (single-member) communicator's Communicator record,
// handled in one pass once the main loop drains.
func UnifyCommunicators(ctx context.Context, comm ipc.Comm, local, unified *definitions.Catalog, selfGroup definitions.Handle) error {
	for {
		pending := nextPendingMPICommunicator(local)
		var mine announce
		if pending != nil {
			mine = *pending
		}

		raw, err := comm.Allgather(ctx, encodeAnnounce(mine))
		if err != nil {
			return fmt.Errorf("unify: communicator announce: %w", err)
		}

		anns := make([]announce, len(raw))
		anyPresent := false
		for i, b := range raw {
			a, err := decodeAnnounce(b)
			if err != nil {
				return fmt.Errorf("unify: decode announce from rank %d: %w", i, err)
			}
			anns[i] = a
			anyPresent = anyPresent || a.Present
		}
		if !anyPresent {
			break
		}

		type key struct {
			root uint32
			id   uint64
		}
		groups := make(map[key][]announce)
		for _, a := range anns {
			if !a.Present {
				continue
			}
			k := key{root: a.Payload.GlobalRootRank, id: a.Payload.RootID}
			groups[k] = append(groups[k], a)
		}

		for _, contributors := range groups {
			size := contributors[0].Payload.Size
			if uint32(len(contributors)) != size {
				continue // not everyone has announced this one yet
			}
			if err := registerCommunicator(local, unified, comm.Rank(), contributors); err != nil {
				return err
			}
		}
	}

	return finalizeSelfCommunicators(local, unified, selfGroup)
}

func registerCommunicator(local, unified *definitions.Catalog, myRank int, contributors []announce) error {
	var low, high []uint64
	for _, c := range contributors {
		if c.Payload.HighBit {
			high = append(high, uint64(c.Payload.LocalRank))
		} else {
			low = append(low, uint64(c.Payload.LocalRank))
		}
	}
	sort.Slice(low, func(i, j int) bool { return low[i] < low[j] })
	sort.Slice(high, func(i, j int) bool { return high[i] < high[j] })

	groupA, _, err := unified.NewGroup(definitions.GroupKindLocations, low)
	if err != nil {
		return fmt.Errorf("unify: register communicator group A: %w", err)
	}
	groupB, _, err := unified.NewGroup(definitions.GroupKindLocations, high)
	if err != nil {
		return fmt.Errorf("unify: register communicator group B: %w", err)
	}

	flags := definitions.CommunicatorFlagNone
	if len(high) > 0 {
		flags = definitions.CommunicatorFlagInter
	}
	commHandle, _, err := unified.NewCommunicator(
		[]definitions.Handle{groupA, groupB}, definitions.Invalid, definitions.Invalid, flags, contributors[0].Payload.RootID,
	)
	if err != nil {
		return fmt.Errorf("unify: register communicator: %w", err)
	}

	for _, c := range contributors {
		if int(c.Payload.LocalRank) != myRank {
			continue
		}
		if err := local.InterimCommunicators.SetUnified(c.Handle, commHandle); err != nil {
			return fmt.Errorf("unify: mark interim communicator unified: %w", err)
		}
	}
	return nil
}

// finalizeSelfCommunicators resolves every remaining un-unified size-1
// interim communicator directly, without any cross-rank agreement, since a
// self-like communicator has nothing to agree on.
func finalizeSelfCommunicators(local, unified *definitions.Catalog, selfGroup definitions.Handle) error {
	var outerErr error
	local.InterimCommunicators.ForEach(func(h definitions.Handle, d *definitions.InterimCommunicatorDef) bool {
		if d.Paradigm != definitions.ParadigmMPI {
			return true
		}
		hdr, err := local.InterimCommunicators.Header(h)
		if err != nil {
			outerErr = err
			return false
		}
		if hdr.Unified.IsValid() {
			return true
		}
		var payload MPICommPayload
		if err := payload.UnmarshalBinary(d.Payload); err != nil {
			return true
		}
		if payload.Size != 1 {
			return true
		}
		commHandle, _, err := unified.NewCommunicator(
			[]definitions.Handle{selfGroup, selfGroup}, definitions.Invalid, definitions.Invalid,
			definitions.CommunicatorFlagNone, payload.RootID,
		)
		if err != nil {
			outerErr = err
			return false
		}
		if err := local.InterimCommunicators.SetUnified(h, commHandle); err != nil {
			outerErr = err
			return false
		}
		return true
	})
	return outerErr
}
