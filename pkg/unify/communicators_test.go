// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify

import (
	"context"
	"sync"
	"testing"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/ipc/localchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPICommPayloadRoundTrip(t *testing.T) {
	p := MPICommPayload{GlobalRootRank: 3, RootID: 0xdeadbeefcafe, LocalRank: 2, HighBit: true, Size: 6}
	raw, err := p.MarshalBinary()
	require.NoError(t, err)

	var got MPICommPayload
	require.NoError(t, got.UnmarshalBinary(raw))
	assert.Equal(t, p, got)
}

func TestAnnounceEncodeDecodeRoundTrip(t *testing.T) {
	empty := announce{}
	raw := encodeAnnounce(empty)
	decoded, err := decodeAnnounce(raw)
	require.NoError(t, err)
	assert.False(t, decoded.Present)

	present := announce{
		Present: true,
		Handle:  definitions.Handle{Type: definitions.KindInterimCommunicator, Movable: alloc.NewMovableForDecode(1, 128)},
		Payload: MPICommPayload{GlobalRootRank: 0, RootID: 99, LocalRank: 1, HighBit: false, Size: 2},
	}
	raw = encodeAnnounce(present)
	decoded, err = decodeAnnounce(raw)
	require.NoError(t, err)
	assert.Equal(t, present, decoded)
}

func newUnifyCatalog(t *testing.T) *definitions.Catalog {
	t.Helper()
	total, page := uint32(64*1024), uint32(256)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	require.NoError(t, err)
	pm := alloc.CreateMiscPageManager(a)
	return definitions.NewCatalog(pm)
}

// TestUnifyCommunicatorsPartitionsByHighBit runs a 2-rank communicator
// unification where rank 0 announces high_bit=false and rank 1 announces
// high_bit=true, checking the resulting Communicator's two Groups land each
// rank on the side its announce declared.
func TestUnifyCommunicatorsPartitionsByHighBit(t *testing.T) {
	const n = 2
	comms := localchan.World(n)
	locals := make([]*definitions.Catalog, n)
	unified := make([]*definitions.Catalog, n)
	selfGroups := make([]definitions.Handle, n)

	for i := 0; i < n; i++ {
		locals[i] = newUnifyCatalog(t)
		unified[i] = newUnifyCatalog(t)
		sg, _, err := unified[i].NewGroup(definitions.GroupKindLocations, []uint64{uint64(i)})
		require.NoError(t, err)
		selfGroups[i] = sg

		payload := MPICommPayload{GlobalRootRank: 0, RootID: 42, LocalRank: uint32(i), HighBit: i == 1, Size: n}
		raw, err := payload.MarshalBinary()
		require.NoError(t, err)
		_, _, err = locals[i].NewInterimCommunicator(definitions.ParadigmMPI, definitions.Invalid, raw, "comm42",
			func(definitions.InterimCommunicatorDef) bool { return false })
		require.NoError(t, err)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = UnifyCommunicators(context.Background(), comms[i], locals[i], unified[i], selfGroups[i])
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}

	for i := 0; i < n; i++ {
		require.Equal(t, 1, unified[i].Communicators.Len(), "rank %d", i)

		var groupA, groupB definitions.GroupDef
		unified[i].Communicators.ForEach(func(_ definitions.Handle, d *definitions.CommunicatorDef) bool {
			assert.Equal(t, uint64(42), d.RootID)
			require.Len(t, d.Groups, 2)
			gA, err := unified[i].Groups.Deref(d.Groups[0])
			require.NoError(t, err)
			gB, err := unified[i].Groups.Deref(d.Groups[1])
			require.NoError(t, err)
			groupA, groupB = *gA, *gB
			return true
		})
		assert.Equal(t, []uint64{0}, groupA.Members, "rank %d low-side group", i)
		assert.Equal(t, []uint64{1}, groupB.Members, "rank %d high-side group", i)
	}
}

// TestUnifyCommunicatorsSelfLike checks a size-1 communicator resolves
// locally through finalizeSelfCommunicators alone, without any Allgather
// round (UnifyCommunicators' main loop never announces size-1
// communicators).
func TestUnifyCommunicatorsSelfLike(t *testing.T) {
	local := newUnifyCatalog(t)
	unified := newUnifyCatalog(t)
	selfGroup, _, err := unified.NewGroup(definitions.GroupKindLocations, []uint64{0})
	require.NoError(t, err)

	payload := MPICommPayload{GlobalRootRank: 0, RootID: 7, LocalRank: 0, HighBit: false, Size: 1}
	raw, err := payload.MarshalBinary()
	require.NoError(t, err)
	h, _, err := local.NewInterimCommunicator(definitions.ParadigmMPI, definitions.Invalid, raw, "self",
		func(definitions.InterimCommunicatorDef) bool { return false })
	require.NoError(t, err)

	require.NoError(t, finalizeSelfCommunicators(local, unified, selfGroup))

	hdr, err := local.InterimCommunicators.Header(h)
	require.NoError(t, err)
	assert.True(t, hdr.Unified.IsValid())

	commDef, err := unified.Communicators.Deref(hdr.Unified)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), commDef.RootID)
	assert.Equal(t, selfGroup, commDef.Groups[0])
	assert.Equal(t, selfGroup, commDef.Groups[1])
}
