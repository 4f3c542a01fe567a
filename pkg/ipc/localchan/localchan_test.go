// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package localchan_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/parascope/runtime/pkg/ipc"
	"github.com/parascope/runtime/pkg/ipc/localchan"
	"github.com/stretchr/testify/require"
)

func runOnEveryRank(comms []*localchan.Comm, fn func(c *localchan.Comm) error) []error {
	var wg sync.WaitGroup
	errs := make([]error, len(comms))
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	return errs
}

func requireAllNoError(t *testing.T, errs []error) {
	t.Helper()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
}

func TestBarrierReleasesAllRanks(t *testing.T) {
	comms := localchan.World(4)
	errs := runOnEveryRank(comms, func(c *localchan.Comm) error {
		return c.Barrier(context.Background())
	})
	requireAllNoError(t, errs)
}

func TestBcastDeliversRootValueToEveryRank(t *testing.T) {
	comms := localchan.World(3)
	results := make([][]byte, 3)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			var data []byte
			if c.Rank() == 1 {
				data = []byte("hello")
			}
			r, err := c.Bcast(context.Background(), data, 1)
			require.NoError(t, err)
			results[i] = r
		}(i, c)
	}
	wg.Wait()
	for i, r := range results {
		require.Equal(t, []byte("hello"), r, "rank %d", i)
	}
}

func TestGatherCollectsOnRootOnly(t *testing.T) {
	comms := localchan.World(3)
	results := make([][][]byte, 3)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			data := []byte{byte(c.Rank())}
			r, err := c.Gather(context.Background(), data, 0)
			require.NoError(t, err)
			results[i] = r
		}(i, c)
	}
	wg.Wait()

	require.Equal(t, [][]byte{{0}, {1}, {2}}, results[0])
	require.Nil(t, results[1])
	require.Nil(t, results[2])
}

func TestAllgatherDeliversToEveryRank(t *testing.T) {
	comms := localchan.World(3)
	results := make([][][]byte, 3)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			r, err := c.Allgather(context.Background(), []byte{byte(c.Rank())})
			require.NoError(t, err)
			results[i] = r
		}(i, c)
	}
	wg.Wait()
	for i := range results {
		require.Equal(t, [][]byte{{0}, {1}, {2}}, results[i], "rank %d", i)
	}
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestAllreduceSum(t *testing.T) {
	comms := localchan.World(4)
	results := make([][]byte, 4)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			r, err := c.Allreduce(context.Background(), uint32Bytes(uint32(c.Rank()+1)), ipc.U32, ipc.ReduceSum)
			require.NoError(t, err)
			results[i] = r
		}(i, c)
	}
	wg.Wait()
	for i, r := range results {
		require.Equal(t, uint32(10), binary.LittleEndian.Uint32(r), "rank %d", i) // 1+2+3+4
	}
}

func TestReduceMaxOnRootOnly(t *testing.T) {
	comms := localchan.World(3)
	results := make([][]byte, 3)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			r, err := c.Reduce(context.Background(), uint32Bytes(uint32(c.Rank()*10)), ipc.U32, ipc.ReduceMax, 2)
			require.NoError(t, err)
			results[i] = r
		}(i, c)
	}
	wg.Wait()
	require.Equal(t, uint32(20), binary.LittleEndian.Uint32(results[2]))
	require.Nil(t, results[0])
	require.Nil(t, results[1])
}

func TestScatterDistributesDistinctChunks(t *testing.T) {
	comms := localchan.World(3)
	data := [][]byte{{10}, {20}, {30}}
	results := make([][]byte, 3)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			var in [][]byte
			if c.Rank() == 0 {
				in = data
			}
			r, err := c.Scatter(context.Background(), in, 0)
			require.NoError(t, err)
			results[i] = r
		}(i, c)
	}
	wg.Wait()
	require.Equal(t, []byte{10}, results[0])
	require.Equal(t, []byte{20}, results[1])
	require.Equal(t, []byte{30}, results[2])
}

func TestSendRecvMatchesOnSrcAndTag(t *testing.T) {
	comms := localchan.World(2)
	var wg sync.WaitGroup
	wg.Add(2)
	var received []byte
	var recvErr, sendErr error
	go func() {
		defer wg.Done()
		sendErr = comms[0].Send(context.Background(), []byte("ping"), 1, 7)
	}()
	go func() {
		defer wg.Done()
		received, recvErr = comms[1].Recv(context.Background(), 0, 7)
	}()
	wg.Wait()
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	require.Equal(t, []byte("ping"), received)
}

func TestGroupSplitPartitionsByColor(t *testing.T) {
	comms := localchan.World(4)
	// ranks 0,2 -> color 0; ranks 1,3 -> color 1
	subComms := make([]ipc.Comm, 4)
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *localchan.Comm) {
			defer wg.Done()
			color := c.Rank() % 2
			sub, err := c.GroupSplit(context.Background(), color, c.Rank())
			require.NoError(t, err)
			subComms[i] = sub
		}(i, c)
	}
	wg.Wait()

	require.Equal(t, 2, subComms[0].Size())
	require.Equal(t, 2, subComms[1].Size())
	require.Equal(t, 2, subComms[2].Size())
	require.Equal(t, 2, subComms[3].Size())
}
