// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package localchan is an in-process Inter-Process Channel (pkg/ipc) for
// single-rank runs and for exercising the Unification Engine in tests
// without a real transport. Every rank is a goroutine in the same process
// sharing one ipc.Rendezvous; collectives are a mutex/condition-variable
// rendezvous rather than an asynchronous pub/sub fan-out, since spec.md
// §4.7's operations are synchronous and collective, a guarantee a
// fire-and-forget publish would not give.
package localchan

import (
	"context"
	"fmt"

	"github.com/parascope/runtime/pkg/ipc"
)

// Comm implements ipc.Comm over an ipc.Rendezvous shared by every rank in
// the group.
type Comm struct {
	rendezvous *ipc.Rendezvous
	ptp        *ipc.PointToPoint
	rank       int
}

// World creates a new group of size n, returning one Comm per rank. Callers
// typically run one goroutine per returned Comm.
func World(n int) []*Comm {
	r := ipc.NewRendezvous(n)
	ptp := ipc.NewPointToPoint(n)
	comms := make([]*Comm, n)
	for rank := 0; rank < n; rank++ {
		comms[rank] = &Comm{rendezvous: r, ptp: ptp, rank: rank}
	}
	return comms
}

func (c *Comm) Size() int { return c.rendezvous.Size() }
func (c *Comm) Rank() int { return c.rank }

func (c *Comm) Barrier(ctx context.Context) error {
	c.rendezvous.Exchange(c.rank, nil)
	return nil
}

func (c *Comm) Send(ctx context.Context, data []byte, dest, tag int) error {
	return c.ptp.Send(ctx, c.rank, dest, tag, data)
}

func (c *Comm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	return c.ptp.Recv(ctx, src, c.rank, tag)
}

func (c *Comm) Bcast(ctx context.Context, data []byte, root int) ([]byte, error) {
	results := c.rendezvous.Exchange(c.rank, data)
	if root < 0 || root >= len(results) {
		return nil, fmt.Errorf("localchan: bcast root %d out of range", root)
	}
	return results[root], nil
}

func (c *Comm) Gather(ctx context.Context, data []byte, root int) ([][]byte, error) {
	results := c.rendezvous.Exchange(c.rank, data)
	if c.rank != root {
		return nil, nil
	}
	return results, nil
}

func (c *Comm) Gatherv(ctx context.Context, data []byte, root int) ([][]byte, error) {
	return c.Gather(ctx, data, root)
}

func (c *Comm) Allgather(ctx context.Context, data []byte) ([][]byte, error) {
	return c.rendezvous.Exchange(c.rank, data), nil
}

func (c *Comm) Reduce(ctx context.Context, data []byte, dt ipc.Datatype, op ipc.ReductionOp, root int) ([]byte, error) {
	results := c.rendezvous.Exchange(c.rank, data)
	if c.rank != root {
		return nil, nil
	}
	return ipc.Combine(dt, op, results)
}

func (c *Comm) Allreduce(ctx context.Context, data []byte, dt ipc.Datatype, op ipc.ReductionOp) ([]byte, error) {
	results := c.rendezvous.Exchange(c.rank, data)
	return ipc.Combine(dt, op, results)
}

func (c *Comm) Scatter(ctx context.Context, data [][]byte, root int) ([]byte, error) {
	var payload []byte
	if c.rank == root {
		payload = ipc.EncodeChunks(data)
	}
	results := c.rendezvous.Exchange(c.rank, payload)
	chunks, err := ipc.DecodeChunks(results[root])
	if err != nil {
		return nil, fmt.Errorf("localchan: scatter: %w", err)
	}
	if c.rank >= len(chunks) {
		return nil, fmt.Errorf("localchan: scatter: no chunk for rank %d", c.rank)
	}
	return chunks[c.rank], nil
}

func (c *Comm) Scatterv(ctx context.Context, data [][]byte, root int) ([]byte, error) {
	return c.Scatter(ctx, data, root)
}

func (c *Comm) GetFileGroup(ctx context.Context, n int) (ipc.Comm, error) {
	if n <= 0 {
		return nil, fmt.Errorf("localchan: GetFileGroup: n must be > 0")
	}
	groupSize := (c.rendezvous.Size() + n - 1) / n
	color := c.rank / groupSize
	key := c.rank % groupSize
	return c.GroupSplit(ctx, color, key)
}

func (c *Comm) GroupSplit(ctx context.Context, color, key int) (ipc.Comm, error) {
	encoded := encodeSplitRequest(color, key)
	results, err := c.Allgather(ctx, encoded)
	if err != nil {
		return nil, err
	}

	type member struct {
		rank, key int
	}
	var mine []member
	for rank, r := range results {
		c2, k2, err := decodeSplitRequest(r)
		if err != nil {
			return nil, err
		}
		if c2 == color {
			mine = append(mine, member{rank: rank, key: k2})
		}
	}
	for i := 1; i < len(mine); i++ {
		for j := i; j > 0 && mine[j].key < mine[j-1].key; j-- {
			mine[j], mine[j-1] = mine[j-1], mine[j]
		}
	}

	newSize := len(mine)
	newRendezvous := ipc.NewRendezvous(newSize)
	newPtp := ipc.NewPointToPoint(newSize)
	var myNewRank int
	for i, m := range mine {
		if m.rank == c.rank {
			myNewRank = i
		}
	}
	return &Comm{rendezvous: newRendezvous, ptp: newPtp, rank: myNewRank}, nil
}

func (c *Comm) GroupFree(ctx context.Context) error { return nil }

// Channel implements ipc.Channel over a Comm already built by World; Init
// and Finalize are no-ops since there is no connection to tear down.
type Channel struct {
	Comm *Comm
}

func (ch *Channel) Init(ctx context.Context) (ipc.Comm, error) { return ch.Comm, nil }
func (ch *Channel) Finalize(ctx context.Context) error         { return nil }

func encodeSplitRequest(color, key int) []byte {
	return ipc.EncodeChunks([][]byte{intToBytes(color), intToBytes(key)})
}

func decodeSplitRequest(b []byte) (int, int, error) {
	chunks, err := ipc.DecodeChunks(b)
	if err != nil || len(chunks) != 2 {
		return 0, 0, fmt.Errorf("localchan: malformed split request")
	}
	return bytesToInt(chunks[0]), bytesToInt(chunks[1]), nil
}

func intToBytes(v int) []byte {
	b := make([]byte, 8)
	u := uint64(int64(v))
	for i := range b {
		b[i] = byte(u >> (8 * i))
	}
	return b
}

func bytesToInt(b []byte) int {
	var u uint64
	for i := range b {
		u |= uint64(b[i]) << (8 * i)
	}
	return int(int64(u))
}
