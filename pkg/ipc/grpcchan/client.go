// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcchan

import (
	"context"
	"fmt"

	"github.com/parascope/runtime/pkg/ipc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Comm implements ipc.Comm by relaying every operation to a coordinator
// over gRPC. Every call derives its result from the same full
// per-member contribution set localchan.Comm derives from
// ipc.Rendezvous.Exchange directly — here that set is fetched with one
// unary RPC per round instead of an in-process call, so Bcast, Gather,
// Allgather, Reduce, Allreduce and Scatter share the exact same
// post-exchange logic as the in-process implementation.
type Comm struct {
	cc    grpc.ClientConnInterface
	group string
	rank  int
	size  int
}

// NewComm builds a Comm directly from an existing gRPC connection, for
// callers (tests, or a process already holding a *grpc.ClientConn to the
// coordinator) that don't need Dial's credential/keepalive setup.
func NewComm(cc grpc.ClientConnInterface, group string, rank, size int) *Comm {
	return &Comm{cc: cc, group: group, rank: rank, size: size}
}

func (c *Comm) Size() int { return c.size }
func (c *Comm) Rank() int { return c.rank }

func (c *Comm) exchange(ctx context.Context, data []byte) ([][]byte, error) {
	req := wrapperspb.Bytes(encodeExchangeRequest(exchangeRequest{
		group: c.group, rank: int32(c.rank), size: int32(c.size), data: data,
	}))
	reply := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+methodExchange, req, reply); err != nil {
		return nil, fmt.Errorf("grpcchan: exchange: %w", err)
	}
	results, err := ipc.DecodeChunks(reply.GetValue())
	if err != nil {
		return nil, fmt.Errorf("grpcchan: exchange: %w", err)
	}
	return results, nil
}

func (c *Comm) Barrier(ctx context.Context) error {
	_, err := c.exchange(ctx, nil)
	return err
}

func (c *Comm) Send(ctx context.Context, data []byte, dest, tag int) error {
	req := wrapperspb.Bytes(encodePtpRequest(ptpRequest{
		group: c.group, size: int32(c.size), src: int32(c.rank), dest: int32(dest), tag: int32(tag), data: data,
	}))
	reply := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+methodSend, req, reply); err != nil {
		return fmt.Errorf("grpcchan: send: %w", err)
	}
	return nil
}

func (c *Comm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	req := wrapperspb.Bytes(encodePtpRequest(ptpRequest{
		group: c.group, size: int32(c.size), src: int32(src), dest: int32(c.rank), tag: int32(tag),
	}))
	reply := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+methodRecv, req, reply); err != nil {
		return nil, fmt.Errorf("grpcchan: recv: %w", err)
	}
	return reply.GetValue(), nil
}

func (c *Comm) Bcast(ctx context.Context, data []byte, root int) ([]byte, error) {
	results, err := c.exchange(ctx, data)
	if err != nil {
		return nil, err
	}
	if root < 0 || root >= len(results) {
		return nil, fmt.Errorf("grpcchan: bcast root %d out of range", root)
	}
	return results[root], nil
}

func (c *Comm) Gather(ctx context.Context, data []byte, root int) ([][]byte, error) {
	results, err := c.exchange(ctx, data)
	if err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, nil
	}
	return results, nil
}

func (c *Comm) Gatherv(ctx context.Context, data []byte, root int) ([][]byte, error) {
	return c.Gather(ctx, data, root)
}

func (c *Comm) Allgather(ctx context.Context, data []byte) ([][]byte, error) {
	return c.exchange(ctx, data)
}

func (c *Comm) Reduce(ctx context.Context, data []byte, dt ipc.Datatype, op ipc.ReductionOp, root int) ([]byte, error) {
	results, err := c.exchange(ctx, data)
	if err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, nil
	}
	return ipc.Combine(dt, op, results)
}

func (c *Comm) Allreduce(ctx context.Context, data []byte, dt ipc.Datatype, op ipc.ReductionOp) ([]byte, error) {
	results, err := c.exchange(ctx, data)
	if err != nil {
		return nil, err
	}
	return ipc.Combine(dt, op, results)
}

func (c *Comm) Scatter(ctx context.Context, data [][]byte, root int) ([]byte, error) {
	var payload []byte
	if c.rank == root {
		payload = ipc.EncodeChunks(data)
	}
	results, err := c.exchange(ctx, payload)
	if err != nil {
		return nil, err
	}
	chunks, err := ipc.DecodeChunks(results[root])
	if err != nil {
		return nil, fmt.Errorf("grpcchan: scatter: %w", err)
	}
	if c.rank >= len(chunks) {
		return nil, fmt.Errorf("grpcchan: scatter: no chunk for rank %d", c.rank)
	}
	return chunks[c.rank], nil
}

func (c *Comm) Scatterv(ctx context.Context, data [][]byte, root int) ([]byte, error) {
	return c.Scatter(ctx, data, root)
}

func (c *Comm) GetFileGroup(ctx context.Context, n int) (ipc.Comm, error) {
	if n <= 0 {
		return nil, fmt.Errorf("grpcchan: GetFileGroup: n must be > 0")
	}
	groupSize := (c.size + n - 1) / n
	color := c.rank / groupSize
	key := c.rank % groupSize
	return c.GroupSplit(ctx, color, key)
}

// GroupSplit derives the new group's key deterministically from the
// parent's key and the chosen color, so every member names the same
// coordinator-side groupState without any extra round beyond the
// Allgather used to learn membership and ordering.
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

	newGroup := fmt.Sprintf("%s/color=%d", c.group, color)
	var myNewRank int
	for i, m := range mine {
		if m.rank == c.rank {
			myNewRank = i
		}
	}
	return NewComm(c.cc, newGroup, myNewRank, len(mine)), nil
}

func (c *Comm) GroupFree(ctx context.Context) error { return nil }

func encodeSplitRequest(color, key int) []byte {
	return ipc.EncodeChunks([][]byte{int32Bytes(color), int32Bytes(key)})
}

func decodeSplitRequest(b []byte) (int, int, error) {
	chunks, err := ipc.DecodeChunks(b)
	if err != nil || len(chunks) != 2 {
		return 0, 0, fmt.Errorf("grpcchan: malformed split request")
	}
	return bytesToInt32(chunks[0]), bytesToInt32(chunks[1]), nil
}

func int32Bytes(v int) []byte { return appendInt32(nil, int32(v)) }

func bytesToInt32(b []byte) int {
	v, _, err := takeInt32(b)
	if err != nil {
		return 0
	}
	return int(v)
}
