// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ipc defines the Inter-Process Channel: the fixed set of
// collective operations the Post-Processing Pipeline, Unification Engine,
// and output stage use to move definitions and profile data between
// processes (spec.md §4.7). The measurement substrate itself never depends
// on a transport beyond this interface; pkg/ipc/localchan and
// pkg/ipc/grpcchan are its two implementations.
package ipc

import "context"

// Datatype tags the element type of a collective payload, per spec.md
// §4.7's fixed enumeration.
type Datatype uint8

const (
	Byte Datatype = iota
	Char
	U8
	Int
	Uint
	U32
	I64
	U64
	Double
)

// ReductionOp tags the combining operator for Reduce/Allreduce, per
// spec.md §4.7's fixed enumeration.
type ReductionOp uint8

const (
	ReduceSum ReductionOp = iota
	ReduceMin
	ReduceMax
	ReduceBand
	ReduceBor
	ReduceBxor
	ReduceLand
	ReduceLor
)

// Channel bootstraps the world communicator. Init/Finalize are collective:
// every process in the run must call them, and Finalize is the last IPC
// call a process may make.
type Channel interface {
	Init(ctx context.Context) (Comm, error)
	Finalize(ctx context.Context) error
}

// Comm is one collective group. All methods are synchronous and collective
// over every rank presently in the group; none are ever called from the
// hot event path (spec.md §4.7), only from post-processing, unification,
// and output.
//
// Gatherv/Scatterv are exposed distinctly from Gather/Scatter only to match
// spec.md's named operation set: since payloads here are already
// variable-length []byte slices, the "v" variants carry no additional
// capability in this abstraction and are implemented identically to their
// non-v counterparts.
type Comm interface {
	Size() int
	Rank() int

	Barrier(ctx context.Context) error

	Send(ctx context.Context, data []byte, dest, tag int) error
	Recv(ctx context.Context, src, tag int) ([]byte, error)

	Bcast(ctx context.Context, data []byte, root int) ([]byte, error)
	Gather(ctx context.Context, data []byte, root int) ([][]byte, error)
	Gatherv(ctx context.Context, data []byte, root int) ([][]byte, error)
	Allgather(ctx context.Context, data []byte) ([][]byte, error)
	Reduce(ctx context.Context, data []byte, dt Datatype, op ReductionOp, root int) ([]byte, error)
	Allreduce(ctx context.Context, data []byte, dt Datatype, op ReductionOp) ([]byte, error)
	Scatter(ctx context.Context, data [][]byte, root int) ([]byte, error)
	Scatterv(ctx context.Context, data [][]byte, root int) ([]byte, error)

	// GetFileGroup partitions the world into groups of ceil(Size()/n)
	// consecutive ranks (the last group may be smaller) for collective I/O,
	// renumbering each group's members 0..local_size-1.
	GetFileGroup(ctx context.Context, n int) (Comm, error)

	// GroupSplit partitions the group by color (ranks sharing a color end
	// up in the same new group) and orders members within a color by key,
	// mirroring MPI_Comm_split.
	GroupSplit(ctx context.Context, color, key int) (Comm, error)

	// GroupFree releases any resources this group holds. Calling any other
	// method afterward is undefined.
	GroupFree(ctx context.Context) error
}
