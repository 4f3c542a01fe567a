// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcchan

import (
	"context"
	"fmt"
	"sync"

	"github.com/parascope/runtime/pkg/ipc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// coordinatorServer is the star topology's hub: one rank (conventionally
// rank 0) hosts it, every rank's Comm (including rank 0's own, via a
// loopback client) reaches it over a unary RPC per operation. Each group
// (the root world, and every GroupSplit/GetFileGroup descendant) gets its
// own ipc.Rendezvous/ipc.PointToPoint pair, created lazily on first
// reference and keyed by a name every member of that group derives
// identically (RootGroup, or a parent key plus a split color), so no
// extra out-of-band coordination RPC is needed to agree on a group id.
type coordinatorServer struct {
	mu     sync.Mutex
	groups map[string]*groupState
}

type groupState struct {
	rendezvous *ipc.Rendezvous
	ptp        *ipc.PointToPoint
	size       int
}

// RootGroup is the group key Dial uses for the initial, unsplit group;
// exported for tests and callers building a Comm directly with NewComm.
const RootGroup = "root"

func newCoordinatorServer() *coordinatorServer {
	return &coordinatorServer{groups: make(map[string]*groupState)}
}

func (s *coordinatorServer) group(key string, size int) (*groupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	if !ok {
		g = &groupState{rendezvous: ipc.NewRendezvous(size), ptp: ipc.NewPointToPoint(size), size: size}
		s.groups[key] = g
		return g, nil
	}
	if g.size != size {
		return nil, fmt.Errorf("grpcchan: group %q size mismatch: have %d, want %d", key, g.size, size)
	}
	return g, nil
}

func (s *coordinatorServer) exchange(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	r, err := decodeExchangeRequest(req.GetValue())
	if err != nil {
		return nil, err
	}
	g, err := s.group(r.group, int(r.size))
	if err != nil {
		return nil, err
	}
	if int(r.rank) < 0 || int(r.rank) >= g.size {
		return nil, fmt.Errorf("grpcchan: rank %d out of range for group %q of size %d", r.rank, r.group, g.size)
	}
	results := g.rendezvous.Exchange(int(r.rank), r.data)
	return wrapperspb.Bytes(ipc.EncodeChunks(results)), nil
}

func (s *coordinatorServer) send(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	r, err := decodePtpRequest(req.GetValue())
	if err != nil {
		return nil, err
	}
	g, err := s.group(r.group, int(r.size))
	if err != nil {
		return nil, err
	}
	if err := g.ptp.Send(ctx, int(r.src), int(r.dest), int(r.tag), r.data); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(nil), nil
}

func (s *coordinatorServer) recv(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	r, err := decodePtpRequest(req.GetValue())
	if err != nil {
		return nil, err
	}
	g, err := s.group(r.group, int(r.size))
	if err != nil {
		return nil, err
	}
	data, err := g.ptp.Recv(ctx, int(r.src), int(r.dest), int(r.tag))
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(data), nil
}
